package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"notion-collab/collab"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const TransportWebSocket = "websocket"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var errNotAttached = errors.New("websocket not attached yet")

// frame is the envelope of every server to client message on /ws.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// RawHandler serves the plain websocket transport. Clients send JSON
// frames shaped like {"type":"join-room","documentId":"42"}.
type RawHandler struct {
	mgr        *collab.Manager
	opts       Options
	upgrader   websocket.Upgrader
	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewRawHandler(mgr *collab.Manager, opts Options) *RawHandler {
	h := &RawHandler{
		mgr:        mgr,
		opts:       opts.withDefaults(),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
	if opts.PingInterval > 0 {
		h.pingPeriod = opts.PingInterval
		h.pongWait = 2 * opts.PingInterval
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *RawHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &wsConn{}
	outbox := collab.NewOutbox(h.opts.OutboxSize, c.writeEvent, c.close)

	// The token is checked before the upgrade so a refused client gets a
	// plain 401 instead of a websocket that closes right away.
	session, err := h.mgr.Connect(r.Context(), headerCredential(r), TransportWebSocket, outbox)
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "Authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.ID).Warn("Failed to upgrade websocket")
		h.mgr.Disconnect(session, "upgrade failed")
		return
	}
	c.attach(conn)

	done := make(chan struct{})
	go h.keepalive(c, done)
	h.readLoop(context.WithoutCancel(r.Context()), session, conn)
	close(done)
}

func (h *RawHandler) readLoop(ctx context.Context, session *collab.Session, conn *websocket.Conn) {
	reason := "client disconnect"
	defer func() {
		h.mgr.Disconnect(session, reason)
	}()

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		h.mgr.Touch(session)
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).WithField("session_id", session.ID).Warn("Websocket read failed")
				reason = "read error"
			}
			return
		}

		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &env)
		_, _ = h.mgr.HandleRaw(ctx, session, env.Type, data)
	}
}

// keepalive pings the client until done is closed. A failed ping closes
// the connection, which ends the read loop.
func (h *RawHandler) keepalive(c *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *RawHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || localhostOrigin.MatchString(origin) {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// wsConn serializes writes; gorilla allows a single concurrent writer.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (c *wsConn) attach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	if c.closed {
		conn.Close()
	}
}

func (c *wsConn) writeEvent(ev collab.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return errNotAttached
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame{Type: ev.Name, Data: ev.Payload})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return errNotAttached
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.conn.Close()
}
