package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"notion-collab/collab"
	"notion-collab/core"
	"notion-collab/handlers/auth"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const TransportSocketIO = "socket.io"

type ackInvoker func(err error, payload map[string]any)

// handshake carries the authenticated principal from the middleware to the
// connection handler.
type handshake struct {
	identity  core.Identity
	principal *auth.Principal
}

type Options struct {
	AllowedOrigins  []string
	MaxMessageBytes int64
	OutboxSize      int
	// PingInterval replaces the default heartbeat interval of both transports.
	PingInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 256
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 5000000
	}
	return o
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// clientMessages are the socket.io events routed to the manager.
var clientMessages = []string{
	collab.MsgJoinRoom,
	collab.MsgLeaveRoom,
	collab.MsgUpdateContent,
	collab.MsgCursorMove,
	collab.MsgLogout,
}

func SetupSocketIO(mgr *collab.Manager, opts Options) *socketio.Server {
	opts = opts.withDefaults()
	so := socketio.DefaultServerOptions()
	so.SetMaxHttpBufferSize(opts.MaxMessageBytes)
	so.SetPath("/socket.io")
	so.SetAllowEIO3(true)
	if opts.PingInterval > 0 {
		so.SetPingInterval(opts.PingInterval)
	}
	so.SetCors(&types.Cors{
		Origin:      corsOrigins(opts.AllowedOrigins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, so)

	// Authenticate before the connection event fires. The session itself is
	// only registered once the socket is connected, because a client that
	// drops mid-handshake never gets a disconnect event.
	srv.Use(func(socket *socketio.Socket, next func(*socketio.ExtendedError)) {
		identity, principal, err := mgr.Authenticate(context.Background(), handshakeCredential(socket.Handshake()), TransportSocketIO)
		if err != nil {
			next(socketio.NewExtendedError("Authentication required", map[string]any{"code": collab.CodeNotAuthenticated}))
			return
		}
		socket.SetData(&handshake{identity: identity, principal: principal})
		next(nil)
	})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		hs, ok := socket.Data().(*handshake)
		if !ok {
			socket.Disconnect(true)
			return
		}

		outbox := collab.NewOutbox(opts.OutboxSize, func(ev collab.Event) error {
			return socket.Emit(ev.Name, ev.Payload)
		}, func() {
			if socket.Connected() {
				socket.Disconnect(true)
			}
		})
		session := mgr.Register(hs.identity, hs.principal, TransportSocketIO, outbox)
		socket.SetData(session)

		logrus.WithFields(logrus.Fields{
			"socket_id":  socket.Id(),
			"session_id": session.ID,
			"user_id":    session.Identity.UserID,
		}).Debug("Socket connected")

		// Heartbeats count as activity so listen-only clients are not reaped.
		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.Conn().On("heartbeat", func(...any) {
			mgr.Touch(session)
		})

		for _, msgType := range clientMessages {
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(msgType, func(datas ...any) {
				handleEvent(mgr, session, msgType, datas)
			})
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(datas ...any) {
			reason := "client disconnect"
			if len(datas) > 0 {
				reason = fmt.Sprint(datas[0])
			}
			mgr.Disconnect(session, reason)
			socket.RemoveAllListeners("")
		})
		if !socket.Connected() {
			mgr.Disconnect(session, "closed during handshake")
		}
	})

	return srv
}

func handleEvent(mgr *collab.Manager, session *collab.Session, msgType string, datas []any) {
	ack, args := extractAck(datas)

	var raw []byte
	if len(args) > 0 {
		// Arguments arrive decoded from JSON, so they always re-encode.
		raw, _ = json.Marshal(args[0])
	}

	result, err := mgr.HandleRaw(context.Background(), session, msgType, raw)
	if err != nil {
		respondWithAck(ack, map[string]any{
			"status": "error",
			"error":  collab.ErrorMessage(msgType, err),
			"code":   collab.ErrorCode(err),
		}, err)
		return
	}

	payload := map[string]any{"status": "ok"}
	if result != nil {
		payload["data"] = result
	}
	respondWithAck(ack, payload, nil)
}

// handshakeCredential reads the token from the auth payload, falling back to
// the Authorization header.
func handshakeCredential(h *socketio.Handshake) string {
	if h == nil {
		return ""
	}
	if m, ok := h.Auth.(map[string]any); ok {
		if token, ok := m["token"].(string); ok && token != "" {
			return strings.TrimPrefix(token, "Bearer ")
		}
	}
	for name, values := range h.Headers {
		if !strings.EqualFold(name, "Authorization") || len(values) == 0 {
			continue
		}
		if token, ok := auth.BearerToken(values[0]); ok {
			return token
		}
	}
	return ""
}

func corsOrigins(allowed []string) []any {
	origins := []any{"tauri://localhost", localhostOrigin}
	for _, o := range allowed {
		origins = append(origins, o)
	}
	return origins
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	// Native socket.io acks take the reply arguments as a slice; the error
	// stays server side.
	if ack, ok := candidate.(socketio.Ack); ok {
		return func(_ error, payload map[string]any) {
			ack([]any{payload}, nil)
		}
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := buildAckArgs(typ, err, payload)
		value.Call(args)
	}
}

func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		paramType := typ.In(i)
		var argValue any

		switch {
		case numIn == 1:
			if err != nil {
				argValue = err
			} else {
				argValue = payload
			}
		case i == 0:
			argValue = err
		case i == 1:
			argValue = payload
		default:
			argValue = nil
		}

		args[i] = coerceValue(argValue, paramType)
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.Interface {
		if rv.Type().Implements(targetType) || targetType.NumMethod() == 0 {
			return rv
		}
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	if targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String {
		if payload, ok := value.(map[string]any); ok {
			return convertMap(payload, targetType)
		}
	}

	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if valueValue.Type().ConvertibleTo(targetType.Elem()) {
				valueValue = valueValue.Convert(targetType.Elem())
			} else if targetType.Elem().Kind() != reflect.Interface {
				continue
			}
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}

func respondWithAck(ack ackInvoker, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
}

// headerCredential is the raw websocket equivalent of handshakeCredential.
func headerCredential(r *http.Request) string {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return r.URL.Query().Get("token")
}
