package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"notion-collab/core"
	"notion-collab/handlers/auth"
	"notion-collab/metrics"

	"github.com/sirupsen/logrus"
)

// Authenticator resolves handshake credentials and revokes them on logout.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (core.Identity, *auth.Principal, error)
	Revoke(ctx context.Context, p *auth.Principal) error
}

type Options struct {
	// IdleTimeout disconnects sessions that sent nothing for this long.
	// Zero disables reaping.
	IdleTimeout time.Duration
	Now         func() time.Time
}

type handlerFunc func(ctx context.Context, s *Session, msg Message) (any, error)

// Manager owns the live sessions and routes their messages.
type Manager struct {
	authn       Authenticator
	registry    *RoomRegistry
	coordinator *ContentCoordinator
	opts        Options

	mu       sync.Mutex
	sessions map[string]*Session

	handlers map[string]handlerFunc
}

func NewManager(authn Authenticator, registry *RoomRegistry, coordinator *ContentCoordinator, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		authn:       authn,
		registry:    registry,
		coordinator: coordinator,
		opts:        opts,
		sessions:    make(map[string]*Session),
	}
	m.handlers = map[string]handlerFunc{
		MsgJoinRoom:      m.handleJoin,
		MsgLeaveRoom:     m.handleLeave,
		MsgUpdateContent: m.handleUpdate,
		MsgCursorMove:    m.handleCursor,
		MsgLogout:        m.handleLogout,
	}
	return m
}

// Connect authenticates credential and registers a new session delivering
// to sink. The manager owns sink from here on and closes it when the
// session ends, or right away when the handshake is refused.
func (m *Manager) Connect(ctx context.Context, credential, transport string, sink Sink) (*Session, error) {
	identity, principal, err := m.Authenticate(ctx, credential, transport)
	if err != nil {
		sink.Close()
		return nil, err
	}
	return m.Register(identity, principal, transport, sink), nil
}

// Authenticate checks a handshake credential without registering anything.
// Transports whose handshake can still fail afterwards call Register once
// the connection is established.
func (m *Manager) Authenticate(ctx context.Context, credential, transport string) (core.Identity, *auth.Principal, error) {
	identity, principal, err := m.authn.Authenticate(ctx, credential)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, auth.ErrInvalidCredential):
			reason = "invalid_credential"
		case errors.Is(err, auth.ErrUserNotFound):
			reason = "user_not_found"
		}
		metrics.ConnectionsRejected.WithLabelValues(transport, reason).Inc()
		logrus.WithFields(logrus.Fields{
			"transport": transport,
			"reason":    reason,
		}).WithError(err).Warn("Rejected connection")
		return core.Identity{}, nil, err
	}
	return identity, principal, nil
}

// Register starts an authenticated session delivering to sink.
func (m *Manager) Register(identity core.Identity, principal *auth.Principal, transport string, sink Sink) *Session {
	s := newSession(transport, sink)
	s.authenticated(identity, principal, m.opts.Now())

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.SessionsActive.Inc()

	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    identity.UserID,
		"transport":  transport,
	}).Info("Session connected")
	return s
}

// Touch records transport level liveness such as a heartbeat, so a client
// that only listens is not reaped as idle.
func (m *Manager) Touch(s *Session) {
	if s.State() != StateAuthenticated {
		return
	}
	s.touch(m.opts.Now())
}

// Handle processes one client message. Operation errors are also reported
// to the session as an error event; the connection stays open.
func (m *Manager) Handle(ctx context.Context, s *Session, msg Message) (any, error) {
	return m.handle(ctx, s, msg, nil)
}

// HandleRaw decodes a message body before handling it, so that malformed
// payloads are reported like any other bad request.
func (m *Manager) HandleRaw(ctx context.Context, s *Session, msgType string, raw []byte) (any, error) {
	msg, err := DecodeMessage(msgType, raw)
	return m.handle(ctx, s, msg, err)
}

func (m *Manager) handle(ctx context.Context, s *Session, msg Message, decodeErr error) (any, error) {
	if s.State() != StateAuthenticated {
		metrics.MessagesHandled.WithLabelValues(msg.Type, CodeNotAuthenticated).Inc()
		return nil, ErrNotAuthenticated
	}

	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	s.touch(m.opts.Now())

	var (
		result any
		err    = decodeErr
	)
	label := msg.Type
	h, ok := m.handlers[msg.Type]
	switch {
	case !ok:
		label = "unknown"
		if err == nil {
			err = badRequest("unknown message type %q", msg.Type)
		}
	case err == nil:
		result, err = h(ctx, s, msg)
	}

	code := ErrorCode(err)
	metrics.MessagesHandled.WithLabelValues(label, code).Inc()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id":  s.ID,
			"user_id":     s.Identity.UserID,
			"type":        msg.Type,
			"document_id": string(msg.DocumentID),
			"code":        code,
		}).WithError(err).Warn("Message rejected")
		s.send(Event{Name: EventError, Payload: ErrorEvent{
			Message:    ErrorMessage(msg.Type, err),
			Code:       code,
			Type:       msg.Type,
			DocumentID: string(msg.DocumentID),
		}})
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session_id":  s.ID,
		"type":        msg.Type,
		"document_id": string(msg.DocumentID),
	}).Debug("Message handled")
	return result, nil
}

func (m *Manager) handleJoin(ctx context.Context, s *Session, msg Message) (any, error) {
	if msg.DocumentID == "" {
		return nil, badRequest("documentId is required")
	}
	state, err := m.registry.Join(ctx, string(msg.DocumentID), s)
	if err != nil {
		return nil, err
	}
	s.send(Event{Name: EventRoomState, Payload: state})
	return state, nil
}

func (m *Manager) handleLeave(_ context.Context, s *Session, msg Message) (any, error) {
	if msg.DocumentID == "" {
		return nil, badRequest("documentId is required")
	}
	m.registry.Leave(string(msg.DocumentID), s)
	return nil, nil
}

func (m *Manager) handleUpdate(ctx context.Context, s *Session, msg Message) (any, error) {
	if msg.DocumentID == "" {
		return nil, badRequest("documentId is required")
	}
	if msg.Content == nil {
		return nil, badRequest("content is required")
	}
	return nil, m.coordinator.SubmitUpdate(ctx, s, string(msg.DocumentID), *msg.Content, msg.Title)
}

func (m *Manager) handleCursor(_ context.Context, s *Session, msg Message) (any, error) {
	if msg.DocumentID == "" {
		return nil, badRequest("documentId is required")
	}
	return nil, m.coordinator.RelayCursor(s, string(msg.DocumentID), msg.Position)
}

func (m *Manager) handleLogout(ctx context.Context, s *Session, _ Message) (any, error) {
	_, err := m.Logout(ctx, s.principal)
	return nil, err
}

// Disconnect ends s: it leaves every room, closes the sink and forgets the
// session. Calling it more than once is harmless.
func (m *Manager) Disconnect(s *Session, reason string) {
	prev := s.markDisconnected()
	if prev == StateDisconnected {
		return
	}

	for _, documentID := range s.Rooms() {
		m.registry.Leave(documentID, s)
	}

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	s.sink.Close()
	if prev == StateAuthenticated {
		metrics.SessionsActive.Dec()
	}

	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    s.Identity.UserID,
		"reason":     reason,
	}).Info("Session disconnected")
}

// Logout revokes the token behind p and disconnects every session that
// authenticated with it. It returns how many sessions were closed.
func (m *Manager) Logout(ctx context.Context, p *auth.Principal) (int, error) {
	if p == nil {
		return 0, ErrNotAuthenticated
	}
	if err := m.authn.Revoke(ctx, p); err != nil {
		return 0, err
	}

	var victims []*Session
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.principal == p || (p.TokenID != "" && s.TokenID() == p.TokenID) {
			victims = append(victims, s)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		m.Disconnect(s, "logout")
	}
	return len(victims), nil
}

// ReapIdle disconnects sessions that have been quiet longer than the idle
// timeout and returns how many it closed.
func (m *Manager) ReapIdle(now time.Time) int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}

	var idle []*Session
	m.mu.Lock()
	for _, s := range m.sessions {
		if now.Sub(s.LastActive()) > m.opts.IdleTimeout {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.Disconnect(s, "idle")
	}
	return len(idle)
}

// Shutdown disconnects every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.Disconnect(s, "shutdown")
	}
}

func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Rooms() []RoomSummary {
	return m.registry.Rooms()
}
