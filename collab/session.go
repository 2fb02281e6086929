package collab

import (
	"errors"
	"sync"
	"time"

	"notion-collab/core"
	"notion-collab/handlers/auth"
	"notion-collab/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is one live connection. It is passed explicitly to every handler.
type Session struct {
	ID        string
	Identity  core.Identity
	Transport string

	principal *auth.Principal
	sink      Sink

	// handleMu serializes message handling so a sender's updates keep their order.
	handleMu sync.Mutex

	mu         sync.Mutex
	state      State
	rooms      map[string]struct{}
	lastActive time.Time
}

func newSession(transport string, sink Sink) *Session {
	return &Session{
		ID:        ulid.Make().String(),
		Transport: transport,
		sink:      sink,
		state:     StateConnecting,
		rooms:     make(map[string]struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// TokenID identifies the credential the session authenticated with.
func (s *Session) TokenID() string {
	if s.principal == nil {
		return ""
	}
	return s.principal.TokenID
}

// Rooms lists the documents the session has joined.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

func (s *Session) InRoom(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[documentID]
	return ok
}

// addRoom records membership unless the session is already disconnecting.
func (s *Session) addRoom(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false
	}
	s.rooms[documentID] = struct{}{}
	return true
}

func (s *Session) removeRoom(documentID string) {
	s.mu.Lock()
	delete(s.rooms, documentID)
	s.mu.Unlock()
}

func (s *Session) authenticated(id core.Identity, p *auth.Principal, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Identity = id
	s.principal = p
	s.state = StateAuthenticated
	s.lastActive = now
}

// markDisconnected moves the session to its terminal state and reports the
// state it left.
func (s *Session) markDisconnected() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = StateDisconnected
	return prev
}

// send queues ev for the session. Failures stay local to this session.
func (s *Session) send(ev Event) {
	err := s.sink.Deliver(ev)
	if err == nil {
		metrics.EventsDelivered.WithLabelValues(ev.Name).Inc()
		return
	}

	reason := "error"
	switch {
	case errors.Is(err, ErrOutboxFull):
		reason = "outbox_full"
	case errors.Is(err, ErrOutboxClosed):
		reason = "closed"
	}
	metrics.DeliveryFailures.WithLabelValues(ev.Name, reason).Inc()
	logrus.WithFields(logrus.Fields{
		"session_id": s.ID,
		"user_id":    s.Identity.UserID,
		"event":      ev.Name,
	}).WithError(err).Warn("Dropped event for peer")
}
