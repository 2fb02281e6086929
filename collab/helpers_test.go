package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notion-collab/core"
	"notion-collab/handlers/auth"
	"notion-collab/stores/memory"

	"github.com/stretchr/testify/require"
)

// recorder is a synchronous Sink that keeps every delivered event.
type recorder struct {
	mu     sync.Mutex
	events []Event
	closed bool
	full   bool
}

func (r *recorder) Deliver(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrOutboxClosed
	}
	if r.full {
		return ErrOutboxFull
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// fakeAuth treats the credential as a user id.
type fakeAuth struct {
	users   core.UserStore
	mu      sync.Mutex
	revoked map[string]bool
}

func (f *fakeAuth) Authenticate(ctx context.Context, credential string) (core.Identity, *auth.Principal, error) {
	if credential == "" {
		return core.Identity{}, nil, auth.ErrInvalidCredential
	}
	f.mu.Lock()
	revoked := f.revoked[credential]
	f.mu.Unlock()
	if revoked {
		return core.Identity{}, nil, auth.ErrInvalidCredential
	}
	u, err := f.users.GetUser(ctx, credential)
	if err != nil {
		return core.Identity{}, nil, auth.ErrUserNotFound
	}
	return core.IdentityOf(u), &auth.Principal{UserID: u.ID, Email: u.Email, TokenID: credential}, nil
}

func (f *fakeAuth) Revoke(_ context.Context, p *auth.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = make(map[string]bool)
	}
	f.revoked[p.TokenID] = true
	return nil
}

// failingDocs fails every UpdateDocument once armed.
type failingDocs struct {
	core.DocumentStore
	mu   sync.Mutex
	fail bool
}

func (f *failingDocs) UpdateDocument(ctx context.Context, id string, u core.DocumentUpdate) (*core.Document, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return f.DocumentStore.UpdateDocument(ctx, id, u)
}

func (f *failingDocs) arm() {
	f.mu.Lock()
	f.fail = true
	f.mu.Unlock()
}

type fixture struct {
	t        *testing.T
	mgr      *Manager
	registry *RoomRegistry
	docs     *failingDocs
	authn    *fakeAuth
	clock    time.Time
}

// newFixture seeds users A..E and documents 42 (owned by A, "hello") and
// 7 (owned by A, private). B and E can write 42, C can read it.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	for _, u := range []*core.User{
		{ID: "A", Email: "a@example.com", Name: "Ada"},
		{ID: "B", Email: "b@example.com", Name: "Ben"},
		{ID: "C", Email: "c@example.com", Name: "Cy"},
		{ID: "D", Email: "d@example.com"},
		{ID: "E", Email: "e@example.com", Name: "Eve"},
	} {
		_, err := store.CreateUser(ctx, u)
		require.NoError(t, err)
	}
	_, err := store.CreateDocument(ctx, &core.Document{ID: "42", OwnerID: "A", Title: "Notes", Content: "hello"})
	require.NoError(t, err)
	_, err = store.CreateDocument(ctx, &core.Document{ID: "7", OwnerID: "A", Title: "Private", Content: "secret"})
	require.NoError(t, err)
	require.NoError(t, store.SetPermission(ctx, "42", "B", core.PermissionWrite))
	require.NoError(t, store.SetPermission(ctx, "42", "C", core.PermissionRead))
	require.NoError(t, store.SetPermission(ctx, "42", "E", core.PermissionWrite))

	f := &fixture{t: t, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.docs = &failingDocs{DocumentStore: store}
	f.authn = &fakeAuth{users: store}

	access := NewAccessAuthority(f.docs, store)
	f.registry = NewRoomRegistry(f.docs, access, NewPresenceTracker())
	coordinator := NewContentCoordinator(f.registry, f.docs, access)
	f.mgr = NewManager(f.authn, f.registry, coordinator, Options{
		IdleTimeout: 10 * time.Minute,
		Now:         func() time.Time { return f.clock },
	})
	return f
}

func (f *fixture) connect(userID string) (*Session, *recorder) {
	f.t.Helper()
	rec := &recorder{}
	s, err := f.mgr.Connect(context.Background(), userID, "test", rec)
	require.NoError(f.t, err)
	return s, rec
}

func (f *fixture) handle(s *Session, msg Message) (any, error) {
	return f.mgr.Handle(context.Background(), s, msg)
}

func (f *fixture) join(s *Session, documentID string) RoomState {
	f.t.Helper()
	res, err := f.handle(s, Message{Type: MsgJoinRoom, DocumentID: DocumentID(documentID)})
	require.NoError(f.t, err)
	return res.(RoomState)
}

func (f *fixture) update(s *Session, documentID, content string) error {
	_, err := f.mgr.Handle(context.Background(), s, Message{
		Type:       MsgUpdateContent,
		DocumentID: DocumentID(documentID),
		Content:    &content,
	})
	return err
}

func ptr(s string) *string { return &s }
