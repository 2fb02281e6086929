package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"notion-collab/core"
	"notion-collab/handlers/auth"
	"notion-collab/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateReachesPeersWithoutEcho(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	b, recB := f.connect("B")

	stateA := f.join(a, "42")
	assert.Equal(t, "hello", stateA.Content)
	stateB := f.join(b, "42")
	assert.Equal(t, "hello", stateB.Content)
	assert.Len(t, stateB.Presence, 2)

	require.NoError(t, f.update(a, "42", "hello world"))

	got := recB.named(EventContentUpdated)
	require.Len(t, got, 1)
	ev := got[0].Payload.(ContentUpdated)
	assert.Equal(t, "42", ev.DocumentID)
	assert.Equal(t, "hello world", ev.Content)
	assert.Equal(t, "Notes", ev.Title)
	assert.Equal(t, "A", ev.UserID)
	assert.Equal(t, "Ada", ev.DisplayName)
	assert.Empty(t, recA.named(EventContentUpdated), "sender must not receive its own update")

	c, _ := f.connect("C")
	stateC := f.join(c, "42")
	assert.Equal(t, "hello world", stateC.Content)
}

func TestJoinWithoutAccessIsRejected(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	f.join(a, "7")
	recA.reset()

	d, recD := f.connect("D")
	_, err := f.handle(d, Message{Type: MsgJoinRoom, DocumentID: "7"})
	require.ErrorIs(t, err, ErrForbidden)

	errs := recD.named(EventError)
	require.Len(t, errs, 1)
	payload := errs[0].Payload.(ErrorEvent)
	assert.Equal(t, CodeForbidden, payload.Code)
	assert.Equal(t, "You do not have access to this document", payload.Message)
	assert.Equal(t, "7", payload.DocumentID)

	assert.Empty(t, recA.named(EventPeerJoined))
	assert.Len(t, f.registry.MembersOf("7"), 1)
	assert.False(t, d.InRoom("7"))
}

func TestPersistFailureBroadcastsNothing(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	e, recE := f.connect("E")
	f.join(a, "42")
	f.join(e, "42")

	f.docs.arm()
	err := f.update(e, "42", "lost edit")
	require.ErrorIs(t, err, ErrPersistFailed)

	errs := recE.named(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, CodePersistFailed, errs[0].Payload.(ErrorEvent).Code)
	assert.Equal(t, "Failed to update document", errs[0].Payload.(ErrorEvent).Message)
	assert.Empty(t, recA.named(EventContentUpdated))

	doc, err := f.docs.GetDocument(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)
}

func TestReadOnlyCollaboratorCannotWrite(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	c, recC := f.connect("C")
	f.join(a, "42")
	f.join(c, "42")

	err := f.update(c, "42", "vandalism")
	require.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, recA.named(EventContentUpdated))
	require.Len(t, recC.named(EventError), 1)
	assert.Equal(t, "You do not have permission to edit this document",
		recC.named(EventError)[0].Payload.(ErrorEvent).Message)
}

func TestUpdateRequiresMembership(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	b, recB := f.connect("B")
	f.join(a, "42")

	err := f.update(b, "42", "drive-by")
	require.ErrorIs(t, err, ErrNotJoined)
	assert.Equal(t, CodeNotJoined, recB.named(EventError)[0].Payload.(ErrorEvent).Code)
}

func TestSingleSenderOrderIsPreserved(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	b, recB := f.connect("B")
	f.join(a, "42")
	f.join(b, "42")

	for _, content := range []string{"u1", "u2", "u3"} {
		require.NoError(t, f.update(a, "42", content))
	}

	var seen []string
	for _, ev := range recB.named(EventContentUpdated) {
		seen = append(seen, ev.Payload.(ContentUpdated).Content)
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, seen)
}

func TestConcurrentSendersAreLinearized(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	b, recB := f.connect("B")
	c, recC := f.connect("C")
	f.join(a, "42")
	f.join(b, "42")
	f.join(c, "42")

	var wg sync.WaitGroup
	for _, s := range []*Session{a, b} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, f.update(s, "42", fmt.Sprintf("%s-%d", s.Identity.UserID, i)))
			}
		}(s)
	}
	wg.Wait()

	updates := recC.named(EventContentUpdated)
	require.Len(t, updates, 40)
	assert.Len(t, recA.named(EventContentUpdated), 20)
	assert.Len(t, recB.named(EventContentUpdated), 20)

	// The last update C saw is what the store holds.
	last := updates[len(updates)-1].Payload.(ContentUpdated).Content
	doc, err := f.docs.GetDocument(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, doc.Content, last)
}

func TestDoubleJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	b, _ := f.connect("B")
	f.join(a, "42")
	f.join(b, "42")
	require.NoError(t, f.update(a, "42", "hello again"))

	state := f.join(b, "42")
	assert.Equal(t, "hello again", state.Content)
	assert.Len(t, f.registry.MembersOf("42"), 2)
	assert.Len(t, recA.named(EventPeerJoined), 1, "second join must not be announced")
	assert.Len(t, b.Rooms(), 1)
}

func TestPresenceIsPerUser(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	b1, _ := f.connect("B")
	b2, _ := f.connect("B")
	f.join(a, "42")
	f.join(b1, "42")
	state := f.join(b2, "42")

	assert.Len(t, state.Presence, 2)
	assert.Len(t, recA.named(EventPeerJoined), 1)

	f.mgr.Disconnect(b1, "test")
	assert.Empty(t, recA.named(EventPeerLeft), "B still has a session in the room")

	f.mgr.Disconnect(b2, "test")
	left := recA.named(EventPeerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "B", left[0].Payload.(PeerEvent).UserID)
}

func TestUpdateReachesSameUsersOtherSession(t *testing.T) {
	f := newFixture(t)
	a1, rec1 := f.connect("A")
	a2, rec2 := f.connect("A")
	f.join(a1, "42")
	f.join(a2, "42")

	require.NoError(t, f.update(a1, "42", "from tab one"))
	assert.Empty(t, rec1.named(EventContentUpdated))
	assert.Len(t, rec2.named(EventContentUpdated), 1)
}

func TestLeaveAnnouncesAndDropsEmptyRoom(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	b, _ := f.connect("B")
	f.join(a, "42")
	f.join(b, "42")

	_, err := f.handle(b, Message{Type: MsgLeaveRoom, DocumentID: "42"})
	require.NoError(t, err)
	require.Len(t, recA.named(EventPeerLeft), 1)
	assert.False(t, b.InRoom("42"))

	// Leaving again is a no-op.
	_, err = f.handle(b, Message{Type: MsgLeaveRoom, DocumentID: "42"})
	require.NoError(t, err)

	_, err = f.handle(a, Message{Type: MsgLeaveRoom, DocumentID: "42"})
	require.NoError(t, err)
	assert.Empty(t, f.registry.MembersOf("42"))
	assert.Empty(t, f.mgr.Rooms())
}

func TestDisconnectCleansEveryRoom(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	b, recB := f.connect("B")
	f.join(a, "42")
	f.join(a, "7")
	f.join(b, "42")

	f.mgr.Disconnect(a, "read error")
	f.mgr.Disconnect(a, "read error")

	assert.Equal(t, StateDisconnected, a.State())
	assert.True(t, recA.isClosed())
	assert.Empty(t, a.Rooms())
	assert.Empty(t, f.registry.MembersOf("7"))
	assert.Len(t, f.registry.MembersOf("42"), 1)
	assert.Len(t, recB.named(EventPeerLeft), 1)
	assert.Equal(t, 1, f.mgr.SessionCount())

	_, err := f.handle(a, Message{Type: MsgJoinRoom, DocumentID: "42"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestRoomsAreSortedByMembers(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	b, _ := f.connect("B")
	f.join(a, "7")
	f.join(a, "42")
	f.join(b, "42")

	rooms := f.mgr.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "42", rooms[0].DocumentID)
	assert.Equal(t, 2, rooms[0].Members)
	assert.Equal(t, "7", rooms[1].DocumentID)
}

func TestJoinMissingDocument(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")

	_, err := f.handle(a, Message{Type: MsgJoinRoom, DocumentID: "404"})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Document not found", recA.named(EventError)[0].Payload.(ErrorEvent).Message)
	assert.Empty(t, f.mgr.Rooms())
}

func TestPublicDocumentIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.docs.DocumentStore.(interface {
		CreateDocument(context.Context, *core.Document) (string, error)
	}).CreateDocument(ctx, &core.Document{ID: "99", OwnerID: "A", Content: "open", IsPublic: true})
	require.NoError(t, err)

	d, _ := f.connect("D")
	state := f.join(d, "99")
	assert.Equal(t, "open", state.Content)
	assert.ErrorIs(t, f.update(d, "99", "nope"), ErrForbidden)
}

func TestUpdateTitle(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	b, recB := f.connect("B")
	f.join(a, "42")
	f.join(b, "42")

	_, err := f.handle(a, Message{Type: MsgUpdateContent, DocumentID: "42", Content: ptr("x"), Title: ptr("Renamed")})
	require.NoError(t, err)
	_, err = f.handle(a, Message{Type: MsgUpdateContent, DocumentID: "42", Content: ptr("y"), Title: ptr("")})
	require.NoError(t, err)

	got := recB.named(EventContentUpdated)
	require.Len(t, got, 2)
	assert.Equal(t, "Renamed", got[0].Payload.(ContentUpdated).Title)
	assert.Equal(t, "Renamed", got[1].Payload.(ContentUpdated).Title)
}

func TestCursorRelay(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	c, recC := f.connect("C")
	f.join(a, "42")
	f.join(c, "42")

	pos := json.RawMessage(`{"index":3,"length":0}`)
	_, err := f.handle(c, Message{Type: MsgCursorMove, DocumentID: "42", Position: pos})
	require.NoError(t, err)

	moved := recA.named(EventCursorMoved)
	require.Len(t, moved, 1)
	assert.JSONEq(t, string(pos), string(moved[0].Payload.(CursorMoved).Position))
	assert.Equal(t, "C", moved[0].Payload.(CursorMoved).UserID)
	assert.Empty(t, recC.named(EventCursorMoved))

	d, _ := f.connect("D")
	_, err = f.handle(d, Message{Type: MsgCursorMove, DocumentID: "42", Position: pos})
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")

	tests := []struct {
		name string
		msg  Message
	}{
		{"unknown type", Message{Type: "draw-circle"}},
		{"join without id", Message{Type: MsgJoinRoom}},
		{"update without content", Message{Type: MsgUpdateContent, DocumentID: "42"}},
		{"cursor without position", Message{Type: MsgCursorMove, DocumentID: "42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recA.reset()
			_, err := f.handle(a, tt.msg)
			require.ErrorIs(t, err, ErrBadRequest)
			require.Len(t, recA.named(EventError), 1)
			assert.Equal(t, CodeBadRequest, recA.named(EventError)[0].Payload.(ErrorEvent).Code)
		})
	}
	assert.Equal(t, StateAuthenticated, a.State(), "errors keep the connection open")
}

func TestConnectRejections(t *testing.T) {
	f := newFixture(t)

	rec := &recorder{}
	_, err := f.mgr.Connect(context.Background(), "", "test", rec)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	assert.True(t, rec.isClosed())

	before := testutil.ToFloat64(metrics.ConnectionsRejected.WithLabelValues("test", "user_not_found"))
	_, err = f.mgr.Connect(context.Background(), "ghost", "test", &recorder{})
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
	after := testutil.ToFloat64(metrics.ConnectionsRejected.WithLabelValues("test", "user_not_found"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, 0, f.mgr.SessionCount())
}

func TestSlowPeerDoesNotBlockBroadcast(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	b, recB := f.connect("B")
	c, recC := f.connect("C")
	f.join(a, "42")
	f.join(b, "42")
	f.join(c, "42")

	recB.mu.Lock()
	recB.full = true
	recB.mu.Unlock()

	counter := metrics.DeliveryFailures.WithLabelValues(EventContentUpdated, "outbox_full")
	before := testutil.ToFloat64(counter)
	require.NoError(t, f.update(a, "42", "still flowing"))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
	assert.Len(t, recC.named(EventContentUpdated), 1)
}

func TestReapIdle(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")
	b, _ := f.connect("B")
	f.join(a, "42")
	f.join(b, "42")

	f.clock = f.clock.Add(5 * time.Minute)
	f.join(b, "42")

	f.clock = f.clock.Add(6 * time.Minute)
	assert.Equal(t, 1, f.mgr.ReapIdle(f.clock))
	assert.Equal(t, StateDisconnected, a.State())
	assert.True(t, recA.isClosed())
	assert.Equal(t, StateAuthenticated, b.State())
	assert.Len(t, f.registry.MembersOf("42"), 1)
}

func TestHeartbeatsKeepPassiveReaderAlive(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	c, recC := f.connect("C")
	f.join(a, "42")
	f.join(c, "42")

	// C only listens; its transport reports a heartbeat between edits.
	for i := 0; i < 3; i++ {
		f.clock = f.clock.Add(5 * time.Minute)
		require.NoError(t, f.update(a, "42", fmt.Sprintf("edit %d", i)))
		f.mgr.Touch(c)
		assert.Equal(t, 0, f.mgr.ReapIdle(f.clock))
	}

	assert.Equal(t, StateAuthenticated, c.State())
	assert.Len(t, f.registry.MembersOf("42"), 2)
	assert.Len(t, recC.named(EventContentUpdated), 3)
	assert.Empty(t, recC.named(EventPeerLeft))
}

func TestTouchIgnoresDisconnectedSession(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	f.mgr.Disconnect(a, "test")
	before := a.LastActive()

	f.clock = f.clock.Add(time.Minute)
	f.mgr.Touch(a)
	assert.Equal(t, before, a.LastActive())
}

func TestAuthenticateRegistersNothing(t *testing.T) {
	f := newFixture(t)

	id, p, err := f.mgr.Authenticate(context.Background(), "B", "test")
	require.NoError(t, err)
	assert.Equal(t, "B", id.UserID)
	assert.Equal(t, 0, f.mgr.SessionCount())

	s := f.mgr.Register(id, p, "test", &recorder{})
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, 1, f.mgr.SessionCount())

	_, _, err = f.mgr.Authenticate(context.Background(), "", "test")
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	assert.Equal(t, 1, f.mgr.SessionCount())
}

func TestLogoutDisconnectsEverySessionOfTheToken(t *testing.T) {
	f := newFixture(t)
	a1, _ := f.connect("A")
	a2, _ := f.connect("A")
	b, recB := f.connect("B")
	f.join(a1, "42")
	f.join(a2, "42")
	f.join(b, "42")

	_, err := f.handle(a1, Message{Type: MsgLogout})
	require.NoError(t, err)

	assert.Equal(t, StateDisconnected, a1.State())
	assert.Equal(t, StateDisconnected, a2.State())
	assert.Equal(t, StateAuthenticated, b.State())
	assert.Len(t, recB.named(EventPeerLeft), 1)

	_, err = f.mgr.Connect(context.Background(), "A", "test", &recorder{})
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t)
	a, _ := f.connect("A")
	b, _ := f.connect("B")
	f.join(a, "7")
	f.join(b, "42")

	f.mgr.Shutdown()
	assert.Equal(t, 0, f.mgr.SessionCount())
	assert.Empty(t, f.mgr.Rooms())
}

func TestHandleRaw(t *testing.T) {
	f := newFixture(t)
	a, recA := f.connect("A")

	res, err := f.mgr.HandleRaw(context.Background(), a, MsgJoinRoom, []byte(`{"documentId":42}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", res.(RoomState).Content)
	require.Len(t, recA.named(EventRoomState), 1)

	_, err = f.mgr.HandleRaw(context.Background(), a, MsgUpdateContent, []byte(`{"documentId":[1]}`))
	require.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, CodeBadRequest, recA.named(EventError)[0].Payload.(ErrorEvent).Code)
}
