package collab

import (
	"context"
	"sort"
	"sync"

	"notion-collab/core"
	"notion-collab/metrics"

	"github.com/sirupsen/logrus"
)

// Room is the set of sessions joined to one document. All fields are
// guarded by mu; a closed room has been removed from the registry and must
// be looked up again.
type Room struct {
	id string

	mu      sync.Mutex
	members map[*Session]struct{}
	closed  bool
}

func (r *Room) has(s *Session) bool {
	_, ok := r.members[s]
	return ok
}

// sessionsOf counts the members belonging to userID, not counting except.
func (r *Room) sessionsOf(userID string, except *Session) int {
	n := 0
	for m := range r.members {
		if m != except && m.Identity.UserID == userID {
			n++
		}
	}
	return n
}

func (r *Room) broadcast(ev Event, except *Session) {
	for m := range r.members {
		if m == except {
			continue
		}
		m.send(ev)
	}
}

// RoomSummary describes a live room for the HTTP API.
type RoomSummary struct {
	DocumentID string          `json:"documentId"`
	Members    int             `json:"members"`
	Presence   []PresenceEntry `json:"presence"`
}

// RoomRegistry maps document ids to rooms. The table lock is only held to
// find or drop a room; everything else happens under the room's own lock.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	docs     core.DocumentStore
	access   *AccessAuthority
	presence *PresenceTracker
}

func NewRoomRegistry(docs core.DocumentStore, access *AccessAuthority, presence *PresenceTracker) *RoomRegistry {
	return &RoomRegistry{
		rooms:    make(map[string]*Room),
		docs:     docs,
		access:   access,
		presence: presence,
	}
}

// acquire returns the locked room for documentID, creating it when create
// is set. It returns nil when the room does not exist and create is false.
func (rg *RoomRegistry) acquire(documentID string, create bool) *Room {
	for {
		rg.mu.Lock()
		r, ok := rg.rooms[documentID]
		if !ok {
			if !create {
				rg.mu.Unlock()
				return nil
			}
			r = &Room{id: documentID, members: make(map[*Session]struct{})}
			rg.rooms[documentID] = r
			metrics.RoomsActive.Inc()
		}
		rg.mu.Unlock()

		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
	}
}

// release unlocks r, dropping it from the table first if it is empty.
func (rg *RoomRegistry) release(r *Room) {
	if len(r.members) == 0 && !r.closed {
		r.closed = true
		rg.mu.Lock()
		if rg.rooms[r.id] == r {
			delete(rg.rooms, r.id)
			metrics.RoomsActive.Dec()
		}
		rg.mu.Unlock()
	}
	r.mu.Unlock()
}

// withRoom runs fn under the lock of an existing room.
func (rg *RoomRegistry) withRoom(documentID string, fn func(r *Room) error) error {
	r := rg.acquire(documentID, false)
	if r == nil {
		return ErrNotJoined
	}
	defer rg.release(r)
	return fn(r)
}

// Join adds s to the room for documentID and returns the document as
// currently stored together with who is present. Joining twice does not
// duplicate membership but still returns a fresh snapshot.
func (rg *RoomRegistry) Join(ctx context.Context, documentID string, s *Session) (RoomState, error) {
	ok, err := rg.access.CanRead(ctx, s.Identity.UserID, documentID)
	if err != nil {
		return RoomState{}, err
	}
	if !ok {
		return RoomState{}, ErrForbidden
	}

	r := rg.acquire(documentID, true)
	defer rg.release(r)

	doc, err := rg.docs.GetDocument(ctx, documentID)
	if err != nil {
		return RoomState{}, mapStoreErr(documentID, err)
	}

	if !r.has(s) {
		if !s.addRoom(documentID) {
			return RoomState{}, errSessionClosed
		}
		r.members[s] = struct{}{}
		rg.presence.AnnounceJoin(r, s)

		logrus.WithFields(logrus.Fields{
			"session_id":  s.ID,
			"user_id":     s.Identity.UserID,
			"document_id": documentID,
			"members":     len(r.members),
		}).Info("Session joined room")
	}

	return RoomState{
		DocumentID: documentID,
		Title:      doc.Title,
		Content:    doc.Content,
		Presence:   rg.presence.Snapshot(r),
	}, nil
}

// Leave removes s from the room. It reports whether s was a member.
func (rg *RoomRegistry) Leave(documentID string, s *Session) bool {
	r := rg.acquire(documentID, false)
	if r == nil {
		s.removeRoom(documentID)
		return false
	}
	defer rg.release(r)

	if !r.has(s) {
		s.removeRoom(documentID)
		return false
	}
	delete(r.members, s)
	s.removeRoom(documentID)
	rg.presence.AnnounceLeave(r, s)

	logrus.WithFields(logrus.Fields{
		"session_id":  s.ID,
		"user_id":     s.Identity.UserID,
		"document_id": documentID,
		"members":     len(r.members),
	}).Info("Session left room")
	return true
}

// MembersOf returns the sessions currently in the room.
func (rg *RoomRegistry) MembersOf(documentID string) []*Session {
	r := rg.acquire(documentID, false)
	if r == nil {
		return nil
	}
	defer rg.release(r)

	members := make([]*Session, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	return members
}

// Rooms lists live rooms, busiest first.
func (rg *RoomRegistry) Rooms() []RoomSummary {
	rg.mu.Lock()
	rooms := make([]*Room, 0, len(rg.rooms))
	for _, r := range rg.rooms {
		rooms = append(rooms, r)
	}
	rg.mu.Unlock()

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed && len(r.members) > 0 {
			summaries = append(summaries, RoomSummary{
				DocumentID: r.id,
				Members:    len(r.members),
				Presence:   rg.presence.Snapshot(r),
			})
		}
		r.mu.Unlock()
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Members != summaries[j].Members {
			return summaries[i].Members > summaries[j].Members
		}
		return summaries[i].DocumentID < summaries[j].DocumentID
	})
	return summaries
}
