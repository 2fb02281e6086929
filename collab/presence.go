package collab

import "sort"

// PresenceTracker announces arrivals and departures inside a room. Presence
// is per user: a second tab of the same user is not a new peer.
//
// Every method expects the caller to hold the room lock.
type PresenceTracker struct{}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{}
}

// AnnounceJoin tells the other members that subject arrived, unless the
// same user already had a session in the room.
func (p *PresenceTracker) AnnounceJoin(r *Room, subject *Session) {
	if r.sessionsOf(subject.Identity.UserID, subject) > 0 {
		return
	}
	r.broadcast(Event{
		Name:    EventPeerJoined,
		Payload: PeerEvent{DocumentID: r.id, PresenceEntry: entryOf(subject.Identity)},
	}, subject)
}

// AnnounceLeave tells the remaining members that subject's user is gone.
// subject must already be removed from the room.
func (p *PresenceTracker) AnnounceLeave(r *Room, subject *Session) {
	if r.sessionsOf(subject.Identity.UserID, subject) > 0 {
		return
	}
	r.broadcast(Event{
		Name:    EventPeerLeft,
		Payload: PeerEvent{DocumentID: r.id, PresenceEntry: entryOf(subject.Identity)},
	}, subject)
}

// Snapshot lists the users present in the room, one entry per user.
func (p *PresenceTracker) Snapshot(r *Room) []PresenceEntry {
	seen := make(map[string]struct{}, len(r.members))
	entries := make([]PresenceEntry, 0, len(r.members))
	for m := range r.members {
		if _, ok := seen[m.Identity.UserID]; ok {
			continue
		}
		seen[m.Identity.UserID] = struct{}{}
		entries = append(entries, entryOf(m.Identity))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}
