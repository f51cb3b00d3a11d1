// Package room implements the per-tenant room membership index and room
// broadcast fan-out.
package room

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wsprism/wsprism/internal/outbound"
	"github.com/wsprism/wsprism/internal/session"
)

// Limits bounds room creation and membership. Passed per call because the
// values are hot-reloadable.
type Limits struct {
	MaxRoomsTotal   int
	MaxUsersPerRoom int
	MaxRoomsPerUser int
}

// Presence tracks one tenant's rooms. Rooms are created lazily on first join
// and deleted when their last member leaves, so a room exists iff it has
// members. The reverse index lives on each Session; both sides are updated
// under the presence lock to stay consistent.
type Presence struct {
	mu    sync.RWMutex
	rooms map[string]map[uuid.UUID]*session.Session
}

// NewPresence creates an empty room index.
func NewPresence() *Presence {
	return &Presence{rooms: make(map[string]map[uuid.UUID]*session.Session)}
}

// Join adds the session to a room, creating it if needed. Joining a room the
// session is already in is a no-op success.
func (p *Presence) Join(s *session.Session, room string, lim Limits) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, exists := p.rooms[room]
	if exists {
		if _, in := members[s.ID]; in {
			return nil
		}
	}
	if !exists && lim.MaxRoomsTotal > 0 && len(p.rooms) >= lim.MaxRoomsTotal {
		return ErrRoomLimit
	}
	if exists && lim.MaxUsersPerRoom > 0 && len(members) >= lim.MaxUsersPerRoom {
		return ErrRoomFull
	}
	if lim.MaxRoomsPerUser > 0 && s.JoinedCount() >= lim.MaxRoomsPerUser {
		return ErrUserRoomLimit
	}

	if !exists {
		members = make(map[uuid.UUID]*session.Session)
		p.rooms[room] = members
	}
	members[s.ID] = s
	s.TrackJoin(room)
	return nil
}

// Leave removes the session from a room. Empty rooms are deleted. Leaving a
// room the session is not in returns ErrNotMember.
func (p *Presence) Leave(s *session.Session, room string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaveLocked(s, room)
}

func (p *Presence) leaveLocked(s *session.Session, room string) error {
	members, ok := p.rooms[room]
	if !ok {
		return ErrNotMember
	}
	if _, in := members[s.ID]; !in {
		return ErrNotMember
	}
	delete(members, s.ID)
	if len(members) == 0 {
		delete(p.rooms, room)
	}
	s.TrackLeave(room)
	return nil
}

// LeaveAll removes the session from every room it joined. Called during
// terminal session cleanup; idempotent.
func (p *Presence) LeaveAll(s *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, room := range s.JoinedRooms() {
		_ = p.leaveLocked(s, room)
	}
}

// Broadcast offers the item to every member of the room, optionally skipping
// one session. The member list is snapshotted first so slow consumers never
// block the room lock. Returns how many queues accepted the item.
func (p *Presence) Broadcast(room string, item outbound.Item, exclude uuid.UUID) int {
	p.mu.RLock()
	members := p.rooms[room]
	targets := make([]*session.Session, 0, len(members))
	for id, s := range members {
		if id == exclude {
			continue
		}
		targets = append(targets, s)
	}
	p.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Outbound.Offer(item) == outbound.Accepted {
			delivered++
		}
	}
	return delivered
}

// MembersOf returns a snapshot of the room's member session ids.
func (p *Presence) MembersOf(room string) []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	members := p.rooms[room]
	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Rooms returns a snapshot of room names and their member counts.
func (p *Presence) Rooms() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.rooms))
	for name, members := range p.rooms {
		out[name] = len(members)
	}
	return out
}

// RoomCount returns the number of live rooms.
func (p *Presence) RoomCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rooms)
}
