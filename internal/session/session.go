// Package session defines the per-connection Session record and the sharded
// SessionRegistry that indexes live sessions by id and by user.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wsprism/wsprism/internal/outbound"
	"github.com/wsprism/wsprism/internal/policy"
)

// Server-initiated close reasons.
const (
	ReasonReplaced        = "policy_replaced"
	ReasonPolicyShutdown  = "policy_shutdown"
	ReasonIdleTimeout     = "idle_timeout"
	ReasonSlowConsumer    = "slow_consumer"
	ReasonPolicyViolation = "policy_violation"
)

// Session is one authenticated connection. It is owned by the connection
// loop that created it; the registry and room index hold it only for
// addressing.
type Session struct {
	ID         uuid.UUID
	User       string
	Tenant     string
	RemoteAddr string
	CreatedAt  time.Time

	// Outbound is the only path to this session's socket.
	Outbound *outbound.Queue

	lastRx   atomic.Int64 // unix nanos of the last received frame
	pipeline atomic.Pointer[policy.Pipeline]

	mu         sync.Mutex
	activeRoom string
	joined     map[string]struct{}

	closeOnce sync.Once
	closeCh   chan struct{}
	closeCode atomic.Pointer[string]
}

// New creates a session with a fresh random id.
func New(user, tenant, remoteAddr string, q *outbound.Queue, pl *policy.Pipeline, now time.Time) *Session {
	s := &Session{
		ID:         uuid.New(),
		User:       user,
		Tenant:     tenant,
		RemoteAddr: remoteAddr,
		CreatedAt:  now,
		Outbound:   q,
		joined:     make(map[string]struct{}),
		closeCh:    make(chan struct{}),
	}
	s.lastRx.Store(now.UnixNano())
	s.pipeline.Store(pl)
	return s
}

// Pipeline returns the current admission pipeline. Hot reload swaps it.
func (s *Session) Pipeline() *policy.Pipeline {
	return s.pipeline.Load()
}

// SetPipeline publishes a new admission pipeline for subsequent frames.
func (s *Session) SetPipeline(pl *policy.Pipeline) {
	s.pipeline.Store(pl)
}

// TouchRx records frame receipt for idle-timeout accounting.
func (s *Session) TouchRx(now time.Time) {
	s.lastRx.Store(now.UnixNano())
}

// LastRx returns the time of the last received frame.
func (s *Session) LastRx() time.Time {
	return time.Unix(0, s.lastRx.Load())
}

// ActiveRoom returns the session's active room, or "" when unset.
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRoom
}

// SetActiveRoom sets the active room. The session must already be a member;
// passing "" clears it.
func (s *Session) SetActiveRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room == "" {
		s.activeRoom = ""
		return true
	}
	if _, ok := s.joined[room]; !ok {
		return false
	}
	s.activeRoom = room
	return true
}

// TrackJoin records room membership on the session side. Returns false when
// already joined. Called by the room index under its lock.
func (s *Session) TrackJoin(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.joined[room]; ok {
		return false
	}
	s.joined[room] = struct{}{}
	return true
}

// TrackLeave removes room membership; clears active room if it pointed there.
func (s *Session) TrackLeave(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.joined[room]; !ok {
		return false
	}
	delete(s.joined, room)
	if s.activeRoom == room {
		s.activeRoom = ""
	}
	return true
}

// JoinedRooms returns a snapshot of the rooms this session is in.
func (s *Session) JoinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.joined))
	for r := range s.joined {
		rooms = append(rooms, r)
	}
	return rooms
}

// JoinedCount returns how many rooms the session is in.
func (s *Session) JoinedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joined)
}

// RequestClose asks the owning connection loop to terminate with the given
// reason. Only the first request's reason is kept; the call is idempotent.
func (s *Session) RequestClose(reason string) {
	s.closeOnce.Do(func() {
		s.closeCode.Store(&reason)
		close(s.closeCh)
	})
}

// CloseRequested returns a channel closed once a close has been requested.
func (s *Session) CloseRequested() <-chan struct{} {
	return s.closeCh
}

// CloseReason returns the reason of the first close request, or "".
func (s *Session) CloseReason() string {
	if p := s.closeCode.Load(); p != nil {
		return *p
	}
	return ""
}
