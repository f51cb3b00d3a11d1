package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wsprism/wsprism/internal/outbound"
	"github.com/wsprism/wsprism/internal/protocol"
)

// Mode is the per-user session concurrency mode.
type Mode int

// Session modes.
const (
	Single Mode = iota
	Multi
)

// ParseMode maps the config spelling to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "single":
		return Single, true
	case "multi":
		return Multi, true
	}
	return 0, false
}

// OnExceed selects what happens when a user is over their session limit.
type OnExceed int

// Over-limit behaviors.
const (
	Deny OnExceed = iota
	KickOldest
)

// ParseOnExceed maps the config spelling to an OnExceed.
func ParseOnExceed(s string) (OnExceed, bool) {
	switch s {
	case "deny":
		return Deny, true
	case "kick_oldest":
		return KickOldest, true
	}
	return 0, false
}

// Policy bounds session concurrency for one tenant.
type Policy struct {
	Mode       Mode
	MaxPerUser int
	OnExceed   OnExceed
	MaxTotal   int
}

// userLimit returns the effective per-user cap.
func (p Policy) userLimit() int {
	if p.Mode == Single {
		return 1
	}
	if p.MaxPerUser <= 0 {
		return 1
	}
	return p.MaxPerUser
}

const shardCount = 16

type shard struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Session
}

// Registry indexes one tenant's live sessions. Lookups go through
// id-sharded maps; registration order per user is kept for deterministic
// oldest-first eviction.
type Registry struct {
	shards [shardCount]shard
	total  atomic.Int64

	// userMu guards byUser and makes the check-evict-insert sequence of
	// Register atomic with respect to concurrent registrations.
	userMu sync.Mutex
	byUser map[string][]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{byUser: make(map[string][]*Session)}
	for i := range r.shards {
		r.shards[i].byID = make(map[uuid.UUID]*Session)
	}
	return r
}

func (r *Registry) shardFor(id uuid.UUID) *shard {
	return &r.shards[id[0]%shardCount]
}

// Register admits a session under the given policy. Under kick_oldest it
// evicts the user's oldest sessions first, notifying each victim and
// signaling its connection loop; under deny it fails with ErrUserLimit.
// A full tenant always fails with ErrTenantFull.
func (r *Registry) Register(s *Session, pol Policy) error {
	r.userMu.Lock()
	defer r.userMu.Unlock()

	existing := r.byUser[s.User]
	limit := pol.userLimit()

	if len(existing) >= limit {
		if pol.OnExceed == Deny {
			return ErrUserLimit
		}
		for len(existing) >= limit {
			victim := existing[0]
			existing = existing[1:]
			r.removeLocked(victim)
			evict(victim)
		}
		r.byUser[s.User] = existing
	}

	if pol.MaxTotal > 0 && int(r.total.Load()) >= pol.MaxTotal {
		return ErrTenantFull
	}

	r.byUser[s.User] = append(r.byUser[s.User], s)
	sh := r.shardFor(s.ID)
	sh.mu.Lock()
	sh.byID[s.ID] = s
	sh.mu.Unlock()
	r.total.Add(1)
	return nil
}

// evict tells a replaced session's owner to shut it down.
func evict(victim *Session) {
	victim.Outbound.Offer(outbound.Item{
		Priority: outbound.Control,
		Payload:  protocol.SysFrame("session_replaced", nil),
	})
	victim.RequestClose(ReasonReplaced)
}

// Unregister removes a session from both indexes. Unknown ids are ignored so
// cleanup stays idempotent.
func (r *Registry) Unregister(id uuid.UUID) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	s, ok := sh.byID[id]
	if ok {
		delete(sh.byID, id)
	}
	sh.mu.Unlock()
	if !ok {
		return
	}

	r.userMu.Lock()
	r.removeFromUserLocked(s)
	r.userMu.Unlock()
	r.total.Add(-1)
}

// removeLocked drops a session from its shard. Caller holds userMu and has
// already pruned the byUser slice.
func (r *Registry) removeLocked(s *Session) {
	sh := r.shardFor(s.ID)
	sh.mu.Lock()
	delete(sh.byID, s.ID)
	sh.mu.Unlock()
	r.total.Add(-1)
}

func (r *Registry) removeFromUserLocked(s *Session) {
	list := r.byUser[s.User]
	for i, cand := range list {
		if cand.ID == s.ID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byUser, s.User)
	} else {
		r.byUser[s.User] = list
	}
}

// Lookup returns the session with the given id, if registered.
func (r *Registry) Lookup(id uuid.UUID) (*Session, bool) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.byID[id]
	return s, ok
}

// IterUser returns a snapshot of the user's sessions in creation order.
func (r *Registry) IterUser(user string) []*Session {
	r.userMu.Lock()
	defer r.userMu.Unlock()
	list := r.byUser[user]
	out := make([]*Session, len(list))
	copy(out, list)
	return out
}

// Snapshot returns all registered sessions. Used by drain and admin views.
func (r *Registry) Snapshot() []*Session {
	out := make([]*Session, 0, r.total.Load())
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, s := range sh.byID {
			out = append(out, s)
		}
		sh.mu.Unlock()
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return int(r.total.Load())
}
