// Package tenant owns per-tenant runtime state: the config snapshot, the
// compiled admission policy, the shared token bucket, and the session and
// room indexes.
package tenant

import (
	"sync"
	"sync/atomic"

	"github.com/wsprism/wsprism/internal/clock"
	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/policy"
	"github.com/wsprism/wsprism/internal/ratelimit"
	"github.com/wsprism/wsprism/internal/room"
	"github.com/wsprism/wsprism/internal/session"
)

// snapshot is the immutable compiled form of one tenant config revision.
// Reload builds a new snapshot and swaps the pointer.
type snapshot struct {
	cfg        config.TenantConfig
	allow      *policy.Allowlist
	scope      policy.Scope
	hotMode    policy.HotErrorMode
	sessionPol session.Policy
	roomLimits room.Limits
}

func compileSnapshot(cfg config.TenantConfig) (*snapshot, error) {
	allow, err := policy.Compile(cfg.Policy.ExtAllowlist, cfg.Policy.HotAllowlist)
	if err != nil {
		return nil, err
	}
	scope, _ := policy.ParseScope(cfg.Policy.RateLimitScope)
	hotMode, _ := policy.ParseHotErrorMode(cfg.Policy.HotErrorMode)
	mode, _ := session.ParseMode(cfg.Policy.Sessions.Mode)
	onExceed, _ := session.ParseOnExceed(cfg.Policy.Sessions.OnExceed)

	return &snapshot{
		cfg:     cfg,
		allow:   allow,
		scope:   scope,
		hotMode: hotMode,
		sessionPol: session.Policy{
			Mode:       mode,
			MaxPerUser: cfg.Policy.Sessions.MaxSessionsPerUser,
			OnExceed:   onExceed,
			MaxTotal:   cfg.Limits.MaxSessionsTotal,
		},
		roomLimits: room.Limits{
			MaxRoomsTotal:   cfg.Limits.MaxRoomsTotal,
			MaxUsersPerRoom: cfg.Limits.MaxUsersPerRoom,
			MaxRoomsPerUser: cfg.Limits.MaxRoomsPerUser,
		},
	}, nil
}

// State is one tenant's runtime. It lives for the process lifetime; only the
// snapshot changes across reloads.
type State struct {
	ID string

	registry *session.Registry
	presence *room.Presence

	snap   atomic.Pointer[snapshot]
	bucket *ratelimit.Bucket // tenant-scope bucket, nil when rps is 0
	clk    clock.Clock
}

// NewState compiles a tenant config into live state.
func NewState(cfg config.TenantConfig, clk clock.Clock) (*State, error) {
	if clk == nil {
		clk = clock.System()
	}
	snap, err := compileSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	s := &State{
		ID:       cfg.ID,
		registry: session.NewRegistry(),
		presence: room.NewPresence(),
		clk:      clk,
	}
	if cfg.Policy.RateLimitRPS > 0 {
		s.bucket = ratelimit.NewBucket(cfg.Policy.RateLimitRPS, cfg.Policy.RateLimitBurst, clk)
	}
	s.snap.Store(snap)
	return s, nil
}

// Registry returns the tenant's session registry.
func (s *State) Registry() *session.Registry { return s.registry }

// Presence returns the tenant's room index.
func (s *State) Presence() *room.Presence { return s.presence }

// SessionPolicy returns the current session concurrency policy.
func (s *State) SessionPolicy() session.Policy { return s.snap.Load().sessionPol }

// RoomLimits returns the current room limits.
func (s *State) RoomLimits() room.Limits { return s.snap.Load().roomLimits }

// Config returns the current config revision.
func (s *State) Config() config.TenantConfig { return s.snap.Load().cfg }

// NewConnBucket creates a per-connection bucket when the scope uses one.
func (s *State) NewConnBucket() *ratelimit.Bucket {
	snap := s.snap.Load()
	if snap.scope == policy.ScopeTenant || snap.cfg.Policy.RateLimitRPS <= 0 {
		return nil
	}
	return ratelimit.NewBucket(snap.cfg.Policy.RateLimitRPS, snap.cfg.Policy.RateLimitBurst, s.clk)
}

// NewPipeline builds the admission pipeline for one connection.
func (s *State) NewPipeline(connBucket *ratelimit.Bucket) *policy.Pipeline {
	snap := s.snap.Load()
	return &policy.Pipeline{
		MaxFrameBytes:         snap.cfg.Limits.MaxFrameBytes,
		Scope:                 snap.scope,
		HotErrMode:            snap.hotMode,
		HotRequiresActiveRoom: snap.cfg.Policy.HotRequiresActiveRoom,
		Allow:                 snap.allow,
		TenantBucket:          s.bucket,
		ConnBucket:            connBucket,
	}
}

// Apply swaps in a new config revision. The tenant bucket and each live
// session's connection bucket are re-parameterized in place so their balances
// carry over, and every live session gets a fresh pipeline built from the new
// snapshot.
func (s *State) Apply(cfg config.TenantConfig) error {
	snap, err := compileSnapshot(cfg)
	if err != nil {
		return err
	}
	s.snap.Store(snap)

	if s.bucket != nil && cfg.Policy.RateLimitRPS > 0 {
		s.bucket.SetRate(cfg.Policy.RateLimitRPS, cfg.Policy.RateLimitBurst)
	}

	for _, sess := range s.registry.Snapshot() {
		conn := sess.Pipeline().ConnBucket
		if conn != nil && cfg.Policy.RateLimitRPS > 0 {
			conn.SetRate(cfg.Policy.RateLimitRPS, cfg.Policy.RateLimitBurst)
		}
		sess.SetPipeline(s.NewPipeline(conn))
	}
	return nil
}

// Map indexes tenant states by id. Tenants present at startup or introduced
// by reload live until process exit; a tenant removed from config keeps its
// last revision.
type Map struct {
	clk clock.Clock

	mu      sync.RWMutex
	tenants map[string]*State
}

// NewMap builds states for all configured tenants.
func NewMap(cfgs []config.TenantConfig, clk clock.Clock) (*Map, error) {
	m := &Map{clk: clk, tenants: make(map[string]*State, len(cfgs))}
	for _, cfg := range cfgs {
		st, err := NewState(cfg, clk)
		if err != nil {
			return nil, err
		}
		m.tenants[cfg.ID] = st
	}
	return m, nil
}

// Lookup returns the tenant state for an id.
func (m *Map) Lookup(id string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.tenants[id]
	return st, ok
}

// Reload applies new tenant configs: existing tenants are updated in place,
// new tenants are created.
func (m *Map) Reload(cfgs []config.TenantConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range cfgs {
		if st, ok := m.tenants[cfg.ID]; ok {
			if err := st.Apply(cfg); err != nil {
				return err
			}
			continue
		}
		st, err := NewState(cfg, m.clk)
		if err != nil {
			return err
		}
		m.tenants[cfg.ID] = st
	}
	return nil
}

// All returns a snapshot of the tenant states.
func (m *Map) All() []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*State, 0, len(m.tenants))
	for _, st := range m.tenants {
		out = append(out, st)
	}
	return out
}
