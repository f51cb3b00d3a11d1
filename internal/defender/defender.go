// Package defender rate-limits WebSocket handshakes before any session
// state is allocated. A global limiter caps total upgrade attempts; per-IP
// limiters stop a single source from exhausting the global budget.
package defender

import (
	"container/list"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wsprism/wsprism/internal/config"
)

// Defender applies the two-stage handshake check. Per-IP limiters live in a
// bounded table with LRU eviction so an address scan cannot grow memory
// without bound.
type Defender struct {
	enabled bool
	global  *rate.Limiter

	perIPRPS   rate.Limit
	perIPBurst int
	maxEntries int

	mu    sync.Mutex
	byIP  map[string]*list.Element
	order *list.List // front = most recently seen
}

type ipEntry struct {
	ip      string
	limiter *rate.Limiter
}

// New builds a defender from config. A disabled config admits everything.
func New(cfg config.HandshakeLimitConfig) *Defender {
	d := &Defender{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return d
	}
	d.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)
	d.perIPRPS = rate.Limit(cfg.PerIPRPS)
	d.perIPBurst = cfg.PerIPBurst
	d.maxEntries = cfg.MaxIPEntries
	d.byIP = make(map[string]*list.Element, cfg.MaxIPEntries)
	d.order = list.New()
	return d
}

// Allow reports whether a handshake from the given IP may proceed. The
// global budget is checked first so it is debited even when the per-IP
// check would also fail.
func (d *Defender) Allow(ip string) bool {
	if !d.enabled {
		return true
	}
	if !d.global.Allow() {
		return false
	}
	return d.limiterFor(ip).Allow()
}

func (d *Defender) limiterFor(ip string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.byIP[ip]; ok {
		d.order.MoveToFront(el)
		return el.Value.(*ipEntry).limiter
	}

	for d.order.Len() >= d.maxEntries {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.byIP, oldest.Value.(*ipEntry).ip)
	}

	entry := &ipEntry{ip: ip, limiter: rate.NewLimiter(d.perIPRPS, d.perIPBurst)}
	d.byIP[ip] = d.order.PushFront(entry)
	return entry.limiter
}

// Entries returns the number of tracked IPs.
func (d *Defender) Entries() int {
	if !d.enabled {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byIP)
}
