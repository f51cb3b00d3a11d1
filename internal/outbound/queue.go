// Package outbound implements the per-session send queue. It is the only path
// to the socket: producers offer items, a single writer consumes them, so at
// most one goroutine ever writes to a connection.
package outbound

import (
	"sync"
	"time"

	"github.com/wsprism/wsprism/internal/clock"
	"github.com/wsprism/wsprism/internal/protocol"
)

// Priority orders delivery across tiers. Lower value drains first.
type Priority int

// Delivery tiers.
const (
	Control  Priority = iota // system frames, ping/pong, close
	Reliable                 // Ext Lane replies and broadcasts
	Lossy                    // Hot Lane broadcasts
)

// String returns the tier name for logs and metrics labels.
func (p Priority) String() string {
	switch p {
	case Control:
		return "control"
	case Reliable:
		return "reliable"
	case Lossy:
		return "lossy"
	}
	return "unknown"
}

// Item is one outbound message.
type Item struct {
	Priority Priority
	Binary   bool
	Payload  []byte
	// Key coalesces Lossy items: the queue keeps only the newest payload per
	// key ("latest state wins"). Empty means no coalescing.
	Key string
}

// OfferResult reports what happened to an offered item.
type OfferResult int

// Offer outcomes.
const (
	Accepted OfferResult = iota
	Dropped
	Fatal
)

// Caps bounds each tier.
type Caps struct {
	Control  int
	Reliable int
	Lossy    int
}

// DefaultCaps returns the default tier bounds.
func DefaultCaps() Caps {
	return Caps{Control: 64, Reliable: 1024, Lossy: 1024}
}

func (c *Caps) normalize() {
	d := DefaultCaps()
	if c.Control <= 0 {
		c.Control = d.Control
	}
	if c.Reliable <= 0 {
		c.Reliable = d.Reliable
	}
	if c.Lossy <= 0 {
		c.Lossy = d.Lossy
	}
}

// dropNoticeWindow limits how often a reliable-overflow notice is sent.
const dropNoticeWindow = time.Second

// Queue is a bounded, priority-tiered outbound queue. Multi-producer via
// Offer, single consumer via Pop/Wait.
type Queue struct {
	mu       sync.Mutex
	control  []Item
	reliable []Item
	lossy    []Item
	caps     Caps
	clk      clock.Clock

	notify chan struct{}
	closed bool
	fatal  bool

	reliableDrops uint64
	lossyDrops    uint64
	lastNotice    time.Time
}

// NewQueue creates a queue with the given tier caps. Zero caps fall back to
// defaults.
func NewQueue(caps Caps, clk clock.Clock) *Queue {
	caps.normalize()
	if clk == nil {
		clk = clock.System()
	}
	return &Queue{
		caps:   caps,
		clk:    clk,
		notify: make(chan struct{}, 1),
	}
}

// Offer enqueues item without blocking. Control overflow is fatal to the
// session; Reliable overflow drops the oldest item; Lossy overflow coalesces
// by key or drops the oldest.
func (q *Queue) Offer(item Item) OfferResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.fatal {
		return Dropped
	}

	result := Accepted
	switch item.Priority {
	case Control:
		if len(q.control) >= q.caps.Control {
			q.fatal = true
			q.signal()
			return Fatal
		}
		q.control = append(q.control, item)

	case Reliable:
		if len(q.reliable) >= q.caps.Reliable {
			q.reliable = q.reliable[1:]
			q.reliableDrops++
			result = Dropped
			q.maybeEnqueueDropNotice()
		}
		q.reliable = append(q.reliable, item)

	case Lossy:
		if item.Key != "" {
			for i := range q.lossy {
				if q.lossy[i].Key == item.Key {
					q.lossy[i] = item
					q.lossyDrops++
					q.signal()
					return Accepted
				}
			}
		}
		if len(q.lossy) >= q.caps.Lossy {
			q.lossy = q.lossy[1:]
			q.lossyDrops++
			result = Dropped
		}
		q.lossy = append(q.lossy, item)
	}

	q.signal()
	return result
}

// maybeEnqueueDropNotice adds a sys notice about reliable drops, at most once
// per window, and only when Control has room. Caller holds q.mu.
func (q *Queue) maybeEnqueueDropNotice() {
	now := q.clk.Now()
	if !q.lastNotice.IsZero() && now.Sub(q.lastNotice) < dropNoticeWindow {
		return
	}
	if len(q.control) >= q.caps.Control {
		return
	}
	q.lastNotice = now
	q.control = append(q.control, Item{
		Priority: Control,
		Payload:  protocol.SysFrame("error", map[string]any{"code": "messages_dropped"}),
	})
}

// Pop dequeues the next item in strict tier order, FIFO within a tier.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case len(q.control) > 0:
		item := q.control[0]
		q.control = q.control[1:]
		return item, true
	case len(q.reliable) > 0:
		item := q.reliable[0]
		q.reliable = q.reliable[1:]
		return item, true
	case len(q.lossy) > 0:
		item := q.lossy[0]
		q.lossy = q.lossy[1:]
		return item, true
	}
	return Item{}, false
}

// Wait returns a channel that receives a signal when items arrive or the
// queue closes. The channel is 1-buffered; consumers re-check Pop after each
// receive.
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}

// Close marks the queue closed. Pending items remain poppable so a draining
// writer can flush them.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// FatalOverflow reports whether a Control-tier overflow condemned the session.
func (q *Queue) FatalOverflow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatal
}

// Depth returns the number of queued items per tier.
func (q *Queue) Depth() (control, reliable, lossy int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.control), len(q.reliable), len(q.lossy)
}

// Drops returns the cumulative dropped-item counters.
func (q *Queue) Drops() (reliable, lossy uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.reliableDrops, q.lossyDrops
}

// signal wakes the consumer without blocking producers.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
