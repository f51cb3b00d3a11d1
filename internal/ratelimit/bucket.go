// Package ratelimit implements the token-bucket limiter used for per-frame
// admission. One bucket guards one scope (a tenant or a single connection).
package ratelimit

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/wsprism/wsprism/internal/clock"
)

// tokenScale is the fixed-point scale: one token is 1000 millitokens. Refill
// math stays in integers so the whole bucket state fits one CAS word.
const tokenScale = 1000

// maxBurst keeps the millitoken balance within its 32-bit slot.
const maxBurst = (1<<32 - 1) / tokenScale

// Bucket is a lock-free token bucket. State is a single uint64: the high 32
// bits hold the current balance in millitokens, the low 32 bits the timestamp
// of the last refill in milliseconds since the bucket's origin. Unsigned
// subtraction keeps elapsed-time math correct across the 32-bit wrap.
type Bucket struct {
	state  atomic.Uint64
	rate   atomic.Uint64 // math.Float64bits(tokens per second)
	burst  atomic.Uint64 // millitokens
	origin time.Time
	clk    clock.Clock
}

// NewBucket creates a bucket filled to burst. rps and burst are clamped to a
// minimum of 1.
func NewBucket(rps float64, burst int, clk clock.Clock) *Bucket {
	if clk == nil {
		clk = clock.System()
	}
	rps, burst = clampParams(rps, burst)
	b := &Bucket{origin: clk.Now(), clk: clk}
	b.rate.Store(math.Float64bits(rps))
	b.burst.Store(uint64(burst) * tokenScale)
	b.state.Store(pack(uint32(burst)*tokenScale, 0))
	return b
}

// TryTake attempts to debit n tokens. On failure nothing is consumed.
func (b *Bucket) TryTake(n int) bool {
	if n <= 0 {
		return true
	}
	cost := uint64(n) * tokenScale
	rps := math.Float64frombits(b.rate.Load())
	burst := b.burst.Load()
	nowMs := uint32(b.clk.Since(b.origin) / time.Millisecond)

	for {
		old := b.state.Load()
		tokens, lastMs := unpack(old)

		elapsedMs := nowMs - lastMs // wrap-safe
		refill := uint64(float64(elapsedMs) * rps) // millitokens per ms == rps
		balance := uint64(tokens) + refill
		if balance > burst {
			balance = burst
		}

		if balance < cost {
			// Record the refill so a tight retry loop cannot double-count
			// elapsed time, then report failure.
			if b.state.CompareAndSwap(old, pack(uint32(balance), nowMs)) {
				return false
			}
			continue
		}
		if b.state.CompareAndSwap(old, pack(uint32(balance-cost), nowMs)) {
			return true
		}
	}
}

// SetRate re-parameterizes the bucket in place. The current balance is capped
// to the new burst; callers use this for config hot reload.
func (b *Bucket) SetRate(rps float64, burst int) {
	rps, burst = clampParams(rps, burst)
	b.rate.Store(math.Float64bits(rps))
	b.burst.Store(uint64(burst) * tokenScale)
	for {
		old := b.state.Load()
		tokens, lastMs := unpack(old)
		capped := tokens
		if uint64(capped) > uint64(burst)*tokenScale {
			capped = uint32(burst) * tokenScale
		}
		if b.state.CompareAndSwap(old, pack(capped, lastMs)) {
			return
		}
	}
}

func clampParams(rps float64, burst int) (float64, int) {
	if rps < 1 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	if burst > maxBurst {
		burst = maxBurst
	}
	return rps, burst
}

func pack(millitokens, lastMs uint32) uint64 {
	return uint64(millitokens)<<32 | uint64(lastMs)
}

func unpack(w uint64) (millitokens, lastMs uint32) {
	return uint32(w >> 32), uint32(w)
}
