// Package ratelimit provides the token bucket used to cap per-connection
// inbound signaling message rates.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer rate (tokens/sec) against an injected
// Clock. Refill is computed in whole tokens; sub-token remainders of elapsed
// time are carried forward so slow drips are not lost to rounding.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	rate     int64 // tokens/sec

	tokens     int64
	carryNanos int64
	last       time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:    clock,
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
		last:     clock.Now(),
	}
}

// Allow consumes n tokens if available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

func (b *TokenBucket) refill() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		b.carryNanos = 0
		return
	}

	elapsed := now.Sub(b.last).Nanoseconds() + b.carryNanos
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 || elapsed <= 0 {
		b.carryNanos = 0
		return
	}

	// Enough elapsed time to fill the bucket from empty? Clamp before
	// multiplying so huge gaps cannot overflow.
	if elapsed/int64(time.Second) > b.capacity/b.rate {
		b.tokens = b.capacity
		b.carryNanos = 0
		return
	}

	added := elapsed * b.rate / int64(time.Second)
	b.carryNanos = elapsed - added*int64(time.Second)/b.rate
	b.tokens += added
	if b.tokens >= b.capacity {
		b.tokens = b.capacity
		b.carryNanos = 0
	}
}
