package admission

import (
	"context"
	"sync"
	"time"
)

// Bucket is a local token-bucket limiter: tokens accrue at a fixed rate
// up to a burst ceiling, and each admitted submission consumes one.
type Bucket struct {
	name  string
	rate  float64 // tokens added per second
	burst float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewBucket creates a local token-bucket limiter admitting rate
// submissions per second with the given burst capacity. Panics if rate
// or burst is not positive.
func NewBucket(name string, rate float64, burst int) *Bucket {
	if rate <= 0 {
		panic("admission: rate must be positive")
	}
	if burst <= 0 {
		panic("admission: burst must be positive")
	}
	return &Bucket{
		name:       name,
		rate:       rate,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Allow implements Limiter. It never blocks.
func (b *Bucket) Allow(_ context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the number of tokens currently available.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	return b.tokens
}

// Name implements Limiter.
func (b *Bucket) Name() string { return b.name }

// Close implements Limiter. Local buckets hold no resources.
func (b *Bucket) Close() error { return nil }

// refillLocked accrues tokens for the elapsed time. Must be called with
// b.mu held.
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now
}
