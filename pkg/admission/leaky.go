package admission

import (
	"context"
	"sync"
	"time"
)

// Leaky is a leaky-bucket admission gate. Where Bucket allows bursts up
// to its token capacity, Leaky smooths admissions: each one adds to the
// bucket's level, the level drains at a fixed rate, and a submission
// that would overflow the capacity is denied. Capacity bounds how far
// admissions may run ahead of the drain rate.
type Leaky struct {
	name     string
	rate     float64 // drain rate per second
	capacity float64

	mu       sync.Mutex
	level    float64
	lastLeak time.Time
}

// NewLeaky creates a leaky-bucket limiter draining rate admissions per
// second with the given capacity. Panics if either is not positive.
func NewLeaky(name string, rate float64, capacity int) *Leaky {
	if rate <= 0 {
		panic("admission: leak rate must be positive")
	}
	if capacity <= 0 {
		panic("admission: capacity must be positive")
	}
	return &Leaky{
		name:     name,
		rate:     rate,
		capacity: float64(capacity),
		lastLeak: time.Now(),
	}
}

// Allow reports whether one submission may proceed now. It never
// blocks.
func (l *Leaky) Allow(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.leakLocked(time.Now())
	if l.level+1 > l.capacity {
		return false
	}
	l.level++
	return true
}

// Level returns the current bucket level.
func (l *Leaky) Level() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.leakLocked(time.Now())
	return l.level
}

func (l *Leaky) leakLocked(now time.Time) {
	elapsed := now.Sub(l.lastLeak).Seconds()
	l.lastLeak = now
	l.level -= elapsed * l.rate
	if l.level < 0 {
		l.level = 0
	}
}

// Name identifies the limiter in rejection messages and metrics.
func (l *Leaky) Name() string { return l.name }

// Close implements Limiter. The leaky bucket holds no resources.
func (l *Leaky) Close() error { return nil }
