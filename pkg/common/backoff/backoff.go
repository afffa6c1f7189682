// Package backoff computes exponential backoff delays for retry loops.
//
// The calculation is pure: the same (attempt, policy) pair always yields
// the same delay unless jitter is enabled. Delays grow as
// base * multiplier^attempt, capped at the configured maximum.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// DefaultMultiplier is the growth factor used when none is configured.
const DefaultMultiplier = 2.0

// Policy describes an exponential backoff curve.
type Policy struct {
	// Base is the delay before the first retry (attempt 0).
	Base time.Duration

	// Cap is the maximum delay. Zero means no cap.
	Cap time.Duration

	// Multiplier is the growth factor between attempts.
	// Values <= 1 fall back to DefaultMultiplier.
	Multiplier float64

	// Jitter, when true, replaces each delay with a uniformly random
	// duration in [0, delay). Off by default; enable it when many callers
	// retry against the same resource to avoid synchronized retry bursts.
	Jitter bool
}

// Delay returns the backoff delay for the given zero-based attempt number.
// Negative attempts are treated as attempt 0.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = DefaultMultiplier
	}

	d := float64(p.Base) * math.Pow(multiplier, float64(attempt))
	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	// Guard against overflow for large attempt counts.
	if d > float64(math.MaxInt64) {
		d = float64(math.MaxInt64)
	}

	delay := time.Duration(d)
	if p.Jitter && delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay)))
	}
	return delay
}

// Delay is a convenience for computing a single delay without
// constructing a Policy.
func Delay(attempt int, base, cap time.Duration, multiplier float64) time.Duration {
	return Policy{Base: base, Cap: cap, Multiplier: multiplier}.Delay(attempt)
}
