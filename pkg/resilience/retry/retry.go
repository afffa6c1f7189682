// Package retry wraps an operation with attempt counting, exponential
// backoff, and a predicate deciding which errors are worth retrying.
//
// Each attempt moves the policy through a simple state machine:
// attempt n either succeeds, fails permanently (attempts exhausted or the
// error is not retryable), or schedules attempt n+1 after a backoff
// delay. The backoff sleep is a cancellable timer wait; cancelling the
// context during a sleep surfaces immediately instead of after the delay.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/vnykmshr/taskflow/pkg/common/backoff"
	"github.com/vnykmshr/taskflow/pkg/common/errors"
)

// Policy configures retry behavior for an operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values < 1 are treated as 1 (no retries).
	MaxAttempts int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth. Zero means no cap.
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor; <= 1 uses the default.
	Multiplier float64

	// Jitter randomizes each delay to avoid synchronized retry bursts
	// when many tasks fail against the same resource. Off by default.
	Jitter bool

	// IsRetryable decides whether an error is worth retrying. Nil uses
	// errors.IsRetryable, which refuses cancellation, timeout, shutdown,
	// and circuit-open errors.
	IsRetryable func(error) bool
}

// DefaultPolicy returns a policy with modest retrying: three attempts,
// 100ms base delay doubling up to 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
	}
}

// State is the in-flight bookkeeping for one retried operation. It exists
// only while the operation runs and is discarded on a terminal outcome.
type State struct {
	// Attempt is the zero-based attempt counter.
	Attempt int

	// LastErr is the error from the most recent failed attempt.
	LastErr error

	// NextEligible is when the next attempt may start.
	NextEligible time.Time
}

// Do runs fn until it succeeds, the policy gives up, or the context is
// done. It returns nil on success; otherwise the last attempt's error.
// Context cancellation during a backoff sleep is returned as the context
// error so callers can distinguish timeout from a permanent failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	isRetryable := p.IsRetryable
	if isRetryable == nil {
		isRetryable = errors.IsRetryable
	}
	curve := backoff.Policy{
		Base:       p.BaseDelay,
		Cap:        p.MaxDelay,
		Multiplier: p.Multiplier,
		Jitter:     p.Jitter,
	}

	state := State{}
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		state.LastErr = err

		if state.Attempt+1 >= maxAttempts || !isRetryable(err) {
			return zero, err
		}

		delay := curve.Delay(state.Attempt)
		state.NextEligible = time.Now().Add(delay)
		state.Attempt++

		if err := sleep(ctx, delay); err != nil {
			// The sleep was cut short; report why alongside the failure
			// that caused the retry.
			return zero, fmt.Errorf("retry interrupted after %d attempt(s): %w", state.Attempt, err)
		}
	}
}

// sleep waits for d unless the context is done first. No lock is held
// while suspended.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
