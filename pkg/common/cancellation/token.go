// Package cancellation provides a shared, observable cancellation token
// with an optional deadline.
//
// A Token starts live and transitions exactly once to cancelled, either by
// an explicit Cancel call or by its deadline elapsing. The transition is
// one-way and idempotent. Long-running steps observe cancellation through
// Done() at their next suspension point; work already running in an
// executor that ignores the token is not preempted, only its result is
// discarded by the caller.
package cancellation

import (
	"context"
	"sync"
	"time"

	"github.com/vnykmshr/taskflow/pkg/common/errors"
)

// Token is a shared cancellation flag. The zero value is not usable;
// construct tokens with New, WithDeadline, or WithTimeout.
type Token struct {
	mu     sync.Mutex
	done   chan struct{}
	reason error
	timer  *time.Timer
}

// New returns a live token with no deadline.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// WithDeadline returns a live token that cancels itself with
// errors.ErrTimedOut when the deadline elapses.
func WithDeadline(deadline time.Time) *Token {
	t := New()
	d := time.Until(deadline)
	if d <= 0 {
		t.Cancel(errors.ErrTimedOut)
		return t
	}
	t.timer = time.AfterFunc(d, func() {
		t.Cancel(errors.ErrTimedOut)
	})
	return t
}

// WithTimeout returns a live token that cancels itself with
// errors.ErrTimedOut after the given duration.
func WithTimeout(timeout time.Duration) *Token {
	return WithDeadline(time.Now().Add(timeout))
}

// Cancel transitions the token to cancelled with the given reason.
// A nil reason defaults to errors.ErrCancelled. Cancelling an already
// cancelled token is a no-op; the first reason wins.
func (t *Token) Cancel(reason error) {
	if reason == nil {
		reason = errors.ErrCancelled
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return
	default:
	}

	t.reason = reason
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.done)
}

// Done returns a channel that is closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err returns nil while the token is live, and the cancellation reason
// after it is cancelled.
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return t.reason
	default:
		return nil
	}
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	return t.Err() != nil
}

// Context derives a context from parent that is cancelled when either the
// parent or the token is cancelled. The returned CancelFunc releases the
// watcher goroutine and must be called when the context is no longer
// needed.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
