package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/taskflow/pkg/common/cancellation"
	"github.com/vnykmshr/taskflow/pkg/common/errors"
	"github.com/vnykmshr/taskflow/pkg/resilience/retry"
)

// Executor performs a task's side effect. It is supplied by the caller
// and may be synchronous or asynchronous internally; the engine only
// requires that it eventually terminates or honors context
// cancellation, and that a panic inside it is survivable.
type Executor[P, R any] interface {
	Execute(ctx context.Context, payload P) (R, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc[P, R any] func(ctx context.Context, payload P) (R, error)

// Execute implements Executor.
func (f ExecutorFunc[P, R]) Execute(ctx context.Context, payload P) (R, error) {
	return f(ctx, payload)
}

// Result is the terminal outcome of one task. It is created exactly once
// per task and delivered through the task's Handle.
type Result[R any] struct {
	// TaskID identifies the task this result belongs to.
	TaskID uuid.UUID

	// Value is the executor's return value when Err is nil.
	Value R

	// Err classifies the failure: a *errors.TaskError for exhausted
	// retries, or one of the sentinel outcomes (ErrCancelled,
	// ErrTimedOut, ErrWorkerCrashed, ErrPoolShutdown, ErrCircuitOpen).
	Err error

	// Attempts is how many executor attempts were made.
	Attempts int

	// Duration is wall time from assignment to outcome, including
	// retry backoff.
	Duration time.Duration

	// SlotID identifies the worker slot that ran the task, or -1 if the
	// task never reached a slot.
	SlotID int
}

// Handle is the caller-visible future for one submitted task.
type Handle[R any] struct {
	taskID uuid.UUID
	token  *cancellation.Token

	once   sync.Once
	done   chan struct{}
	result Result[R]
}

func newHandle[R any](taskID uuid.UUID, token *cancellation.Token) *Handle[R] {
	return &Handle[R]{
		taskID: taskID,
		token:  token,
		done:   make(chan struct{}),
	}
}

// TaskID returns the identity assigned to the task at submission.
func (h *Handle[R]) TaskID() uuid.UUID { return h.taskID }

// Done returns a channel closed when the task reaches a terminal
// outcome.
func (h *Handle[R]) Done() <-chan struct{} { return h.done }

// IsDone reports whether the task has reached a terminal outcome.
func (h *Handle[R]) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Await blocks until the task completes or ctx is done. The returned
// error is ctx's error when the wait itself was interrupted; the task's
// own outcome is in Result.Err.
func (h *Handle[R]) Await(ctx context.Context) (Result[R], error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result[R]{}, ctx.Err()
	}
}

// Cancel cancels the task. A queued task resolves Cancelled without
// executing; an in-flight task has its context cancelled, and its
// eventual executor result is discarded. Cancelling twice, or after
// completion, is a no-op.
func (h *Handle[R]) Cancel(reason error) {
	if reason == nil {
		reason = errors.ErrCancelled
	}
	h.token.Cancel(reason)
	h.resolve(Result[R]{TaskID: h.taskID, Err: reason, SlotID: -1})
}

// resolve delivers the terminal outcome exactly once. Later calls are
// no-ops, which is what discards the executor result of a cancelled or
// shut-down task.
func (h *Handle[R]) resolve(r Result[R]) bool {
	delivered := false
	h.once.Do(func() {
		h.result = r
		close(h.done)
		delivered = true
	})
	return delivered
}

// task is the engine's internal view of one submission. It is immutable
// after Submit accepts it; ownership of execution transfers to a worker
// slot at assignment.
type task[P, R any] struct {
	id          uuid.UUID
	payload     P
	submittedAt time.Time
	token       *cancellation.Token
	opts        submitOptions
	handle      *Handle[R]
}

// submitOptions carries per-task overrides.
type submitOptions struct {
	timeout  time.Duration
	retry    *retry.Policy
	token    *cancellation.Token
	class    string
	priority int
}

// SubmitOption customizes one submission.
type SubmitOption func(*submitOptions)

// WithTimeout bounds the task's total execution time, including
// retries. Zero means no timeout beyond the pool default.
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.timeout = d }
}

// WithRetry overrides the pool's retry policy for this task.
func WithRetry(p retry.Policy) SubmitOption {
	return func(o *submitOptions) { o.retry = &p }
}

// WithToken attaches a caller-owned cancellation token. The same token
// may be shared by several tasks to cancel them as a group.
func WithToken(t *cancellation.Token) SubmitOption {
	return func(o *submitOptions) { o.token = t }
}

// WithClass names the executor class for circuit breaking. Tasks in the
// same class share a breaker; the empty class shares the default one.
func WithClass(class string) SubmitOption {
	return func(o *submitOptions) { o.class = class }
}

// WithPriority records a priority hint. Dispatch is strictly FIFO; the
// hint is carried for callers layering their own ordering on top.
func WithPriority(p int) SubmitOption {
	return func(o *submitOptions) { o.priority = p }
}
