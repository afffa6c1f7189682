package errors

import (
	"context"
	"errors"
	"fmt"
)

// Common error types used across the taskflow library. Together they form
// a closed outcome taxonomy: every terminal task outcome and every
// submission-time rejection a caller can observe matches exactly one of
// these via errors.Is.

var (
	// ErrCapacityExceeded indicates the task queue was full at submission.
	// Recoverable: the caller may back off and resubmit.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrPoolShutdown indicates a task was rejected or abandoned because
	// pool shutdown was requested.
	ErrPoolShutdown = errors.New("pool is shut down")

	// ErrCircuitOpen indicates the circuit breaker for the executor class
	// is open and the call was short-circuited without executing.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrCancelled indicates the task was cancelled by the caller.
	ErrCancelled = errors.New("task cancelled")

	// ErrTimedOut indicates a deadline elapsed before the task completed.
	ErrTimedOut = errors.New("task timed out")

	// ErrWorkerCrashed indicates the execution context died mid-task.
	// Terminal for that task; the pool self-heals by replacing the slot.
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrRateLimited indicates submission was denied by admission control.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidConfiguration indicates invalid configuration parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// TaskError wraps an executor failure that survived the retry policy.
// The inner error is the last attempt's error.
type TaskError struct {
	TaskID   string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.TaskID, e.Attempts, e.Err)
}

// Unwrap returns the underlying executor error.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether an error indicates a condition that might
// be resolved by retrying the operation. Cancellation, timeouts,
// shutdown, open circuits, and worker crashes are never retryable; any
// other executor error is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrCancelled) &&
		!errors.Is(err, ErrTimedOut) &&
		!errors.Is(err, ErrPoolShutdown) &&
		!errors.Is(err, ErrCircuitOpen) &&
		!errors.Is(err, ErrWorkerCrashed) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// IsTerminal reports whether an error is a terminal task outcome rather
// than a submission-time rejection.
func IsTerminal(err error) bool {
	var te *TaskError
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrTimedOut) ||
		errors.Is(err, ErrWorkerCrashed) ||
		errors.As(err, &te)
}
