package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", ErrCancelled, false},
		{"timed out", ErrTimedOut, false},
		{"pool shutdown", ErrPoolShutdown, false},
		{"circuit open", ErrCircuitOpen, false},
		{"worker crashed", ErrWorkerCrashed, false},
		{"wrapped cancelled", fmt.Errorf("submit: %w", ErrCancelled), false},
		{"wrapped timeout", fmt.Errorf("attempt 2: %w", ErrTimedOut), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"capacity exceeded", ErrCapacityExceeded, true},
		{"rate limited", ErrRateLimited, true},
		{"generic executor error", stderrors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	taskErr := &TaskError{TaskID: "t1", Attempts: 3, Err: stderrors.New("boom")}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"cancelled", ErrCancelled, true},
		{"timed out", ErrTimedOut, true},
		{"worker crashed", ErrWorkerCrashed, true},
		{"task error", taskErr, true},
		{"wrapped task error", fmt.Errorf("result: %w", taskErr), true},
		{"capacity exceeded", ErrCapacityExceeded, false},
		{"pool shutdown", ErrPoolShutdown, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminal(tt.err); got != tt.want {
				t.Errorf("IsTerminal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTaskError(t *testing.T) {
	inner := stderrors.New("dial tcp: connection refused")
	te := &TaskError{TaskID: "abc-123", Attempts: 3, Err: inner}

	if !stderrors.Is(te, inner) {
		t.Error("TaskError should unwrap to the inner error")
	}

	var got *TaskError
	if !stderrors.As(fmt.Errorf("outer: %w", te), &got) {
		t.Error("errors.As should find TaskError through wrapping")
	}
	if got.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", got.Attempts)
	}

	msg := te.Error()
	for _, want := range []string{"abc-123", "3 attempt", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrCapacityExceeded, ErrPoolShutdown, ErrCircuitOpen, ErrCancelled,
		ErrTimedOut, ErrWorkerCrashed, ErrRateLimited, ErrInvalidConfiguration,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && stderrors.Is(a, b) {
				t.Errorf("sentinel %v unexpectedly matches %v", a, b)
			}
		}
	}
}
