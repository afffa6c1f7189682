package dispatcher

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/taskflow/pkg/common/errors"
	"github.com/vnykmshr/taskflow/pkg/metrics"
	"github.com/vnykmshr/taskflow/pkg/resilience/retry"
)

func TestInstrumentedPoolCounters(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())

	var flakyCalls int
	exec := ExecutorFunc[int, int](func(ctx context.Context, n int) (int, error) {
		if n < 0 {
			return 0, stderrors.New("negative input")
		}
		if n == 99 {
			flakyCalls++
			if flakyCalls < 3 {
				return 0, stderrors.New("transient")
			}
		}
		return n, nil
	})

	pool, err := NewInstrumented("workers", Config[int, int]{
		Executor:   exec,
		PoolSize:   1,
		QueueDepth: 4,
		Retry:      retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, reg)
	if err != nil {
		t.Fatalf("NewInstrumented() error = %v", err)
	}

	h, err := pool.Submit(1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.Await(context.Background())

	h2, _ := pool.Submit(-1)
	h2.Await(context.Background())

	h3, _ := pool.Submit(99)
	h3.Await(context.Background())

	<-pool.Shutdown(true)

	if got := testutil.ToFloat64(reg.TasksSubmitted.WithLabelValues("workers")); got != 3 {
		t.Errorf("tasks_submitted_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(reg.TasksCompleted.WithLabelValues("workers")); got != 2 {
		t.Errorf("tasks_completed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(reg.TasksFailed.WithLabelValues("workers", "error")); got != 1 {
		t.Errorf("tasks_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.RetriesAttempts.WithLabelValues("workers")); got < 1 {
		t.Errorf("retry attempts_total = %v, want at least 1", got)
	}
	if got := testutil.ToFloat64(reg.PoolSize.WithLabelValues("workers")); got != 1 {
		t.Errorf("pool_size = %v, want 1", got)
	}
}

func TestInstrumentedPoolRejections(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())

	release := make(chan struct{})
	exec := ExecutorFunc[int, int](func(ctx context.Context, n int) (int, error) {
		select {
		case <-release:
			return n, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	pool, err := NewInstrumented("workers", Config[int, int]{
		Executor:   exec,
		PoolSize:   1,
		QueueDepth: 1,
	}, reg)
	if err != nil {
		t.Fatalf("NewInstrumented() error = %v", err)
	}

	// Fill the slot and the queue, then overflow.
	h1, _ := pool.Submit(0)
	h2, _ := pool.Submit(1)
	if _, err := pool.Submit(2); !stderrors.Is(err, errors.ErrCapacityExceeded) {
		t.Fatalf("Submit() error = %v, want ErrCapacityExceeded", err)
	}

	close(release)
	h1.Await(context.Background())
	h2.Await(context.Background())
	<-pool.Shutdown(true)

	if got := testutil.ToFloat64(reg.TasksRejected.WithLabelValues("workers", "capacity")); got != 1 {
		t.Errorf("tasks_rejected_total{reason=capacity} = %v, want 1", got)
	}
}

func TestInstrumentedPoolSlotFault(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())

	exec := ExecutorFunc[int, int](func(ctx context.Context, n int) (int, error) {
		if n == 13 {
			panic("unlucky")
		}
		return n, nil
	})

	pool, err := NewInstrumented("workers", Config[int, int]{
		Executor:   exec,
		PoolSize:   1,
		QueueDepth: 4,
	}, reg)
	if err != nil {
		t.Fatalf("NewInstrumented() error = %v", err)
	}

	h, _ := pool.Submit(13)
	h.Await(context.Background())
	<-pool.Shutdown(true)

	if got := testutil.ToFloat64(reg.SlotFaults.WithLabelValues("workers")); got != 1 {
		t.Errorf("slot_faults_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.TasksFailed.WithLabelValues("workers", "crashed")); got != 1 {
		t.Errorf("tasks_failed_total{outcome=crashed} = %v, want 1", got)
	}
	// The slot was replaced, so the pool size gauge is unchanged.
	if got := testutil.ToFloat64(reg.PoolSize.WithLabelValues("workers")); got != 1 {
		t.Errorf("pool_size = %v, want 1", got)
	}
}
