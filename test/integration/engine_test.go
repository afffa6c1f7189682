// Package integration contains integration tests that verify
// cross-package functionality: the dispatcher working with admission
// control, circuit breakers, retry policies, and the cron scheduler.
package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vnykmshr/taskflow/internal/testutil"
	"github.com/vnykmshr/taskflow/pkg/admission"
	"github.com/vnykmshr/taskflow/pkg/common/cancellation"
	taskerrors "github.com/vnykmshr/taskflow/pkg/common/errors"
	"github.com/vnykmshr/taskflow/pkg/resilience/breaker"
	"github.com/vnykmshr/taskflow/pkg/resilience/retry"
	"github.com/vnykmshr/taskflow/pkg/scheduling/cron"
	"github.com/vnykmshr/taskflow/pkg/scheduling/dispatcher"
)

// TestDispatcherWithAdmissionControl verifies that a token bucket in
// front of the pool bounds the submission rate while accepted tasks
// still execute normally.
func TestDispatcherWithAdmissionControl(t *testing.T) {
	pool, err := dispatcher.NewWithConfig(dispatcher.Config[int, int]{
		Executor: dispatcher.ExecutorFunc[int, int](
			func(ctx context.Context, n int) (int, error) { return n, nil }),
		PoolSize:   2,
		QueueDepth: 32,
		Admission:  admission.NewBucket("integration", 50, 5),
	})
	testutil.AssertNoError(t, err)

	admitted, denied := 0, 0
	var handles []*dispatcher.Handle[int]
	for i := 0; i < 10; i++ {
		h, err := pool.Submit(i)
		if err != nil {
			testutil.AssertErrorIs(t, err, taskerrors.ErrRateLimited)
			denied++
			continue
		}
		admitted++
		handles = append(handles, h)
	}

	// Burst of 5, so roughly half the rapid-fire submissions get in.
	if admitted < 5 {
		t.Errorf("admitted = %d, want at least the burst of 5", admitted)
	}
	if denied == 0 {
		t.Error("denied = 0, want some submissions rate limited")
	}

	for _, h := range handles {
		res, err := h.Await(context.Background())
		testutil.AssertNoError(t, err)
		testutil.AssertNoError(t, res.Err)
	}
	<-pool.Shutdown(true)
}

// TestBreakerRecoveryUnderLoad drives a pool against a downstream that
// fails, trips the breaker, recovers, and verifies the breaker closes
// again and traffic flows.
func TestBreakerRecoveryUnderLoad(t *testing.T) {
	var healthy atomic.Bool

	exec := dispatcher.ExecutorFunc[int, int](
		func(ctx context.Context, n int) (int, error) {
			if !healthy.Load() {
				return 0, errors.New("downstream unavailable")
			}
			return n, nil
		})

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     50 * time.Millisecond,
	})
	pool, err := dispatcher.NewWithConfig(dispatcher.Config[int, int]{
		Executor:   exec,
		PoolSize:   1,
		QueueDepth: 8,
		Breakers:   breakers,
	})
	testutil.AssertNoError(t, err)
	defer func() { <-pool.Shutdown(true) }()

	// Trip the breaker.
	for i := 0; i < 3; i++ {
		h, err := pool.Submit(i)
		testutil.AssertNoError(t, err)
		h.Await(context.Background())
	}
	testutil.AssertEqual(t, breakers.Get("").State(), breaker.Open)

	if _, err := pool.Submit(99); !errors.Is(err, taskerrors.ErrCircuitOpen) {
		t.Fatalf("Submit() with open breaker error = %v, want ErrCircuitOpen", err)
	}

	// Recover and wait out the reset timeout; the next task is the
	// half-open probe and closes the circuit.
	healthy.Store(true)
	time.Sleep(80 * time.Millisecond)

	h, err := pool.Submit(100)
	testutil.AssertNoError(t, err)
	res, err := h.Await(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, res.Err)
	testutil.AssertEqual(t, res.Value, 100)
	testutil.AssertEqual(t, breakers.Get("").State(), breaker.Closed)
}

// TestCronFeedsDispatcherWithRetries runs the full path: the scheduler
// fires entries into a pool whose executor needs retries to succeed.
func TestCronFeedsDispatcherWithRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}

	exec := dispatcher.ExecutorFunc[string, string](
		func(ctx context.Context, job string) (string, error) {
			mu.Lock()
			attempts[job]++
			n := attempts[job]
			mu.Unlock()
			if n < 2 {
				return "", errors.New("transient")
			}
			return job, nil
		})

	pool, err := dispatcher.NewWithConfig(dispatcher.Config[string, string]{
		Executor:   exec,
		PoolSize:   2,
		QueueDepth: 16,
		Retry:      retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
	testutil.AssertNoError(t, err)

	scheduler := cron.NewWithConfig[string, string](pool, cron.Config{
		TickInterval: 5 * time.Millisecond,
	})
	testutil.AssertNoError(t, scheduler.Start())

	testutil.AssertNoError(t, scheduler.ScheduleAfter("job-a", "job-a", 10*time.Millisecond))
	testutil.AssertNoError(t, scheduler.ScheduleAfter("job-b", "job-b", 15*time.Millisecond))

	testutil.Eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts["job-a"] >= 2 && attempts["job-b"] >= 2
	})

	<-scheduler.Stop()
	<-pool.Shutdown(true)
}

// TestGroupCancellationAcrossQueueAndSlots cancels a shared token while
// some of its tasks are queued and one is in flight.
func TestGroupCancellationAcrossQueueAndSlots(t *testing.T) {
	started := make(chan struct{})
	exec := dispatcher.ExecutorFunc[int, int](
		func(ctx context.Context, n int) (int, error) {
			if n == 0 {
				close(started)
			}
			<-ctx.Done()
			return 0, ctx.Err()
		})

	pool, err := dispatcher.New(exec, 1, 8)
	testutil.AssertNoError(t, err)

	token := cancellation.New()
	var handles []*dispatcher.Handle[int]
	for i := 0; i < 4; i++ {
		h, err := pool.Submit(i, dispatcher.WithToken(token))
		testutil.AssertNoError(t, err)
		handles = append(handles, h)
	}

	<-started
	token.Cancel(nil)

	for i, h := range handles {
		res, err := h.Await(context.Background())
		testutil.AssertNoError(t, err)
		if !errors.Is(res.Err, taskerrors.ErrCancelled) {
			t.Errorf("task %d: Err = %v, want ErrCancelled", i, res.Err)
		}
	}
	<-pool.Shutdown(true)
}
