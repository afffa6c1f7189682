package dispatcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/taskflow/pkg/common/errors"
	"github.com/vnykmshr/taskflow/pkg/resilience/breaker"
	"github.com/vnykmshr/taskflow/pkg/resilience/retry"
	"github.com/vnykmshr/taskflow/pkg/streaming/ring"
)

// slotState tracks a worker slot's position in its lifecycle.
type slotState int32

const (
	slotIdle slotState = iota
	slotBusy
	slotDraining
	slotFaulted
)

// slot owns one execution context. It receives at most one task at a
// time over its inbox ring, runs it through the retry/breaker stack,
// resolves the task's handle, and reports completion to the
// coordinator over the pool's completion ring.
type slot[P, R any] struct {
	id   int
	pool *Pool[P, R]

	state atomic.Int32

	// inbox carries assignments from the dispatcher. It never holds
	// more than one task: the Idle/Busy state machine guarantees a new
	// assignment only after the previous completion was consumed.
	inbox *ring.SPSC[*task[P, R]]

	// ctx spans the slot's lifetime; cancelling it stops the run loop.
	ctx    context.Context
	cancel context.CancelFunc

	// abortMu guards the in-flight task's handle and cancel func so an
	// immediate shutdown can reject and interrupt it.
	abortMu  sync.Mutex
	inflight *task[P, R]
	abort    context.CancelFunc
}

func (s *slot[P, R]) setState(st slotState) { s.state.Store(int32(st)) }
func (s *slot[P, R]) getState() slotState   { return slotState(s.state.Load()) }

// run is the slot's main loop.
func (s *slot[P, R]) run() {
	defer s.pool.slotWg.Done()

	if s.pool.config.OnSlotStart != nil {
		s.pool.config.OnSlotStart(s.id)
	}
	if s.pool.config.OnSlotStop != nil {
		defer s.pool.config.OnSlotStop(s.id)
	}

	for {
		t, err := s.inbox.PopContext(s.ctx)
		if err != nil {
			// Slot stopped; drain without taking further work.
			s.setState(slotDraining)
			return
		}

		res, faulted := s.runTask(t)
		if t.handle.resolve(res) {
			s.pool.notifyComplete(res)
		}

		if faulted {
			s.setState(slotFaulted)
		}
		s.reportCompletion(completion[P, R]{slot: s, faulted: faulted})
		if faulted {
			return
		}
	}
}

// reportCompletion pushes the completion event to the coordinator,
// waiting out transient fullness. It gives up only when the pool's
// coordinator is gone.
func (s *slot[P, R]) reportCompletion(c completion[P, R]) {
	for !s.pool.completions.WaitPush(c, time.Second) {
		select {
		case <-s.pool.coordCtx.Done():
			return
		default:
		}
	}
}

// runTask executes one task through the retry and breaker stack and
// maps the outcome into the error taxonomy. The second return reports
// whether the executor panicked and the slot must be retired.
func (s *slot[P, R]) runTask(t *task[P, R]) (Result[R], bool) {
	start := time.Now()

	// Compose the attempt context: slot lifetime, then the task's
	// cancellation token, then the per-task timeout.
	ctx, cancel := t.token.Context(context.Background())
	if t.opts.timeout > 0 {
		ctx, cancel = wrapTimeout(ctx, cancel, t.opts.timeout)
	}
	defer cancel()

	s.setInflight(t, cancel)
	defer s.clearInflight()

	policy := s.pool.config.Retry
	if t.opts.retry != nil {
		policy = *t.opts.retry
	}

	var brk *breaker.Breaker
	if s.pool.config.Breakers != nil {
		brk = s.pool.config.Breakers.Get(t.opts.class)
	}

	attempts := 0
	var panicked bool
	value, err := retry.DoValue(ctx, policy, func(ctx context.Context) (R, error) {
		var zero R
		attempts++
		if attempts > 1 && s.pool.config.OnRetry != nil {
			s.pool.config.OnRetry(t.id, attempts)
		}

		if brk != nil {
			if aerr := brk.Allow(); aerr != nil {
				return zero, aerr
			}
		}

		v, xerr, recovered := s.executeAttempt(ctx, t.payload)
		if recovered != nil {
			panicked = true
			if brk != nil {
				brk.Failure()
			}
			if s.pool.config.PanicHandler != nil {
				s.pool.config.PanicHandler(t.id, recovered)
			}
			return zero, fmt.Errorf("%w: panic: %v\n%s", errors.ErrWorkerCrashed, recovered, debug.Stack())
		}

		if brk != nil {
			if xerr != nil {
				brk.Failure()
			} else {
				brk.Success()
			}
		}
		return v, xerr
	})

	res := Result[R]{
		TaskID:   t.id,
		Attempts: attempts,
		Duration: time.Since(start),
		SlotID:   s.id,
	}
	if err == nil {
		res.Value = value
		return res, false
	}

	res.Err = s.classify(t, err, attempts)
	return res, panicked
}

// executeAttempt makes a single executor call, converting a panic into
// a recovered value so a crashing executor cannot corrupt pool state.
func (s *slot[P, R]) executeAttempt(ctx context.Context, payload P) (v R, err error, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	v, err = s.pool.config.Executor.Execute(ctx, payload)
	return
}

// classify maps a raw failure onto the closed outcome taxonomy.
func (s *slot[P, R]) classify(t *task[P, R], err error, attempts int) error {
	switch {
	case stderrors.Is(err, errors.ErrWorkerCrashed):
		return errors.ErrWorkerCrashed
	case stderrors.Is(err, errors.ErrCircuitOpen):
		return errors.ErrCircuitOpen
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, errors.ErrTimedOut):
		return errors.ErrTimedOut
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, errors.ErrCancelled):
		// Prefer the token's recorded reason; a deadline-driven token
		// cancels the context with Canceled but means TimedOut.
		if reason := t.token.Err(); reason != nil {
			return reason
		}
		return errors.ErrCancelled
	default:
		return &errors.TaskError{TaskID: t.id.String(), Attempts: attempts, Err: err}
	}
}

func (s *slot[P, R]) setInflight(t *task[P, R], cancel context.CancelFunc) {
	s.abortMu.Lock()
	s.inflight = t
	s.abort = cancel
	s.abortMu.Unlock()
}

func (s *slot[P, R]) clearInflight() {
	s.abortMu.Lock()
	s.inflight = nil
	s.abort = nil
	s.abortMu.Unlock()
}

// abortInflight rejects the in-flight task with ErrPoolShutdown and
// cancels its context. Used by immediate shutdown; a cooperative
// executor returns promptly, a non-cooperative one finishes on its own
// but its result is discarded.
func (s *slot[P, R]) abortInflight() {
	s.abortMu.Lock()
	t := s.inflight
	abort := s.abort
	s.abortMu.Unlock()

	if t != nil {
		t.handle.resolve(Result[R]{TaskID: t.id, Err: errors.ErrPoolShutdown, SlotID: s.id})
	}
	if abort != nil {
		abort()
	}
}

// wrapTimeout layers a timeout onto ctx, combining the cancel funcs.
func wrapTimeout(ctx context.Context, cancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		cancel()
	}
}
