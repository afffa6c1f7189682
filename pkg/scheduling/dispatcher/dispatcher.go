package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vnykmshr/taskflow/pkg/admission"
	"github.com/vnykmshr/taskflow/pkg/common/cancellation"
	"github.com/vnykmshr/taskflow/pkg/common/errors"
	"github.com/vnykmshr/taskflow/pkg/resilience/breaker"
	"github.com/vnykmshr/taskflow/pkg/resilience/retry"
	"github.com/vnykmshr/taskflow/pkg/streaming/ring"
)

type poolState int

const (
	poolRunning poolState = iota
	poolDraining
	poolStopped
)

// Config holds the settings for a dispatcher pool.
type Config[P, R any] struct {
	// Executor runs the tasks. Required.
	Executor Executor[P, R]

	// PoolSize is the number of worker slots, and therefore the maximum
	// number of concurrently executing tasks. Required, positive.
	PoolSize int

	// QueueDepth bounds the number of tasks waiting for a slot. A
	// submission that finds the queue full is rejected with
	// ErrCapacityExceeded. Required, positive.
	QueueDepth int

	// Retry is the default retry policy applied to every task. Override
	// per task with WithRetry. The zero value means a single attempt.
	Retry retry.Policy

	// Breakers supplies per-class circuit breakers. Nil disables
	// circuit breaking.
	Breakers *breaker.Registry

	// Admission gates submissions before they reach the queue. Nil
	// disables admission control.
	Admission admission.Limiter

	// DisableReplenish keeps the pool from replacing a slot retired by
	// an executor panic. By default a fresh slot is spawned so the pool
	// stays at PoolSize.
	DisableReplenish bool

	// Lifecycle hooks. All are optional and must not block.
	OnTaskComplete func(Result[R])
	OnRetry        func(taskID uuid.UUID, attempt int)
	OnSlotStart    func(slotID int)
	OnSlotStop     func(slotID int)
	OnSlotFault    func(slotID int, replaced bool)
	PanicHandler   func(taskID uuid.UUID, recovered any)
}

// completion is a slot's report to the coordinator that it finished a
// task and is ready for more work (or retired itself).
type completion[P, R any] struct {
	slot    *slot[P, R]
	faulted bool
}

// Pool dispatches tasks to a fixed set of worker slots. Submissions
// beyond the slot count queue FIFO up to QueueDepth; beyond that they
// are rejected. Every accepted task reaches exactly one terminal
// outcome through its Handle.
type Pool[P, R any] struct {
	config Config[P, R]

	mu         sync.Mutex
	state      poolState
	queue      []*task[P, R]
	slots      map[int]*slot[P, R]
	free       []*slot[P, R]
	active     int
	nextSlotID int

	// completions is the MPMC ring slots report through; the
	// coordinator goroutine is its single consumer.
	completions *ring.MPMC[completion[P, R]]
	coordCtx    context.Context
	coordCancel context.CancelFunc
	coordDone   chan struct{}

	slotWg       sync.WaitGroup
	done         chan struct{}
	shutdownOnce sync.Once

	totalSubmitted atomic.Uint64
	totalCompleted atomic.Uint64
	totalRejected  atomic.Uint64
}

func (p *Pool[P, R]) notifyComplete(r Result[R]) {
	if p.config.OnTaskComplete != nil {
		p.config.OnTaskComplete(r)
	}
}

// New creates a pool with the given executor, slot count, and queue
// depth, using defaults for everything else.
func New[P, R any](executor Executor[P, R], poolSize, queueDepth int) (*Pool[P, R], error) {
	return NewWithConfig(Config[P, R]{
		Executor:   executor,
		PoolSize:   poolSize,
		QueueDepth: queueDepth,
		Retry:      retry.Policy{MaxAttempts: 1},
	})
}

// NewWithConfig creates a pool from a full configuration. The pool is
// running on return; slots are started eagerly.
func NewWithConfig[P, R any](config Config[P, R]) (*Pool[P, R], error) {
	if config.Executor == nil {
		return nil, fmt.Errorf("%w: executor is required", errors.ErrInvalidConfiguration)
	}
	if config.PoolSize <= 0 {
		return nil, fmt.Errorf("%w: pool size must be positive, got %d", errors.ErrInvalidConfiguration, config.PoolSize)
	}
	if config.QueueDepth <= 0 {
		return nil, fmt.Errorf("%w: queue depth must be positive, got %d", errors.ErrInvalidConfiguration, config.QueueDepth)
	}

	coordCtx, coordCancel := context.WithCancel(context.Background())
	p := &Pool[P, R]{
		config:      config,
		queue:       make([]*task[P, R], 0, config.QueueDepth),
		slots:       make(map[int]*slot[P, R], config.PoolSize),
		free:        make([]*slot[P, R], 0, config.PoolSize),
		completions: ring.NewMPMC[completion[P, R]](2 * config.PoolSize),
		coordCtx:    coordCtx,
		coordCancel: coordCancel,
		coordDone:   make(chan struct{}),
		done:        make(chan struct{}),
	}

	for i := 0; i < config.PoolSize; i++ {
		s := p.spawnSlotLocked()
		p.free = append(p.free, s)
	}

	go p.coordinate()
	return p, nil
}

// spawnSlotLocked creates and starts one worker slot. Callers hold
// p.mu (or are inside NewWithConfig before the pool is visible).
func (p *Pool[P, R]) spawnSlotLocked() *slot[P, R] {
	id := p.nextSlotID
	p.nextSlotID++

	ctx, cancel := context.WithCancel(context.Background())
	s := &slot[P, R]{
		id:     id,
		pool:   p,
		inbox:  ring.NewSPSC[*task[P, R]](2),
		ctx:    ctx,
		cancel: cancel,
	}
	s.setState(slotIdle)
	p.slots[id] = s

	p.slotWg.Add(1)
	go s.run()
	return s
}

// Submit enqueues a task for execution. It returns a Handle on
// acceptance, or an error when the submission is rejected: ErrRateLimited
// (admission control), ErrCircuitOpen (breaker fast-fail for the
// task's class), ErrCapacityExceeded (queue full), or ErrPoolShutdown.
func (p *Pool[P, R]) Submit(payload P, opts ...SubmitOption) (*Handle[R], error) {
	return p.SubmitWithContext(context.Background(), payload, opts...)
}

// SubmitWithContext is Submit with a context consulted by admission
// control; a pre-cancelled context rejects the submission up front.
func (p *Pool[P, R]) SubmitWithContext(ctx context.Context, payload P, opts ...SubmitOption) (*Handle[R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if p.config.Admission != nil && !p.config.Admission.Allow(ctx) {
		p.totalRejected.Add(1)
		return nil, fmt.Errorf("%w: denied by %s", errors.ErrRateLimited, p.config.Admission.Name())
	}

	// Fast-fail while the class breaker is open: queueing a task that
	// would only be short-circuited wastes queue capacity.
	if p.config.Breakers != nil {
		if b := p.config.Breakers.Get(o.class); b.State() == breaker.Open {
			p.totalRejected.Add(1)
			return nil, errors.ErrCircuitOpen
		}
	}

	token := o.token
	if token == nil {
		token = cancellation.New()
	}
	if token.Cancelled() {
		return nil, token.Err()
	}

	id := uuid.New()
	t := &task[P, R]{
		id:          id,
		payload:     payload,
		submittedAt: time.Now(),
		token:       token,
		opts:        o,
		handle:      newHandle[R](id, token),
	}

	p.mu.Lock()
	if p.state != poolRunning {
		p.mu.Unlock()
		p.totalRejected.Add(1)
		return nil, errors.ErrPoolShutdown
	}

	if len(p.free) > 0 {
		s := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.assignLocked(s, t)
		p.mu.Unlock()
		p.totalSubmitted.Add(1)
		return t.handle, nil
	}

	if len(p.queue) >= p.config.QueueDepth {
		p.mu.Unlock()
		p.totalRejected.Add(1)
		return nil, fmt.Errorf("%w: queue depth %d reached", errors.ErrCapacityExceeded, p.config.QueueDepth)
	}
	p.queue = append(p.queue, t)
	p.mu.Unlock()

	p.totalSubmitted.Add(1)
	return t.handle, nil
}

// assignLocked hands a task to an idle slot. The inbox holds at most
// one task, so the push cannot fail.
func (p *Pool[P, R]) assignLocked(s *slot[P, R], t *task[P, R]) {
	s.setState(slotBusy)
	p.active++
	if !s.inbox.Push(t) {
		// Unreachable by construction; resolve rather than lose the task.
		t.handle.resolve(Result[R]{TaskID: t.id, Err: errors.ErrWorkerCrashed, SlotID: s.id})
	}
}

// coordinate is the pool's single completion consumer. It recycles
// slots, feeds queued work, replaces faulted slots, and detects drain.
func (p *Pool[P, R]) coordinate() {
	defer close(p.coordDone)
	for {
		c, err := p.completions.PopContext(p.coordCtx)
		if err != nil {
			return
		}
		p.handleCompletion(c)
	}
}

func (p *Pool[P, R]) handleCompletion(c completion[P, R]) {
	p.totalCompleted.Add(1)

	p.mu.Lock()
	p.active--

	s := c.slot
	var faultCb func()
	if c.faulted {
		delete(p.slots, s.id)
		s.cancel()
		replaced := !p.config.DisableReplenish && p.state == poolRunning
		if cb := p.config.OnSlotFault; cb != nil {
			id := s.id
			faultCb = func() { cb(id, replaced) }
		}
		if replaced {
			s = p.spawnSlotLocked()
		} else {
			s = nil
			if len(p.slots) == 0 {
				// No slot left and none coming: nothing can drain the
				// queue, so the pool winds itself down.
				p.state = poolDraining
				for _, t := range p.queue {
					t.handle.resolve(Result[R]{TaskID: t.id, Err: errors.ErrPoolShutdown, SlotID: -1})
				}
				p.queue = nil
			}
		}
	}

	var cancelled []Result[R]
	if s != nil {
		t, skipped := p.dequeueLocked()
		cancelled = skipped
		if t != nil {
			p.assignLocked(s, t)
		} else {
			s.setState(slotIdle)
			p.free = append(p.free, s)
		}
	}

	drained := p.state == poolDraining && p.active == 0 && len(p.queue) == 0
	p.mu.Unlock()

	// Hooks run outside the lock; they may call back into the pool.
	if faultCb != nil {
		faultCb()
	}
	for _, r := range cancelled {
		p.notifyComplete(r)
	}

	if drained {
		// finishShutdown waits for the coordinator; it must not run on
		// the coordinator's own goroutine.
		go p.finishShutdown()
	}
}

// dequeueLocked pops the FIFO head, resolving and skipping tasks whose
// token was cancelled while queued. Skipped tasks' results are returned
// so the caller can fire hooks after releasing the lock.
func (p *Pool[P, R]) dequeueLocked() (*task[P, R], []Result[R]) {
	var skipped []Result[R]
	for len(p.queue) > 0 {
		t := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		if t.token.Cancelled() {
			r := Result[R]{TaskID: t.id, Err: t.token.Err(), SlotID: -1}
			if t.handle.resolve(r) {
				skipped = append(skipped, r)
			}
			continue
		}
		return t, skipped
	}
	return nil, skipped
}

// Shutdown stops the pool. With graceful true, queued and in-flight
// tasks finish first; with false, queued tasks are rejected with
// ErrPoolShutdown and in-flight contexts are cancelled. The returned
// channel closes when every slot has exited. Repeated calls share the
// same channel; a later immediate call escalates an in-progress
// graceful drain.
func (p *Pool[P, R]) Shutdown(graceful bool) <-chan struct{} {
	p.mu.Lock()
	if p.state == poolStopped {
		p.mu.Unlock()
		return p.done
	}
	p.state = poolDraining

	if !graceful {
		dropped := p.queue
		p.queue = nil
		for _, t := range dropped {
			t.handle.resolve(Result[R]{TaskID: t.id, Err: errors.ErrPoolShutdown, SlotID: -1})
		}
		var busy []*slot[P, R]
		for _, s := range p.slots {
			if s.getState() == slotBusy {
				busy = append(busy, s)
			}
		}
		p.mu.Unlock()
		for _, s := range busy {
			s.abortInflight()
		}
		p.mu.Lock()
	}

	drained := p.active == 0 && len(p.queue) == 0
	p.mu.Unlock()

	if drained {
		go p.finishShutdown()
	}
	return p.done
}

// ShutdownWithTimeout drains gracefully, then escalates to an
// immediate shutdown if the drain has not finished within d. It blocks
// until the pool is fully stopped.
func (p *Pool[P, R]) ShutdownWithTimeout(d time.Duration) {
	done := p.Shutdown(true)
	select {
	case <-done:
		return
	case <-time.After(d):
	}
	<-p.Shutdown(false)
}

// finishShutdown runs once all work is drained (or aborted): it stops
// the slots, waits them out, stops the coordinator, and closes done.
func (p *Pool[P, R]) finishShutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.state = poolStopped
		slots := make([]*slot[P, R], 0, len(p.slots))
		for _, s := range p.slots {
			slots = append(slots, s)
		}
		p.mu.Unlock()

		for _, s := range slots {
			s.cancel()
		}
		p.slotWg.Wait()
		p.coordCancel()
		<-p.coordDone
		if p.config.Admission != nil {
			p.config.Admission.Close()
		}
		close(p.done)
	})
}

// Done returns a channel closed when the pool has fully stopped.
func (p *Pool[P, R]) Done() <-chan struct{} { return p.done }

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	PoolSize       int
	QueueLen       int
	QueueDepth     int
	ActiveSlots    int
	TotalSubmitted uint64
	TotalCompleted uint64
	TotalRejected  uint64
}

// Stats returns a snapshot of current pool activity. Counters are
// monotonic; gauges reflect the instant of the call.
func (p *Pool[P, R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		PoolSize:       len(p.slots),
		QueueLen:       len(p.queue),
		QueueDepth:     p.config.QueueDepth,
		ActiveSlots:    p.active,
		TotalSubmitted: p.totalSubmitted.Load(),
		TotalCompleted: p.totalCompleted.Load(),
		TotalRejected:  p.totalRejected.Load(),
	}
}

// QueueLen returns the number of tasks waiting for a slot.
func (p *Pool[P, R]) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Active returns the number of tasks currently executing.
func (p *Pool[P, R]) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
