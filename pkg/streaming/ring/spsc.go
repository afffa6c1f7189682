package ring

import (
	"context"
	"sync/atomic"
	"time"
)

// SPSC is a single-producer/single-consumer ring buffer. Exactly one
// goroutine may call Push/WaitPush/PushContext and exactly one goroutine
// may call Pop/WaitPop/PopContext.
type SPSC[T any] struct {
	buf []T

	// head is the next slot to read, advanced only by the consumer.
	// tail is the next slot to write, advanced only by the producer.
	// Both are indices modulo len(buf). Empty iff head == tail, full iff
	// (tail+1) mod len(buf) == head.
	head atomic.Uint64
	tail atomic.Uint64

	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewSPSC creates an SPSC ring buffer with the given slot capacity.
// One slot is sacrificed to disambiguate empty from full, so the buffer
// holds at most capacity-1 elements. Panics if capacity < 2.
func NewSPSC[T any](capacity int) *SPSC[T] {
	if capacity < 2 {
		panic("ring: capacity must be at least 2")
	}
	return &SPSC[T]{
		buf: make([]T, capacity),
		// Single-slot buffered notify channels retain a pending wakeup,
		// closing the race between an empty/full check and the wait.
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

// Push attempts to enqueue v without blocking. It returns false if the
// buffer is full.
func (r *SPSC[T]) Push(v T) bool {
	tail := r.tail.Load()
	next := (tail + 1) % uint64(len(r.buf))
	if next == r.head.Load() {
		return false
	}

	// Write the element, then publish it by storing the new tail. The
	// consumer loads tail before reading the slot, so the element write
	// is always visible by the time the slot is observable.
	r.buf[tail] = v
	r.tail.Store(next)

	notify(r.notEmpty)
	return true
}

// Pop attempts to dequeue a value without blocking. It returns false if
// the buffer is empty.
func (r *SPSC[T]) Pop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}

	v := r.buf[head]
	r.buf[head] = zero // drop the reference so the element can be collected
	r.head.Store((head + 1) % uint64(len(r.buf)))

	notify(r.notFull)
	return v, true
}

// WaitPush enqueues v, blocking until space is available or the timeout
// elapses. It returns false on timeout.
func (r *SPSC[T]) WaitPush(v T, timeout time.Duration) bool {
	if r.Push(v) {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-r.notFull:
			if r.Push(v) {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// WaitPop dequeues a value, blocking until one is available or the
// timeout elapses. It returns false on timeout.
func (r *SPSC[T]) WaitPop(timeout time.Duration) (T, bool) {
	if v, ok := r.Pop(); ok {
		return v, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-r.notEmpty:
			if v, ok := r.Pop(); ok {
				return v, true
			}
		case <-timer.C:
			var zero T
			return zero, false
		}
	}
}

// PushContext enqueues v, blocking until space is available or the
// context is done.
func (r *SPSC[T]) PushContext(ctx context.Context, v T) error {
	if r.Push(v) {
		return nil
	}
	for {
		select {
		case <-r.notFull:
			if r.Push(v) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PopContext dequeues a value, blocking until one is available or the
// context is done.
func (r *SPSC[T]) PopContext(ctx context.Context) (T, error) {
	if v, ok := r.Pop(); ok {
		return v, nil
	}
	for {
		select {
		case <-r.notEmpty:
			if v, ok := r.Pop(); ok {
				return v, nil
			}
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of buffered elements. The value is advisory
// under concurrent use.
func (r *SPSC[T]) Len() int {
	c := uint64(len(r.buf))
	return int((r.tail.Load() + c - r.head.Load()) % c)
}

// Cap returns the slot capacity. The buffer holds at most Cap()-1
// elements.
func (r *SPSC[T]) Cap() int {
	return len(r.buf)
}

// notify delivers a wakeup without blocking; a pending wakeup is enough.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
