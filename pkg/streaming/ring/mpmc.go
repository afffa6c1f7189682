package ring

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// mpmcSlot pairs an element with a sequence counter. The counter encodes
// whether the slot is ready for the producer or the consumer whose turn
// it is, which is what prevents two producers from writing the same slot.
type mpmcSlot[T any] struct {
	seq atomic.Uint64
	val T
}

// MPMC is a multi-producer/multi-consumer ring buffer. Any number of
// goroutines may push and pop concurrently. Elements are delivered at
// most once; per-producer FIFO order is preserved.
type MPMC[T any] struct {
	mask  uint64
	slots []mpmcSlot[T]

	head atomic.Uint64
	tail atomic.Uint64

	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewMPMC creates an MPMC ring buffer holding up to capacity elements.
// Capacity is rounded up to the next power of two, minimum 2.
func NewMPMC[T any](capacity int) *MPMC[T] {
	if capacity < 2 {
		capacity = 2
	}
	capacity = nextPowerOfTwo(capacity)

	slots := make([]mpmcSlot[T], capacity)
	for i := range slots {
		slots[i].seq.Store(uint64(i))
	}

	return &MPMC[T]{
		mask:     uint64(capacity - 1),
		slots:    slots,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

// Push attempts to enqueue v without blocking. It returns false if the
// buffer is full.
func (r *MPMC[T]) Push(v T) bool {
	for {
		pos := r.tail.Load()
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()

		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			// The slot is free for this ticket; claim it with CAS so no
			// two producers write the same slot.
			if r.tail.CompareAndSwap(pos, pos+1) {
				slot.val = v
				slot.seq.Store(pos + 1) // publish after the element write
				notify(r.notEmpty)
				return true
			}
		case diff < 0:
			// The consumer for the previous lap has not freed the slot:
			// the buffer is full.
			return false
		default:
			// Another producer claimed this ticket; reload and retry.
			runtime.Gosched()
		}
	}
}

// Pop attempts to dequeue a value without blocking. It returns false if
// the buffer is empty.
func (r *MPMC[T]) Pop() (T, bool) {
	var zero T
	for {
		pos := r.head.Load()
		slot := &r.slots[pos&r.mask]
		seq := slot.seq.Load()

		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				v := slot.val
				slot.val = zero
				// Mark the slot free for the producer one lap ahead.
				slot.seq.Store(pos + r.mask + 1)
				notify(r.notFull)
				return v, true
			}
		case diff < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}

// WaitPush enqueues v, blocking until space is available or the timeout
// elapses. It returns false on timeout.
func (r *MPMC[T]) WaitPush(v T, timeout time.Duration) bool {
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
func (r *MPMC[T]) WaitPop(timeout time.Duration) (T, bool) {
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
func (r *MPMC[T]) PushContext(ctx context.Context, v T) error {
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
func (r *MPMC[T]) PopContext(ctx context.Context) (T, error) {
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
func (r *MPMC[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	n := tail - head
	if n > r.mask+1 {
		n = r.mask + 1
	}
	return int(n)
}

// Cap returns the element capacity.
func (r *MPMC[T]) Cap() int {
	return len(r.slots)
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
