/*
Package ring provides fixed-capacity, lock-free ring buffers for passing
values between goroutines without a mutex.

Two disciplines are offered:

  - SPSC: a single-producer/single-consumer buffer with atomic head/tail
    indices. FIFO order is guaranteed. One slot is sacrificed to
    disambiguate empty from full, so a buffer constructed with capacity C
    holds at most C-1 elements.
  - MPMC: a multi-producer/multi-consumer buffer using a per-slot sequence
    counter and compare-and-swap retry loops on both indices. No element
    is delivered twice and no two producers ever write the same slot.
    Capacity is rounded up to the next power of two and fully usable.

The safety-critical ordering invariant is write-then-publish: the element
write must be visible before the index (or sequence) update that exposes
it, and a reader loads the index before touching the element. Go's
sync/atomic operations are sequentially consistent, which subsumes the
acquire/release pairing this requires.

Non-blocking Push and Pop never wait; they report full/empty and leave
backoff to the caller. The Wait variants block on a notify channel until
the opposite side makes progress or a timeout elapses, so neither side
busy-spins on a full or empty buffer. No lock is held while waiting.

Example, connecting two goroutines:

	buf := ring.NewSPSC[int](64)

	go func() {
		for i := 0; i < 1000; i++ {
			for !buf.WaitPush(i, time.Second) {
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		v, ok := buf.WaitPop(time.Second)
		if !ok {
			break
		}
		process(v)
	}

Violating a discipline (for example two producers on an SPSC buffer) is
undefined behavior; use MPMC when either side is concurrent.
*/
package ring
