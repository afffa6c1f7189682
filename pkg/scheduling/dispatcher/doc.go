// Package dispatcher provides a bounded task execution engine: a fixed
// pool of worker slots fed by a FIFO queue with a hard depth limit.
//
// Submissions pass three gates in order: admission control (optional,
// see package admission), a per-class circuit breaker fast-fail
// (optional), and queue capacity. An accepted task returns a Handle,
// a future that resolves to exactly one terminal Result: success,
// exhausted retries, cancellation, timeout, worker crash, or pool
// shutdown.
//
// Concurrency never exceeds the configured pool size. Each slot runs
// one task at a time; retries with exponential backoff happen inside
// the slot, so a retrying task occupies its slot for the duration. An
// executor panic is contained: the task fails with ErrWorkerCrashed,
// the slot retires, and a fresh slot takes its place unless
// DisableReplenish is set.
//
// Basic usage:
//
//	pool, err := dispatcher.New(dispatcher.ExecutorFunc[string, int](
//		func(ctx context.Context, s string) (int, error) {
//			return len(s), nil
//		}), 4, 64)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.ShutdownWithTimeout(5 * time.Second)
//
//	h, err := pool.Submit("hello")
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, _ := h.Await(context.Background())
//	fmt.Println(res.Value) // 5
//
// Use NewInstrumented to export pool activity as Prometheus metrics.
package dispatcher
