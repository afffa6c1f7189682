/*
Package taskflow provides a bounded concurrent task execution engine
with retries, circuit breaking, cancellation, and admission control.

Task Execution (pkg/scheduling):
  - dispatcher: Fixed-size worker slot pool with a bounded FIFO queue
  - cron: Deferred and recurring submissions via cron expressions

Resilience (pkg/resilience):
  - retry: Exponential backoff retry policies
  - breaker: Per-class circuit breakers

Admission Control (pkg/admission):
  - Token bucket and leaky bucket local limiters
  - Redis-backed fixed-window limiting across instances

Building Blocks:
  - pkg/streaming/ring: Lock-free SPSC and MPMC ring buffers
  - pkg/common/cancellation: One-way cancellation tokens
  - pkg/common/backoff: Backoff delay calculation
  - pkg/common/errors: The task outcome taxonomy
  - pkg/metrics: Prometheus instrumentation

Example usage:

	import (
		"github.com/vnykmshr/taskflow/pkg/resilience/retry"
		"github.com/vnykmshr/taskflow/pkg/scheduling/dispatcher"
	)

	pool, err := dispatcher.NewWithConfig(dispatcher.Config[Request, Response]{
		Executor:   dispatcher.ExecutorFunc[Request, Response](handle),
		PoolSize:   8,
		QueueDepth: 256,
		Retry:      retry.DefaultPolicy(),
	})

	h, err := pool.Submit(req)
	res, err := h.Await(ctx)
*/
package taskflow
