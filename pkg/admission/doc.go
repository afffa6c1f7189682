/*
Package admission provides submission-rate admission control for task
dispatchers.

Admission control is the gate deciding whether a new task is accepted
into the system at all, before it consumes queue capacity. It is
checked at submit time; a denial surfaces immediately as
errors.ErrRateLimited without consuming a worker slot or a queue entry.

Three limiters are provided:

  - Bucket: a local token bucket, suitable when a single process owns
    the submission rate and short bursts are acceptable.
  - Leaky: a local leaky bucket for smoothed admission without bursts.
  - Redis: a fixed-window counter coordinated through Redis, for capping
    the aggregate submission rate across several processes sharing a
    downstream resource. Scheduling itself remains local; only the
    admission counter is shared. On Redis errors the limiter falls back
    to a local bucket when one is configured, preferring availability
    over strict enforcement.

Example:

	ctrl := admission.NewBucket("ingest", 100, 20) // 100/s, burst 20

	pool, _ := dispatcher.NewWithConfig(dispatcher.Config[Req, Resp]{
		Executor:   exec,
		PoolSize:   4,
		QueueDepth: 64,
		Admission:  ctrl,
	})
*/
package admission
