package dispatcher

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/vnykmshr/taskflow/pkg/common/errors"
	"github.com/vnykmshr/taskflow/pkg/metrics"
)

// InstrumentedPool wraps a Pool with Prometheus metrics. All pool
// operations pass through unchanged; counters and gauges are updated
// on submit and completion events.
type InstrumentedPool[P, R any] struct {
	*Pool[P, R]
	registry *metrics.Registry
	name     string
}

// NewInstrumented creates a pool whose activity is reported through
// the given metrics registry. The name labels every series so several
// pools can share one registry. A nil registry uses the default.
func NewInstrumented[P, R any](name string, config Config[P, R], registry *metrics.Registry) (*InstrumentedPool[P, R], error) {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}

	ip := &InstrumentedPool[P, R]{registry: registry, name: name}

	userComplete := config.OnTaskComplete
	config.OnTaskComplete = func(r Result[R]) {
		ip.observeComplete(r)
		if userComplete != nil {
			userComplete(r)
		}
	}

	userRetry := config.OnRetry
	config.OnRetry = func(taskID uuid.UUID, attempt int) {
		registry.RetriesAttempts.WithLabelValues(name).Inc()
		if userRetry != nil {
			userRetry(taskID, attempt)
		}
	}

	userFault := config.OnSlotFault
	config.OnSlotFault = func(slotID int, replaced bool) {
		registry.SlotFaults.WithLabelValues(name).Inc()
		if !replaced {
			registry.PoolSize.WithLabelValues(name).Dec()
		}
		if userFault != nil {
			userFault(slotID, replaced)
		}
	}

	p, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	ip.Pool = p

	registry.PoolSize.WithLabelValues(name).Set(float64(config.PoolSize))
	return ip, nil
}

// Submit submits a task and records the outcome of the submission.
func (ip *InstrumentedPool[P, R]) Submit(payload P, opts ...SubmitOption) (*Handle[R], error) {
	return ip.SubmitWithContext(context.Background(), payload, opts...)
}

// SubmitWithContext submits a task and records the outcome of the
// submission.
func (ip *InstrumentedPool[P, R]) SubmitWithContext(ctx context.Context, payload P, opts ...SubmitOption) (*Handle[R], error) {
	h, err := ip.Pool.SubmitWithContext(ctx, payload, opts...)
	if err != nil {
		ip.registry.TasksRejected.WithLabelValues(ip.name, rejectionReason(err)).Inc()
		return nil, err
	}
	ip.registry.TasksSubmitted.WithLabelValues(ip.name).Inc()
	ip.updateGauges()
	return h, nil
}

func (ip *InstrumentedPool[P, R]) observeComplete(r Result[R]) {
	switch {
	case r.Err == nil:
		ip.registry.TasksCompleted.WithLabelValues(ip.name).Inc()
	case stderrors.Is(r.Err, errors.ErrCancelled):
		ip.registry.TasksCancelled.WithLabelValues(ip.name).Inc()
	default:
		ip.registry.TasksFailed.WithLabelValues(ip.name, outcome(r.Err)).Inc()
	}
	if r.SlotID >= 0 {
		ip.registry.TaskDuration.WithLabelValues(ip.name).Observe(r.Duration.Seconds())
	}
	ip.updateGauges()
}

func (ip *InstrumentedPool[P, R]) updateGauges() {
	if ip.Pool == nil {
		return
	}
	s := ip.Pool.Stats()
	ip.registry.QueueDepth.WithLabelValues(ip.name).Set(float64(s.QueueLen))
	ip.registry.ActiveSlots.WithLabelValues(ip.name).Set(float64(s.ActiveSlots))
}

func rejectionReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrRateLimited):
		return "rate_limited"
	case stderrors.Is(err, errors.ErrCircuitOpen):
		return "circuit_open"
	case stderrors.Is(err, errors.ErrCapacityExceeded):
		return "capacity"
	case stderrors.Is(err, errors.ErrPoolShutdown):
		return "shutdown"
	default:
		return "other"
	}
}

func outcome(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrTimedOut):
		return "timeout"
	case stderrors.Is(err, errors.ErrWorkerCrashed):
		return "crashed"
	case stderrors.Is(err, errors.ErrCircuitOpen):
		return "circuit_open"
	case stderrors.Is(err, errors.ErrPoolShutdown):
		return "shutdown"
	default:
		return "error"
	}
}
