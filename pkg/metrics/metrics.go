// Package metrics provides Prometheus instrumentation for taskflow
// components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for taskflow components. Metrics
// are updated on submit/complete events, never polled synchronously on
// the execution hot path.
type Registry struct {
	// Dispatcher metrics
	TasksSubmitted  *prometheus.CounterVec
	TasksCompleted  *prometheus.CounterVec
	TasksFailed     *prometheus.CounterVec
	TasksCancelled  *prometheus.CounterVec
	TasksRejected   *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	ActiveSlots     *prometheus.GaugeVec
	PoolSize        *prometheus.GaugeVec
	SlotFaults      *prometheus.CounterVec
	RetriesAttempts *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec
	CircuitShortCirc   *prometheus.CounterVec

	// Admission control metrics
	AdmissionAllowed *prometheus.CounterVec
	AdmissionDenied  *prometheus.CounterVec

	// Ring buffer metrics
	RingDepth     *prometheus.GaugeVec
	RingFullStall *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by taskflow
// components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus
// registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks accepted for execution",
			},
			[]string{"pool_name"},
		),

		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks completed successfully",
			},
			[]string{"pool_name"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks with a terminal failure outcome",
			},
			[]string{"pool_name", "outcome"},
		),

		TasksCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "tasks_cancelled_total",
				Help:      "Total number of tasks cancelled before or during execution",
			},
			[]string{"pool_name"},
		),

		TasksRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "tasks_rejected_total",
				Help:      "Total number of submissions rejected at admission",
			},
			[]string{"pool_name", "reason"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing tasks, including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool_name"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "queue_depth",
				Help:      "Number of tasks waiting for a free slot",
			},
			[]string{"pool_name"},
		),

		ActiveSlots: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "active_slots",
				Help:      "Number of worker slots currently executing a task",
			},
			[]string{"pool_name"},
		),

		PoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "pool_size",
				Help:      "Configured number of worker slots",
			},
			[]string{"pool_name"},
		),

		SlotFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "dispatcher",
				Name:      "slot_faults_total",
				Help:      "Total number of worker slots lost to executor panics",
			},
			[]string{"pool_name"},
		),

		RetriesAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total number of retry attempts beyond the first",
			},
			[]string{"pool_name"},
		),

		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "taskflow",
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit state per executor class (0=closed, 1=open, 2=half-open)",
			},
			[]string{"pool_name", "class"},
		),

		CircuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "breaker",
				Name:      "transitions_total",
				Help:      "Total number of circuit state transitions",
			},
			[]string{"pool_name", "class", "to"},
		),

		CircuitShortCirc: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "breaker",
				Name:      "short_circuits_total",
				Help:      "Total number of calls failed fast by an open circuit",
			},
			[]string{"pool_name", "class"},
		),

		AdmissionAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "admission",
				Name:      "allowed_total",
				Help:      "Total number of submissions allowed by admission control",
			},
			[]string{"limiter_name"},
		),

		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "admission",
				Name:      "denied_total",
				Help:      "Total number of submissions denied by admission control",
			},
			[]string{"limiter_name"},
		),

		RingDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "taskflow",
				Subsystem: "ring",
				Name:      "depth",
				Help:      "Current number of buffered elements per ring",
			},
			[]string{"ring_name"},
		),

		RingFullStall: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskflow",
				Subsystem: "ring",
				Name:      "full_stalls_total",
				Help:      "Total number of pushes that had to wait for buffer space",
			},
			[]string{"ring_name"},
		),
	}
}
