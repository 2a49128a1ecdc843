package telemetry

import "github.com/prometheus/client_golang/prometheus"

// HTTPRequestDuration records request latency by method/route/status for the
// thin operator API (most C1-C12 components are not HTTP-facing).
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "postflow",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// PublishAttemptsTotal counts adapter publish attempts by channel type and outcome.
var PublishAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "postflow",
		Subsystem: "publish",
		Name:      "attempts_total",
		Help:      "Total publish attempts by channel type and outcome.",
	},
	[]string{"channel_type", "outcome"},
)

// PublishDurationSeconds samples adapter publish call latency for baselines.
var PublishDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "postflow",
		Subsystem: "publish",
		Name:      "duration_seconds",
		Help:      "Adapter publish call duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	},
	[]string{"channel_type"},
)

// CircuitBreakerTripsTotal counts per-channel circuit breaker trips.
var CircuitBreakerTripsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "postflow",
		Subsystem: "publish",
		Name:      "circuit_breaker_trips_total",
		Help:      "Total number of per-channel circuit breaker trips.",
	},
	[]string{"channel_type"},
)

// SchedulerDispatchedTotal counts posts/runs dispatched per scheduler beat.
var SchedulerDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "postflow",
		Subsystem: "scheduler",
		Name:      "dispatched_total",
		Help:      "Total items dispatched by scheduler beat.",
	},
	[]string{"beat"},
)

// AutomationRunsTotal counts automation runs by terminal status.
var AutomationRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "postflow",
		Subsystem: "automation",
		Name:      "runs_total",
		Help:      "Total automation runs by terminal status.",
	},
	[]string{"action_type", "status"},
)

// GuardrailViolationsTotal counts guardrail violations by kind.
var GuardrailViolationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "postflow",
		Subsystem: "guardrails",
		Name:      "violations_total",
		Help:      "Total guardrail violations by kind.",
	},
	[]string{"kind"},
)

// QueueDepth reports the current depth of each logical work queue.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "postflow",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current depth of a logical work queue.",
	},
	[]string{"queue"},
)

// All returns postflow-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		PublishAttemptsTotal,
		PublishDurationSeconds,
		CircuitBreakerTripsTotal,
		SchedulerDispatchedTotal,
		AutomationRunsTotal,
		GuardrailViolationsTotal,
		QueueDepth,
	}
}
