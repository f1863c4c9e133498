package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Router metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_events_published_total",
			Help: "Total number of events published by topic",
		},
		[]string{"topic"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_events_dropped_total",
			Help: "Total number of events dropped due to full subscriber buffers",
		},
		[]string{"topic"},
	)

	RouterHandlerPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_router_handler_panics_total",
			Help: "Total number of recovered subscriber handler panics",
		},
	)

	// Registry metrics
	ComponentsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_components_registered",
			Help: "Current number of registered components",
		},
	)

	// Health metrics
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maestro_breaker_state",
			Help: "Circuit breaker state per component (0 = closed, 1 = half-open, 2 = open)",
		},
		[]string{"component"},
	)

	ExecutionsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_executions_rejected_total",
			Help: "Total executions rejected by an open breaker",
		},
		[]string{"component"},
	)

	ComponentHealthState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maestro_component_health_state",
			Help: "Component health per state (1 = component is in this state)",
		},
		[]string{"component", "state"},
	)

	// Diff engine metrics
	DiffChecksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_diff_checks_total",
			Help: "Total diff comparisons actually computed",
		},
	)

	DiffThrottledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_diff_throttled_total",
			Help: "Total diff checks answered from the throttle cache",
		},
	)

	DiffsBySeverity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_diffs_total",
			Help: "Total non-empty diffs by severity",
		},
		[]string{"severity"},
	)

	// Scheduler metrics
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_pipeline_runs_total",
			Help: "Total pipeline runs by terminal status",
		},
		[]string{"pipeline", "status"},
	)

	TriggersCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_triggers_coalesced_total",
			Help: "Total trigger firings dropped because a run was in flight",
		},
		[]string{"pipeline"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	StageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_stage_outcomes_total",
			Help: "Total stage executions by outcome",
		},
		[]string{"component", "outcome"},
	)

	// Broker metrics
	TicketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_tickets_total",
			Help: "Total problem tickets by terminal status",
		},
		[]string{"status"},
	)

	TicketQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "maestro_ticket_queue_depth",
			Help: "Current number of tickets queued for the reasoning service",
		},
	)

	ReasoningRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_reasoning_request_duration_seconds",
			Help:    "Reasoning service request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(RouterHandlerPanicsTotal)
	prometheus.MustRegister(ComponentsRegistered)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(ExecutionsRejectedTotal)
	prometheus.MustRegister(ComponentHealthState)
	prometheus.MustRegister(DiffChecksTotal)
	prometheus.MustRegister(DiffThrottledTotal)
	prometheus.MustRegister(DiffsBySeverity)
	prometheus.MustRegister(PipelineRunsTotal)
	prometheus.MustRegister(TriggersCoalescedTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StageOutcomesTotal)
	prometheus.MustRegister(TicketsTotal)
	prometheus.MustRegister(TicketQueueDepth)
	prometheus.MustRegister(ReasoningRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
