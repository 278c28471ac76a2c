package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_workflows_started_total",
			Help: "Total number of research workflows started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_workflows_completed_total",
			Help: "Total number of research workflows finished",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_workflow_duration_seconds",
			Help:    "Research workflow duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"status"},
	)

	WorkflowIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_workflow_iterations",
			Help:    "Review iterations consumed per research workflow",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	// Stage metrics
	StageExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_routing_decisions_total",
			Help: "Routing decisions by action and whether the iteration cap overrode the verdict",
		},
		[]string{"action", "overridden"},
	)

	// Fan-out metrics
	FanoutUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_fanout_units_total",
			Help: "Fan-out units executed",
		},
		[]string{"stage", "status"},
	)

	// Capability metrics
	CapabilityCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_capability_calls_total",
			Help: "Calls to external capabilities (planning, search, summarization, drafting, review)",
		},
		[]string{"capability", "status"},
	)

	CapabilityLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_capability_latency_seconds",
			Help:    "External capability call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"capability"},
	)

	CapabilityTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_capability_tokens_total",
			Help: "Tokens consumed by capability calls",
		},
		[]string{"capability", "direction"},
	)

	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deepresearch_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the client-side rate limiter",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"capability"},
	)

	// Retry metrics
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_retry_attempts_total",
			Help: "Failed attempts that were followed by a retry",
		},
		[]string{"operation"},
	)

	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_retry_exhausted_total",
			Help: "Calls that failed after every retry attempt",
		},
		[]string{"operation"},
	)

	// Streaming metrics
	StreamEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_stream_events_published_total",
			Help: "Events published to run subscribers",
		},
		[]string{"type"},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_stream_events_dropped_total",
			Help: "Events dropped because a subscriber was slow",
		},
	)
)

// RecordWorkflowMetrics records the outcome of one research run.
func RecordWorkflowMetrics(status string, durationSeconds float64, iterations int) {
	WorkflowsCompleted.WithLabelValues(status).Inc()
	WorkflowDuration.WithLabelValues(status).Observe(durationSeconds)
	WorkflowIterations.Observe(float64(iterations))
}

// RecordStageMetrics records one stage execution.
func RecordStageMetrics(stage, status string, durationSeconds float64) {
	StageExecutions.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordCapabilityMetrics records one external capability call.
func RecordCapabilityMetrics(capability, status string, durationSeconds float64) {
	CapabilityCalls.WithLabelValues(capability, status).Inc()
	CapabilityLatency.WithLabelValues(capability).Observe(durationSeconds)
}

// RecordTokens records token usage reported by a capability.
func RecordTokens(capability string, input, output int64) {
	if input > 0 {
		CapabilityTokens.WithLabelValues(capability, "input").Add(float64(input))
	}
	if output > 0 {
		CapabilityTokens.WithLabelValues(capability, "output").Add(float64(output))
	}
}
