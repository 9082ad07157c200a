// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and structured logging for the procurement engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// RUN METRICS
// =============================================================================

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_runs_total",
			Help: "Total number of workflow runs by terminal status",
		},
		[]string{"status"}, // Approved, Rejected, Escalated, Failed
	)

	runDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procurement_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
		},
		[]string{"status"},
	)

	runsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "procurement_runs_in_flight",
			Help: "Workflow runs currently executing",
		},
	)
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_stage_attempts_total",
			Help: "Total number of stage attempts by outcome",
		},
		[]string{"stage", "outcome"}, // outcome: success, retry, failed, cancelled
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procurement_stage_duration_seconds",
			Help:    "Stage attempt duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	stageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_stage_retries_total",
			Help: "Total number of stage retries after a retryable failure",
		},
		[]string{"stage"},
	)
)

// =============================================================================
// GUARDRAIL & DELIVERY METRICS
// =============================================================================

var (
	guardrailFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_guardrail_firings_total",
			Help: "Total number of guardrail rule firings",
		},
		[]string{"rule"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_deliveries_total",
			Help: "Total number of post-approval deliveries",
		},
		[]string{"deliverer", "status"}, // status: success, error
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_llm_calls_total",
			Help: "Total number of generation capability calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procurement_llm_duration_seconds",
			Help:    "Generation capability call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// TRANSPORT METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "procurement_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 30, 60},
		},
		[]string{"method"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_http_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"route", "code"},
	)

	panicsRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_panics_recovered_total",
			Help: "Panics recovered at a transport boundary",
		},
		[]string{"surface", "method"},
	)

	rateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "procurement_rate_limited_total",
			Help: "Submissions refused by the per-requester rate limiter",
		},
		[]string{"surface", "window"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RunStarted increments the in-flight gauge.
func RunStarted() {
	runsInFlight.Inc()
}

// RecordRun records a finished run and decrements the in-flight gauge.
func RecordRun(status string, durationMS int) {
	runsInFlight.Dec()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.WithLabelValues(status).Observe(float64(durationMS) / 1000.0)
}

// RecordStageAttempt records one stage attempt.
func RecordStageAttempt(stage string, outcome string, durationMS int) {
	stageAttemptsTotal.WithLabelValues(stage, outcome).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
	if outcome == "retry" {
		stageRetriesTotal.WithLabelValues(stage).Inc()
	}
}

// RecordGuardrailFiring records that a guardrail rule fired.
func RecordGuardrailFiring(rule string) {
	guardrailFiringsTotal.WithLabelValues(rule).Inc()
}

// RecordDelivery records a post-approval delivery.
func RecordDelivery(deliverer string, status string) {
	deliveriesTotal.WithLabelValues(deliverer, status).Inc()
}

// RecordLLMCall records a generation capability call.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}

// RecordHTTPRequest records an HTTP API response.
func RecordHTTPRequest(route string, code string) {
	httpRequestsTotal.WithLabelValues(route, code).Inc()
}

// RecordRateLimited records a submission refused by the rate limiter.
func RecordRateLimited(surface string, window string) {
	rateLimitedTotal.WithLabelValues(surface, window).Inc()
}

// RecordPanicRecovered records a panic recovered by a transport.
func RecordPanicRecovered(surface string, method string) {
	panicsRecoveredTotal.WithLabelValues(surface, method).Inc()
}
