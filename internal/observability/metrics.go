package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Duka.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Chat turn metrics.
	ChatRequestsTotal   *prometheus.CounterVec
	ChatRequestDuration *prometheus.HistogramVec
	ChatIterations      prometheus.Histogram

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Tool execution metrics.
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Rate limiting metrics.
	RateLimitRejectionsTotal prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ChatRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duka",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total chat turns processed, by outcome.",
		}, []string{"outcome"}),

		ChatRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duka",
			Subsystem: "chat",
			Name:      "request_duration_seconds",
			Help:      "Chat turn duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),

		ChatIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "duka",
			Subsystem: "chat",
			Name:      "iterations",
			Help:      "Model round-trips per chat turn.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duka",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duka",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duka",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "direction"}),

		ToolExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duka",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Total tool executions.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duka",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		RateLimitRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "duka",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total requests rejected by the rate limiter.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "duka",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "duka",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "duka",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ChatRequestsTotal,
		m.ChatRequestDuration,
		m.ChatIterations,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.RateLimitRejectionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordChatRequest records one completed chat turn. Nil-safe.
func (m *MetricsCollector) RecordChatRequest(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(outcome).Inc()
	m.ChatRequestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == "rate_limited" {
		m.RateLimitRejectionsTotal.Inc()
	}
}

// RecordChatIterations records the model round-trips a turn took. Nil-safe.
func (m *MetricsCollector) RecordChatIterations(iterations int) {
	if m == nil {
		return
	}
	m.ChatIterations.Observe(float64(iterations))
}

// RecordToolExecution records one tool invocation. Nil-safe.
func (m *MetricsCollector) RecordToolExecution(tool string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
