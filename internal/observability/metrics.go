package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine exports.
//
// All collectors are registered on the registry passed to NewMetrics;
// nothing touches the Prometheus default registry. Recording methods are
// safe on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// BuildCounter counts pipeline runs.
	// Labels: transport (http|ws|cli), status (success|error|invalid)
	BuildCounter *prometheus.CounterVec

	// BuildDuration measures end-to-end build latency in seconds.
	// Labels: transport
	BuildDuration *prometheus.HistogramVec

	// SourceFetchCounter counts external fetch outcomes.
	// Labels: source (tools|rag|history), state (ok|unavailable|disabled|skipped)
	SourceFetchCounter *prometheus.CounterVec

	// SourceFetchDuration measures fetch latency including retries.
	// Labels: source
	SourceFetchDuration *prometheus.HistogramVec

	// SourceRetryCounter counts retry attempts beyond the first.
	// Labels: source
	SourceRetryCounter *prometheus.CounterVec

	// HistoryRoundsKept observes rounds kept per request.
	HistoryRoundsKept prometheus.Histogram

	// HistoryRoundsDropped counts rounds removed by the trimmer.
	HistoryRoundsDropped prometheus.Counter

	// BudgetExhausted counts requests whose fixed content left no room for history.
	BudgetExhausted prometheus.Counter

	// EstimatedTokens observes the estimate of each emitted payload.
	EstimatedTokens prometheus.Histogram

	// InFlight tracks admitted pipeline runs.
	InFlight prometheus.Gauge

	// AdmissionRejected counts requests refused by the admission controller.
	// Labels: transport
	AdmissionRejected *prometheus.CounterVec

	// RateLimited counts requests refused by the rate limiter.
	RateLimited prometheus.Counter

	// WSConnections tracks open WebSocket connections.
	WSConnections prometheus.Gauge

	// WSFrames counts WebSocket frames.
	// Labels: direction (inbound|outbound), type
	WSFrames *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// PromptReloads counts system prompt template reloads.
	// Labels: status (success|error)
	PromptReloads *prometheus.CounterVec
}

// NewMetrics creates all collectors on reg. A nil reg gets a fresh
// registry with the Go and process collectors attached.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BuildCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptengine_builds_total",
				Help: "Total number of prompt builds by transport and status",
			},
			[]string{"transport", "status"},
		),

		BuildDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptengine_build_duration_seconds",
				Help:    "Duration of prompt builds in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"transport"},
		),

		SourceFetchCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptengine_source_fetches_total",
				Help: "Total number of external source fetches by source and outcome",
			},
			[]string{"source", "state"},
		),

		SourceFetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptengine_source_fetch_duration_seconds",
				Help:    "Duration of external source fetches in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"source"},
		),

		SourceRetryCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptengine_source_retries_total",
				Help: "Total number of retried source fetch attempts",
			},
			[]string{"source"},
		),

		HistoryRoundsKept: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "promptengine_history_rounds_kept",
				Help:    "Conversation rounds kept per request",
				Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 20},
			},
		),

		HistoryRoundsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "promptengine_history_rounds_dropped_total",
				Help: "Total number of conversation rounds trimmed away",
			},
		),

		BudgetExhausted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "promptengine_budget_exhausted_total",
				Help: "Requests whose fixed content left no budget for history",
			},
		),

		EstimatedTokens: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "promptengine_estimated_tokens",
				Help:    "Estimated tokens of emitted requests",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
		),

		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "promptengine_builds_in_flight",
				Help: "Number of admitted prompt builds currently running",
			},
		),

		AdmissionRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptengine_admission_rejected_total",
				Help: "Requests rejected because the engine was saturated",
			},
			[]string{"transport"},
		),

		RateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "promptengine_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter",
			},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "promptengine_ws_connections",
				Help: "Open WebSocket connections",
			},
		),

		WSFrames: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptengine_ws_frames_total",
				Help: "WebSocket frames by direction and type",
			},
			[]string{"direction", "type"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptengine_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 20},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptengine_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		PromptReloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptengine_prompt_reloads_total",
				Help: "System prompt template reloads by status",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordBuild records one pipeline run.
func (m *Metrics) RecordBuild(transport, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.BuildCounter.WithLabelValues(transport, status).Inc()
	m.BuildDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// RecordSourceFetch records the outcome of one source fetch.
func (m *Metrics) RecordSourceFetch(source, state string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceFetchCounter.WithLabelValues(source, state).Inc()
	if d > 0 {
		m.SourceFetchDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

// RecordSourceRetry counts one retried attempt.
func (m *Metrics) RecordSourceRetry(source string) {
	if m == nil {
		return
	}
	m.SourceRetryCounter.WithLabelValues(source).Inc()
}

// RecordTrim records the trimmer outcome for one request.
func (m *Metrics) RecordTrim(kept, dropped, remaining int) {
	if m == nil {
		return
	}
	m.HistoryRoundsKept.Observe(float64(kept))
	if dropped > 0 {
		m.HistoryRoundsDropped.Add(float64(dropped))
	}
	if remaining <= 0 {
		m.BudgetExhausted.Inc()
	}
}

// RecordEstimate observes the estimate of an emitted payload.
func (m *Metrics) RecordEstimate(tokens int) {
	if m == nil {
		return
	}
	m.EstimatedTokens.Observe(float64(tokens))
}

// BuildStarted increments the in-flight gauge.
func (m *Metrics) BuildStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// BuildFinished decrements the in-flight gauge.
func (m *Metrics) BuildFinished() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// RecordRejected counts an admission rejection.
func (m *Metrics) RecordRejected(transport string) {
	if m == nil {
		return
	}
	m.AdmissionRejected.WithLabelValues(transport).Inc()
}

// RecordRateLimited counts a rate-limited request.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// WSConnected and WSDisconnected track open connections.
func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordWSFrame counts a frame.
func (m *Metrics) RecordWSFrame(direction, frameType string) {
	if m == nil {
		return
	}
	m.WSFrames.WithLabelValues(direction, frameType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(d.Seconds())
}

// RecordPromptReload counts a template reload attempt.
func (m *Metrics) RecordPromptReload(status string) {
	if m == nil {
		return
	}
	m.PromptReloads.WithLabelValues(status).Inc()
}
