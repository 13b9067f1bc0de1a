package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	actionDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Dispatch metrics
	DispatchesTotal    *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	AuditWriteFailures prometheus.Counter

	// Failure recovery metrics
	FailedActionsRecorded *prometheus.CounterVec
	RetriesTotal          *prometheus.CounterVec
	UnresolvedFailures    prometheus.Gauge

	// System metrics
	TemplatesLoaded     prometheus.Gauge
	CleanupRemovedTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stageact_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stageact_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stageact_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stageact_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Dispatch
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stageact_dispatches_total",
			Help: "Total number of stage dispatches.",
		}, []string{"template", "stage", "status"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stageact_dispatch_duration_seconds",
			Help:    "Stage dispatch duration in seconds.",
			Buckets: actionDurationBuckets,
		}, []string{"template", "stage"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stageact_actions_total",
			Help: "Total number of executed actions.",
		}, []string{"action_type", "status"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stageact_action_duration_seconds",
			Help:    "Action handler duration in seconds.",
			Buckets: actionDurationBuckets,
		}, []string{"action_type"}),
		AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stageact_audit_write_failures_total",
			Help: "Total number of audit record writes that failed.",
		}),

		// Failure recovery
		FailedActionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stageact_failed_actions_recorded_total",
			Help: "Total number of failed actions recorded.",
		}, []string{"action_type"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stageact_retries_total",
			Help: "Total number of failed action retries.",
		}, []string{"action_type", "status"}),
		UnresolvedFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stageact_unresolved_failures",
			Help: "Number of failed actions not yet resolved.",
		}),

		// System
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stageact_templates_loaded",
			Help: "Number of loaded stage templates.",
		}),
		CleanupRemovedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stageact_cleanup_removed_total",
			Help: "Total records removed by retention cleanup.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Dispatch
		m.DispatchesTotal,
		m.DispatchDuration,
		m.ActionsTotal,
		m.ActionDuration,
		m.AuditWriteFailures,
		// Failure recovery
		m.FailedActionsRecorded,
		m.RetriesTotal,
		m.UnresolvedFailures,
		// System
		m.TemplatesLoaded,
		m.CleanupRemovedTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordDispatch records a stage dispatch outcome.
func (m *Metrics) RecordDispatch(templateName, stage, status string, duration time.Duration) {
	m.DispatchesTotal.WithLabelValues(templateName, stage, status).Inc()
	m.DispatchDuration.WithLabelValues(templateName, stage).Observe(duration.Seconds())
}

// RecordAction records one action handler execution.
func (m *Metrics) RecordAction(actionType, status string, duration time.Duration) {
	m.ActionsTotal.WithLabelValues(actionType, status).Inc()
	m.ActionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

// RecordAuditWriteFailure records an audit record write that failed.
func (m *Metrics) RecordAuditWriteFailure() {
	m.AuditWriteFailures.Inc()
}

// RecordFailedAction records a new failed action row.
func (m *Metrics) RecordFailedAction(actionType string) {
	m.FailedActionsRecorded.WithLabelValues(actionType).Inc()
}

// RecordRetry records a retry attempt outcome.
func (m *Metrics) RecordRetry(actionType, status string) {
	m.RetriesTotal.WithLabelValues(actionType, status).Inc()
}

// SetUnresolvedFailures sets the unresolved failure gauge.
func (m *Metrics) SetUnresolvedFailures(count float64) {
	m.UnresolvedFailures.Set(count)
}

// SetTemplatesLoaded sets the number of loaded templates.
func (m *Metrics) SetTemplatesLoaded(count float64) {
	m.TemplatesLoaded.Set(count)
}

// RecordCleanup records records removed by a retention cleanup pass.
func (m *Metrics) RecordCleanup(kind string, removed int64) {
	m.CleanupRemovedTotal.WithLabelValues(kind).Add(float64(removed))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics
// using chi's route pattern (not the actual URL path) to avoid label
// cardinality explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
