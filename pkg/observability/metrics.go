package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathwise_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathwise_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Generation pipeline metrics
	generationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathwise_generation_runs_total",
			Help: "Total number of generation runs by outcome",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathwise_generation_duration_seconds",
			Help:    "Generation run duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	repairCallsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pathwise_repair_calls_total",
			Help: "Total number of fallback repair calls issued",
		},
	)

	assessmentsPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pathwise_assessments_persisted_total",
			Help: "Total number of assessments committed to the persistence backend",
		},
	)

	// Admission metrics
	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathwise_rate_limited_total",
			Help: "Total number of requests denied by the rate limiter",
		},
		[]string{"action"},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathwise_active_sessions",
			Help: "Number of sessions currently held in the store",
		},
	)

	sessionsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pathwise_sessions_evicted_total",
			Help: "Total number of sessions removed by garbage collection",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			generationRunsTotal,
			generationDuration,
			repairCallsTotal,
			assessmentsPersistedTotal,
			rateLimitedTotal,
			activeSessions,
			sessionsEvictedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records a finished generation run.
func RecordGeneration(outcome string, duration time.Duration) {
	generationRunsTotal.WithLabelValues(outcome).Inc()
	generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRepairCall counts a fallback repair call.
func RecordRepairCall() {
	repairCallsTotal.Inc()
}

// RecordAssessmentPersisted counts a committed assessment.
func RecordAssessmentPersisted() {
	assessmentsPersistedTotal.Inc()
}

// RecordRateLimited counts a denied request.
func RecordRateLimited(action string) {
	rateLimitedTotal.WithLabelValues(action).Inc()
}

// SetActiveSessions sets the live session gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// RecordSessionsEvicted counts sessions removed by garbage collection.
func RecordSessionsEvicted(count int) {
	sessionsEvictedTotal.Add(float64(count))
}
