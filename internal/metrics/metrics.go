// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_items_total",
			Help: "Total number of work items that reached a terminal state, labeled by source and status.",
		},
		[]string{"source", "status"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_retries_total",
			Help: "Total number of retry decisions, labeled by source and status code class.",
		},
		[]string{"source", "class"},
	)

	backoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_backoff_seconds",
			Help:    "Histogram of backoff waits chosen by the retry policy.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Histogram of single fetch attempt latencies.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	pacerWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_pacer_wait_seconds",
			Help:    "Histogram of time spent waiting for pacer admission.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	pausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_batch_pauses_total",
			Help: "Total number of batch pauses taken.",
		},
	)

	checkpointSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_checkpoint_saves_total",
			Help: "Total number of checkpoint saves, labeled by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	orchestrationFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_orchestration_faults_total",
			Help: "Total number of faults caught by the orchestration safety net.",
		},
	)

	remainingItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvest_remaining_items",
			Help: "Number of work items not yet processed.",
		},
		[]string{"source"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_http_requests_total",
			Help: "Total number of requests served by the status API, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_http_request_duration_seconds",
			Help:    "Histogram of status API latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveItem counts a terminal item result.
func ObserveItem(source, status string) {
	itemsTotal.WithLabelValues(source, status).Inc()
}

// ObserveRetry counts a retry decision and the wait chosen for it.
func ObserveRetry(source string, statusCode int, delay time.Duration) {
	retriesTotal.WithLabelValues(source, StatusClass(statusCode)).Inc()
	backoffSeconds.WithLabelValues(source).Observe(delay.Seconds())
}

// ObserveFetch records a single attempt latency.
func ObserveFetch(source string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObservePacerWait records time spent waiting for pacer admission.
func ObservePacerWait(duration time.Duration) {
	pacerWaitSeconds.Observe(duration.Seconds())
}

// ObservePause counts a batch pause.
func ObservePause() {
	pausesTotal.Inc()
}

// ObserveCheckpointSave counts a checkpoint save attempt.
func ObserveCheckpointSave(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	checkpointSavesTotal.WithLabelValues(trigger, result).Inc()
}

// ObserveOrchestrationFault counts a fault caught by the safety net.
func ObserveOrchestrationFault() {
	orchestrationFaultsTotal.Inc()
}

// SetRemaining publishes the outstanding item count for a source.
func SetRemaining(source string, n int) {
	remainingItems.WithLabelValues(source).Set(float64(n))
}

// ObserveHTTPRequest increments the status API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StatusClass groups HTTP status codes; 0 means a transport failure.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "transport"
	case code == http.StatusTooManyRequests:
		return "429"
	case code == http.StatusForbidden:
		return "403"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
