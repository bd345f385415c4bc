package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts finished HTTP requests by method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_http_requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "status"})

	// HTTPRequestDuration observes request latency by method.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tally_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// EngineOperations counts balance engine operations by outcome.
	EngineOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_engine_operations_total",
		Help: "Balance engine operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	// SuspiciousRequests counts requests flagged by probe detection.
	SuspiciousRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_suspicious_requests_total",
		Help: "Requests matching known probe patterns.",
	})

	// EventsPublished counts AMQP balance event publish attempts.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_events_published_total",
		Help: "Balance events published to AMQP by outcome.",
	}, []string{"outcome"})
)

// ObserveEngineOp records one engine operation result.
func ObserveEngineOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EngineOperations.WithLabelValues(operation, outcome).Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments every request with count and latency metrics.
// Labels are kept to method and status so path parameters cannot blow
// up cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
