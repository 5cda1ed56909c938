package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

// Payment verification metrics.
var (
	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Payment verification attempts by terminal result.",
		},
		[]string{"result"},
	)

	planConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plan_cas_conflicts_total",
		Help: "Compare-and-set conflicts observed while committing plan changes.",
	})

	authDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_denials_total",
			Help: "Rejected privileged requests by reason code.",
		},
		[]string{"reason"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		verificationsTotal, planConflictsTotal, authDenialsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady reflects the latest readiness probe outcome.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// ObserveVerification counts one terminal verification outcome
// ("verified", "failed", "replayed", "gateway_unavailable").
func ObserveVerification(result string) {
	verificationsTotal.WithLabelValues(result).Inc()
}

// ObservePlanConflict counts one compare-and-set conflict.
func ObservePlanConflict() {
	planConflictsTotal.Inc()
}

// ObserveAuthDenial counts one rejected privileged request.
func ObserveAuthDenial(reason string) {
	authDenialsTotal.WithLabelValues(reason).Inc()
}

// Instrument wraps a handler with in-flight/RPS/latency measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
