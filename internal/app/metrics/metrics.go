package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attendme",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "attendme",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attendme",
			Subsystem: "attendance",
			Name:      "registrations_total",
			Help:      "Total number of attendance registration attempts.",
		},
		[]string{"status"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attendme",
			Subsystem: "rewards",
			Name:      "claims_total",
			Help:      "Total number of reward claim attempts.",
		},
		[]string{"status"},
	)

	claimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "attendme",
			Subsystem: "rewards",
			Name:      "claim_duration_seconds",
			Help:      "Duration of reward claims including confirmation wait.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~3.5m
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		registrations,
		claims,
		claimDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRegistration counts a registration attempt by outcome.
func RecordRegistration(status string) {
	registrations.WithLabelValues(status).Inc()
}

// RecordClaim counts a claim attempt by outcome and its duration.
func RecordClaim(status string, duration time.Duration) {
	claims.WithLabelValues(status).Inc()
	claimDuration.Observe(duration.Seconds())
}
