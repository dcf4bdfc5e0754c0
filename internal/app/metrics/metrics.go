package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "route_optimizer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "route_optimizer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "route_optimizer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	requestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "route_optimizer",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Total number of request status transitions.",
		},
		[]string{"to"},
	)

	timeoutsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "route_optimizer",
			Subsystem: "lifecycle",
			Name:      "timeouts_total",
			Help:      "Total number of timeouts detected, by kind.",
		},
		[]string{"kind"},
	)

	oracleCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "route_optimizer",
			Subsystem: "oracle",
			Name:      "callbacks_total",
			Help:      "Total number of decryption callbacks, by outcome.",
		},
		[]string{"outcome"},
	)

	refundsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "route_optimizer",
			Subsystem: "settlement",
			Name:      "refunds_total",
			Help:      "Total number of stake refunds issued.",
		},
	)

	refundAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "route_optimizer",
			Subsystem: "settlement",
			Name:      "refund_amount_total",
			Help:      "Total amount refunded to requesters.",
		},
	)

	feesWithdrawn = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "route_optimizer",
			Subsystem: "settlement",
			Name:      "fees_withdrawn_total",
			Help:      "Total fee amount withdrawn from the pool.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		requestTransitions,
		timeoutsDetected,
		oracleCallbacks,
		refundsIssued,
		refundAmount,
		feesWithdrawn,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransition records a status transition.
func RecordTransition(to string) {
	requestTransitions.WithLabelValues(to).Inc()
}

// RecordTimeout records a detected timeout. Kind is "request" or "processing".
func RecordTimeout(kind string) {
	timeoutsDetected.WithLabelValues(kind).Inc()
}

// RecordCallback records a decryption callback outcome:
// "finalized", "rejected_proof", "unknown_correlation", or "stale".
func RecordCallback(outcome string) {
	oracleCallbacks.WithLabelValues(outcome).Inc()
}

// RecordRefund records an issued stake refund.
func RecordRefund(amount int64) {
	refundsIssued.Inc()
	if amount > 0 {
		refundAmount.Add(float64(amount))
	}
}

// RecordFeeWithdrawal records a fee pool withdrawal.
func RecordFeeWithdrawal(amount int64) {
	if amount > 0 {
		feesWithdrawn.Add(float64(amount))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "requests" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/requests"
	}
	if len(parts) == 2 {
		return "/requests/:id"
	}
	return "/requests/:id/" + parts[2]
}
