package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celo_runner",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "celo_runner",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	chainReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celo_runner",
			Subsystem: "chain",
			Name:      "reads_total",
			Help:      "Contract reads by method and result.",
		},
		[]string{"method", "result"},
	)

	chainReadAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "celo_runner",
			Subsystem: "chain",
			Name:      "read_attempts",
			Help:      "Attempts needed per contract read.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"method"},
	)

	txTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celo_runner",
			Subsystem: "tx",
			Name:      "transitions_total",
			Help:      "Write adapter lifecycle transitions.",
		},
		[]string{"operation", "state"},
	)

	txDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "celo_runner",
			Subsystem: "tx",
			Name:      "duration_seconds",
			Help:      "Time from submission to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"operation", "result"},
	)

	claimOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "celo_runner",
			Subsystem: "rewards",
			Name:      "claims_total",
			Help:      "Reward reconciliation outcomes.",
		},
		[]string{"stage", "outcome"},
	)

	scannedTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "celo_runner",
			Subsystem: "marketplace",
			Name:      "scanned_tokens",
			Help:      "Tokens discovered by the last marketplace scan.",
		},
	)
)

func init() {
	Registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		chainReads,
		chainReadAttempts,
		txTransitions,
		txDuration,
		claimOutcomes,
		scannedTokens,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Routes are labelled by their chi pattern to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade needs the raw ResponseWriter to hijack.
		if r.URL.Path == "/metrics" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordRead records one contract read and the attempts it took.
func RecordRead(method string, attempts int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	chainReads.WithLabelValues(method, result).Inc()
	chainReadAttempts.WithLabelValues(method).Observe(float64(attempts))
}

// RecordTxTransition records a write adapter state change.
func RecordTxTransition(operation, state string) {
	if operation == "" {
		operation = "unknown"
	}
	txTransitions.WithLabelValues(operation, state).Inc()
}

// RecordTxSettled records how long a transaction took to settle.
func RecordTxSettled(operation string, duration time.Duration, success bool) {
	result := "error"
	if success {
		result = "success"
	}
	txDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordClaim records a reward reconciliation outcome.
func RecordClaim(stage int64, outcome string) {
	claimOutcomes.WithLabelValues(strconv.FormatInt(stage, 10), outcome).Inc()
}

// SetScannedTokens records the size of the last marketplace scan.
func SetScannedTokens(n int) {
	scannedTokens.Set(float64(n))
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

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
