package kukuh

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle and
// the reliability layers. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterTokens *prometheus.GaugeVec

	asyncPollsTotal      *prometheus.CounterVec
	asyncOperationsTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, letting tests and multi-client setups isolate their metrics.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kukuh_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kukuh_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kukuh_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kukuh_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kukuh_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kukuh_rate_limiter_tokens",
				Help: "Current rate limiter token allowance",
			},
			[]string{"name"},
		),
		asyncPollsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kukuh_async_polls_total",
				Help: "Total number of async operation status polls issued",
			},
			[]string{"endpoint"},
		),
		asyncOperationsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kukuh_async_operations_total",
				Help: "Total number of async (202 Accepted) operations by outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kukuh_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRequest records a finished request with its final status code.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, code, endpoint).Observe(duration.Seconds())
}

// RecordRetry records a retry attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState records the breaker state for the named breaker.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	mc.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimiterTokens records the current token allowance of a limiter.
func (mc *MetricsCollector) RecordRateLimiterTokens(name string, tokens float64) {
	mc.rateLimiterTokens.WithLabelValues(name).Set(tokens)
}

// RecordAsyncPoll records a single status poll against a Location URL.
func (mc *MetricsCollector) RecordAsyncPoll(endpoint string) {
	mc.asyncPollsTotal.WithLabelValues(endpoint).Inc()
}

// RecordAsyncOutcome records the terminal outcome of an async operation:
// "complete", "failed" or "timeout".
func (mc *MetricsCollector) RecordAsyncOutcome(endpoint, outcome string) {
	mc.asyncOperationsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordError records an error occurrence by taxonomy type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}
