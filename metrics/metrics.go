// Package metrics provides Prometheus metrics for the HTTP surface and
// the resolution pipeline: request totals and latency, compute outcomes,
// registry call and cache activity, SIG interpretation sources, and
// circuit breaker states.
//
// All metrics are registered with the Prometheus default registry during
// package initialization.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limiter_buckets_total",
			Help: "Total number of rate limiter buckets (IPs seen in last ~5 minutes)",
		},
	)

	ComputeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compute_requests_total",
			Help: "Quantity computations by outcome",
		},
		[]string{"outcome"},
	)

	ComputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compute_duration_seconds",
			Help:    "End-to-end quantity computation latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	RegistryCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_calls_total",
			Help: "Upstream registry calls by registry and outcome",
		},
		[]string{"registry", "outcome"},
	)

	RegistryCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_cache_events_total",
			Help: "Registry cache lookups by cache and event",
		},
		[]string{"cache", "event"},
	)

	RegistryCacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_cache_entries",
			Help: "Current number of entries per registry cache",
		},
		[]string{"cache"},
	)

	SIGInterpretations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sig_interpretations_total",
			Help: "SIG interpretations by resolution source",
		},
		[]string{"source"},
	)

	FallbackRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sig_fallback_requests_total",
			Help: "Text-understanding fallback calls by outcome",
		},
		[]string{"outcome"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimiterBucketsTotal)
	prometheus.MustRegister(ComputeTotal)
	prometheus.MustRegister(ComputeDuration)
	prometheus.MustRegister(RegistryCallsTotal)
	prometheus.MustRegister(RegistryCacheEvents)
	prometheus.MustRegister(RegistryCacheEntries)
	prometheus.MustRegister(SIGInterpretations)
	prometheus.MustRegister(FallbackRequestsTotal)
	prometheus.MustRegister(BreakerState)
}
