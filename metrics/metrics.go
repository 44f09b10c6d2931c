// Package metrics exposes Prometheus instrumentation for the resilience
// layers. A nil *Collector is valid and records nothing, so components can
// carry one unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the metric families for the gateway's request lifecycle
// and resilience layers. It is safe for concurrent use.
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	rateLimitTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	breakerState *prometheus.GaugeVec

	dedupHits *prometheus.CounterVec

	internalErrors *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector creates a collector on the default registerer.
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector using the supplied registerer.
// Tests pass a fresh prometheus.NewRegistry so runs never collide.
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "breakwater_request_duration_seconds",
				Help:    "Duration of handled HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		requestsInFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "breakwater_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
		rateLimitTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_rate_limit_decisions_total",
				Help: "Rate limiter decisions by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),
		cacheHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_cache_hits_total",
				Help: "Cache hits by tier",
			},
			[]string{"tier"},
		),
		cacheMisses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_cache_misses_total",
				Help: "Cache misses by tier",
			},
			[]string{"tier"},
		),
		breakerState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "breakwater_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		dedupHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_dedup_hits_total",
				Help: "Requests absorbed by a deduplication layer, by mode",
			},
			[]string{"mode"},
		),
		internalErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_internal_errors_total",
				Help: "Swallowed internal errors by component, visible here instead of to clients",
			},
			[]string{"component"},
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}
	return c
}

// Handler serves the collector's registry in Prometheus exposition format.
// Falls back to the default registry when the registerer cannot gather.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// RecordRequest records a handled request with its status and duration.
func (c *Collector) RecordRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (c *Collector) RecordRequestStart() {
	if c == nil {
		return
	}
	c.requestsInFlight.Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (c *Collector) RecordRequestEnd() {
	if c == nil {
		return
	}
	c.requestsInFlight.Dec()
}

// RecordRateLimit records one limiter decision.
func (c *Collector) RecordRateLimit(scope, outcome string) {
	if c == nil {
		return
	}
	c.rateLimitTotal.WithLabelValues(scope, outcome).Inc()
}

// RecordCacheHit records a hit on the named tier.
func (c *Collector) RecordCacheHit(tier string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a miss on the named tier.
func (c *Collector) RecordCacheMiss(tier string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(tier).Inc()
}

// RecordBreakerState sets the state gauge for a named breaker.
func (c *Collector) RecordBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordDedupHit records a request absorbed by a dedup layer.
func (c *Collector) RecordDedupHit(mode string) {
	if c == nil {
		return
	}
	c.dedupHits.WithLabelValues(mode).Inc()
}

// RecordInternalError records a swallowed error inside a component.
func (c *Collector) RecordInternalError(component string) {
	if c == nil {
		return
	}
	c.internalErrors.WithLabelValues(component).Inc()
}
