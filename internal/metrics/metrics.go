// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheStatsFunc reports cumulative cache hits and misses.
type CacheStatsFunc func() (hits, misses uint64)

// Metrics bundles the daemon's collectors behind one registry.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	cacheHits   prometheus.CounterFunc
	cacheMisses prometheus.CounterFunc
	queueLen    prometheus.GaugeFunc
}

// New creates the collectors. pendingFn reports the notify queue depth
// and cacheFn the cache hit/miss counters; either may be nil.
func New(pendingFn func() int, cacheFn CacheStatsFunc) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskdesk_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskdesk_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	if cacheFn == nil {
		cacheFn = func() (uint64, uint64) { return 0, 0 }
	}
	m.cacheHits = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name:        "taskdesk_cache_requests_total",
		Help:        "Cache lookups by outcome (hit or miss).",
		ConstLabels: prometheus.Labels{"outcome": "hit"},
	}, func() float64 { h, _ := cacheFn(); return float64(h) })
	m.cacheMisses = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name:        "taskdesk_cache_requests_total",
		Help:        "Cache lookups by outcome (hit or miss).",
		ConstLabels: prometheus.Labels{"outcome": "miss"},
	}, func() float64 { _, mi := cacheFn(); return float64(mi) })

	if pendingFn == nil {
		pendingFn = func() int { return 0 }
	}
	m.queueLen = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "taskdesk_notify_queue_pending",
		Help: "Notifications queued and not yet delivered.",
	}, func() float64 { return float64(pendingFn()) })

	m.registry.MustRegister(m.requests, m.duration, m.cacheHits, m.cacheMisses, m.queueLen)
	return m
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}
