// Package telemetry exposes the service's Prometheus metrics: cache
// hit/miss counters, per-upstream rate-limit usage gauges, a fetch-latency
// histogram, and circuit-breaker state gauges.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/pricecache/internal/cache"
	"github.com/sawpanic/pricecache/internal/quota"
)

// Metrics owns the registry and every collector the service exports.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits    prometheus.Gauge
	cacheMisses  prometheus.Gauge
	cacheSize    prometheus.Gauge
	quotaUsage   *prometheus.GaugeVec
	quotaLimit   *prometheus.GaugeVec
	fetchLatency *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
}

// New registers all collectors against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricecache",
			Name:      "cache_hits_total",
			Help:      "Cumulative number of Cache.Get calls that returned a fresh value.",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricecache",
			Name:      "cache_misses_total",
			Help:      "Cumulative number of Cache.Get calls that found no fresh value.",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricecache",
			Name:      "cache_entries",
			Help:      "Current number of entries held in the cache.",
		}),
		quotaUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pricecache",
			Name:      "quota_used",
			Help:      "Requests recorded against an upstream within the current rate-limit window.",
		}, []string{"upstream"}),
		quotaLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pricecache",
			Name:      "quota_limit",
			Help:      "Configured request quota for an upstream within the rate-limit window.",
		}, []string{"upstream"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pricecache",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent materialising a fresh value for a key, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"key", "outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pricecache",
			Name:      "circuit_breaker_state",
			Help:      "0=closed, 1=half-open, 2=open.",
		}, []string{"upstream"}),
	}

	reg.MustRegister(m.cacheHits, m.cacheMisses, m.cacheSize, m.quotaUsage, m.quotaLimit, m.fetchLatency, m.breakerState)
	return m
}

// ObserveFetch records how long a fetchAndCache call took for key.
func (m *Metrics) ObserveFetch(key, outcome string, d time.Duration) {
	m.fetchLatency.WithLabelValues(key, outcome).Observe(d.Seconds())
}

// SetBreakerState records a circuit breaker's current state as a gauge.
func (m *Metrics) SetBreakerState(upstream, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	default:
		v = 0
	}
	m.breakerState.WithLabelValues(upstream).Set(v)
}

// SyncCache pulls a Cache.Stats snapshot into the hit/miss/size gauges.
// Cache.Stats already reports cumulative totals, so these are set rather
// than incremented; calling this repeatedly from the HTTP handler is safe.
func (m *Metrics) SyncCache(stats cache.Stats) {
	m.cacheSize.Set(float64(stats.Size))
	m.cacheHits.Set(float64(stats.Hits))
	m.cacheMisses.Set(float64(stats.Misses))
}

// SyncQuota pulls one upstream's quota.Usage snapshot into the gauges.
func (m *Metrics) SyncQuota(upstream string, usage quota.Usage) {
	m.quotaUsage.WithLabelValues(upstream).Set(float64(usage.Used))
	m.quotaLimit.WithLabelValues(upstream).Set(float64(usage.Limit))
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
