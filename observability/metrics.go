package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncMetricsOnce sync.Once
	syncRegistry    *SyncMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// SyncMetrics instruments the registry fetch and cache layers.
type SyncMetrics struct {
	fetches        *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	cacheFallbacks prometheus.Counter
	sweepRemoved   prometheus.Counter
	watcherEvents  prometheus.Counter
}

// Sync returns the lazily-initialised sync metrics registry.
func Sync() *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncRegistry = &SyncMetrics{
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basetip",
				Subsystem: "sync",
				Name:      "fetches_total",
				Help:      "Registry fetch attempts segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basetip",
				Subsystem: "sync",
				Name:      "fetch_duration_seconds",
				Help:      "Registry fetch latency by operation.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "basetip",
				Subsystem: "sync",
				Name:      "cache_hits_total",
				Help:      "Reads answered from the persistent cache without a live fetch.",
			}),
			cacheFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "basetip",
				Subsystem: "sync",
				Name:      "cache_fallbacks_total",
				Help:      "Reads served from cache because the live fetch failed.",
			}),
			sweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "basetip",
				Subsystem: "sync",
				Name:      "sweep_removed_total",
				Help:      "Expired cache rows removed by sweeps.",
			}),
			watcherEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "basetip",
				Subsystem: "sync",
				Name:      "registration_events_total",
				Help:      "Registration events processed by the live listener.",
			}),
		}
		prometheus.MustRegister(
			syncRegistry.fetches,
			syncRegistry.fetchLatency,
			syncRegistry.cacheHits,
			syncRegistry.cacheFallbacks,
			syncRegistry.sweepRemoved,
			syncRegistry.watcherEvents,
		)
	})
	return syncRegistry
}

// ObserveFetch records one registry fetch attempt.
func (m *SyncMetrics) ObserveFetch(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(op, outcome).Inc()
	m.fetchLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// CacheHit records a read answered from cache without attempting a fetch.
func (m *SyncMetrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// CacheFallback records a read served from cache after a failed fetch.
func (m *SyncMetrics) CacheFallback() {
	if m != nil {
		m.cacheFallbacks.Inc()
	}
}

// SweepRemoved records rows removed by an expiry sweep.
func (m *SyncMetrics) SweepRemoved(n int64) {
	if m != nil && n > 0 {
		m.sweepRemoved.Add(float64(n))
	}
}

// RegistrationEvent records one processed live registration event.
func (m *SyncMetrics) RegistrationEvent() {
	if m != nil {
		m.watcherEvents.Inc()
	}
}

// GatewayMetrics instruments the HTTP read API.
type GatewayMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Gateway returns the lazily-initialised gateway metrics registry.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "basetip",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway requests segmented by route and status class.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "basetip",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Gateway request latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(gatewayRegistry.requests, gatewayRegistry.latency)
	})
	return gatewayRegistry
}

// ObserveRequest records one gateway request.
func (m *GatewayMetrics) ObserveRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, status).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}
