package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for transport, cache and feed activity.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	optimisticInserts *prometheus.CounterVec
	reconciles        *prometheus.CounterVec
	snapshotMerges    *prometheus.CounterVec
	snapshotSize      *prometheus.HistogramVec
	syncWarnings      *prometheus.CounterVec
	droppedEvents     *prometheus.CounterVec
	membershipResults *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache writes",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		optimisticInserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_optimistic_inserts_total",
			Help: "Placeholders inserted before server confirmation",
		}, []string{"kind"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_reconciles_total",
			Help: "Reconciliation outcomes",
		}, []string{"kind", "outcome"}),
		snapshotMerges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_snapshot_merges_total",
			Help: "Server snapshots merged into a scope",
		}, []string{"kind"}),
		snapshotSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feed_snapshot_items",
			Help:    "Items per merged snapshot",
			Buckets: []float64{0, 10, 50, 100, 200, 500},
		}, []string{"kind"}),
		syncWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_sync_warnings_total",
			Help: "Mutations kept locally after a backend failure",
		}, []string{"operation"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_events_dropped_total",
			Help: "Feed events discarded because the viewer's delivery lane was full",
		}, []string{"type"}),
		membershipResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membership_resolutions_total",
			Help: "Membership resolutions by result",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed_active_sessions",
			Help: "Open viewer sessions",
		}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal,
		m.cacheLatency, m.cacheWrite, m.cacheHits, m.cacheMisses,
		m.dbQueryDuration,
		m.optimisticInserts, m.reconciles, m.snapshotMerges, m.snapshotSize, m.syncWarnings,
		m.droppedEvents, m.membershipResults, m.activeSessions,
		goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Registry exposes the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordOptimisticInsert counts a placeholder insert for the scope kind (post, comment).
func (m *MetricsService) RecordOptimisticInsert(kind string) {
	if m == nil {
		return
	}
	m.optimisticInserts.WithLabelValues(kind).Inc()
}

// RecordReconcile counts a reconciliation outcome.
func (m *MetricsService) RecordReconcile(kind, outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(kind, outcome).Inc()
}

// RecordSnapshotMerge counts a merged snapshot and its size.
func (m *MetricsService) RecordSnapshotMerge(kind string, items int) {
	if m == nil {
		return
	}
	m.snapshotMerges.WithLabelValues(kind).Inc()
	m.snapshotSize.WithLabelValues(kind).Observe(float64(items))
}

// RecordSyncWarning counts a mutation that could not be synced.
func (m *MetricsService) RecordSyncWarning(operation string) {
	if m == nil {
		return
	}
	m.syncWarnings.WithLabelValues(operation).Inc()
}

// RecordDroppedEvent counts an event discarded under queue saturation.
func (m *MetricsService) RecordDroppedEvent(eventType string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(eventType).Inc()
}

// RecordMembershipResolution counts a resolver result (resolved, cached, failed, superseded).
func (m *MetricsService) RecordMembershipResolution(result string) {
	if m == nil {
		return
	}
	m.membershipResults.WithLabelValues(result).Inc()
}

// SetActiveSessions reports the open viewer session count.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
