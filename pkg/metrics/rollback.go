package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RollbackMetrics tracks RollbackStore persistence and cache behavior.
type RollbackMetrics struct {
	PointsTotal       prometheus.Counter
	PointsActive      prometheus.Gauge
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CacheEvictions    prometheus.Counter
	OperationsTotal   *prometheus.CounterVec
	OperationDuration prometheus.Histogram
	CleanupRemoved    *prometheus.CounterVec
}

// NewRollbackMetrics registers the RollbackStore's metrics under namespace.
func NewRollbackMetrics(namespace string) *RollbackMetrics {
	return &RollbackMetrics{
		PointsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "points_stored_total",
				Help:      "Total rollback points accepted by store()",
			},
		),
		PointsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "points_active",
				Help:      "Rollback points stored and not yet removed by remove() or cleanup()",
			},
		),
		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "cache_hits_total",
				Help:      "LRU cache hits on get()",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "cache_misses_total",
				Help:      "LRU cache misses that fell through to the durable store",
			},
		),
		CacheEvictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "cache_evictions_total",
				Help:      "LRU evictions triggered by capacity-reached",
			},
		),
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "operations_total",
				Help:      "Rollback operations by terminal status",
			},
			[]string{"status"},
		),
		OperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "operation_duration_seconds",
				Help:      "Rollback operation duration, completed operations only",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		CleanupRemoved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "cleanup_removed_total",
				Help:      "Rows removed by cleanup(), by row kind",
			},
			[]string{"kind"},
		),
	}
}
