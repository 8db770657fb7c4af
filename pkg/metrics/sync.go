package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics tracks SyncCoordinator operation lifecycle.
type SyncMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ActiveOperations  prometheus.Gauge
	ConflictsTotal    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
}

// NewSyncMetrics registers the SyncCoordinator's metrics under namespace.
func NewSyncMetrics(namespace string) *SyncMetrics {
	return &SyncMetrics{
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "operations_total",
				Help:      "Total sync operations by type and terminal status",
			},
			[]string{"type", "status"},
		),
		OperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "operation_duration_seconds",
				Help:      "Sync operation wall-clock duration",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"type"},
		),
		ActiveOperations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "active_operations",
				Help:      "Number of operations currently running or pending",
			},
		),
		ConflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "conflicts_total",
				Help:      "Total conflicts detected by type",
			},
			[]string{"type"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "queue_depth",
				Help:      "Number of change fragments reserved for in-flight commits",
			},
		),
	}
}
