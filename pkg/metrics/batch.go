package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BatchMetrics tracks BatchProcessor micro-batch throughput.
type BatchMetrics struct {
	BatchesTotal      *prometheus.CounterVec
	ItemsProcessed    *prometheus.CounterVec
	ItemsFailed       *prometheus.CounterVec
	BatchDuration     *prometheus.HistogramVec
	IdempotencyHits   prometheus.Counter
	ActiveBatches     prometheus.Gauge
	DependencyCycles  prometheus.Counter
}

// NewBatchMetrics registers the BatchProcessor's metrics under namespace.
func NewBatchMetrics(namespace string) *BatchMetrics {
	return &BatchMetrics{
		BatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "batches_total",
				Help:      "Total micro-batches processed by item kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ItemsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "items_processed_total",
				Help:      "Total items successfully committed by kind",
			},
			[]string{"kind"},
		),
		ItemsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "items_failed_total",
				Help:      "Total items that failed validation or commit by kind",
			},
			[]string{"kind"},
		),
		BatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "duration_seconds",
				Help:      "Micro-batch commit duration",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind"},
		),
		IdempotencyHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "idempotency_cache_hits_total",
				Help:      "Batches short-circuited by a cached idempotency-key result",
			},
		),
		ActiveBatches: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "active_batches",
				Help:      "Micro-batches currently in flight",
			},
		),
		DependencyCycles: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "dependency_cycles_total",
				Help:      "Cycles detected while building a change-fragment dependency DAG",
			},
		),
	}
}
