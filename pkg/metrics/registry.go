// Package metrics provides centralized Prometheus metrics for the sync engine.
//
// Metrics are organized by the component that owns them, following a single
// naming convention:
//
//	codegraph_sync_<component>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Sync().OperationsTotal.WithLabelValues("full", "completed").Inc()
package metrics

import (
	"sync"
)

// MetricsRegistry is the central registry for every Prometheus metric the
// sync engine exposes. Categories are lazily constructed on first access so
// a process that never touches rollback storage, for example, never pays
// for its metrics.
//
// Thread-safe: all Prometheus metrics are thread-safe by design.
type MetricsRegistry struct {
	namespace string

	sync       *SyncMetrics
	batch      *BatchMetrics
	rollback   *RollbackMetrics
	monitoring *MonitoringMetrics

	syncOnce       sync.Once
	batchOnce      sync.Once
	rollbackOnce   sync.Once
	monitoringOnce sync.Once
}

var (
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide metrics registry.
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("codegraph_sync")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a registry under the given namespace. Its
// collectors are still registered with promauto against the global
// Prometheus registry, so building the same category twice under one
// namespace panics on duplicate registration; a distinct namespace avoids
// that.
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "codegraph_sync"
	}
	return &MetricsRegistry{namespace: namespace}
}

// Sync returns metrics owned by the SyncCoordinator.
func (r *MetricsRegistry) Sync() *SyncMetrics {
	r.syncOnce.Do(func() {
		r.sync = NewSyncMetrics(r.namespace)
	})
	return r.sync
}

// Batch returns metrics owned by the BatchProcessor.
func (r *MetricsRegistry) Batch() *BatchMetrics {
	r.batchOnce.Do(func() {
		r.batch = NewBatchMetrics(r.namespace)
	})
	return r.batch
}

// Rollback returns metrics owned by the RollbackStore.
func (r *MetricsRegistry) Rollback() *RollbackMetrics {
	r.rollbackOnce.Do(func() {
		r.rollback = NewRollbackMetrics(r.namespace)
	})
	return r.rollback
}

// Monitoring returns metrics owned by the Monitoring component itself
// (health gauge, alert/log bookkeeping).
func (r *MetricsRegistry) Monitoring() *MonitoringMetrics {
	r.monitoringOnce.Do(func() {
		r.monitoring = NewMonitoringMetrics(r.namespace)
	})
	return r.monitoring
}

// Namespace returns the configured namespace for this registry.
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}
