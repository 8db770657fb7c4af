package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MonitoringMetrics tracks the Monitoring component's own bookkeeping:
// health state, alert volume, and anomaly counts. Operation/batch counters
// live in SyncMetrics/BatchMetrics since those components own the events;
// Monitoring only aggregates them into health.
type MonitoringMetrics struct {
	Health             prometheus.Gauge // 0 healthy, 1 degraded, 2 unhealthy
	AlertsRaised       *prometheus.CounterVec
	AlertsActive       prometheus.Gauge
	ConsecutiveFailures prometheus.Gauge
	ErrorRate          prometheus.Gauge
	SequenceAnomalies  *prometheus.CounterVec
	ActiveOperationsGauge prometheus.Gauge
}

// ActiveOperations returns the gauge tracking non-terminal operations.
func (m *MonitoringMetrics) ActiveOperations() prometheus.Gauge { return m.ActiveOperationsGauge }

// NewMonitoringMetrics registers Monitoring's own metrics under namespace.
func NewMonitoringMetrics(namespace string) *MonitoringMetrics {
	return &MonitoringMetrics{
		Health: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitoring",
				Name:      "health",
				Help:      "Derived health: 0=healthy 1=degraded 2=unhealthy",
			},
		),
		AlertsRaised: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitoring",
				Name:      "alerts_raised_total",
				Help:      "Alerts raised by severity",
			},
			[]string{"severity"},
		),
		AlertsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitoring",
				Name:      "alerts_active",
				Help:      "Unresolved alerts currently retained",
			},
		),
		ConsecutiveFailures: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitoring",
				Name:      "consecutive_failures",
				Help:      "Count of the most recent contiguous failed operations",
			},
		),
		ErrorRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitoring",
				Name:      "error_rate",
				Help:      "operationsFailed / operationsTotal",
			},
		),
		SequenceAnomalies: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitoring",
				Name:      "sequence_anomalies_total",
				Help:      "Session sequence anomalies by reason",
			},
			[]string{"reason"},
		),
		ActiveOperationsGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitoring",
				Name:      "active_operations",
				Help:      "Non-terminal sync operations currently tracked",
			},
		),
	}
}
