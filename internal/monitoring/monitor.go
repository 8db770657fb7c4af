// Package monitoring implements the Monitoring component: operation
// lifecycle tracking, aggregate health derivation, and bounded alert/log
// history for the sync engine.
package monitoring

import (
	"container/ring"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/pkg/metrics"
)

const (
	maxAlerts     = 100
	maxLogEntries = 1000
	maxAnomalies  = 100
	maxHistory    = 10 // consecutiveFailures scans at most this many recent ops
)

// Config configures a Monitor.
type Config struct {
	Clock              core.Clock
	Logger             *slog.Logger
	Metrics            *metrics.MonitoringMetrics
	HealthCheckInterval time.Duration
	IDGen              core.IDGen
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = core.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultRegistry().Monitoring()
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
}

// Monitor is the Monitoring component. All mutable state is guarded by mu;
// readers receive copies.
type Monitor struct {
	cfg Config

	mu          sync.Mutex
	operations  map[string]*opRecord
	history     []OperationRecord // bounded, append-only by recordOperationComplete/Failed
	alerts      []Alert
	logs        []LogEntry
	anomalies   *ring.Ring
	anomalyCounts map[SequenceAnomalyReason]int
	performance PerformanceMetrics
	opsTotal    int
	opsFailed   int

	stop chan struct{}
	done chan struct{}
}

type opRecord struct {
	op       *core.SyncOperation
	progress map[string]int // phase -> progress
	started  time.Time
}

// New constructs a Monitor.
func New(cfg Config) *Monitor {
	cfg.setDefaults()
	return &Monitor{
		cfg:           cfg,
		operations:    make(map[string]*opRecord),
		anomalies:     ring.New(maxAnomalies),
		anomalyCounts: make(map[SequenceAnomalyReason]int),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins the background health-check ticker.
func (m *Monitor) Start(ctx context.Context) {
	go m.healthCheckLoop(ctx)
}

// Stop halts the background health-check ticker.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) healthCheckLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			status := m.healthStatusLocked()
			m.appendLog(LogInfo, "", "healthCheck", map[string]any{"status": string(status)})
			m.mu.Unlock()
			if status != HealthHealthy {
				severity := AlertWarning
				if status == HealthUnhealthy {
					severity = AlertError
				}
				m.raiseAlert(severity, fmt.Sprintf("sync engine health is %s", status), "")
			}
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		}
	}
}

// RecordOperationStart registers a new operation.
func (m *Monitor) RecordOperationStart(op *core.SyncOperation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.operations[op.ID] = &opRecord{op: op.Clone(), progress: make(map[string]int), started: m.cfg.Clock.Now()}
	m.opsTotal++
	m.cfg.Metrics.ActiveOperations().Inc()
	m.appendLog(LogInfo, op.ID, "operationStarted", nil)
	m.cfg.Logger.Info("sync operation started", "operation_id", op.ID, "type", op.Type)
}

// RecordOperationProgress updates the latest-phase map for op. It does not
// touch terminal counters.
func (m *Monitor) RecordOperationProgress(opID string, phase string, progress int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.operations[opID]
	if !ok {
		return
	}
	rec.progress[phase] = progress
	m.appendLog(LogInfo, opID, "operationProgress", map[string]any{"phase": phase, "progress": progress})
}

// RecordOperationComplete marks op completed and rolls performance metrics
// forward from its measured phase.
func (m *Monitor) RecordOperationComplete(op *core.SyncOperation, phase OperationPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op.Status = core.SyncStatusCompleted
	if op.EndTime == nil {
		now := m.cfg.Clock.Now()
		op.EndTime = &now
	}
	m.finishOperationLocked(op)
	m.updatePerformanceLocked(phase)
	m.appendLog(LogInfo, op.ID, "operationCompleted", map[string]any{
		"entities_total":      op.Counters.TotalEntities(),
		"relationships_total": op.Counters.TotalRelationships(),
	})
	m.cfg.Logger.Info("sync operation completed", "operation_id", op.ID,
		"entities", op.Counters.TotalEntities(), "relationships", op.Counters.TotalRelationships())
}

// RecordOperationFailed marks op failed, recomputes the error rate, and
// raises an alert.
func (m *Monitor) RecordOperationFailed(op *core.SyncOperation, cause error) {
	m.mu.Lock()
	m.opsFailed++
	op.Status = core.SyncStatusFailed
	if op.EndTime == nil {
		now := m.cfg.Clock.Now()
		op.EndTime = &now
	}
	m.finishOperationLocked(op)
	errRate := m.errorRateLocked()
	m.cfg.Metrics.ErrorRate.Set(errRate)
	m.appendLog(LogError, op.ID, "operationFailed", map[string]any{"error": cause.Error()})
	m.mu.Unlock()

	m.cfg.Logger.Error("sync operation failed", "operation_id", op.ID, "error", cause)
	m.raiseAlert(AlertError, fmt.Sprintf("operation %s failed: %s", op.ID, normalizeError(cause)), op.ID)
}

func (m *Monitor) finishOperationLocked(op *core.SyncOperation) {
	rec, ok := m.operations[op.ID]
	if ok {
		rec.op = op.Clone()
	}
	delete(m.operations, op.ID)
	m.cfg.Metrics.ActiveOperations().Dec()

	record := OperationRecord{ID: op.ID, Status: string(op.Status), StartTime: op.StartTime, EndTime: op.EndTime}
	m.history = append(m.history, record)
	if len(m.history) > maxHistory*4 {
		// Keep a modest multiple of the consecutive-failure scan window so
		// generateReport's recentOperations stays representative without
		// growing unbounded.
		m.history = m.history[len(m.history)-maxHistory*4:]
	}
}

func (m *Monitor) updatePerformanceLocked(phase OperationPhase) {
	if phase.ParseTime > 0 {
		m.performance.AverageParseTime = rollingAverage(m.performance.AverageParseTime, phase.ParseTime)
	}
	if phase.GraphUpdateTime > 0 {
		m.performance.AverageGraphUpdateTime = rollingAverage(m.performance.AverageGraphUpdateTime, phase.GraphUpdateTime)
	}
	if phase.EmbeddingTime > 0 {
		m.performance.AverageEmbeddingTime = rollingAverage(m.performance.AverageEmbeddingTime, phase.EmbeddingTime)
	}
	if phase.CacheHitRate > 0 {
		m.performance.CacheHitRate = phase.CacheHitRate
	}
	if phase.IOWaitTime > 0 {
		m.performance.IOWaitTime = phase.IOWaitTime
	}
	if phase.MemoryUsageBytes > 0 {
		m.performance.MemoryUsageBytes = phase.MemoryUsageBytes
	}
}

func rollingAverage(prev, sample time.Duration) time.Duration {
	if prev == 0 {
		return sample
	}
	return (prev + sample) / 2
}

// RecordConflict logs a detected conflict at warn level.
func (m *Monitor) RecordConflict(c ConflictReport) {
	m.mu.Lock()
	m.appendLog(LogWarn, c.OperationID, "conflictDetected", map[string]any{
		"entity_id": c.EntityID, "conflict_type": c.ConflictType, "resolution": c.Resolution,
	})
	m.mu.Unlock()
	m.cfg.Logger.Warn("conflict detected", "operation_id", c.OperationID, "entity_id", c.EntityID, "type", c.ConflictType)
}

// RecordError logs opID's non-recoverable error and raises an alert.
func (m *Monitor) RecordError(opID string, err error) {
	m.mu.Lock()
	m.appendLog(LogError, opID, "error", map[string]any{"error": err.Error()})
	m.mu.Unlock()

	m.cfg.Logger.Error("operation error", "operation_id", opID, "error", err)
	m.raiseAlert(AlertError, fmt.Sprintf("operation %s: %s", opID, normalizeError(err)), opID)
}

// RecordSessionSequenceAnomaly records an out-of-order or duplicated event.
func (m *Monitor) RecordSessionSequenceAnomaly(a SequenceAnomaly) {
	m.mu.Lock()
	a.Timestamp = m.cfg.Clock.Now()
	m.anomalies.Value = a
	m.anomalies = m.anomalies.Next()
	m.anomalyCounts[a.Reason]++
	m.mu.Unlock()

	m.cfg.Metrics.SequenceAnomalies.WithLabelValues(string(a.Reason)).Inc()
	m.cfg.Logger.Warn("session sequence anomaly", "session_id", a.SessionID, "reason", a.Reason,
		"sequence", a.SequenceNumber, "previous", a.PreviousSequence)
}

// RecordCheckpointMetrics stores the most recent checkpoint job metrics.
func (m *Monitor) RecordCheckpointMetrics(snapshot map[string]any) {
	m.mu.Lock()
	m.appendLog(LogInfo, "", "checkpointMetricsUpdated", cloneMap(snapshot))
	m.mu.Unlock()
}

// ResolveAlert resolves the unresolved alert with the given id, if any.
// Idempotent: resolving an already-resolved or unknown alert returns false.
func (m *Monitor) ResolveAlert(id, resolution string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == id && !m.alerts[i].Resolved {
			m.alerts[i].Resolved = true
			m.alerts[i].Resolution = resolution
			m.cfg.Metrics.AlertsActive.Dec()
			return true
		}
	}
	return false
}

// Cleanup trims history and logs. With maxAge == 0 it heuristically chooses
// between an age-based trim (when both old and recent entries exist) and a
// full reset of bounded history/logs; unresolved alerts are never removed.
func (m *Monitor) Cleanup(ctx context.Context, maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock.Now()
	if maxAge <= 0 {
		oldest, newest, ok := m.historySpanLocked()
		if ok && newest.Sub(oldest) > time.Hour {
			maxAge = time.Hour
		} else {
			m.history = nil
			m.logs = nil
			m.retainUnresolvedAlertsLocked()
			return
		}
	}

	cutoff := now.Add(-maxAge)
	filteredHistory := m.history[:0:0]
	for _, h := range m.history {
		if h.StartTime.After(cutoff) {
			filteredHistory = append(filteredHistory, h)
		}
	}
	m.history = filteredHistory

	filteredLogs := m.logs[:0:0]
	for _, l := range m.logs {
		if l.Timestamp.After(cutoff) {
			filteredLogs = append(filteredLogs, l)
		}
	}
	m.logs = filteredLogs

	m.retainUnresolvedAlertsLocked()
}

func (m *Monitor) retainUnresolvedAlertsLocked() {
	kept := m.alerts[:0:0]
	for _, a := range m.alerts {
		if !a.Resolved {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

func (m *Monitor) historySpanLocked() (oldest, newest time.Time, ok bool) {
	if len(m.history) == 0 {
		return time.Time{}, time.Time{}, false
	}
	oldest, newest = m.history[0].StartTime, m.history[0].StartTime
	for _, h := range m.history {
		if h.StartTime.Before(oldest) {
			oldest = h.StartTime
		}
		if h.StartTime.After(newest) {
			newest = h.StartTime
		}
	}
	return oldest, newest, true
}

// GenerateReport returns a snapshot of the monitoring state.
func (m *Monitor) GenerateReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make([]Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}

	recent := append([]OperationRecord(nil), m.history...)

	return Report{
		Summary: SyncSummary{
			OperationsTotal:     m.opsTotal,
			OperationsFailed:    m.opsFailed,
			ActiveOperations:    len(m.operations),
			ErrorRate:           m.errorRateLocked(),
			ThroughputPerMinute: m.throughputLocked(),
		},
		Performance:      m.performance,
		Health:           m.healthStatusLocked(),
		RecentOperations: recent,
		ActiveAlerts:     active,
	}
}

func (m *Monitor) errorRateLocked() float64 {
	if m.opsTotal == 0 {
		return 0
	}
	return float64(m.opsFailed) / float64(m.opsTotal)
}

// throughputLocked estimates operations-per-minute over the last 5 minutes
// of recorded history.
func (m *Monitor) throughputLocked() float64 {
	if len(m.history) == 0 {
		return 0
	}
	cutoff := m.cfg.Clock.Now().Add(-5 * time.Minute)
	count := 0
	for _, h := range m.history {
		if h.StartTime.After(cutoff) {
			count++
		}
	}
	return float64(count) / 5.0
}

// consecutiveFailuresLocked scans the most recent history entries, newest
// first, up to maxHistory, counting a contiguous run of failures.
func (m *Monitor) consecutiveFailuresLocked() int {
	count := 0
	for i := len(m.history) - 1; i >= 0 && len(m.history)-i <= maxHistory; i-- {
		if m.history[i].Status == string(core.SyncStatusFailed) {
			count++
			continue
		}
		break
	}
	return count
}

func (m *Monitor) healthStatusLocked() HealthStatus {
	failures := m.consecutiveFailuresLocked()
	m.cfg.Metrics.ConsecutiveFailures.Set(float64(failures))

	var status HealthStatus
	switch {
	case failures > 3:
		status = HealthUnhealthy
	case failures > 0 || m.errorRateLocked() > 0.1:
		status = HealthDegraded
	default:
		status = HealthHealthy
	}

	healthValue := map[HealthStatus]float64{HealthHealthy: 0, HealthDegraded: 1, HealthUnhealthy: 2}
	m.cfg.Metrics.Health.Set(healthValue[status])
	return status
}

func (m *Monitor) raiseAlert(severity AlertSeverity, message, operationID string) {
	m.mu.Lock()
	id := m.nextAlertIDLocked()
	alert := Alert{ID: id, Type: severity, Message: message, Timestamp: m.cfg.Clock.Now(), OperationID: operationID}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	m.mu.Unlock()

	m.cfg.Metrics.AlertsRaised.WithLabelValues(string(severity)).Inc()
	m.cfg.Metrics.AlertsActive.Inc()
}

// Anomalies returns the most recently recorded session sequence anomalies,
// oldest first, capped at the last maxAnomalies.
func (m *Monitor) Anomalies() []SequenceAnomaly {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SequenceAnomaly
	m.anomalies.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(SequenceAnomaly))
	})
	return out
}

func (m *Monitor) nextAlertIDLocked() string {
	if m.cfg.IDGen != nil {
		return m.cfg.IDGen.NewOperationID()
	}
	return fmt.Sprintf("alert-%d", m.cfg.Clock.Now().UnixNano())
}

func (m *Monitor) appendLog(level LogLevel, operationID, message string, data map[string]any) {
	m.logs = append(m.logs, LogEntry{
		Timestamp:   m.cfg.Clock.Now(),
		Level:       level,
		OperationID: operationID,
		Message:     message,
		Data:        data,
	})
	if len(m.logs) > maxLogEntries {
		m.logs = m.logs[len(m.logs)-maxLogEntries:]
	}
}

func normalizeError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
