package monitoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/monitoring"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock { return &manualClock{now: t} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(clock core.Clock) *monitoring.Monitor {
	return monitoring.New(monitoring.Config{Clock: clock})
}

func testOp(id string) *core.SyncOperation {
	return &core.SyncOperation{ID: id, Type: core.SyncOperationIncremental, Status: core.SyncStatusRunning, StartTime: time.Now()}
}

func TestMonitor_RecordOperationStartAndComplete(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	op := testOp("op1")
	m.RecordOperationStart(op)

	report := m.GenerateReport()
	require.Equal(t, 1, report.Summary.OperationsTotal)
	require.Equal(t, 1, report.Summary.ActiveOperations)

	op.Status = core.SyncStatusCompleted
	now := clock.Now()
	op.EndTime = &now
	m.RecordOperationComplete(op, monitoring.OperationPhase{ParseTime: 10 * time.Millisecond})

	report = m.GenerateReport()
	require.Equal(t, 0, report.Summary.ActiveOperations)
	require.Len(t, report.RecentOperations, 1)
	require.Equal(t, string(core.SyncStatusCompleted), report.RecentOperations[0].Status)
}

func TestMonitor_RecordOperationFailedRaisesAlert(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	op := testOp("op1")
	m.RecordOperationStart(op)
	op.Status = core.SyncStatusFailed
	m.RecordOperationFailed(op, errors.New("store unreachable"))

	report := m.GenerateReport()
	require.Equal(t, 1, report.Summary.OperationsFailed)
	require.Equal(t, float64(1), report.Summary.ErrorRate)
	require.Len(t, report.ActiveAlerts, 1)
	require.Contains(t, report.ActiveAlerts[0].Message, "op1")
}

func TestMonitor_HealthDegradesOnConsecutiveFailures(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	for i := 0; i < 4; i++ {
		op := testOp("op" + string(rune('1'+i)))
		m.RecordOperationStart(op)
		op.Status = core.SyncStatusFailed
		m.RecordOperationFailed(op, errors.New("boom"))
	}

	report := m.GenerateReport()
	require.Equal(t, monitoring.HealthUnhealthy, report.Health)
}

func TestMonitor_HealthHealthyWithNoFailures(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	op := testOp("op1")
	m.RecordOperationStart(op)
	op.Status = core.SyncStatusCompleted
	m.RecordOperationComplete(op, monitoring.OperationPhase{})

	report := m.GenerateReport()
	require.Equal(t, monitoring.HealthHealthy, report.Health)
}

func TestMonitor_ResolveAlertIsIdempotent(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	op := testOp("op1")
	m.RecordOperationStart(op)
	op.Status = core.SyncStatusFailed
	m.RecordOperationFailed(op, errors.New("boom"))

	report := m.GenerateReport()
	require.Len(t, report.ActiveAlerts, 1)
	id := report.ActiveAlerts[0].ID

	require.True(t, m.ResolveAlert(id, "retried successfully"))
	require.False(t, m.ResolveAlert(id, "again"), "resolving an already-resolved alert returns false")

	report = m.GenerateReport()
	require.Empty(t, report.ActiveAlerts)
}

func TestMonitor_CleanupNeverRemovesUnresolvedAlerts(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	op := testOp("op1")
	m.RecordOperationStart(op)
	op.Status = core.SyncStatusFailed
	m.RecordOperationFailed(op, errors.New("boom"))

	m.Cleanup(context.Background(), 0)

	report := m.GenerateReport()
	require.Len(t, report.ActiveAlerts, 1)
}

func TestMonitor_RecordSessionSequenceAnomaly(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	m.RecordSessionSequenceAnomaly(monitoring.SequenceAnomaly{
		SessionID: "s1", SequenceNumber: 5, PreviousSequence: 3, Reason: monitoring.AnomalyOutOfOrder,
	})

	anomalies := m.Anomalies()
	require.Len(t, anomalies, 1)
	require.Equal(t, monitoring.AnomalyOutOfOrder, anomalies[0].Reason)
}

func TestMonitor_RecordConflictAndError(t *testing.T) {
	clock := newManualClock(time.Now())
	m := newTestMonitor(clock)

	m.RecordConflict(monitoring.ConflictReport{OperationID: "op1", EntityID: "e1", ConflictType: "entity_version"})
	m.RecordError("op1", errors.New("unrecoverable"))

	report := m.GenerateReport()
	require.Len(t, report.ActiveAlerts, 1, "recordError raises an alert; recordConflict only logs")
}
