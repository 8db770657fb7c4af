package rollbackstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/relstore/migrations"
	"github.com/vitaliisemenov/codegraph-sync/internal/relstore/sqlite"
	"github.com/vitaliisemenov/codegraph-sync/internal/rollbackstore"
)

// manualClock lets tests control time deterministically for expiry behavior.
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

func newTestStore(t *testing.T, clock core.Clock) *rollbackstore.Store {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "rollback.db")
	rel, err := sqlite.New(ctx, dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rel.Close() })

	require.NoError(t, migrations.Up(ctx, rel.DB(), migrations.Config{Dialect: "sqlite3"}))

	store, err := rollbackstore.New(rollbackstore.Config{
		RelStore:      rel,
		Clock:         clock,
		MaxCacheItems: 2,
	})
	require.NoError(t, err)
	return store
}

func testPoint(id string, expiresAt *time.Time, ts time.Time) *core.RollbackPoint {
	return &core.RollbackPoint{
		ID:        id,
		Name:      "point-" + id,
		Timestamp: ts,
		ExpiresAt: expiresAt,
		SessionID: "session-1",
	}
}

func TestStore_StoreAndGet(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock)
	ctx := context.Background()

	p := testPoint("p1", nil, clock.Now())
	require.NoError(t, store.Store(ctx, p))

	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "p1", got.ID)
}

func TestStore_GetNotFound(t *testing.T) {
	store := newTestStore(t, newManualClock(time.Now()))
	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_CacheEvictionRetainsDurable(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock) // MaxCacheItems: 2
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, testPoint("p1", nil, clock.Now())))
	require.NoError(t, store.Store(ctx, testPoint("p2", nil, clock.Now())))
	require.NoError(t, store.Store(ctx, testPoint("p3", nil, clock.Now())))

	// p1 should have been evicted from cache but is still durable.
	got, err := store.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "p1", got.ID)
}

func TestStore_ExpiryViaTimer(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock)
	ctx := context.Background()

	expiresAt := clock.Now().Add(20 * time.Millisecond)
	require.NoError(t, store.Store(ctx, testPoint("p1", &expiresAt, clock.Now())))

	require.Eventually(t, func() bool {
		clock.Advance(30 * time.Millisecond)
		_, err := store.Get(ctx, "p1")
		return errors.Is(err, core.ErrExpired) || errors.Is(err, core.ErrNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestStore_ListExcludesExpired(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock)
	ctx := context.Background()

	past := clock.Now().Add(-time.Hour)
	require.NoError(t, store.Store(ctx, testPoint("expired", &past, clock.Now().Add(-2*time.Hour))))
	require.NoError(t, store.Store(ctx, testPoint("active", nil, clock.Now())))

	points, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "active", points[0].ID)
}

func TestStore_ListForSession(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock)
	ctx := context.Background()

	p := testPoint("p1", nil, clock.Now())
	p.SessionID = "session-a"
	require.NoError(t, store.Store(ctx, p))

	other := testPoint("p2", nil, clock.Now())
	other.SessionID = "session-b"
	require.NoError(t, store.Store(ctx, other))

	points, err := store.ListForSession(ctx, "session-a")
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "p1", points[0].ID)
}

func TestStore_RemoveCascadesSnapshotsAndOperations(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock)
	ctx := context.Background()

	p := testPoint("p1", nil, clock.Now())
	require.NoError(t, store.Store(ctx, p))

	_, err := store.StoreSnapshot(ctx, "p1", "graph", []byte("payload"))
	require.NoError(t, err)

	op := &core.RollbackOperation{
		ID:                    "op1",
		TargetRollbackPointID: "p1",
		Status:                core.RollbackOpPending,
		StartedAt:             clock.Now(),
	}
	require.NoError(t, store.StoreOperation(ctx, op))

	existed, err := store.Remove(ctx, "p1")
	require.NoError(t, err)
	require.True(t, existed)

	_, err = store.Get(ctx, "p1")
	require.ErrorIs(t, err, core.ErrNotFound)

	existedAgain, err := store.Remove(ctx, "p1")
	require.NoError(t, err)
	require.False(t, existedAgain, "removing a nonexistent point returns existed=false")
}

func TestStore_UpdateOperationRollsUpMetricsOnce(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock)
	ctx := context.Background()

	p := testPoint("p1", nil, clock.Now())
	require.NoError(t, store.Store(ctx, p))

	op := &core.RollbackOperation{
		ID:                    "op1",
		TargetRollbackPointID: "p1",
		Status:                core.RollbackOpRunning,
		StartedAt:             clock.Now(),
	}
	require.NoError(t, store.StoreOperation(ctx, op))

	completedAt := clock.Now().Add(2 * time.Second)
	op.Status = core.RollbackOpCompleted
	op.CompletedAt = &completedAt
	require.NoError(t, store.UpdateOperation(ctx, op))

	metrics := store.GetMetrics()
	require.Equal(t, 1, metrics.SuccessfulOperations)
	require.InDelta(t, 2*time.Second, metrics.AverageRollbackDuration, float64(time.Millisecond))

	// A second update with the same terminal status must not double-count.
	require.NoError(t, store.UpdateOperation(ctx, op))
	metrics = store.GetMetrics()
	require.Equal(t, 1, metrics.SuccessfulOperations)
}

func TestStore_UpdateOperationNotFound(t *testing.T) {
	store := newTestStore(t, newManualClock(time.Now()))
	err := store.UpdateOperation(context.Background(), &core.RollbackOperation{ID: "missing", TargetRollbackPointID: "p1"})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_CleanupRemovesExpiredAndOldTerminalOperations(t *testing.T) {
	clock := newManualClock(time.Now())
	store := newTestStore(t, clock)
	ctx := context.Background()

	past := clock.Now().Add(-time.Minute)
	require.NoError(t, store.Store(ctx, testPoint("expired", &past, clock.Now().Add(-2*time.Hour))))
	require.NoError(t, store.Store(ctx, testPoint("still-active", nil, clock.Now())))

	op := &core.RollbackOperation{
		ID:                    "op-old",
		TargetRollbackPointID: "still-active",
		Status:                core.RollbackOpCompleted,
		StartedAt:             clock.Now().Add(-48 * time.Hour),
	}
	completedAt := clock.Now().Add(-48 * time.Hour)
	op.CompletedAt = &completedAt
	require.NoError(t, store.StoreOperation(ctx, op))
	require.NoError(t, store.UpdateOperation(ctx, op))

	removedPoints, removedOps, err := store.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removedPoints, 1)
	require.GreaterOrEqual(t, removedOps, 1)
}
