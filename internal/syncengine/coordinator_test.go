package syncengine_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/codegraph-sync/internal/batch"
	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/monitoring"
	"github.com/vitaliisemenov/codegraph-sync/internal/relstore/migrations"
	"github.com/vitaliisemenov/codegraph-sync/internal/relstore/sqlite"
	"github.com/vitaliisemenov/codegraph-sync/internal/rollbackstore"
	"github.com/vitaliisemenov/codegraph-sync/internal/syncengine"
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

// fakeParser returns one entity fragment per path. It can be configured to
// fail specific paths, or to block on a gate until released, to make
// contention between operations deterministic in tests.
type fakeParser struct {
	mu      sync.Mutex
	failFor map[string]bool
	gate    chan struct{}
	calls   int
}

func newFakeParser() *fakeParser { return &fakeParser{failFor: make(map[string]bool)} }

func (f *fakeParser) ParseFile(ctx context.Context, path string) (core.ParseResult, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failFor[path]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return core.ParseResult{}, ctx.Err()
		}
	}

	if fail {
		return core.ParseResult{}, errors.New("simulated parse failure")
	}

	return core.ParseResult{
		Fragments: []core.ChangeFragment{
			{
				ID:   path,
				Kind: core.FragmentKindEntity,
				Op:   core.FragmentOpAdd,
				Data: core.Entity{
					ID:   path,
					Kind: core.EntityKindFile,
					Path: path,
					Hash: "hash-" + path,
				},
				Confidence: 1,
			},
		},
	}, nil
}

// fakeGraphStore records upserts and can be configured to report a conflict
// or a hard failure for a given entity id, and to fail restores.
type fakeGraphStore struct {
	mu           sync.Mutex
	upserted     []core.Entity
	conflictFor  map[string]bool
	failFor      map[string]bool
	restoreErr   error
	restoreCalls int
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{conflictFor: make(map[string]bool), failFor: make(map[string]bool)}
}

func (f *fakeGraphStore) UpsertEntities(ctx context.Context, epoch core.Epoch, b []core.Entity, opts core.UpsertOptions) (core.UpsertReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range b {
		if f.failFor[e.ID] {
			return core.UpsertReport{}, errors.New("simulated store failure")
		}
	}

	report := core.UpsertReport{}
	for _, e := range b {
		f.upserted = append(f.upserted, e)
		if f.conflictFor[e.ID] {
			report.Conflicts = append(report.Conflicts, core.Conflict{
				Type: core.ConflictTypeEntityVersion, EntityID: e.ID,
			})
			continue
		}
		report.Created++
	}
	return report, nil
}

func (f *fakeGraphStore) UpsertRelationships(ctx context.Context, epoch core.Epoch, b []core.Relationship, opts core.UpsertOptions) (core.UpsertReport, error) {
	return core.UpsertReport{Created: len(b)}, nil
}

func (f *fakeGraphStore) DeleteEntity(ctx context.Context, id string, epoch core.Epoch) error {
	return nil
}

func (f *fakeGraphStore) Query(ctx context.Context, q string, params map[string]any) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeGraphStore) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeGraphStore) RestoreSnapshots(ctx context.Context, snapshots []core.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restoreCalls++
	return f.restoreErr
}

func (f *fakeGraphStore) Snapshot(ctx context.Context) ([]core.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.Marshal(f.upserted)
	if err != nil {
		return nil, err
	}
	return []core.Snapshot{{Type: "entities", Data: data, SizeBytes: int64(len(data))}}, nil
}

func newTestRollbackStore(t *testing.T, clock core.Clock) *rollbackstore.Store {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "rollback.db")
	rel, err := sqlite.New(ctx, dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rel.Close() })

	require.NoError(t, migrations.Up(ctx, rel.DB(), migrations.Config{Dialect: "sqlite3"}))

	store, err := rollbackstore.New(rollbackstore.Config{RelStore: rel, Clock: clock, MaxCacheItems: 16})
	require.NoError(t, err)
	return store
}

type harness struct {
	coord  *syncengine.Coordinator
	parser *fakeParser
	store  *fakeGraphStore
	clock  *manualClock
}

func newHarness(t *testing.T, configure func(*syncengine.Config)) *harness {
	t.Helper()

	clock := newManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	parser := newFakeParser()
	store := newFakeGraphStore()

	proc, err := batch.New(batch.Config{
		Store:                 store,
		EntityBatchSize:       10,
		RelationshipBatchSize: 10,
		MaxConcurrentBatches:  2,
		Clock:                 clock,
	})
	require.NoError(t, err)
	require.NoError(t, proc.Start(context.Background()))
	t.Cleanup(func() { _ = proc.Stop(time.Second) })

	mon := monitoring.New(monitoring.Config{Clock: clock})

	rbStore := newTestRollbackStore(t, clock)

	cfg := syncengine.Config{
		Parser:                  parser,
		GraphStore:              store,
		BatchProcessor:          proc,
		Monitor:                 mon,
		RollbackStore:           rbStore,
		Clock:                   clock,
		MaxConcurrentOperations: 2,
		MaxInFlightParses:       4,
		MaxQueuedFragments:      100,
	}
	if configure != nil {
		configure(&cfg)
	}

	coord, err := syncengine.New(cfg)
	require.NoError(t, err)

	return &harness{coord: coord, parser: parser, store: store, clock: clock}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestCoordinator_StartFullProcessesAllFiles(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a")
	writeFile(t, filepath.Join(root, "b.go"), "package a")

	op, err := h.coord.StartFull(context.Background(), []string{root}, syncengine.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, core.SyncStatusCompleted, op.Status)
	require.Equal(t, 2, op.FilesProcessed)
	require.Equal(t, 2, op.Counters.EntitiesCreated)
}

func TestCoordinator_OnlyOneFullOperationAtATime(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a")

	h.parser.mu.Lock()
	h.parser.gate = make(chan struct{})
	gate := h.parser.gate
	h.parser.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.StartFull(context.Background(), []string{root}, syncengine.StartOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool {
		_, err := h.coord.StartFull(context.Background(), nil, syncengine.StartOptions{})
		return err != nil
	}, time.Second, time.Millisecond)

	close(gate)
	require.NoError(t, <-done)
}

func TestCoordinator_ConflictsResolvedAndReported(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	path := filepath.Join(root, "conflict.go")
	writeFile(t, path, "package a")
	h.store.mu.Lock()
	h.store.conflictFor[path] = true
	h.store.mu.Unlock()

	op, err := h.coord.StartFull(context.Background(), []string{root}, syncengine.StartOptions{})
	require.NoError(t, err)
	require.Len(t, op.Conflicts, 1)
	require.Equal(t, "incoming_wins", op.Conflicts[0].Resolution)
}

func TestCoordinator_ParseFailureRecordsErrorWithoutAbortingOperation(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	badPath := filepath.Join(root, "bad.go")
	writeFile(t, badPath, "package a")
	writeFile(t, filepath.Join(root, "good.go"), "package a")

	h.parser.mu.Lock()
	h.parser.failFor[badPath] = true
	h.parser.mu.Unlock()

	op, err := h.coord.StartFull(context.Background(), []string{root}, syncengine.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, core.SyncStatusCompleted, op.Status)
	require.NotEmpty(t, op.Errors)
	require.Equal(t, 1, op.FilesProcessed)
}

func TestCoordinator_RollbackOnFailureRestoresPreOperationCheckpoint(t *testing.T) {
	h := newHarness(t, nil)
	root := t.TempDir()
	badPath := filepath.Join(root, "bad.go")
	writeFile(t, badPath, "package a")

	h.store.mu.Lock()
	h.store.failFor[badPath] = true
	h.store.mu.Unlock()

	_, err := h.coord.StartFull(context.Background(), []string{root}, syncengine.StartOptions{RollbackOnFailure: true})
	require.Error(t, err)

	h.store.mu.Lock()
	calls := h.store.restoreCalls
	h.store.mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestCoordinator_CancelUnknownOperationReturnsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	err := h.coord.Cancel("does-not-exist")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestCoordinator_CreateAndRollbackToPoint(t *testing.T) {
	h := newHarness(t, nil)
	point, err := h.coord.CreateRollbackPoint(context.Background(), "checkpoint-1", "test checkpoint", nil, "session-1")
	require.NoError(t, err)

	rbOp, err := h.coord.RollbackTo(context.Background(), point.ID)
	require.NoError(t, err)
	require.Equal(t, core.RollbackOpCompleted, rbOp.Status)

	h.store.mu.Lock()
	calls := h.store.restoreCalls
	h.store.mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestCoordinator_StatusReflectsNoActiveOperations(t *testing.T) {
	h := newHarness(t, nil)
	status := h.coord.Status()
	require.Equal(t, 0, status.ActiveOperations)
	require.Equal(t, 0, status.QueueDepth)
}
