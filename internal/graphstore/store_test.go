package graphstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/graphstore"
	"github.com/vitaliisemenov/codegraph-sync/internal/relstore/migrations"
	"github.com/vitaliisemenov/codegraph-sync/internal/relstore/sqlite"
)

func newTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "graph.db")
	rel, err := sqlite.New(ctx, dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rel.Close() })

	require.NoError(t, migrations.Up(ctx, rel.DB(), migrations.Config{Dialect: "sqlite3"}))

	store, err := graphstore.New(graphstore.Config{RelStore: rel})
	require.NoError(t, err)
	return store
}

func testEntity(id string) core.Entity {
	return core.Entity{
		ID:           id,
		Kind:         core.EntityKindFile,
		Path:         "a/" + id + ".go",
		Hash:         "hash-" + id,
		LastModified: time.Now().UTC().Truncate(time.Second),
		Attrs:        map[string]any{"lines": 42},
	}
}

func TestStore_UpsertEntitiesCountsCreatedThenUpdated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	epoch := core.Epoch{Seq: 1, Timestamp: time.Now()}

	report, err := store.UpsertEntities(ctx, epoch, []core.Entity{testEntity("e1")}, core.UpsertOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.Equal(t, 0, report.Updated)

	updated := testEntity("e1")
	updated.Hash = "hash-e1-v2"
	report, err = store.UpsertEntities(ctx, core.Epoch{Seq: 2}, []core.Entity{updated}, core.UpsertOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, report.Created)
	require.Equal(t, 1, report.Updated)
}

func TestStore_DeleteEntityHidesFromEntityByIDQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertEntities(ctx, core.Epoch{Seq: 1}, []core.Entity{testEntity("e1")}, core.UpsertOptions{})
	require.NoError(t, err)

	rows, err := store.Query(ctx, "entity_by_id", map[string]any{"id": "e1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, store.DeleteEntity(ctx, "e1", core.Epoch{Seq: 2}))

	rows, err = store.Query(ctx, "entity_by_id", map[string]any{"id": "e1"})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStore_SnapshotAndRestoreSnapshotsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertEntities(ctx, core.Epoch{Seq: 1}, []core.Entity{testEntity("e1"), testEntity("e2")}, core.UpsertOptions{})
	require.NoError(t, err)

	snaps, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	_, err = store.UpsertEntities(ctx, core.Epoch{Seq: 2}, []core.Entity{testEntity("e3")}, core.UpsertOptions{})
	require.NoError(t, err)

	rows, err := store.Query(ctx, "entities_by_path_prefix", map[string]any{"prefix": "a/"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, store.RestoreSnapshots(ctx, snaps))

	rows, err = store.Query(ctx, "entities_by_path_prefix", map[string]any{"prefix": "a/"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStore_HealthCheckSucceedsAgainstLiveStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestStore_QueryUnsupportedNameReturnsError(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Query(context.Background(), "drop tables", nil)
	require.Error(t, err)
}
