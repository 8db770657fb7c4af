package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/codegraph-sync/internal/syncengine/lock"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPathLock_AcquireRelease(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	pl := lock.NewPathLock(client, "/repo/a.go", &lock.Config{TTL: time.Second}, nil)

	ok, err := pl.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pl.IsAcquired())

	require.NoError(t, pl.Release(ctx))
	require.False(t, pl.IsAcquired())
}

func TestPathLock_SecondAcquireFails(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := lock.NewPathLock(client, "/repo/a.go", &lock.Config{TTL: time.Second}, nil)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := lock.NewPathLock(client, "/repo/a.go", &lock.Config{TTL: time.Second, MaxRetries: 1, RetryInterval: time.Millisecond}, nil)
	ok, err = second.AcquireWithRetry(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPathLock_ReleaseByNonHolderIsNoop(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	pl := lock.NewPathLock(client, "/repo/a.go", &lock.Config{TTL: time.Second}, nil)
	require.NoError(t, pl.Release(ctx))
	require.False(t, pl.IsAcquired())
}

func TestPathLock_Extend(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	pl := lock.NewPathLock(client, "/repo/a.go", &lock.Config{TTL: time.Second}, nil)
	ok, err := pl.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, pl.Extend(ctx, 10*time.Second))
}

func TestManager_AcquireReleaseAll(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	mgr := lock.NewManager(client, lock.Config{TTL: time.Second}, nil)

	_, err := mgr.Acquire(ctx, "/repo/a.go")
	require.NoError(t, err)
	_, err = mgr.Acquire(ctx, "/repo/b.go")
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"/repo/a.go", "/repo/b.go"}, mgr.Paths())

	_, err = mgr.Acquire(ctx, "/repo/a.go")
	require.Error(t, err, "re-acquiring a path already held by this manager should fail")

	require.NoError(t, mgr.ReleaseAll(ctx))
	require.Empty(t, mgr.Paths())
}

func TestManager_AcquireContestedPath(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	other := lock.NewPathLock(client, "/repo/a.go", &lock.Config{TTL: 5 * time.Second}, nil)
	ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mgr := lock.NewManager(client, lock.Config{TTL: time.Second, MaxRetries: 1, RetryInterval: time.Millisecond}, nil)
	_, err = mgr.Acquire(ctx, "/repo/a.go")
	require.Error(t, err)
}
