package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Manager tracks path locks held by this process so the sync coordinator can
// release them in bulk (e.g. on commit-phase abort or shutdown).
type Manager struct {
	redis  *redis.Client
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*PathLock
}

// NewManager constructs a Manager. cfg may be the zero value to take all defaults.
func NewManager(redisClient *redis.Client, cfg Config, logger *slog.Logger) *Manager {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		redis:  redisClient,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*PathLock),
	}
}

// Acquire takes the lock for path, retrying per the manager's configured
// MaxRetries, and tracks it for later release.
func (m *Manager) Acquire(ctx context.Context, path string) (*PathLock, error) {
	m.mu.Lock()
	if existing, ok := m.locks[path]; ok && existing.IsAcquired() {
		m.mu.Unlock()
		return nil, fmt.Errorf("syncengine/lock: path %q already locked by this manager", path)
	}
	m.mu.Unlock()

	pl := NewPathLock(m.redis, path, &m.cfg, m.logger)
	ok, err := pl.AcquireWithRetry(ctx, m.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("syncengine/lock: acquire %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("syncengine/lock: path %q is locked by another holder", path)
	}

	m.mu.Lock()
	m.locks[path] = pl
	m.mu.Unlock()
	return pl, nil
}

// Release releases the lock held for path, if any.
func (m *Manager) Release(ctx context.Context, path string) error {
	m.mu.Lock()
	pl, ok := m.locks[path]
	if ok {
		delete(m.locks, path)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return pl.Release(ctx)
}

// ReleaseAll releases every lock currently tracked by this manager, collecting
// (not short-circuiting on) individual release errors.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	locks := make([]*PathLock, 0, len(m.locks))
	for path, pl := range m.locks {
		locks = append(locks, pl)
		delete(m.locks, path)
	}
	m.mu.Unlock()

	var firstErr error
	for _, pl := range locks {
		if err := pl.Release(ctx); err != nil {
			m.logger.Error("failed to release path lock during ReleaseAll", "path", pl.Path(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Get returns the tracked lock for path, if this manager currently holds one.
func (m *Manager) Get(path string) (*PathLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, ok := m.locks[path]
	return pl, ok
}

// Paths returns the set of paths currently locked by this manager.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.locks))
	for path := range m.locks {
		paths = append(paths, path)
	}
	return paths
}

// Close releases every held lock. Safe to call multiple times.
func (m *Manager) Close(ctx context.Context) error {
	return m.ReleaseAll(ctx)
}
