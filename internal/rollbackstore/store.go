// Package rollbackstore implements the RollbackStore: durable storage for
// rollback points, their snapshots, and rollback operations, backed by a
// pluggable RelStore with an in-memory LRU cache for hot reads.
package rollbackstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/pkg/metrics"
)

// Config configures a Store.
type Config struct {
	RelStore        core.RelStore
	Clock           core.Clock
	Logger          *slog.Logger
	Metrics         *metrics.RollbackMetrics
	MaxCacheItems   int
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = core.SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultRegistry().Rollback()
	}
	if c.MaxCacheItems <= 0 {
		c.MaxCacheItems = 512
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	if c.CleanupMaxAge <= 0 {
		c.CleanupMaxAge = 24 * time.Hour
	}
}

// Store is the RollbackStore (§4.1). The cache and the durable layer are
// kept consistent under a single lock: any durable delete forces a cache
// delete and cancels the point's expiry timer.
type Store struct {
	cfg Config

	mu      sync.Mutex
	cache   *lru.Cache[string, *core.RollbackPoint]
	timers  map[string]*time.Timer
	metrics rollingMetrics

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type rollingMetrics struct {
	totalPoints          int
	successfulOperations int
	failedOperations     int
	totalDurationSum     time.Duration
	completedOperations  int
}

// New constructs a Store backed by relStore.
func New(cfg Config) (*Store, error) {
	if cfg.RelStore == nil {
		return nil, fmt.Errorf("rollbackstore: RelStore is required")
	}
	cfg.setDefaults()

	cache, err := lru.NewWithEvict[string, *core.RollbackPoint](cfg.MaxCacheItems, nil)
	if err != nil {
		return nil, fmt.Errorf("rollbackstore: build cache: %w", err)
	}

	s := &Store{
		cfg:         cfg,
		cache:       cache,
		timers:      make(map[string]*time.Timer),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	return s, nil
}

// Start begins the periodic cleanup tick.
func (s *Store) Start(ctx context.Context) {
	go s.cleanupLoop()
}

// Stop halts the periodic cleanup tick.
func (s *Store) Stop() {
	close(s.stopCleanup)
	<-s.cleanupDone
}

func (s *Store) cleanupLoop() {
	defer close(s.cleanupDone)
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed, removedOps, err := s.Cleanup(context.Background(), s.cfg.CleanupMaxAge); err != nil {
				s.cfg.Logger.Error("rollback cleanup failed", "error", err)
			} else if removed > 0 || removedOps > 0 {
				s.cfg.Logger.Info("rollback cleanup completed", "removed_points", removed, "removed_operations", removedOps)
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Store inserts a rollback point. On capacity reached, it evicts the LRU
// entry from cache only — the durable copy is retained.
func (s *Store) Store(ctx context.Context, point *core.RollbackPoint) error {
	if err := s.persistPoint(ctx, point); err != nil {
		return &core.StoreFailed{RollbackPointID: point.ID, Cause: err}
	}

	s.mu.Lock()
	if s.cache.Len() >= s.cfg.MaxCacheItems {
		s.cfg.Logger.Warn("rollback cache capacity reached, evicting LRU entry")
	}
	if s.cache.Add(point.ID, point) {
		s.cfg.Metrics.CacheEvictions.Inc()
	}
	s.metrics.totalPoints++
	s.scheduleExpiryLocked(point)
	s.mu.Unlock()

	s.cfg.Metrics.PointsTotal.Inc()
	s.cfg.Metrics.PointsActive.Inc()
	return nil
}

func (s *Store) scheduleExpiryLocked(point *core.RollbackPoint) {
	if t, ok := s.timers[point.ID]; ok {
		t.Stop()
		delete(s.timers, point.ID)
	}
	if point.ExpiresAt == nil {
		return
	}
	d := point.ExpiresAt.Sub(s.cfg.Clock.Now())
	if d < 0 {
		d = 0
	}
	s.timers[point.ID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cache.Remove(point.ID)
		delete(s.timers, point.ID)
		s.mu.Unlock()
	})
}

// Get returns a rollback point, refreshing its LRU position, or
// core.ErrNotFound / core.ErrExpired.
func (s *Store) Get(ctx context.Context, id string) (*core.RollbackPoint, error) {
	s.mu.Lock()
	if point, ok := s.cache.Get(id); ok {
		if point.Expired(s.cfg.Clock.Now()) {
			s.cache.Remove(id)
			s.mu.Unlock()
			s.cfg.Metrics.CacheMisses.Inc()
			return nil, core.ErrExpired
		}
		s.mu.Unlock()
		s.cfg.Metrics.CacheHits.Inc()
		return point, nil
	}
	s.mu.Unlock()
	s.cfg.Metrics.CacheMisses.Inc()

	point, err := s.loadPoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if point.Expired(s.cfg.Clock.Now()) {
		return nil, core.ErrExpired
	}

	s.mu.Lock()
	s.cache.Add(id, point)
	s.scheduleExpiryLocked(point)
	s.mu.Unlock()
	return point, nil
}

// List returns all non-expired points, newest first.
func (s *Store) List(ctx context.Context) ([]*core.RollbackPoint, error) {
	points, err := s.loadAllPoints(ctx, "")
	if err != nil {
		return nil, err
	}
	return filterAndSortPoints(points, s.cfg.Clock.Now()), nil
}

// ListForSession returns non-expired points for a session, newest first.
func (s *Store) ListForSession(ctx context.Context, sessionID string) ([]*core.RollbackPoint, error) {
	points, err := s.loadAllPoints(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return filterAndSortPoints(points, s.cfg.Clock.Now()), nil
}

func filterAndSortPoints(points []*core.RollbackPoint, now time.Time) []*core.RollbackPoint {
	var out []*core.RollbackPoint
	for _, p := range points {
		if !p.Expired(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Remove deletes a point, its snapshots, and related operations
// transactionally. Returns whether a row existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	existed, err := s.removePoint(ctx, id)
	if err != nil {
		return false, &core.StoreFailed{RollbackPointID: id, Cause: err}
	}

	s.mu.Lock()
	s.cache.Remove(id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if existed {
		s.cfg.Metrics.PointsActive.Dec()
	}
	return existed, nil
}

// StoreSnapshot appends a snapshot attached to rollbackPointID, computing
// size and checksum.
func (s *Store) StoreSnapshot(ctx context.Context, rollbackPointID, kind string, data []byte) (*core.Snapshot, error) {
	sum := sha256.Sum256(data)
	snap := &core.Snapshot{
		RollbackPointID: rollbackPointID,
		Type:            kind,
		Data:            data,
		SizeBytes:       int64(len(data)),
		Checksum:        hex.EncodeToString(sum[:]),
	}
	if err := s.persistSnapshot(ctx, snap); err != nil {
		return nil, &core.StoreFailed{RollbackPointID: rollbackPointID, Cause: err}
	}
	return snap, nil
}

// Snapshots returns every snapshot attached to rollbackPointID, in
// insertion order.
func (s *Store) Snapshots(ctx context.Context, rollbackPointID string) ([]*core.Snapshot, error) {
	return s.loadSnapshots(ctx, rollbackPointID)
}

// StoreOperation creates a rollback operation record.
func (s *Store) StoreOperation(ctx context.Context, op *core.RollbackOperation) error {
	if err := s.persistOperation(ctx, op); err != nil {
		return &core.StoreFailed{RollbackPointID: op.TargetRollbackPointID, Cause: err}
	}
	s.cfg.Metrics.OperationsTotal.WithLabelValues(string(op.Status)).Inc()
	return nil
}

// UpdateOperation updates an existing operation, rolling metrics forward on
// terminal transitions.
func (s *Store) UpdateOperation(ctx context.Context, op *core.RollbackOperation) error {
	existing, err := s.loadOperation(ctx, op.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return core.ErrNotFound
	}

	if err := s.updatePersistedOperation(ctx, op); err != nil {
		return &core.StoreFailed{RollbackPointID: op.TargetRollbackPointID, Cause: err}
	}

	if op.Status.IsTerminal() && !existing.Status.IsTerminal() {
		s.mu.Lock()
		switch op.Status {
		case core.RollbackOpCompleted:
			s.metrics.successfulOperations++
			if op.CompletedAt != nil {
				duration := op.CompletedAt.Sub(op.StartedAt)
				s.metrics.completedOperations++
				s.metrics.totalDurationSum += duration
				s.cfg.Metrics.OperationDuration.Observe(duration.Seconds())
			}
		case core.RollbackOpFailed:
			s.metrics.failedOperations++
		}
		s.mu.Unlock()
		s.cfg.Metrics.OperationsTotal.WithLabelValues(string(op.Status)).Inc()
	}
	return nil
}

// Cleanup removes expired points and terminal operations older than maxAge.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (removedPoints, removedOperations int, err error) {
	cutoff := s.cfg.Clock.Now().Add(-maxAge)
	removedPoints, removedOperations, err = s.cleanupPersisted(ctx, s.cfg.Clock.Now(), cutoff)
	if err != nil {
		return 0, 0, err
	}
	if removedPoints > 0 {
		s.cfg.Metrics.CleanupRemoved.WithLabelValues("points").Add(float64(removedPoints))
		s.cfg.Metrics.PointsActive.Sub(float64(removedPoints))
	}
	if removedOperations > 0 {
		s.cfg.Metrics.CleanupRemoved.WithLabelValues("operations").Add(float64(removedOperations))
	}
	return removedPoints, removedOperations, nil
}

// GetMetrics returns a snapshot of rollback store metrics.
func (s *Store) GetMetrics() core.RollbackMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := time.Duration(0)
	if s.metrics.completedOperations > 0 {
		avg = s.metrics.totalDurationSum / time.Duration(s.metrics.completedOperations)
	}
	return core.RollbackMetrics{
		TotalPoints:             s.metrics.totalPoints,
		SuccessfulOperations:    s.metrics.successfulOperations,
		FailedOperations:        s.metrics.failedOperations,
		AverageRollbackDuration: avg,
		EstimatedMemoryBytes:    s.estimateMemory(),
	}
}

func (s *Store) estimateMemory() int64 {
	// Rough estimate: cached points only, snapshot payloads live durably.
	return int64(s.cache.Len()) * 1024
}
