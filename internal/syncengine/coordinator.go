// Package syncengine implements the SyncCoordinator (§4.4): it translates a
// stream of file-change events into correctly-ordered, monitored,
// recoverable sync operations, driving the BatchProcessor, RollbackStore,
// and Monitoring components.
package syncengine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vitaliisemenov/codegraph-sync/internal/batch"
	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/monitoring"
	"github.com/vitaliisemenov/codegraph-sync/internal/rollbackstore"
	"github.com/vitaliisemenov/codegraph-sync/internal/syncengine/lock"
	"github.com/vitaliisemenov/codegraph-sync/pkg/metrics"
)

// Config configures a Coordinator.
type Config struct {
	Parser         core.Parser
	GraphStore     core.GraphStore
	BatchProcessor *batch.Processor
	Monitor        *monitoring.Monitor
	RollbackStore  *rollbackstore.Store
	LockManager    *lock.Manager // nil disables per-path advisory locking
	Clock          core.Clock
	IDGen          core.IDGen
	Logger         *slog.Logger
	Metrics        *metrics.SyncMetrics

	MaxConcurrentOperations int
	MaxInFlightParses       int
	MaxQueuedFragments      int
	RollbackTimeout         time.Duration
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = core.SystemClock{}
	}
	if c.IDGen == nil {
		c.IDGen = core.UUIDGen{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultRegistry().Sync()
	}
	if c.MaxConcurrentOperations <= 0 {
		c.MaxConcurrentOperations = 4
	}
	if c.MaxInFlightParses <= 0 {
		c.MaxInFlightParses = 8
	}
	if c.MaxQueuedFragments <= 0 {
		c.MaxQueuedFragments = 10000
	}
	if c.RollbackTimeout <= 0 {
		c.RollbackTimeout = 5 * time.Minute
	}
}

// Coordinator is the SyncCoordinator.
type Coordinator struct {
	cfg Config
	bus *subscriberBus

	fullMu         sync.Mutex
	fullRunning    bool
	incrementalSem *semaphore.Weighted
	parseSem       *semaphore.Weighted
	fragmentSem    *semaphore.Weighted
	queuedFragments atomic.Int64

	mu         sync.Mutex
	operations map[string]*runningOperation
}

type runningOperation struct {
	op       *core.SyncOperation
	cancel   context.CancelFunc
	cancelled bool
}

// New constructs a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Parser == nil {
		return nil, fmt.Errorf("syncengine: Parser is required")
	}
	if cfg.BatchProcessor == nil {
		return nil, fmt.Errorf("syncengine: BatchProcessor is required")
	}
	if cfg.Monitor == nil {
		return nil, fmt.Errorf("syncengine: Monitor is required")
	}
	if cfg.RollbackStore == nil {
		return nil, fmt.Errorf("syncengine: RollbackStore is required")
	}
	if cfg.GraphStore == nil {
		return nil, fmt.Errorf("syncengine: GraphStore is required")
	}
	cfg.setDefaults()

	return &Coordinator{
		cfg:            cfg,
		bus:            newSubscriberBus(),
		incrementalSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentOperations)),
		parseSem:       semaphore.NewWeighted(int64(cfg.MaxInFlightParses)),
		fragmentSem:    semaphore.NewWeighted(int64(cfg.MaxQueuedFragments)),
		operations:     make(map[string]*runningOperation),
	}, nil
}

// Subscribe returns a channel receiving every Event of the given type.
func (c *Coordinator) Subscribe(event EventType) <-chan Event {
	return c.bus.Subscribe(event)
}

// StartFull scans every path in roots and runs one long-running full
// SyncOperation. Only one full operation may run at a time.
func (c *Coordinator) StartFull(ctx context.Context, roots []string, opts StartOptions) (*core.SyncOperation, error) {
	c.fullMu.Lock()
	if c.fullRunning {
		c.fullMu.Unlock()
		return nil, fmt.Errorf("syncengine: a full operation is already running")
	}
	c.fullRunning = true
	c.fullMu.Unlock()
	defer func() {
		c.fullMu.Lock()
		c.fullRunning = false
		c.fullMu.Unlock()
	}()

	paths, err := scanRoots(roots)
	if err != nil {
		return nil, fmt.Errorf("syncengine: scan roots: %w", err)
	}

	op := c.newOperation(core.SyncOperationFull)
	return op, c.runPipeline(ctx, op, paths, opts)
}

// StartIncremental processes a delta of file-change events, producing an
// incremental (or partial, for a single-file delta) SyncOperation.
// incremental operations may overlap up to MaxConcurrentOperations.
func (c *Coordinator) StartIncremental(ctx context.Context, changeSet []core.FileChangeEvent, opts StartOptions) (*core.SyncOperation, error) {
	if err := c.incrementalSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("syncengine: acquire operation slot: %w", err)
	}
	defer c.incrementalSem.Release(1)

	opType := core.SyncOperationIncremental
	if len(changeSet) == 1 {
		opType = core.SyncOperationPartial
	}

	paths := make([]string, 0, len(changeSet))
	for _, ev := range changeSet {
		if ev.ChangeType != core.FileChangeDelete {
			paths = append(paths, ev.Path)
		}
	}

	op := c.newOperation(opType)
	return op, c.runPipeline(ctx, op, paths, opts)
}

func (c *Coordinator) newOperation(t core.SyncOperationType) *core.SyncOperation {
	return &core.SyncOperation{
		ID:        c.cfg.IDGen.NewOperationID(),
		Type:      t,
		Status:    core.SyncStatusPending,
		StartTime: c.cfg.Clock.Now(),
	}
}

// Cancel cooperatively cancels a running or pending operation.
func (c *Coordinator) Cancel(opID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.operations[opID]
	if !ok {
		return core.ErrNotFound
	}
	if r.op.Status.IsTerminal() {
		return fmt.Errorf("syncengine: operation %s is already terminal", opID)
	}
	r.cancelled = true
	r.cancel()
	return nil
}

// Status reports the coordinator's point-in-time health and load.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	active := len(c.operations)
	c.mu.Unlock()

	report := c.cfg.Monitor.GenerateReport()
	return Status{
		Health:           string(report.Health),
		ActiveOperations: active,
		QueueDepth:       int(c.queuedFragments.Load()),
	}
}

// CreateRollbackPoint stores a rollback point linked to sessionID, attaches
// the GraphStore's current snapshots to it, and publishes checkpointCreated.
func (c *Coordinator) CreateRollbackPoint(ctx context.Context, name, description string, metadata map[string]any, sessionID string) (*core.RollbackPoint, error) {
	point := &core.RollbackPoint{
		ID:          c.cfg.IDGen.NewRollbackID(),
		Name:        name,
		Description: description,
		Timestamp:   c.cfg.Clock.Now(),
		SessionID:   sessionID,
		Metadata:    metadata,
	}
	if err := c.cfg.RollbackStore.Store(ctx, point); err != nil {
		return nil, err
	}

	snaps, err := c.cfg.GraphStore.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: snapshot graph store for rollback point %s: %w", point.ID, err)
	}
	for _, snap := range snaps {
		if _, err := c.cfg.RollbackStore.StoreSnapshot(ctx, point.ID, snap.Type, snap.Data); err != nil {
			return nil, fmt.Errorf("syncengine: store snapshot for rollback point %s: %w", point.ID, err)
		}
	}

	c.bus.publish(Event{Type: EventCheckpointCreated, Payload: point})
	return point, nil
}

// RollbackTo restores the graph to rollbackPointID, recording a
// RollbackOperation for the attempt. The restore itself is bounded by
// RollbackTimeout so a stuck GraphStore cannot hang the caller forever.
func (c *Coordinator) RollbackTo(ctx context.Context, rollbackPointID string) (*core.RollbackOperation, error) {
	point, err := c.cfg.RollbackStore.Get(ctx, rollbackPointID)
	if err != nil {
		return nil, err
	}

	op := &core.RollbackOperation{
		ID:                    c.cfg.IDGen.NewRollbackID(),
		TargetRollbackPointID: point.ID,
		Status:                core.RollbackOpRunning,
		StartedAt:             c.cfg.Clock.Now(),
	}
	if err := c.cfg.RollbackStore.StoreOperation(ctx, op); err != nil {
		return nil, err
	}

	restoreCtx, cancel := context.WithTimeout(ctx, c.cfg.RollbackTimeout)
	defer cancel()

	restoreErr := c.restoreSnapshots(restoreCtx, point.ID)

	now := c.cfg.Clock.Now()
	op.CompletedAt = &now
	if restoreErr != nil {
		op.Status = core.RollbackOpFailed
		op.Error = restoreErr.Error()
	} else {
		op.Status = core.RollbackOpCompleted
		op.Progress = 100
	}

	if err := c.cfg.RollbackStore.UpdateOperation(ctx, op); err != nil {
		c.cfg.Logger.Error("failed to record rollback operation outcome", "rollback_operation_id", op.ID, "error", err)
	}

	c.bus.publish(Event{Type: EventRollbackExecuted, OperationID: op.ID, Payload: op})
	if restoreErr != nil {
		return op, restoreErr
	}
	return op, nil
}

func (c *Coordinator) restoreSnapshots(ctx context.Context, rollbackPointID string) error {
	snaps, err := c.cfg.RollbackStore.Snapshots(ctx, rollbackPointID)
	if err != nil {
		return fmt.Errorf("syncengine: load snapshots for %s: %w", rollbackPointID, err)
	}
	deref := make([]core.Snapshot, len(snaps))
	for i, s := range snaps {
		deref[i] = *s
	}
	return c.cfg.GraphStore.RestoreSnapshots(ctx, deref)
}

func scanRoots(roots []string) ([]string, error) {
	var paths []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// runPipeline drives one operation through scan/parse/batch/commit/post.
func (c *Coordinator) runPipeline(ctx context.Context, op *core.SyncOperation, paths []string, opts StartOptions) error {
	opts.setDefaults()

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.operations[op.ID] = &runningOperation{op: op, cancel: cancel}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.operations, op.ID)
		c.mu.Unlock()
	}()

	c.cfg.Metrics.ActiveOperations.Inc()
	defer c.cfg.Metrics.ActiveOperations.Dec()

	op.Status = core.SyncStatusRunning
	c.cfg.Monitor.RecordOperationStart(op)
	c.bus.publish(Event{Type: EventOperationStarted, OperationID: op.ID})

	if opts.RollbackOnFailure {
		point, err := c.CreateRollbackPoint(ctx, "pre-"+op.ID, "automatic pre-operation checkpoint", nil, opts.SessionID)
		if err != nil {
			return c.finishFailed(ctx, op, opts, fmt.Errorf("syncengine: create pre-operation rollback point: %w", err))
		}
		op.RollbackPointID = point.ID
	}

	start := c.cfg.Clock.Now()

	fragments, parseErrs := c.parsePaths(opCtx, op, paths)
	op.Errors = append(op.Errors, parseErrs...)

	if err := c.fragmentSem.Acquire(opCtx, int64(len(fragments))); err != nil {
		return c.finishFailed(ctx, op, opts, fmt.Errorf("syncengine: acquire fragment queue capacity: %w", err))
	}
	c.queuedFragments.Add(int64(len(fragments)))
	c.cfg.Metrics.QueueDepth.Set(float64(c.queuedFragments.Load()))
	defer func() {
		c.fragmentSem.Release(int64(len(fragments)))
		c.queuedFragments.Add(-int64(len(fragments)))
		c.cfg.Metrics.QueueDepth.Set(float64(c.queuedFragments.Load()))
	}()

	c.cfg.Monitor.RecordOperationProgress(op.ID, "batch", 50)
	c.bus.publish(Event{Type: EventOperationProgress, OperationID: op.ID, Payload: "batch"})

	results, err := c.commitFragments(opCtx, op, paths, fragments)
	if err != nil {
		return c.finishFailed(ctx, op, opts, err)
	}

	for _, r := range results {
		op.Counters.EntitiesCreated += r.Created
		op.Counters.EntitiesUpdated += r.Updated
		op.Counters.EntitiesDeleted += r.Deleted
		for _, conflict := range r.Conflicts {
			conflict.Resolution = opts.ConflictResolver(conflict)
			op.Conflicts = append(op.Conflicts, conflict)
			c.cfg.Monitor.RecordConflict(monitoring.ConflictReport{
				OperationID: op.ID, EntityID: conflict.EntityID,
				ConflictType: string(conflict.Type), Resolution: conflict.Resolution,
			})
			c.cfg.Metrics.ConflictsTotal.WithLabelValues(string(conflict.Type)).Inc()
			c.bus.publish(Event{Type: EventConflictDetected, OperationID: op.ID, Payload: conflict})
		}
	}

	c.cfg.Monitor.RecordOperationProgress(op.ID, "post", 90)

	if opts.CreateRollbackPoint {
		if _, err := c.CreateRollbackPoint(ctx, "auto-"+op.ID, "post-sync checkpoint", nil, opts.SessionID); err != nil {
			c.cfg.Logger.Error("failed to create post-sync rollback point", "operation_id", op.ID, "error", err)
		}
	}

	op.Status = core.SyncStatusCompleted
	now := c.cfg.Clock.Now()
	op.EndTime = &now

	c.cfg.Monitor.RecordOperationComplete(op, monitoring.OperationPhase{})
	c.cfg.Metrics.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
	c.cfg.Metrics.OperationDuration.WithLabelValues(string(op.Type)).Observe(c.cfg.Clock.Now().Sub(start).Seconds())
	c.bus.publish(Event{Type: EventOperationComplete, OperationID: op.ID, Payload: op.Clone()})

	return nil
}

func (c *Coordinator) finishFailed(ctx context.Context, op *core.SyncOperation, opts StartOptions, cause error) error {
	op.Status = core.SyncStatusFailed
	now := c.cfg.Clock.Now()
	op.EndTime = &now
	op.Errors = append(op.Errors, core.OperationError{Message: cause.Error(), Timestamp: now})

	c.cfg.Monitor.RecordOperationFailed(op, cause)
	c.cfg.Metrics.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
	c.bus.publish(Event{Type: EventOperationFailed, OperationID: op.ID, Payload: cause.Error()})

	if opts.RollbackOnFailure && op.RollbackPointID != "" {
		if _, err := c.RollbackTo(ctx, op.RollbackPointID); err != nil {
			c.cfg.Logger.Error("rollback after operation failure did not complete", "operation_id", op.ID, "error", err)
		}
	}
	return cause
}

// parsePaths parses each path with bounded in-flight concurrency
// (parseSem). Cancellation is observed before a task acquires a parse slot
// and again before it calls the parser.
func (c *Coordinator) parsePaths(ctx context.Context, op *core.SyncOperation, paths []string) ([]core.ChangeFragment, []core.OperationError) {
	var mu sync.Mutex
	var fragments []core.ChangeFragment
	var errs []core.OperationError

	c.cfg.Monitor.RecordOperationProgress(op.ID, "scan", 0)

	group, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		path := p
		group.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := c.parseSem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer c.parseSem.Release(1)

			if gctx.Err() != nil {
				return nil
			}

			result, err := c.cfg.Parser.ParseFile(gctx, path)
			if err != nil {
				mu.Lock()
				errs = append(errs, core.OperationError{File: path, Message: err.Error(), Timestamp: c.cfg.Clock.Now()})
				mu.Unlock()
				return nil
			}

			mu.Lock()
			fragments = append(fragments, result.Fragments...)
			op.FilesProcessed++
			for _, pe := range result.Errors {
				errs = append(errs, core.OperationError{File: path, Message: pe.Message, Timestamp: c.cfg.Clock.Now()})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	c.cfg.Monitor.RecordOperationProgress(op.ID, "parse", 100)
	return fragments, errs
}

// commitFragments acquires per-path advisory locks for the commit phase (so
// concurrent operations touching overlapping file sets serialize there) and
// hands the fragment set to the BatchProcessor.
func (c *Coordinator) commitFragments(ctx context.Context, op *core.SyncOperation, paths []string, fragments []core.ChangeFragment) ([]batch.Result, error) {
	if c.cfg.LockManager != nil {
		for _, p := range paths {
			if _, err := c.cfg.LockManager.Acquire(ctx, p); err != nil {
				return nil, fmt.Errorf("syncengine: acquire commit lock for %s: %w", p, err)
			}
		}
		defer func() {
			for _, p := range paths {
				_ = c.cfg.LockManager.Release(context.Background(), p)
			}
		}()
	}

	c.cfg.Monitor.RecordOperationProgress(op.ID, "commit", 70)
	return c.cfg.BatchProcessor.ProcessChangeFragments(ctx, fragments)
}
