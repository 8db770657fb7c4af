package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/core/resilience"
	"github.com/vitaliisemenov/codegraph-sync/pkg/metrics"
)

// Config configures a Processor. Zero values fall back to the documented
// defaults (mirrors the teacher's *Config-with-defaults constructor style).
type Config struct {
	Store core.GraphStore
	Clock core.Clock
	IDGen core.IDGen
	Logger  *slog.Logger
	Metrics *metrics.BatchMetrics

	EntityBatchSize         int
	RelationshipBatchSize   int
	MaxConcurrentBatches    int
	IdempotencyTTL          time.Duration
	IdempotencySweepInterval time.Duration
	IdempotencyCacheCapacity int
	StopTimeout             time.Duration
	EnableDAG               bool
	RetryPolicy             *resilience.RetryPolicy
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.EntityBatchSize <= 0 {
		c.EntityBatchSize = 100
	}
	if c.RelationshipBatchSize <= 0 {
		c.RelationshipBatchSize = 100
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = 4
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 10 * time.Minute // IDEMPOTENCY_TTL_MS default 600000
	}
	if c.IdempotencySweepInterval <= 0 {
		c.IdempotencySweepInterval = 60 * time.Second
	}
	if c.IdempotencyCacheCapacity <= 0 {
		c.IdempotencyCacheCapacity = 4096
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = core.SystemClock{}
	}
	if c.IDGen == nil {
		c.IDGen = core.UUIDGen{}
	}
	if c.RetryPolicy == nil {
		c.RetryPolicy = resilience.DefaultRetryPolicy()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultRegistry().Batch()
	}
}

// Processor is the BatchProcessor (§4.3): accepts entity/relationship
// streams or change fragments and commits them to the graph store with
// micro-batching, controlled concurrency, dependency ordering, and
// idempotency.
type Processor struct {
	cfg    Config
	epochs *core.EpochGenerator
	idemp  *idempotencyCache

	mu      sync.RWMutex
	running bool
	active  sync.WaitGroup
}

// New constructs a Processor. The store is required; everything else has a default.
func New(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("batch: Store is required")
	}
	cfg.setDefaults()

	return &Processor{
		cfg:    cfg,
		epochs: core.NewEpochGenerator(),
		idemp:  newIdempotencyCache(cfg.IdempotencyCacheCapacity, cfg.IdempotencyTTL),
	}, nil
}

// Start begins the idempotency-cache sweeper. Safe to call once.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("batch: processor already running")
	}
	p.running = true
	p.idemp.startSweeper(p.cfg.IdempotencySweepInterval)
	p.cfg.Logger.Info("batch processor started",
		"entity_batch_size", p.cfg.EntityBatchSize,
		"relationship_batch_size", p.cfg.RelationshipBatchSize,
		"max_concurrent_batches", p.cfg.MaxConcurrentBatches)
	return nil
}

// Stop waits up to timeout for active batches. On timeout it logs a warning
// and returns an error; in-flight batches are left running and are not
// recorded as failed. timeout <= 0 uses the configured StopTimeout.
func (p *Processor) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("batch: processor not running")
	}
	p.running = false
	p.mu.Unlock()

	if timeout <= 0 {
		timeout = p.cfg.StopTimeout
	}

	p.idemp.stop()

	done := make(chan struct{})
	go func() {
		p.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cfg.Logger.Info("batch processor stopped gracefully")
		return nil
	case <-time.After(timeout):
		p.cfg.Logger.Warn("batch processor stop timeout, abandoning in-flight batches", "timeout", timeout)
		return fmt.Errorf("batch: stop timeout after %s", timeout)
	}
}

// ProcessEntities partitions entities into micro-batches and commits them,
// short-circuiting on a cached idempotent result when available.
func (p *Processor) ProcessEntities(ctx context.Context, entities []core.Entity, meta *Metadata) (Result, error) {
	keys := make([]idKey, len(entities))
	for i, e := range entities {
		keys[i] = idKey{id: e.ID, kind: string(e.Kind)}
	}
	key := deriveKey("entities", keys)

	if cached, ok := p.idemp.get(key); ok {
		p.recordMetric("entities", "cache_hit")
		return cached, nil
	}

	if len(entities) == 0 {
		result := emptyResult("entities", p.cfg.IDGen, meta)
		p.idemp.put(key, result)
		return result, nil
	}

	result := p.commitEntities(ctx, entities, meta)
	p.idemp.put(key, result)
	return result, nil
}

// ProcessRelationships partitions relationships into micro-batches and
// commits them, after dropping unresolvable endpoints.
func (p *Processor) ProcessRelationships(ctx context.Context, relationships []core.Relationship, meta *Metadata) (Result, error) {
	keys := make([]idKey, len(relationships))
	for i, r := range relationships {
		keys[i] = idKey{id: r.ID, kind: string(r.Type)}
	}
	key := deriveKey("relationships", keys)

	if cached, ok := p.idemp.get(key); ok {
		p.recordMetric("relationships", "cache_hit")
		return cached, nil
	}

	if len(relationships) == 0 {
		result := emptyResult("relationships", p.cfg.IDGen, meta)
		p.idemp.put(key, result)
		return result, nil
	}

	result := p.commitRelationships(ctx, relationships, meta)
	p.idemp.put(key, result)
	return result, nil
}

// ProcessChangeFragments consumes a set of fragments, optionally DAG-ordered
// when EnableDAG is set, and returns one Result per wave (or a single
// Result when DAG mode is off).
func (p *Processor) ProcessChangeFragments(ctx context.Context, fragments []core.ChangeFragment) ([]Result, error) {
	if len(fragments) == 0 {
		return []Result{emptyResult("fragments", p.cfg.IDGen, nil)}, nil
	}

	if !p.cfg.EnableDAG {
		entities, relationships := splitFragments(fragments)
		var results []Result
		if r, err := p.ProcessEntities(ctx, entities, nil); err == nil {
			results = append(results, r)
		}
		if r, err := p.ProcessRelationships(ctx, relationships, nil); err == nil {
			results = append(results, r)
		}
		return results, nil
	}

	return p.processDAG(ctx, fragments)
}

func (p *Processor) processDAG(ctx context.Context, fragments []core.ChangeFragment) ([]Result, error) {
	dag := buildDAG(fragments)

	if cycles := dag.detectCycles(); len(cycles) > 0 {
		p.cfg.Metrics.DependencyCycles.Add(float64(len(cycles)))
		for _, cycle := range cycles {
			p.cfg.Logger.Warn("dependency cycle detected, proceeding on acyclic remainder", "cycle", cycle)
		}
	}

	var results []Result
	for dag.remaining() > 0 {
		ready := dag.readyNodes()
		if len(ready) == 0 {
			p.cfg.Logger.Error("dependency DAG deadlocked, abandoning remainder", "remaining", dag.remaining())
			break
		}

		var waveEntities []core.Entity
		var waveRelationships []core.Relationship
		for _, id := range ready {
			frag := dag.nodes[id].fragment
			switch frag.Kind {
			case core.FragmentKindEntity:
				if e, ok := fragmentEntity(frag); ok {
					waveEntities = append(waveEntities, e)
				}
			case core.FragmentKindRelationship:
				if r, ok := fragmentRelationship(frag); ok {
					waveRelationships = append(waveRelationships, r)
				}
			}
		}

		if r, err := p.ProcessEntities(ctx, waveEntities, nil); err == nil {
			results = append(results, r)
		}
		if r, err := p.ProcessRelationships(ctx, waveRelationships, nil); err == nil {
			results = append(results, r)
		}

		for _, id := range ready {
			dag.markCompleted(id)
		}

		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}
	}

	return results, nil
}

func splitFragments(fragments []core.ChangeFragment) ([]core.Entity, []core.Relationship) {
	var entities []core.Entity
	var relationships []core.Relationship
	for _, f := range fragments {
		switch f.Kind {
		case core.FragmentKindEntity:
			if e, ok := fragmentEntity(f); ok {
				entities = append(entities, e)
			}
		case core.FragmentKindRelationship:
			if r, ok := fragmentRelationship(f); ok {
				relationships = append(relationships, r)
			}
		}
	}
	return entities, relationships
}

func fragmentEntity(f core.ChangeFragment) (core.Entity, bool) {
	switch v := f.Data.(type) {
	case core.Entity:
		return v, true
	case *core.Entity:
		return *v, true
	default:
		return core.Entity{}, false
	}
}

func fragmentRelationship(f core.ChangeFragment) (core.Relationship, bool) {
	switch v := f.Data.(type) {
	case core.Relationship:
		return v, true
	case *core.Relationship:
		return *v, true
	default:
		return core.Relationship{}, false
	}
}

func (p *Processor) recordMetric(kind, outcome string) {
	if outcome == "cache_hit" {
		p.cfg.Metrics.IdempotencyHits.Inc()
		return
	}
	p.cfg.Metrics.BatchesTotal.WithLabelValues(kind, outcome).Inc()
}
