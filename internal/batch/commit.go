package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/core/resilience"
)

// commitEntities micro-batches entities per EntityBatchSize, commits up to
// MaxConcurrentBatches chunks concurrently per group, and isolates failures
// to the chunk that produced them (§4.3: a failed chunk does not fail its
// siblings).
func (p *Processor) commitEntities(ctx context.Context, entities []core.Entity, meta *Metadata) Result {
	start := p.cfg.Clock.Now()
	p.active.Add(1)
	defer p.active.Done()

	epoch := p.epochs.Next()
	chunks := chunk(entities, p.cfg.EntityBatchSize)

	var mu sync.Mutex
	processed, failed := 0, 0
	created, updated, deleted := 0, 0, 0
	var errs []string
	var conflicts []core.Conflict

	for _, group := range groups(chunks, p.cfg.MaxConcurrentBatches) {
		var wg sync.WaitGroup
		for _, c := range group {
			wg.Add(1)
			go func(items []core.Entity) {
				defer wg.Done()
				report, err := p.commitEntityChunk(ctx, items, epoch)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed += len(items)
					errs = append(errs, err.Error())
					return
				}
				processed += len(items)
				created += report.Created
				updated += report.Updated
				deleted += report.Deleted
				conflicts = append(conflicts, report.Conflicts...)
			}(c)
		}
		wg.Wait()
	}

	result := Result{
		BatchID:        idOrNew(meta, p.cfg.IDGen),
		Success:        failed == 0,
		ProcessedCount: processed,
		FailedCount:    failed,
		Created:        created,
		Updated:        updated,
		Deleted:        deleted,
		Duration:       p.cfg.Clock.Now().Sub(start),
		Errors:         errs,
		Conflicts:      conflicts,
		Metadata:       resolveMetadata("entities", meta, epoch),
	}

	p.recordBatchMetrics("entities", result)
	return result
}

func (p *Processor) commitEntityChunk(ctx context.Context, items []core.Entity, epoch core.Epoch) (core.UpsertReport, error) {
	var report core.UpsertReport
	err := resilience.WithRetry(ctx, p.cfg.RetryPolicy, func() error {
		var innerErr error
		report, innerErr = p.cfg.Store.UpsertEntities(ctx, epoch, items, core.UpsertOptions{})
		return innerErr
	})
	if err != nil {
		return core.UpsertReport{}, &core.StoreFailed{Cause: err}
	}
	if len(report.Conflicts) > 0 {
		p.cfg.Logger.Warn("entity upsert conflicts detected", "count", len(report.Conflicts))
	}
	return report, nil
}

// commitRelationships validates endpoint resolution before committing:
// relationships whose endpoints cannot be resolved are dropped and counted
// toward FailedCount rather than aborting the whole batch.
func (p *Processor) commitRelationships(ctx context.Context, relationships []core.Relationship, meta *Metadata) Result {
	start := p.cfg.Clock.Now()
	p.active.Add(1)
	defer p.active.Done()

	epoch := p.epochs.Next()

	var resolved []core.Relationship
	var errs []string
	unresolved := 0
	for _, r := range relationships {
		if !r.Valid() {
			unresolved++
			errs = append(errs, fmt.Sprintf("relationship %s: unresolved endpoint", r.ID))
			continue
		}
		resolved = append(resolved, r)
	}
	if unresolved > 0 {
		p.cfg.Logger.Warn("dropping relationships with unresolved endpoints", "count", unresolved)
	}

	chunks := chunk(resolved, p.cfg.RelationshipBatchSize)

	var mu sync.Mutex
	processed, failed := 0, unresolved
	created, updated, deleted := 0, 0, 0
	var conflicts []core.Conflict

	for _, group := range groups(chunks, p.cfg.MaxConcurrentBatches) {
		var wg sync.WaitGroup
		for _, c := range group {
			wg.Add(1)
			go func(items []core.Relationship) {
				defer wg.Done()
				report, err := p.commitRelationshipChunk(ctx, items, epoch)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed += len(items)
					errs = append(errs, err.Error())
					return
				}
				processed += len(items)
				created += report.Created
				updated += report.Updated
				deleted += report.Deleted
				conflicts = append(conflicts, report.Conflicts...)
			}(c)
		}
		wg.Wait()
	}

	result := Result{
		BatchID:        idOrNew(meta, p.cfg.IDGen),
		Success:        failed == 0,
		ProcessedCount: processed,
		FailedCount:    failed,
		Created:        created,
		Updated:        updated,
		Deleted:        deleted,
		Duration:       p.cfg.Clock.Now().Sub(start),
		Errors:         errs,
		Conflicts:      conflicts,
		Metadata:       resolveMetadata("relationships", meta, epoch),
	}

	p.recordBatchMetrics("relationships", result)
	return result
}

func (p *Processor) commitRelationshipChunk(ctx context.Context, items []core.Relationship, epoch core.Epoch) (core.UpsertReport, error) {
	var report core.UpsertReport
	err := resilience.WithRetry(ctx, p.cfg.RetryPolicy, func() error {
		var innerErr error
		report, innerErr = p.cfg.Store.UpsertRelationships(ctx, epoch, items, core.UpsertOptions{})
		return innerErr
	})
	if err != nil {
		return core.UpsertReport{}, &core.StoreFailed{Cause: err}
	}
	if len(report.Conflicts) > 0 {
		p.cfg.Logger.Warn("relationship upsert conflicts detected", "count", len(report.Conflicts))
	}
	return report, nil
}

func idOrNew(meta *Metadata, idgen core.IDGen) string {
	if meta != nil && meta.ID != "" {
		return meta.ID
	}
	return idgen.NewBatchID()
}

func resolveMetadata(kind string, meta *Metadata, epoch core.Epoch) Metadata {
	m := Metadata{Type: kind, CreatedAt: epoch.Timestamp, EpochID: epoch.Seq}
	if meta != nil {
		m = *meta
		m.Type = kind
		m.EpochID = epoch.Seq
	}
	m.Priority = m.normalizePriority()
	return m
}

func (p *Processor) recordBatchMetrics(kind string, result Result) {
	outcome := "success"
	if !result.Success {
		outcome = "partial_failure"
	}
	p.cfg.Metrics.BatchesTotal.WithLabelValues(kind, outcome).Inc()
	p.cfg.Metrics.ItemsProcessed.WithLabelValues(kind).Add(float64(result.ProcessedCount))
	if result.FailedCount > 0 {
		p.cfg.Metrics.ItemsFailed.WithLabelValues(kind).Add(float64(result.FailedCount))
	}
	p.cfg.Metrics.BatchDuration.WithLabelValues(kind).Observe(result.Duration.Seconds())
}
