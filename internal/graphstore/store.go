// Package graphstore is the reference core.GraphStore adapter wired by
// cmd/codegraphsync. spec.md keeps the concrete graph store an opaque,
// pluggable collaborator (§1 Non-goals); this package is a thin store-backed
// implementation over core.RelStore — the same "rollback store" relational
// layer already used for checkpoints — rather than a dedicated graph
// database client, so the CLI has a real, persisted default without
// inventing an out-of-scope dependency.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
)

// Snapshot type tags used with core.GraphStore.Snapshot/RestoreSnapshots.
const (
	SnapshotTypeEntities      = "entities"
	SnapshotTypeRelationships = "relationships"
)

// Config configures a Store.
type Config struct {
	RelStore core.RelStore
	Logger   *slog.Logger
}

// Store implements core.GraphStore over a core.RelStore.
type Store struct {
	rel    core.RelStore
	logger *slog.Logger
}

// New returns a Store backed by cfg.RelStore.
func New(cfg Config) (*Store, error) {
	if cfg.RelStore == nil {
		return nil, fmt.Errorf("graphstore: RelStore is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rel: cfg.RelStore, logger: logger}, nil
}

func (s *Store) entityExists(ctx context.Context, id string) (bool, error) {
	rows, err := s.rel.Query(ctx, `SELECT id FROM graph_entities WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (s *Store) relationshipExists(ctx context.Context, id string) (bool, error) {
	rows, err := s.rel.Query(ctx, `SELECT id FROM graph_relationships WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// UpsertEntities persists batch, counting how many were new vs. already present.
func (s *Store) UpsertEntities(ctx context.Context, epoch core.Epoch, batch []core.Entity, opts core.UpsertOptions) (core.UpsertReport, error) {
	var report core.UpsertReport
	if opts.DryRun {
		report.Created = len(batch)
		return report, nil
	}

	for _, e := range batch {
		existed, err := s.entityExists(ctx, e.ID)
		if err != nil {
			return core.UpsertReport{}, fmt.Errorf("graphstore: check entity %s: %w", e.ID, err)
		}
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return core.UpsertReport{}, fmt.Errorf("graphstore: marshal attrs for %s: %w", e.ID, err)
		}
		if err := s.rel.Exec(ctx,
			`INSERT INTO graph_entities (id, kind, path, language, signature, hash, last_modified, attrs, epoch_seq, deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, path = excluded.path,
			   language = excluded.language, signature = excluded.signature, hash = excluded.hash,
			   last_modified = excluded.last_modified, attrs = excluded.attrs, epoch_seq = excluded.epoch_seq,
			   deleted = excluded.deleted`,
			e.ID, string(e.Kind), e.Path, e.Language, e.Signature, e.Hash, e.LastModified, string(attrs), epoch.Seq, false,
		); err != nil {
			return core.UpsertReport{}, fmt.Errorf("graphstore: upsert entity %s: %w", e.ID, err)
		}
		if existed {
			report.Updated++
		} else {
			report.Created++
		}
	}
	return report, nil
}

// UpsertRelationships persists batch, counting how many were new vs. already present.
func (s *Store) UpsertRelationships(ctx context.Context, epoch core.Epoch, batch []core.Relationship, opts core.UpsertOptions) (core.UpsertReport, error) {
	var report core.UpsertReport
	if opts.DryRun {
		report.Created = len(batch)
		return report, nil
	}

	for _, r := range batch {
		existed, err := s.relationshipExists(ctx, r.ID)
		if err != nil {
			return core.UpsertReport{}, fmt.Errorf("graphstore: check relationship %s: %w", r.ID, err)
		}
		evidence, err := json.Marshal(r.Evidence)
		if err != nil {
			return core.UpsertReport{}, fmt.Errorf("graphstore: marshal evidence for %s: %w", r.ID, err)
		}
		var confidence any
		if r.Confidence != nil {
			confidence = *r.Confidence
		}
		if err := s.rel.Exec(ctx,
			`INSERT INTO graph_relationships
			   (id, from_id, to_id, type, site_hash, version, active, confidence, evidence,
			    created, last_modified, first_seen_at, last_seen_at, valid_from, valid_to, epoch_seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET from_id = excluded.from_id, to_id = excluded.to_id,
			   type = excluded.type, site_hash = excluded.site_hash, version = excluded.version,
			   active = excluded.active, confidence = excluded.confidence, evidence = excluded.evidence,
			   last_modified = excluded.last_modified, last_seen_at = excluded.last_seen_at,
			   valid_from = excluded.valid_from, valid_to = excluded.valid_to, epoch_seq = excluded.epoch_seq`,
			r.ID, r.ResolvedFromID(), r.ResolvedToID(), string(r.Type), r.SiteHash, r.Version, r.Active, confidence,
			string(evidence), r.Created, r.LastModified, r.FirstSeenAt, r.LastSeenAt, r.ValidFrom, r.ValidTo, epoch.Seq,
		); err != nil {
			return core.UpsertReport{}, fmt.Errorf("graphstore: upsert relationship %s: %w", r.ID, err)
		}
		if existed {
			report.Updated++
		} else {
			report.Created++
		}
	}
	return report, nil
}

// DeleteEntity marks id as deleted rather than removing the row outright, so
// a later RestoreSnapshots call can still reason about history if needed.
func (s *Store) DeleteEntity(ctx context.Context, id string, epoch core.Epoch) error {
	return s.rel.Exec(ctx, `UPDATE graph_entities SET deleted = ?, epoch_seq = ? WHERE id = ?`, true, epoch.Seq, id)
}

// Query supports a small allowlist of canonical read queries rather than
// arbitrary SQL: core.RelRows (shared with the rollback store) has no
// column-introspection method, so a generic "any SQL, any shape" query
// cannot be turned into a map[string]any safely. Each supported query name
// binds its params positionally — never by string-substitution — per the
// GraphStore contract.
func (s *Store) Query(ctx context.Context, q string, params map[string]any) ([]map[string]any, error) {
	switch q {
	case "entity_by_id":
		return s.queryEntityByID(ctx, params)
	case "entities_by_path_prefix":
		return s.queryEntitiesByPathPrefix(ctx, params)
	case "relationships_by_entity":
		return s.queryRelationshipsByEntity(ctx, params)
	default:
		return nil, fmt.Errorf("graphstore: unsupported query %q", q)
	}
}

func (s *Store) queryEntityByID(ctx context.Context, params map[string]any) ([]map[string]any, error) {
	id, _ := params["id"].(string)
	rows, err := s.rel.Query(ctx, `SELECT id, kind, path, hash, last_modified FROM graph_entities WHERE id = ? AND deleted = ?`, id, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var eid, kind, path, hash string
		var lastModified time.Time
		if err := rows.Scan(&eid, &kind, &path, &hash, &lastModified); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"id": eid, "kind": kind, "path": path, "hash": hash, "last_modified": lastModified})
	}
	return out, rows.Err()
}

func (s *Store) queryEntitiesByPathPrefix(ctx context.Context, params map[string]any) ([]map[string]any, error) {
	prefix, _ := params["prefix"].(string)
	rows, err := s.rel.Query(ctx, `SELECT id, kind, path, hash FROM graph_entities WHERE path LIKE ? AND deleted = ?`, prefix+"%", false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var id, kind, path, hash string
		if err := rows.Scan(&id, &kind, &path, &hash); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"id": id, "kind": kind, "path": path, "hash": hash})
	}
	return out, rows.Err()
}

func (s *Store) queryRelationshipsByEntity(ctx context.Context, params map[string]any) ([]map[string]any, error) {
	id, _ := params["entity_id"].(string)
	rows, err := s.rel.Query(ctx,
		`SELECT id, from_id, to_id, type FROM graph_relationships WHERE (from_id = ? OR to_id = ?) AND active = ?`,
		id, id, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var rid, fromID, toID, typ string
		if err := rows.Scan(&rid, &fromID, &toID, &typ); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{"id": rid, "from_id": fromID, "to_id": toID, "type": typ})
	}
	return out, rows.Err()
}

// HealthCheck reports whether the backing RelStore can still serve a query.
func (s *Store) HealthCheck(ctx context.Context) error {
	rows, err := s.rel.Query(ctx, `SELECT 1`)
	if err != nil {
		return fmt.Errorf("graphstore: health check: %w", err)
	}
	defer rows.Close()
	return rows.Err()
}

// Snapshot captures every live entity and relationship as two
// byte-serialized snapshots, suitable for SyncCoordinator.CreateRollbackPoint.
func (s *Store) Snapshot(ctx context.Context) ([]core.Snapshot, error) {
	entities, err := s.allEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("graphstore: snapshot entities: %w", err)
	}
	relationships, err := s.allRelationships(ctx)
	if err != nil {
		return nil, fmt.Errorf("graphstore: snapshot relationships: %w", err)
	}

	entityData, err := json.Marshal(entities)
	if err != nil {
		return nil, err
	}
	relData, err := json.Marshal(relationships)
	if err != nil {
		return nil, err
	}

	return []core.Snapshot{
		{Type: SnapshotTypeEntities, Data: entityData, SizeBytes: int64(len(entityData))},
		{Type: SnapshotTypeRelationships, Data: relData, SizeBytes: int64(len(relData))},
	}, nil
}

func (s *Store) allEntities(ctx context.Context) ([]core.Entity, error) {
	rows, err := s.rel.Query(ctx,
		`SELECT id, kind, path, language, signature, hash, last_modified, attrs FROM graph_entities WHERE deleted = ?`, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Entity
	for rows.Next() {
		var e core.Entity
		var kind, attrsJSON string
		if err := rows.Scan(&e.ID, &kind, &e.Path, &e.Language, &e.Signature, &e.Hash, &e.LastModified, &attrsJSON); err != nil {
			return nil, err
		}
		e.Kind = core.EntityKind(kind)
		if attrsJSON != "" {
			_ = json.Unmarshal([]byte(attrsJSON), &e.Attrs)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) allRelationships(ctx context.Context) ([]core.Relationship, error) {
	rows, err := s.rel.Query(ctx,
		`SELECT id, from_id, to_id, type, site_hash, version, active, confidence, evidence,
		        created, last_modified, first_seen_at, last_seen_at, valid_from, valid_to
		 FROM graph_relationships`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Relationship
	for rows.Next() {
		var r core.Relationship
		var typ, evidenceJSON string
		var confidence *float64
		var validFrom, validTo *time.Time
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &typ, &r.SiteHash, &r.Version, &r.Active, &confidence, &evidenceJSON,
			&r.Created, &r.LastModified, &r.FirstSeenAt, &r.LastSeenAt, &validFrom, &validTo); err != nil {
			return nil, err
		}
		r.Type = core.RelationshipType(typ)
		r.Confidence = confidence
		r.ValidFrom = validFrom
		r.ValidTo = validTo
		if evidenceJSON != "" {
			_ = json.Unmarshal([]byte(evidenceJSON), &r.Evidence)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RestoreSnapshots replaces the store's entire state with what is captured
// in snapshots. Unrecognized snapshot types are skipped rather than failing
// the whole restore, since a future snapshot kind should not break rollback
// to an older point.
func (s *Store) RestoreSnapshots(ctx context.Context, snapshots []core.Snapshot) error {
	tx, err := s.rel.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("graphstore: begin restore tx: %w", err)
	}

	if err := tx.Exec(ctx, `DELETE FROM graph_relationships`); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("graphstore: clear relationships: %w", err)
	}
	if err := tx.Exec(ctx, `DELETE FROM graph_entities`); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("graphstore: clear entities: %w", err)
	}

	for _, snap := range snapshots {
		switch snap.Type {
		case SnapshotTypeEntities:
			var entities []core.Entity
			if err := json.Unmarshal(snap.Data, &entities); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("graphstore: decode entity snapshot: %w", err)
			}
			if err := restoreEntities(ctx, tx, entities); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		case SnapshotTypeRelationships:
			var relationships []core.Relationship
			if err := json.Unmarshal(snap.Data, &relationships); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("graphstore: decode relationship snapshot: %w", err)
			}
			if err := restoreRelationships(ctx, tx, relationships); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		default:
			s.logger.Warn("skipping unrecognized snapshot type during restore", "type", snap.Type)
		}
	}

	return tx.Commit(ctx)
}

func restoreEntities(ctx context.Context, tx core.RelTx, entities []core.Entity) error {
	for _, e := range entities {
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return err
		}
		if err := tx.Exec(ctx,
			`INSERT INTO graph_entities (id, kind, path, language, signature, hash, last_modified, attrs, epoch_seq, deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			e.ID, string(e.Kind), e.Path, e.Language, e.Signature, e.Hash, e.LastModified, string(attrs), false,
		); err != nil {
			return fmt.Errorf("graphstore: restore entity %s: %w", e.ID, err)
		}
	}
	return nil
}

func restoreRelationships(ctx context.Context, tx core.RelTx, relationships []core.Relationship) error {
	for _, r := range relationships {
		evidence, err := json.Marshal(r.Evidence)
		if err != nil {
			return err
		}
		var confidence any
		if r.Confidence != nil {
			confidence = *r.Confidence
		}
		if err := tx.Exec(ctx,
			`INSERT INTO graph_relationships
			   (id, from_id, to_id, type, site_hash, version, active, confidence, evidence,
			    created, last_modified, first_seen_at, last_seen_at, valid_from, valid_to, epoch_seq)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			r.ID, r.FromID, r.ToID, string(r.Type), r.SiteHash, r.Version, r.Active, confidence,
			string(evidence), r.Created, r.LastModified, r.FirstSeenAt, r.LastSeenAt, r.ValidFrom, r.ValidTo,
		); err != nil {
			return fmt.Errorf("graphstore: restore relationship %s: %w", r.ID, err)
		}
	}
	return nil
}
