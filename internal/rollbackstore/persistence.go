package rollbackstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
)

// Queries use "?" placeholders; the postgres RelStore adapter rewrites them
// to "$N" before executing (see rebind in relstore/postgres/postgres.go).

func (s *Store) persistPoint(ctx context.Context, point *core.RollbackPoint) error {
	meta, err := json.Marshal(point.Metadata)
	if err != nil {
		return err
	}
	var expiresAt any
	if point.ExpiresAt != nil {
		expiresAt = *point.ExpiresAt
	}
	return s.cfg.RelStore.Exec(ctx,
		`INSERT INTO rollback_points (id, name, description, timestamp, expires_at, session_id, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, description = excluded.description,
		   expires_at = excluded.expires_at, metadata = excluded.metadata`,
		point.ID, point.Name, point.Description, point.Timestamp, expiresAt, point.SessionID, string(meta))
}

func (s *Store) loadPoint(ctx context.Context, id string) (*core.RollbackPoint, error) {
	rows, err := s.cfg.RelStore.Query(ctx,
		`SELECT id, name, description, timestamp, expires_at, session_id, metadata FROM rollback_points WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, core.ErrNotFound
	}
	point, err := scanPoint(rows)
	if err != nil {
		return nil, err
	}
	return point, rows.Err()
}

func (s *Store) loadAllPoints(ctx context.Context, sessionID string) ([]*core.RollbackPoint, error) {
	var rows core.RelRows
	var err error
	if sessionID == "" {
		rows, err = s.cfg.RelStore.Query(ctx,
			`SELECT id, name, description, timestamp, expires_at, session_id, metadata FROM rollback_points`)
	} else {
		rows, err = s.cfg.RelStore.Query(ctx,
			`SELECT id, name, description, timestamp, expires_at, session_id, metadata FROM rollback_points WHERE session_id = ?`, sessionID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*core.RollbackPoint
	for rows.Next() {
		point, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

func scanPoint(rows core.RelRows) (*core.RollbackPoint, error) {
	var p core.RollbackPoint
	var expiresAt *time.Time
	var metaJSON string
	if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Timestamp, &expiresAt, &p.SessionID, &metaJSON); err != nil {
		return nil, err
	}
	p.ExpiresAt = expiresAt
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &p.Metadata)
	}
	return &p, nil
}

func (s *Store) removePoint(ctx context.Context, id string) (bool, error) {
	tx, err := s.cfg.RelStore.BeginTx(ctx)
	if err != nil {
		return false, err
	}

	rows, err := tx.Query(ctx, `SELECT id FROM rollback_points WHERE id = ?`, id)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}
	existed := rows.Next()
	rows.Close()
	if !existed {
		_ = tx.Rollback(ctx)
		return false, nil
	}

	// cascade: snapshots and operations reference the point by id and are
	// removed explicitly even though the schema also declares ON DELETE CASCADE,
	// so in-memory test doubles without FK support stay consistent.
	if err := tx.Exec(ctx, `DELETE FROM rollback_snapshots WHERE rollback_point_id = ?`, id); err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}
	if err := tx.Exec(ctx, `DELETE FROM rollback_operations WHERE target_rollback_point_id = ?`, id); err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}
	if err := tx.Exec(ctx, `DELETE FROM rollback_points WHERE id = ?`, id); err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) persistSnapshot(ctx context.Context, snap *core.Snapshot) error {
	return s.cfg.RelStore.Exec(ctx,
		`INSERT INTO rollback_snapshots (rollback_point_id, type, data, size_bytes, checksum) VALUES (?, ?, ?, ?, ?)`,
		snap.RollbackPointID, snap.Type, snap.Data, snap.SizeBytes, snap.Checksum)
}

func (s *Store) loadSnapshots(ctx context.Context, rollbackPointID string) ([]*core.Snapshot, error) {
	rows, err := s.cfg.RelStore.Query(ctx,
		`SELECT rollback_point_id, type, data, size_bytes, checksum FROM rollback_snapshots WHERE rollback_point_id = ?`,
		rollbackPointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*core.Snapshot
	for rows.Next() {
		var snap core.Snapshot
		if err := rows.Scan(&snap.RollbackPointID, &snap.Type, &snap.Data, &snap.SizeBytes, &snap.Checksum); err != nil {
			return nil, err
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

func (s *Store) persistOperation(ctx context.Context, op *core.RollbackOperation) error {
	var completedAt any
	if op.CompletedAt != nil {
		completedAt = *op.CompletedAt
	}
	return s.cfg.RelStore.Exec(ctx,
		`INSERT INTO rollback_operations
		   (id, target_rollback_point_id, type, status, progress, strategy, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.TargetRollbackPointID, op.Type, string(op.Status), op.Progress, op.Strategy, op.StartedAt, completedAt, op.Error)
}

func (s *Store) loadOperation(ctx context.Context, id string) (*core.RollbackOperation, error) {
	rows, err := s.cfg.RelStore.Query(ctx,
		`SELECT id, target_rollback_point_id, type, status, progress, strategy, started_at, completed_at, error
		 FROM rollback_operations WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	var op core.RollbackOperation
	var status string
	var completedAt *time.Time
	if err := rows.Scan(&op.ID, &op.TargetRollbackPointID, &op.Type, &status, &op.Progress, &op.Strategy,
		&op.StartedAt, &completedAt, &op.Error); err != nil {
		return nil, err
	}
	op.Status = core.RollbackOperationStatus(status)
	op.CompletedAt = completedAt
	return &op, rows.Err()
}

func (s *Store) updatePersistedOperation(ctx context.Context, op *core.RollbackOperation) error {
	var completedAt any
	if op.CompletedAt != nil {
		completedAt = *op.CompletedAt
	}
	return s.cfg.RelStore.Exec(ctx,
		`UPDATE rollback_operations SET status = ?, progress = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(op.Status), op.Progress, completedAt, op.Error, op.ID)
}

func (s *Store) cleanupPersisted(ctx context.Context, now time.Time, cutoff time.Time) (int, int, error) {
	pointRows, err := s.cfg.RelStore.Query(ctx, `SELECT id FROM rollback_points WHERE expires_at IS NOT NULL AND expires_at < ?`, now)
	if err != nil {
		return 0, 0, err
	}
	var expiredIDs []string
	for pointRows.Next() {
		var id string
		if err := pointRows.Scan(&id); err != nil {
			pointRows.Close()
			return 0, 0, err
		}
		expiredIDs = append(expiredIDs, id)
	}
	pointRows.Close()

	for _, id := range expiredIDs {
		if _, err := s.removePoint(ctx, id); err != nil {
			return 0, 0, err
		}
		s.mu.Lock()
		s.cache.Remove(id)
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
		s.mu.Unlock()
	}

	result, err := countAndDeleteTerminalOperations(ctx, s.cfg.RelStore, cutoff)
	if err != nil {
		return len(expiredIDs), 0, err
	}
	return len(expiredIDs), result, nil
}

func countAndDeleteTerminalOperations(ctx context.Context, store core.RelStore, cutoff time.Time) (int, error) {
	rows, err := store.Query(ctx,
		`SELECT id FROM rollback_operations WHERE status IN (?, ?, ?) AND started_at < ?`,
		string(core.RollbackOpCompleted), string(core.RollbackOpFailed), string(core.RollbackOpCancelled), cutoff)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if err := store.Exec(ctx, `DELETE FROM rollback_operations WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
