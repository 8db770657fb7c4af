package core

import "time"

// RollbackPoint is a named, optionally expiring snapshot reference used to
// restore prior graph state. Owned exclusively by the RollbackStore.
type RollbackPoint struct {
	ID          string         `json:"id" validate:"required"`
	Name        string         `json:"name" validate:"required"`
	Description string         `json:"description,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the point's expiry, if any, has passed as of now.
func (p *RollbackPoint) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Snapshot is a single captured artifact attached to a RollbackPoint.
// Snapshots cascade-delete with their point.
type Snapshot struct {
	RollbackPointID string `json:"rollback_point_id"`
	Type            string `json:"type" validate:"required"`
	Data            []byte `json:"data"`
	SizeBytes       int64  `json:"size_bytes"`
	Checksum        string `json:"checksum,omitempty"`
}

// RollbackOperationStatus is the lifecycle state of a RollbackOperation.
type RollbackOperationStatus string

const (
	RollbackOpPending   RollbackOperationStatus = "pending"
	RollbackOpRunning   RollbackOperationStatus = "running"
	RollbackOpCompleted RollbackOperationStatus = "completed"
	RollbackOpFailed    RollbackOperationStatus = "failed"
	RollbackOpCancelled RollbackOperationStatus = "cancelled"
)

// IsTerminal reports whether the rollback operation has reached a terminal status.
func (s RollbackOperationStatus) IsTerminal() bool {
	switch s {
	case RollbackOpCompleted, RollbackOpFailed, RollbackOpCancelled:
		return true
	default:
		return false
	}
}

// RollbackOperation tracks the progress of restoring a RollbackPoint. The
// foreign key to its RollbackPoint is enforced by the RelStore schema.
type RollbackOperation struct {
	ID                  string                   `json:"id" validate:"required"`
	TargetRollbackPointID string                 `json:"target_rollback_point_id" validate:"required"`
	Type                string                   `json:"type"`
	Status              RollbackOperationStatus  `json:"status"`
	Progress            int                      `json:"progress" validate:"gte=0,lte=100"`
	Strategy            string                   `json:"strategy,omitempty"`
	StartedAt           time.Time                `json:"started_at"`
	CompletedAt         *time.Time               `json:"completed_at,omitempty"`
	Error               string                   `json:"error,omitempty"`
	Log                 []string                 `json:"log,omitempty"`
}

// RollbackMetrics is the snapshot returned by RollbackStore.getMetrics().
type RollbackMetrics struct {
	TotalPoints           int           `json:"total_points"`
	SuccessfulOperations  int           `json:"successful_operations"`
	FailedOperations      int           `json:"failed_operations"`
	AverageRollbackDuration time.Duration `json:"average_rollback_duration"`
	EstimatedMemoryBytes  int64         `json:"estimated_memory_bytes"`
}
