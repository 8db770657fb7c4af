// Package batch implements the high-throughput batch processor: it accepts
// entity/relationship streams or change fragments and commits them to the
// graph store with micro-batching, controlled concurrency, dependency
// ordering, and idempotency.
package batch

import (
	"time"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
)

// Metadata describes a top-level batch submission.
type Metadata struct {
	ID        string
	Type      string
	Size      int
	Priority  int // 1..10, default 5
	CreatedAt time.Time
	EpochID   uint64
	Namespace string
}

// normalizePriority clamps Priority into [1,10], defaulting to 5.
func (m Metadata) normalizePriority() int {
	switch {
	case m.Priority == 0:
		return 5
	case m.Priority < 1:
		return 1
	case m.Priority > 10:
		return 10
	default:
		return m.Priority
	}
}

// Result is returned by every top-level batch operation.
type Result struct {
	BatchID        string
	Success        bool
	ProcessedCount int
	FailedCount    int
	Created        int
	Updated        int
	Deleted        int
	Duration       time.Duration
	Errors         []string
	Conflicts      []core.Conflict
	Metadata       Metadata
}

func emptyResult(kind string, idgen core.IDGen, meta *Metadata) Result {
	m := Metadata{Type: kind, CreatedAt: time.Now()}
	if meta != nil {
		m = *meta
		m.Type = kind
	}
	if m.ID == "" {
		m.ID = idgen.NewBatchID()
	}
	return Result{
		BatchID: m.ID,
		Success: true,
		Metadata: m,
	}
}
