package syncengine

import (
	"github.com/vitaliisemenov/codegraph-sync/internal/core"
)

// ConflictResolver decides how to resolve a detected entity-version
// conflict. It returns the resolution string recorded on core.Conflict.
type ConflictResolver func(core.Conflict) string

// IncomingWins is the default ConflictResolver: the incoming value has
// already been persisted by the store's upsert, so resolution is a no-op
// beyond labeling the outcome.
func IncomingWins(core.Conflict) string { return "incoming_wins" }

// StartOptions configures a single startFull/startIncremental call.
type StartOptions struct {
	CreateRollbackPoint bool
	RollbackOnFailure   bool
	ConflictResolver    ConflictResolver
	SessionID           string
}

func (o *StartOptions) setDefaults() {
	if o.ConflictResolver == nil {
		o.ConflictResolver = IncomingWins
	}
}

// Status is the coordinator's point-in-time health summary.
type Status struct {
	Health           string
	ActiveOperations int
	QueueDepth       int
}
