package core

import (
	"time"

	"github.com/google/uuid"
)

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// UUIDGen is the production IDGen, backed by google/uuid.
type UUIDGen struct{}

// NewBatchID implements IDGen.
func (UUIDGen) NewBatchID() string { return "batch_" + uuid.NewString() }

// NewOperationID implements IDGen.
func (UUIDGen) NewOperationID() string { return "op_" + uuid.NewString() }

// NewRollbackID implements IDGen.
func (UUIDGen) NewRollbackID() string { return "rb_" + uuid.NewString() }
