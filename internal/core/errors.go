package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the sync engine. The struct errors below
// (StoreFailed, BatchProcessingError, ...) carry a payload alongside the
// underlying cause.
var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when a lookup finds a row whose expiry has passed.
	ErrExpired = errors.New("expired")

	// ErrCancelled is returned when a cancel token is observed at a suspension point.
	ErrCancelled = errors.New("operation cancelled")

	// ErrOperationTimeout is returned when the rollback-completion poll loop
	// exceeds its deadline.
	ErrOperationTimeout = errors.New("operation timed out")

	// ErrUnresolvedEndpoint is returned when a relationship cannot resolve
	// fromId/toId before commit.
	ErrUnresolvedEndpoint = errors.New("relationship endpoint unresolved")
)

// ParseError describes a single parser failure for one file.
type ParseError struct {
	File        string
	Type        string
	Message     string
	Recoverable bool
	Timestamp   int64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s (%s)", e.File, e.Message, e.Type)
}

// StoreFailed wraps a transactional failure in a persisted store (RelStore or
// the graph/vector adapters it fronts).
type StoreFailed struct {
	RollbackPointID string
	Cause           error
}

func (e *StoreFailed) Error() string {
	return fmt.Sprintf("store failed for rollback point %s: %v", e.RollbackPointID, e.Cause)
}

func (e *StoreFailed) Unwrap() error { return e.Cause }

// BatchProcessingError is a fatal error during idempotency bookkeeping or
// micro-batch scheduling — it is propagated rather than absorbed into the
// batch result.
type BatchProcessingError struct {
	BatchID string
	Items   int
	Cause   error
}

func (e *BatchProcessingError) Error() string {
	return fmt.Sprintf("batch %s failed processing %d items: %v", e.BatchID, e.Items, e.Cause)
}

func (e *BatchProcessingError) Unwrap() error { return e.Cause }

// IngestionError marks a fatal, process-halting condition: idempotency key
// corruption, a store schema mismatch, or the rollback store being
// unreachable at startup.
type IngestionError struct {
	Component string
	Cause     error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion error in %s: %v", e.Component, e.Cause)
}

func (e *IngestionError) Unwrap() error { return e.Cause }
