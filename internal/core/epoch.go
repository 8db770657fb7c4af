package core

import (
	"sync/atomic"
	"time"
)

// Epoch is a monotonically increasing tag paired with a wall-clock
// timestamp, used to order batches and enforce read-after-write semantics
// across store adapters.
type Epoch struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// EpochGenerator hands out strictly increasing epochs. Safe for concurrent use.
type EpochGenerator struct {
	counter uint64
}

// NewEpochGenerator returns a generator starting at epoch 0.
func NewEpochGenerator() *EpochGenerator {
	return &EpochGenerator{}
}

// Next returns the next epoch in sequence.
func (g *EpochGenerator) Next() Epoch {
	seq := atomic.AddUint64(&g.counter, 1)
	return Epoch{Seq: seq, Timestamp: time.Now()}
}
