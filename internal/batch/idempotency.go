package batch

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// idKey is the minimal identity of an item the idempotency hash is derived
// from: (id, type). Order within a batch does not matter — keys are sorted
// before hashing so two submissions of the same items in a different order
// hash identically (testable property: idempotent batch round-trip).
type idKey struct {
	id   string
	kind string
}

// idempotencyEntry pairs a cached result with its expiry.
type idempotencyEntry struct {
	result    Result
	expiresAt time.Time
}

// idempotencyCache maps a derived key to a (Result, expiresAt) pair and
// evicts expired entries on a periodic sweep, per §4.3 algorithm 1.
type idempotencyCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, idempotencyEntry]
	ttl   time.Duration

	stopSweep chan struct{}
	sweepDone chan struct{}
}

func newIdempotencyCache(capacity int, ttl time.Duration) *idempotencyCache {
	if capacity <= 0 {
		capacity = 1024
	}
	c, _ := lru.New[string, idempotencyEntry](capacity)
	return &idempotencyCache{
		cache:     c,
		ttl:       ttl,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// deriveKey computes the idempotency key for a batch: type + FNV-1a hash of
// the sorted (id, kind) pairs of its items.
func deriveKey(batchType string, items []idKey) string {
	sorted := append([]idKey(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].kind != sorted[j].kind {
			return sorted[i].kind < sorted[j].kind
		}
		return sorted[i].id < sorted[j].id
	})

	h := fnv.New64a()
	for _, k := range sorted {
		h.Write([]byte(k.kind))
		h.Write([]byte{0})
		h.Write([]byte(k.id))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%x", batchType, h.Sum64())
}

// get returns the cached result for key if present and unexpired.
func (c *idempotencyCache) get(key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cache.Get(key)
	if !ok {
		return Result{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return Result{}, false
	}
	return entry.result, true
}

// put caches result under key until the cache's configured TTL elapses.
func (c *idempotencyCache) put(key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, idempotencyEntry{result: result, expiresAt: time.Now().Add(c.ttl)})
}

// startSweeper runs a periodic eviction pass for expired entries (every 60s
// per §4.3 algorithm 1) until stop is called.
func (c *idempotencyCache) startSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	go func() {
		defer close(c.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweepExpired()
			case <-c.stopSweep:
				return
			}
		}
	}()
}

func (c *idempotencyCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for _, key := range c.cache.Keys() {
		entry, ok := c.cache.Peek(key)
		if ok && now.After(entry.expiresAt) {
			c.cache.Remove(key)
		}
	}
}

func (c *idempotencyCache) stop() {
	close(c.stopSweep)
	<-c.sweepDone
}
