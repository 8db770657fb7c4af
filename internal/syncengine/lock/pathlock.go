// Package lock implements the per-path advisory locks the sync coordinator
// takes during the commit phase, backed by Redis SETNX so multiple
// coordinator instances cannot commit the same path concurrently.
package lock

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// PathLock is an advisory, TTL-bounded lock on a single file path.
type PathLock struct {
	redis    *redis.Client
	path     string
	value    string
	ttl      time.Duration
	logger   *slog.Logger
	acquired bool
}

// Config configures lock acquisition behavior.
type Config struct {
	TTL            time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	AcquireTimeout time.Duration
	ReleaseTimeout time.Duration
	ValuePrefix    string
}

func (c *Config) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 2 * time.Second
	}
	if c.ValuePrefix == "" {
		c.ValuePrefix = "pathlock"
	}
}

// NewPathLock constructs a lock for path. cfg may be nil to take all defaults.
func NewPathLock(redisClient *redis.Client, path string, cfg *Config, logger *slog.Logger) *PathLock {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &PathLock{
		redis:  redisClient,
		path:   path,
		value:  generateLockValue(cfg.ValuePrefix),
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func generateLockValue(prefix string) string {
	b := make([]byte, 16)
	if _, err := cryptorand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), mathrand.Int63())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// Acquire attempts to take the lock once.
func (l *PathLock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireWithRetry(ctx, 0)
}

// AcquireWithRetry attempts to take the lock, retrying up to maxRetries times
// (a negative value is treated as 0).
func (l *PathLock) AcquireWithRetry(ctx context.Context, maxRetries int) (bool, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	l.logger.Debug("attempting to acquire path lock", "path", l.path, "ttl", l.ttl)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, l.ttl)

		result, err := l.redis.SetNX(acquireCtx, l.redisKey(), l.value, l.ttl).Result()
		cancel()
		if err != nil {
			l.logger.Error("failed to acquire path lock", "path", l.path, "attempt", attempt+1, "error", err)
			if attempt == maxRetries {
				return false, fmt.Errorf("acquire path lock after %d attempts: %w", maxRetries+1, err)
			}
			time.Sleep(l.retryInterval(attempt))
			continue
		}

		if result {
			l.acquired = true
			l.logger.Debug("path lock acquired", "path", l.path)
			return true, nil
		}

		if attempt == maxRetries {
			return false, nil
		}
		time.Sleep(l.retryInterval(attempt))
	}

	return false, nil
}

// Release releases the lock if still held by this instance.
func (l *PathLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	releaseCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(releaseCtx, script, []string{l.redisKey()}, l.value).Result()
	if err != nil {
		return fmt.Errorf("release path lock: %w", err)
	}

	if n, ok := result.(int64); ok && n == 1 {
		l.acquired = false
		return nil
	}

	l.logger.Warn("path lock was not released; possibly already expired", "path", l.path)
	return nil
}

// Extend renews the lock's TTL, failing if it is no longer held by this instance.
func (l *PathLock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("cannot extend a lock that was not acquired")
	}

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	extendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(extendCtx, script, []string{l.redisKey()}, l.value, int(newTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("extend path lock: %w", err)
	}
	if n, ok := result.(int64); ok && n == 1 {
		l.ttl = newTTL
		return nil
	}
	return fmt.Errorf("extend path lock: no longer held")
}

// IsAcquired reports whether the lock is currently held.
func (l *PathLock) IsAcquired() bool { return l.acquired }

// Path returns the locked path.
func (l *PathLock) Path() string { return l.path }

func (l *PathLock) redisKey() string {
	return "codegraph_sync:pathlock:" + l.path
}

func (l *PathLock) retryInterval(attempt int) time.Duration {
	base := 100 * time.Millisecond
	interval := time.Duration(attempt+1) * base
	jitter := time.Duration(float64(interval) * 0.25 * (2*mathrand.Float64() - 1))
	return interval + jitter
}
