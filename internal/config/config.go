package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	// Profile selects the deployment shape: "lite" (embedded sqlite,
	// single-node) or "standard" (postgres+redis, HA).
	Profile DeploymentProfile `mapstructure:"profile" validate:"required,oneof=lite standard"`

	Storage    StorageConfig    `mapstructure:"storage" validate:"required"`
	Sync       SyncConfig       `mapstructure:"sync" validate:"required"`
	Rollback   RollbackConfig   `mapstructure:"rollback" validate:"required"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" validate:"required"`
	Lock       LockConfig       `mapstructure:"lock" validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log" validate:"required"`
	App        AppConfig        `mapstructure:"app" validate:"required"`
}

// DeploymentProfile is the deployment profile type.
type DeploymentProfile string

const (
	// ProfileLite is single-node with embedded sqlite storage, no external
	// dependencies.
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard is HA-ready with postgres (required) and redis
	// (optional, for the cross-process advisory lock).
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig selects and configures the RelStore backend behind
// RollbackStore and the reference GraphStore adapter.
type StorageConfig struct {
	Backend        StorageBackend `mapstructure:"backend" validate:"required,oneof=sqlite postgres"`
	SQLitePath     string         `mapstructure:"sqlite_path"`
	PostgresDSN    string         `mapstructure:"postgres_dsn"`
	MigrationTable string         `mapstructure:"migration_table"`
}

// StorageBackend is the concrete RelStore driver.
type StorageBackend string

const (
	StorageBackendSQLite   StorageBackend = "sqlite"
	StorageBackendPostgres StorageBackend = "postgres"
)

// SyncConfig configures SyncCoordinator and BatchProcessor concurrency and
// batch sizing (spec §4.3.1 micro-batch limits, §4.4 backpressure).
type SyncConfig struct {
	EntityBatchSize         int           `mapstructure:"entity_batch_size" validate:"gt=0"`
	RelationshipBatchSize   int           `mapstructure:"relationship_batch_size" validate:"gt=0"`
	MaxConcurrentOperations int           `mapstructure:"max_concurrent_operations" validate:"gt=0"`
	MaxConcurrentBatches    int           `mapstructure:"max_concurrent_batches" validate:"gt=0"`
	MaxInFlightParses       int           `mapstructure:"max_in_flight_parses" validate:"gt=0"`
	MaxQueuedFragments      int           `mapstructure:"max_queued_fragments" validate:"gt=0"`
	IdempotencyTTL          time.Duration `mapstructure:"idempotency_ttl" validate:"gt=0"`
	IdempotencySweepInterval time.Duration `mapstructure:"idempotency_sweep_interval" validate:"gt=0"`
	IdempotencyCacheCapacity int          `mapstructure:"idempotency_cache_capacity" validate:"gt=0"`
	StopTimeout             time.Duration `mapstructure:"stop_timeout" validate:"gt=0"`
	EnableDAG               bool          `mapstructure:"enable_dag"`
	HistoryEnabled          bool          `mapstructure:"history_enabled"`
	DocFreshnessWindow      time.Duration `mapstructure:"doc_freshness_window"`
	SourceRoot              string        `mapstructure:"source_root"`
}

// RollbackConfig configures RollbackStore (spec §4.1 checkpoint cadence,
// retention and hot-read cache).
type RollbackConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxCacheItems   int           `mapstructure:"max_cache_items" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
	CleanupMaxAge   time.Duration `mapstructure:"cleanup_max_age" validate:"gt=0"`
	RollbackTimeout time.Duration `mapstructure:"rollback_timeout" validate:"gt=0"`
}

// MonitoringConfig configures the Monitoring component (spec §4.5 health
// checks and bounded event history).
type MonitoringConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" validate:"gt=0"`
	HistoryCapacity     int           `mapstructure:"history_capacity" validate:"gt=0"`
	ReportFormat        string        `mapstructure:"report_format" validate:"oneof=json yaml"`
}

// LockConfig configures the redis-backed per-path advisory lock
// (spec §4.4 concurrency). Unused when Redis.Addr is empty.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl" validate:"gt=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout" validate:"gt=0"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// RedisConfig is optional: an empty Addr disables the advisory lock and the
// coordinator runs without any per-path commit locking.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig is general application identity/runtime configuration.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`
	Debug       bool   `mapstructure:"debug"`
}

// LoadConfig loads configuration from an optional YAML file layered with
// environment variable overrides.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()
	bindEnv()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read file: %w", err)
			}
		}
	}

	return unmarshalAndValidate()
}

// LoadConfigFromEnv loads configuration from environment variables and
// defaults only, skipping any file lookup.
func LoadConfigFromEnv() (*Config, error) {
	setDefaults()
	bindEnv()
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return unmarshalAndValidate()
}

func unmarshalAndValidate() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyMillisOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// bindEnv wires the handful of env vars whose names don't follow the
// SECTION_FIELD convention AutomaticEnv already covers.
func bindEnv() {
	_ = viper.BindEnv("sync.history_enabled", "HISTORY_ENABLED")
	_ = viper.BindEnv("sync.doc_freshness_window_days", "DOC_FRESHNESS_WINDOW_DAYS")
	_ = viper.BindEnv("rollback.cleanup_interval_ms", "ROLLBACK_CLEANUP_INTERVAL_MS")
	_ = viper.BindEnv("sync.idempotency_ttl_ms", "IDEMPOTENCY_TTL_MS")
}

// applyMillisOverrides re-applies the millisecond-denominated env vars that
// BindEnv alone can't coerce into a time.Duration mapstructure field.
func applyMillisOverrides(cfg *Config) {
	if ms := viper.GetInt64("rollback.cleanup_interval_ms"); ms > 0 {
		cfg.Rollback.CleanupInterval = time.Duration(ms) * time.Millisecond
	}
	if ms := viper.GetInt64("sync.idempotency_ttl_ms"); ms > 0 {
		cfg.Sync.IdempotencyTTL = time.Duration(ms) * time.Millisecond
	}
	if days := viper.GetInt("sync.doc_freshness_window_days"); days > 0 {
		cfg.Sync.DocFreshnessWindow = time.Duration(days) * 24 * time.Hour
	}
	cfg.Sync.HistoryEnabled = viper.GetBool("sync.history_enabled")
}

func setDefaults() {
	viper.SetDefault("profile", "lite")

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.sqlite_path", "./data/codegraph-sync.db")
	viper.SetDefault("storage.postgres_dsn", "")
	viper.SetDefault("storage.migration_table", "codegraph_sync_migrations")

	viper.SetDefault("sync.entity_batch_size", 500)
	viper.SetDefault("sync.relationship_batch_size", 500)
	viper.SetDefault("sync.max_concurrent_operations", 4)
	viper.SetDefault("sync.max_concurrent_batches", 8)
	viper.SetDefault("sync.max_in_flight_parses", 16)
	viper.SetDefault("sync.max_queued_fragments", 10000)
	viper.SetDefault("sync.idempotency_ttl", "10m")
	viper.SetDefault("sync.idempotency_sweep_interval", "1m")
	viper.SetDefault("sync.idempotency_cache_capacity", 10000)
	viper.SetDefault("sync.stop_timeout", "30s")
	viper.SetDefault("sync.enable_dag", true)
	viper.SetDefault("sync.history_enabled", true)
	viper.SetDefault("sync.doc_freshness_window", "168h")
	viper.SetDefault("sync.source_root", ".")

	viper.SetDefault("rollback.enabled", true)
	viper.SetDefault("rollback.max_cache_items", 128)
	viper.SetDefault("rollback.cleanup_interval", "10m")
	viper.SetDefault("rollback.cleanup_max_age", "168h")
	viper.SetDefault("rollback.rollback_timeout", "5m")

	viper.SetDefault("monitoring.health_check_interval", "30s")
	viper.SetDefault("monitoring.history_capacity", 500)
	viper.SetDefault("monitoring.report_format", "json")

	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "100ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.release_timeout", "2s")
	viper.SetDefault("lock.value_prefix", "codegraphsync:lock")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("app.name", "codegraphsync")
	viper.SetDefault("app.version", "dev")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
}

var structValidator = validator.New()

// Validate checks cross-field invariants validator struct tags can't
// express, after running the struct tag validation itself.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("struct validation: %w", err)
	}

	if err := c.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if c.Redis.Addr == "" && c.Profile == ProfileStandard {
		// Redis is optional even in standard profile: the coordinator
		// simply runs without a cross-process advisory lock.
	}

	return nil
}

func (c *Config) validateProfile() error {
	switch c.Profile {
	case ProfileLite:
		if c.Storage.Backend != StorageBackendSQLite {
			return fmt.Errorf("lite profile requires storage.backend=sqlite (got %q)", c.Storage.Backend)
		}
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("lite profile requires storage.sqlite_path")
		}
	case ProfileStandard:
		if c.Storage.Backend != StorageBackendPostgres {
			return fmt.Errorf("standard profile requires storage.backend=postgres (got %q)", c.Storage.Backend)
		}
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("standard profile requires storage.postgres_dsn")
		}
	default:
		return fmt.Errorf("invalid deployment profile: %s (must be %q or %q)", c.Profile, ProfileLite, ProfileStandard)
	}
	return nil
}

// IsLiteProfile reports whether the deployment uses embedded sqlite storage.
func (c *Config) IsLiteProfile() bool { return c.Profile == ProfileLite }

// IsStandardProfile reports whether the deployment uses postgres storage.
func (c *Config) IsStandardProfile() bool { return c.Profile == ProfileStandard }

// RequiresPostgres reports whether this profile needs a reachable postgres.
func (c *Config) RequiresPostgres() bool { return c.Profile == ProfileStandard }

// UsesRedisLock reports whether a redis-backed advisory lock is configured.
func (c *Config) UsesRedisLock() bool { return c.Redis.Addr != "" }

// IsDevelopment reports whether App.Environment is "development".
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

// IsProduction reports whether App.Environment is "production".
func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// IsDebug reports whether debug-level behavior (verbose logging, source
// locations) should be enabled.
func (c *Config) IsDebug() bool { return c.App.Debug || c.IsDevelopment() }

// GetProfileName returns a human-readable profile label.
func (c *Config) GetProfileName() string {
	switch c.Profile {
	case ProfileLite:
		return "Lite (embedded sqlite)"
	case ProfileStandard:
		return "Standard (postgres + optional redis)"
	default:
		return string(c.Profile)
	}
}
