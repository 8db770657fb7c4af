package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// ExampleLoadConfig demonstrates loading configuration from a file.
func ExampleLoadConfig() {
	cfg, err := LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Printf("App: %s v%s\n", cfg.App.Name, cfg.App.Version)
	fmt.Printf("Profile: %s\n", cfg.GetProfileName())
	fmt.Printf("Storage backend: %s\n", cfg.Storage.Backend)
	fmt.Printf("Environment: %s\n", cfg.App.Environment)
	fmt.Printf("Debug: %t\n", cfg.IsDebug())
}

// ExampleLoadConfigFromEnv demonstrates loading config from environment only.
func ExampleLoadConfigFromEnv() {
	os.Setenv("PROFILE", "standard")
	os.Setenv("STORAGE_BACKEND", "postgres")
	os.Setenv("STORAGE_POSTGRES_DSN", "postgres://localhost:5432/codegraphsync")
	os.Setenv("APP_ENVIRONMENT", "production")
	os.Setenv("APP_DEBUG", "false")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load config from env: %v", err)
	}

	fmt.Printf("Profile from env: %s\n", cfg.Profile)
	fmt.Printf("Environment from env: %s\n", cfg.App.Environment)
	fmt.Printf("Debug from env: %t\n", cfg.App.Debug)
}

// ExampleConfigValidation demonstrates config validation.
func ExampleConfigValidation() {
	cfg := &Config{
		Profile: ProfileLite,
		Storage: StorageConfig{Backend: StorageBackendSQLite, SQLitePath: "./data/codegraph-sync.db"},
		Sync: SyncConfig{
			EntityBatchSize: 500, RelationshipBatchSize: 500, MaxConcurrentOperations: 4,
			MaxConcurrentBatches: 8, MaxInFlightParses: 16, MaxQueuedFragments: 10000,
			IdempotencyTTL: 10 * time.Minute, IdempotencySweepInterval: time.Minute, IdempotencyCacheCapacity: 10000,
			StopTimeout: 30 * time.Second,
		},
		Rollback: RollbackConfig{
			MaxCacheItems: 128, CleanupInterval: 10 * time.Minute,
			CleanupMaxAge: 168 * time.Hour, RollbackTimeout: 5 * time.Minute,
		},
		Monitoring: MonitoringConfig{HealthCheckInterval: 30 * time.Second, HistoryCapacity: 500, ReportFormat: "json"},
		Lock: LockConfig{
			TTL: 30 * time.Second, RetryInterval: 100 * time.Millisecond,
			AcquireTimeout: 5 * time.Second, ReleaseTimeout: 2 * time.Second, ValuePrefix: "codegraphsync:lock",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		App: AppConfig{Name: "codegraphsync", Environment: "development"},
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	fmt.Println("configuration is valid")
}

// ExampleEnvironmentHelpers demonstrates environment helper methods.
func ExampleEnvironmentHelpers() {
	devCfg := &Config{App: AppConfig{Environment: "development"}}
	fmt.Printf("Is Development: %t\n", devCfg.IsDevelopment())
	fmt.Printf("Is Production: %t\n", devCfg.IsProduction())
	fmt.Printf("Is Debug: %t\n", devCfg.IsDebug())

	prodCfg := &Config{App: AppConfig{Environment: "production"}}
	fmt.Printf("Is Development: %t\n", prodCfg.IsDevelopment())
	fmt.Printf("Is Production: %t\n", prodCfg.IsProduction())
}

// ExampleConfigWithDefaults demonstrates loading config with defaults only.
func ExampleConfigWithDefaults() {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Printf("Default profile: %s\n", cfg.Profile)
	fmt.Printf("Default storage backend: %s\n", cfg.Storage.Backend)
	fmt.Printf("Default app name: %s\n", cfg.App.Name)
}

// ExampleConfigExport demonstrates exporting a sanitized config report.
func ExampleConfigExport() {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	svc := NewConfigService(cfg, "", time.Now(), ConfigSourceEnv)
	resp, err := svc.GetConfig(context.Background(), GetConfigOptions{Format: "yaml", Sanitize: true})
	if err != nil {
		log.Fatalf("failed to export config: %v", err)
	}

	data, err := resp.Marshal("yaml")
	if err != nil {
		log.Fatalf("failed to marshal config response: %v", err)
	}
	fmt.Println(string(data))
}
