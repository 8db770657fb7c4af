package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears viper's global state between tests.
func resetViper() {
	viper.Reset()
}

func unsetEnvKeys(keys ...string) {
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
	return path
}

var envKeys = []string{
	"PROFILE", "STORAGE_BACKEND", "STORAGE_SQLITE_PATH", "STORAGE_POSTGRES_DSN",
	"APP_ENVIRONMENT", "APP_DEBUG", "REDIS_ADDR", "LOG_LEVEL",
	"HISTORY_ENABLED", "DOC_FRESHNESS_WINDOW_DAYS", "ROLLBACK_CLEANUP_INTERVAL_MS", "IDEMPOTENCY_TTL_MS",
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	resetViper()
	unsetEnvKeys(envKeys...)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ProfileLite, cfg.Profile)
	assert.Equal(t, StorageBackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.False(t, cfg.App.Debug)
	assert.Equal(t, 500, cfg.Sync.EntityBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Sync.IdempotencyTTL)
	assert.True(t, cfg.Sync.HistoryEnabled)
	assert.Equal(t, 128, cfg.Rollback.MaxCacheItems)
}

func TestLoadConfig_File(t *testing.T) {
	resetViper()
	unsetEnvKeys(envKeys...)

	yamlContent := `
app:
  environment: "production"
  debug: false
  name: "codegraphsync"
profile: "standard"
storage:
  backend: "postgres"
  postgres_dsn: "postgres://localhost:5432/codegraphsync"
log:
  level: "debug"
`
	path := writeTempYAML(t, yamlContent)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.False(t, cfg.App.Debug)
	assert.Equal(t, ProfileStandard, cfg.Profile)
	assert.Equal(t, StorageBackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost:5432/codegraphsync", cfg.Storage.PostgresDSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	resetViper()
	unsetEnvKeys(envKeys...)

	yamlContent := `
app:
  environment: "development"
  debug: true
profile: "lite"
storage:
  backend: "sqlite"
  sqlite_path: "./file-path.db"
`
	path := writeTempYAML(t, yamlContent)

	require.NoError(t, os.Setenv("APP_ENVIRONMENT", "production"))
	require.NoError(t, os.Setenv("APP_DEBUG", "false"))
	require.NoError(t, os.Setenv("STORAGE_SQLITE_PATH", "./env-path.db"))
	t.Cleanup(func() { unsetEnvKeys(envKeys...) })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment, "env should override file")
	assert.False(t, cfg.App.Debug, "env should override file")
	assert.Equal(t, "./env-path.db", cfg.Storage.SQLitePath, "env should override file")
}

func TestLoadConfig_MillisecondEnvOverrides(t *testing.T) {
	resetViper()
	unsetEnvKeys(envKeys...)

	require.NoError(t, os.Setenv("ROLLBACK_CLEANUP_INTERVAL_MS", "5000"))
	require.NoError(t, os.Setenv("IDEMPOTENCY_TTL_MS", "2500"))
	require.NoError(t, os.Setenv("HISTORY_ENABLED", "false"))
	t.Cleanup(func() { unsetEnvKeys(envKeys...) })

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Rollback.CleanupInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.Sync.IdempotencyTTL)
	assert.False(t, cfg.Sync.HistoryEnabled)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	resetViper()
	unsetEnvKeys(envKeys...)

	invalid := `
app:
  name: : invalid
`
	path := writeTempYAML(t, invalid)

	cfg, err := LoadConfig(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadConfig_ValidationError(t *testing.T) {
	resetViper()
	unsetEnvKeys(envKeys...)

	yamlContent := `
profile: "lite"
storage:
  backend: "postgres"
`
	path := writeTempYAML(t, yamlContent)

	cfg, err := LoadConfig(path)
	require.Error(t, err, "lite profile requires a sqlite backend")
	assert.Nil(t, cfg)
}
