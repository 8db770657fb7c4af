package config

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfigService_GetConfig(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: StorageBackendSQLite, SQLitePath: "./data/test.db"},
		Redis:   RedisConfig{Addr: "localhost:6379", Password: "secret"},
		App: AppConfig{
			Name:        "test-app",
			Version:     "1.0.0",
			Environment: "test",
		},
	}

	service := NewConfigService(cfg, "/test/config.yaml", time.Now(), ConfigSourceFile)

	tests := []struct {
		name    string
		opts    GetConfigOptions
		wantErr bool
	}{
		{name: "JSON format default", opts: GetConfigOptions{Format: "json", Sanitize: true}},
		{name: "YAML format", opts: GetConfigOptions{Format: "yaml", Sanitize: true}},
		{name: "Unsanitized config", opts: GetConfigOptions{Format: "json", Sanitize: false}},
		{name: "Section filtering", opts: GetConfigOptions{Format: "json", Sanitize: true, Sections: []string{"storage", "app"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			resp, err := service.GetConfig(ctx, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && resp == nil {
				t.Error("GetConfig() returned nil response")
				return
			}
			if !tt.wantErr {
				if resp.Version == "" {
					t.Error("GetConfig() version is empty")
				}
				if resp.Source != ConfigSourceFile {
					t.Errorf("GetConfig() source = %v, want %v", resp.Source, ConfigSourceFile)
				}
				if resp.Config == nil {
					t.Error("GetConfig() config is nil")
				}
			}
		})
	}
}

func TestDefaultConfigService_GetConfigVersion(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: StorageBackendSQLite},
		App:     AppConfig{Name: "test"},
	}

	service := NewConfigService(cfg, "", time.Now(), ConfigSourceDefaults)

	version1 := service.GetConfigVersion()
	if version1 == "" {
		t.Error("GetConfigVersion() returned empty version")
	}

	version2 := service.GetConfigVersion()
	if version1 != version2 {
		t.Error("GetConfigVersion() is not deterministic")
	}

	cfg2 := &Config{
		Storage: StorageConfig{Backend: StorageBackendPostgres},
		App:     AppConfig{Name: "test"},
	}
	service2 := NewConfigService(cfg2, "", time.Now(), ConfigSourceDefaults)
	version3 := service2.GetConfigVersion()
	if version1 == version3 {
		t.Error("GetConfigVersion() should differ for different configs")
	}
}

func TestDefaultConfigService_GetConfigSource(t *testing.T) {
	tests := []struct {
		name   string
		source ConfigSource
	}{
		{"File source", ConfigSourceFile},
		{"Env source", ConfigSourceEnv},
		{"Defaults source", ConfigSourceDefaults},
		{"Mixed source", ConfigSourceMixed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{App: AppConfig{Name: "test"}}
			service := NewConfigService(cfg, "", time.Now(), tt.source)
			if got := service.GetConfigSource(); got != tt.source {
				t.Errorf("GetConfigSource() = %v, want %v", got, tt.source)
			}
		})
	}
}

func TestDefaultConfigService_Cache(t *testing.T) {
	cfg := &Config{App: AppConfig{Name: "test"}}
	service := NewConfigService(cfg, "", time.Now(), ConfigSourceDefaults).(*DefaultConfigService)

	opts := GetConfigOptions{Format: "json", Sanitize: true}
	ctx := context.Background()

	resp1, err := service.GetConfig(ctx, opts)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}

	resp2, err := service.GetConfig(ctx, opts)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}

	if resp1 != resp2 {
		t.Error("GetConfig() cache not working - different responses")
	}
}

func TestDefaultConfigService_SectionFiltering(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: StorageBackendSQLite, SQLitePath: "./data/test.db"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		App:     AppConfig{Name: "test"},
	}
	service := NewConfigService(cfg, "", time.Now(), ConfigSourceDefaults)

	ctx := context.Background()
	opts := GetConfigOptions{
		Format:   "json",
		Sanitize: true,
		Sections: []string{"storage", "app"},
	}

	resp, err := service.GetConfig(ctx, opts)
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}

	configMap := resp.Config

	storage, ok := configMap["Storage"].(map[string]interface{})
	if !ok || storage == nil {
		t.Error("Section filtering: Storage section missing")
	} else if storage["Backend"] == nil {
		t.Error("Section filtering: Storage.Backend missing")
	}

	app, ok := configMap["App"].(map[string]interface{})
	if !ok || app == nil {
		t.Error("Section filtering: App section missing")
	} else if app["Name"] == nil {
		t.Error("Section filtering: App.Name missing")
	}

	if redis, ok := configMap["Redis"].(map[string]interface{}); ok && redis != nil {
		if addr, ok := redis["Addr"].(string); ok && addr != "" {
			t.Errorf("Section filtering: Redis.Addr should be filtered out, got %v", addr)
		}
	}
}
