package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigService exposes the loaded configuration for status/diagnostic
// reporting, sanitized by default.
type ConfigService interface {
	GetConfig(ctx context.Context, opts GetConfigOptions) (*ConfigResponse, error)
	GetConfigVersion() string
	GetConfigSource() ConfigSource
}

// GetConfigOptions controls a GetConfig export.
type GetConfigOptions struct {
	Format   string   // "json" or "yaml" (default: "json")
	Sanitize bool     // default true at the call site
	Sections []string // empty means all sections
}

// ConfigResponse is the exported configuration payload.
type ConfigResponse struct {
	Version        string         `json:"version" yaml:"version"`
	Source         ConfigSource   `json:"source" yaml:"source"`
	LoadedAt       time.Time      `json:"loaded_at" yaml:"loaded_at"`
	ConfigFilePath string         `json:"config_file_path,omitempty" yaml:"config_file_path,omitempty"`
	Config         map[string]any `json:"config" yaml:"config"`
}

// ConfigSource is where the loaded configuration came from.
type ConfigSource string

const (
	ConfigSourceFile     ConfigSource = "file"
	ConfigSourceEnv      ConfigSource = "env"
	ConfigSourceDefaults ConfigSource = "defaults"
	ConfigSourceMixed    ConfigSource = "mixed"
)

// DefaultConfigService implements ConfigService over a loaded Config.
type DefaultConfigService struct {
	config     *Config
	configPath string
	loadedAt   time.Time
	source     ConfigSource
	sanitizer  ConfigSanitizer

	cacheMu     sync.RWMutex
	cachedResp  *ConfigResponse
	cacheKey    string
	cacheExpiry time.Time
}

// NewConfigService returns a DefaultConfigService.
func NewConfigService(cfg *Config, configPath string, loadedAt time.Time, source ConfigSource) ConfigService {
	return &DefaultConfigService{
		config:     cfg,
		configPath: configPath,
		loadedAt:   loadedAt,
		source:     source,
		sanitizer:  NewDefaultConfigSanitizer(),
	}
}

// Marshal renders r as YAML when format is "yaml", and as JSON otherwise.
func (r *ConfigResponse) Marshal(format string) ([]byte, error) {
	switch format {
	case "yaml":
		return yaml.Marshal(r)
	default:
		return json.MarshalIndent(r, "", "  ")
	}
}

// GetConfig exports the current configuration, cached for 1s per distinct
// (version, format, sanitize, sections) key.
func (s *DefaultConfigService) GetConfig(ctx context.Context, opts GetConfigOptions) (*ConfigResponse, error) {
	if opts.Format == "" {
		opts.Format = "json"
	}

	cacheKey := s.buildCacheKey(opts)
	if cached := s.getCachedResponse(cacheKey); cached != nil {
		return cached, nil
	}

	configCopy := s.deepCopyConfig()
	if opts.Sanitize {
		configCopy = s.sanitizer.Sanitize(configCopy)
	}
	if len(opts.Sections) > 0 {
		configCopy = s.filterSections(configCopy, opts.Sections)
	}

	configMap, err := s.configToMap(configCopy)
	if err != nil {
		return nil, fmt.Errorf("config: convert to map: %w", err)
	}

	resp := &ConfigResponse{
		Version:        s.GetConfigVersion(),
		Source:         s.source,
		LoadedAt:       s.loadedAt,
		ConfigFilePath: s.configPath,
		Config:         configMap,
	}

	s.setCachedResponse(cacheKey, resp)
	return resp, nil
}

// GetConfigVersion returns the SHA-256 hash of the current configuration.
func (s *DefaultConfigService) GetConfigVersion() string {
	configJSON, err := json.Marshal(s.config)
	if err != nil {
		return fmt.Sprintf("error-%d", time.Now().Unix())
	}
	hash := sha256.Sum256(configJSON)
	return hex.EncodeToString(hash[:])
}

// GetConfigSource returns where the configuration was loaded from.
func (s *DefaultConfigService) GetConfigSource() ConfigSource {
	return s.source
}

func (s *DefaultConfigService) buildCacheKey(opts GetConfigOptions) string {
	sectionsKey := ""
	if len(opts.Sections) > 0 {
		sectionsKey = fmt.Sprintf("-%v", opts.Sections)
	}
	return fmt.Sprintf("%s-%s-%t%s", s.GetConfigVersion(), opts.Format, opts.Sanitize, sectionsKey)
}

func (s *DefaultConfigService) getCachedResponse(cacheKey string) *ConfigResponse {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.cachedResp != nil && s.cacheKey == cacheKey && time.Now().Before(s.cacheExpiry) {
		return s.cachedResp
	}
	return nil
}

func (s *DefaultConfigService) setCachedResponse(cacheKey string, resp *ConfigResponse) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cachedResp = resp
	s.cacheKey = cacheKey
	s.cacheExpiry = time.Now().Add(1 * time.Second)
}

func (s *DefaultConfigService) deepCopyConfig() *Config {
	configJSON, err := json.Marshal(s.config)
	if err != nil {
		return s.config
	}
	var configCopy Config
	if err := json.Unmarshal(configJSON, &configCopy); err != nil {
		return s.config
	}
	return &configCopy
}

func (s *DefaultConfigService) filterSections(cfg *Config, sections []string) *Config {
	filtered := &Config{}
	for _, section := range sections {
		switch section {
		case "storage":
			filtered.Storage = cfg.Storage
		case "sync":
			filtered.Sync = cfg.Sync
		case "rollback":
			filtered.Rollback = cfg.Rollback
		case "monitoring":
			filtered.Monitoring = cfg.Monitoring
		case "lock":
			filtered.Lock = cfg.Lock
		case "redis":
			filtered.Redis = cfg.Redis
		case "log":
			filtered.Log = cfg.Log
		case "app":
			filtered.App = cfg.App
		}
	}
	return filtered
}

func (s *DefaultConfigService) configToMap(cfg *Config) (map[string]any, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: marshal: %w", err)
	}
	var configMap map[string]any
	if err := json.Unmarshal(configJSON, &configMap); err != nil {
		return nil, fmt.Errorf("config: unmarshal to map: %w", err)
	}
	return configMap, nil
}
