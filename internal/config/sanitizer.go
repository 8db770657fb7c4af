package config

import (
	"encoding/json"
)

// ConfigSanitizer redacts sensitive configuration fields before export.
type ConfigSanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultConfigSanitizer implements ConfigSanitizer.
type DefaultConfigSanitizer struct {
	redactionValue string
}

// NewDefaultConfigSanitizer returns a DefaultConfigSanitizer using the
// standard redaction placeholder.
func NewDefaultConfigSanitizer() ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: "***REDACTED***"}
}

// NewConfigSanitizer returns a DefaultConfigSanitizer using a custom
// redaction placeholder.
func NewConfigSanitizer(redactionValue string) ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: redactionValue}
}

// Sanitize redacts the Redis password and postgres DSN, the only fields in
// Config that can carry credentials.
func (s *DefaultConfigSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)

	if sanitized.Redis.Password != "" {
		sanitized.Redis.Password = s.redactionValue
	}
	if sanitized.Storage.PostgresDSN != "" {
		sanitized.Storage.PostgresDSN = s.redactionValue
	}

	return sanitized
}

func (s *DefaultConfigSanitizer) deepCopy(cfg *Config) *Config {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}

	var configCopy Config
	if err := json.Unmarshal(configJSON, &configCopy); err != nil {
		return cfg
	}

	return &configCopy
}
