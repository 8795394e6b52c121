// Package config loads and validates the prompt engine configuration.
//
// Configuration is resolved once at startup and passed explicitly; nothing
// in the engine reads it from globals.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration.
type Config struct {
	// Version is the configuration file format version. Zero means current.
	Version int `yaml:"version"`

	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Sources       SourcesConfig       `yaml:"sources"`
	Pool          PoolConfig          `yaml:"pool"`
	Dialect       DialectConfig       `yaml:"dialect"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ConfigValidationError collects every problem found in a configuration.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads the file at path (YAML, JSON or JSON5, with $include and
// ${ENV} expansion), applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyServerDefaults(&cfg.Server)
	applyPipelineDefaults(&cfg.Pipeline)
	applySourcesDefaults(&cfg.Sources)
	applyPoolDefaults(&cfg.Pool)
	applyObservabilityDefaults(cfg)
}

// Validate reports every invalid setting at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigValidationError{Issues: []string{"config is nil"}}
	}
	var issues []string
	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, validateServer(&cfg.Server)...)
	issues = append(issues, validatePipeline(&cfg.Pipeline)...)
	issues = append(issues, validateSources(cfg)...)
	issues = append(issues, validatePool(&cfg.Pool)...)
	issues = append(issues, validateDialect(&cfg.Dialect)...)
	issues = append(issues, validateObservability(cfg)...)
	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func boolValue(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
