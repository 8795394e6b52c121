package config

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/promptengine/internal/dialect"
)

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig configures tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TracingConfig controls OpenTelemetry tracing. An empty endpoint
// disables export.
type TracingConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	// Path is where metrics are served.
	Path string `yaml:"path"`
}

// IsEnabled reports whether /metrics is served.
func (c MetricsConfig) IsEnabled() bool {
	return boolValue(c.Enabled, true)
}

// DialectConfig tunes provider-specific exports.
type DialectConfig struct {
	// Models maps a dialect name to the model stamped on exported requests.
	Models map[string]string `yaml:"models"`
}

// Model returns the configured model for a dialect.
func (c DialectConfig) Model(name dialect.Name) string {
	return c.Models[string(name)]
}

func applyObservabilityDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	tr := &cfg.Observability.Tracing
	if tr.ServiceName == "" {
		tr.ServiceName = "promptengine"
	}
	if tr.SamplingRate == 0 {
		tr.SamplingRate = 1.0
	}
	if cfg.Observability.Metrics.Path == "" {
		cfg.Observability.Metrics.Path = "/metrics"
	}
}

func validateObservability(cfg *Config) []string {
	var issues []string
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q must be debug, info, warn or error", cfg.Logging.Level))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}
	if rate := cfg.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}
	if !strings.HasPrefix(cfg.Observability.Metrics.Path, "/") {
		issues = append(issues, "observability.metrics.path must start with /")
	}
	return issues
}

func validateDialect(c *DialectConfig) []string {
	var issues []string
	for name := range c.Models {
		if _, err := dialect.Parse(name); err != nil {
			issues = append(issues, "dialect.models: "+err.Error())
		}
	}
	return issues
}
