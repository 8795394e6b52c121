package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/haasonsaas/promptengine/internal/backoff"
	"github.com/haasonsaas/promptengine/internal/sources"
)

// SourcesConfig configures the three external collaborators.
type SourcesConfig struct {
	Tools   SourceConfig        `yaml:"tools"`
	RAG     SourceConfig        `yaml:"rag"`
	History HistorySourceConfig `yaml:"history"`
}

// SourceConfig configures one HTTP collaborator.
type SourceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// HistorySourceConfig configures the history store. When SQL.DSN is set
// the store is read directly from the database instead of over HTTP.
type HistorySourceConfig struct {
	SourceConfig `yaml:",inline"`

	SQL SQLHistoryConfig `yaml:"sql"`
}

// RetryConfig is the caller-side retry policy of one source. All attempts
// share the source timeout.
type RetryConfig struct {
	// MaxAttempts of 1 disables retry.
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Policy converts the settings to a backoff policy.
func (r RetryConfig) Policy() backoff.Policy {
	p := backoff.DefaultPolicy()
	if r.InitialBackoff > 0 {
		p.Initial = r.InitialBackoff
	}
	if r.MaxBackoff > 0 {
		p.Max = r.MaxBackoff
	}
	return p
}

// SQLHistoryConfig selects a read-only SQL history store.
type SQLHistoryConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	Table         string `yaml:"table"`
	SessionColumn string `yaml:"session_column"`
	RoleColumn    string `yaml:"role_column"`
	ContentColumn string `yaml:"content_column"`
	OrderColumn   string `yaml:"order_column"`

	// MaxMessages reads only the newest N messages. Zero reads all.
	MaxMessages int `yaml:"max_messages"`
}

// Enabled reports whether the SQL store replaces the HTTP one.
func (c SQLHistoryConfig) Enabled() bool {
	return c.DSN != ""
}

// SourceConfig converts the settings for the sources package.
func (c SQLHistoryConfig) SourceConfig() sources.SQLHistoryConfig {
	return sources.SQLHistoryConfig{
		Driver:        c.Driver,
		DSN:           c.DSN,
		Table:         c.Table,
		SessionColumn: c.SessionColumn,
		RoleColumn:    c.RoleColumn,
		ContentColumn: c.ContentColumn,
		OrderColumn:   c.OrderColumn,
		MaxMessages:   c.MaxMessages,
	}
}

// PoolConfig bounds the per-collaborator HTTP connection pools.
type PoolConfig struct {
	Size            int           `yaml:"size"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	KeepaliveExpiry time.Duration `yaml:"keepalive_expiry"`
}

// SourcePool converts the settings for the sources package.
func (c PoolConfig) SourcePool() sources.PoolConfig {
	return sources.PoolConfig{
		Size:            c.Size,
		ConnectTimeout:  c.ConnectTimeout,
		ReadTimeout:     c.ReadTimeout,
		KeepaliveExpiry: c.KeepaliveExpiry,
	}
}

// DevServicesAddr is where `promptengine dev-services` listens; source URLs
// default to its endpoints.
const DevServicesAddr = "127.0.0.1:18081"

func applySourcesDefaults(c *SourcesConfig) {
	applySourceDefaults(&c.Tools, "http://"+DevServicesAddr+"/tools", 10*time.Second)
	applySourceDefaults(&c.RAG, "http://"+DevServicesAddr+"/rag", 15*time.Second)
	applySourceDefaults(&c.History.SourceConfig, "http://"+DevServicesAddr+"/history", 10*time.Second)

	sql := &c.History.SQL
	if sql.Enabled() {
		def := sources.DefaultSQLHistoryConfig()
		if sql.Driver == "" {
			sql.Driver = def.Driver
		}
		if sql.Table == "" {
			sql.Table = def.Table
		}
		if sql.SessionColumn == "" {
			sql.SessionColumn = def.SessionColumn
		}
		if sql.RoleColumn == "" {
			sql.RoleColumn = def.RoleColumn
		}
		if sql.ContentColumn == "" {
			sql.ContentColumn = def.ContentColumn
		}
		if sql.OrderColumn == "" {
			sql.OrderColumn = def.OrderColumn
		}
	}
}

func applySourceDefaults(c *SourceConfig, defaultURL string, timeout time.Duration) {
	if c.URL == "" {
		c.URL = defaultURL
	}
	if c.Timeout == 0 {
		c.Timeout = timeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 1
	}
}

func applyPoolDefaults(c *PoolConfig) {
	def := sources.DefaultPoolConfig()
	if c.Size == 0 {
		c.Size = def.Size
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.KeepaliveExpiry == 0 {
		c.KeepaliveExpiry = def.KeepaliveExpiry
	}
}

func validateSources(cfg *Config) []string {
	var issues []string
	issues = append(issues, validateSource("sources.tools", cfg.Sources.Tools)...)
	issues = append(issues, validateSource("sources.rag", cfg.Sources.RAG)...)

	hist := cfg.Sources.History
	if hist.SQL.Enabled() {
		switch hist.SQL.Driver {
		case "postgres", "sqlite":
		default:
			issues = append(issues, fmt.Sprintf("sources.history.sql.driver %q must be postgres or sqlite", hist.SQL.Driver))
		}
		if hist.SQL.MaxMessages < 0 {
			issues = append(issues, "sources.history.sql.max_messages must not be negative")
		}
	}
	issues = append(issues, validateSource("sources.history", hist.SourceConfig)...)
	return issues
}

func validateSource(name string, c SourceConfig) []string {
	var issues []string
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, fmt.Sprintf("%s.url %q must be an absolute http(s) URL", name, c.URL))
		}
	}
	if c.Timeout < 0 {
		issues = append(issues, name+".timeout must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		issues = append(issues, name+".retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxBackoff > 0 && c.Retry.InitialBackoff > c.Retry.MaxBackoff {
		issues = append(issues, name+".retry.initial_backoff must not exceed max_backoff")
	}
	return issues
}

func validatePool(c *PoolConfig) []string {
	var issues []string
	if c.Size < 1 {
		issues = append(issues, "pool.size must be at least 1")
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.KeepaliveExpiry < 0 {
		issues = append(issues, "pool timeouts must not be negative")
	}
	return issues
}
