package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/promptengine/internal/ratelimit"
)

// ServerConfig configures the HTTP, WebSocket and gRPC listeners.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`

	// GRPCPort serves the gRPC health service. Zero disables it.
	GRPCPort int `yaml:"grpc_port"`

	// LimitConcurrency caps pipeline runs in flight across both transports.
	LimitConcurrency int `yaml:"limit_concurrency"`

	// Backlog caps requests waiting for a pipeline slot. Beyond it
	// requests are rejected as overloaded.
	Backlog int `yaml:"backlog"`

	// MaxBodyBytes caps the HTTP request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// KeepaliveTimeout is the idle timeout of keep-alive connections.
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Compression enables gzip on HTTP responses. Defaults to true.
	Compression *bool `yaml:"compression"`

	RateLimit ratelimit.Config `yaml:"rate_limit"`

	WS WSConfig `yaml:"ws"`
}

// CompressionEnabled reports whether HTTP responses are gzip-encoded.
func (c ServerConfig) CompressionEnabled() bool {
	return boolValue(c.Compression, true)
}

// Addr returns the HTTP listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddr returns the gRPC listen address, empty when disabled.
func (c ServerConfig) GRPCAddr() string {
	if c.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// WSConfig configures the persistent-channel transport.
type WSConfig struct {
	// MaxMessageBytes caps one inbound frame.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// PingInterval is how often the server pings idle clients.
	PingInterval time.Duration `yaml:"ping_interval"`

	// PongWait is how long to wait for any inbound frame before the
	// connection is considered dead.
	PongWait time.Duration `yaml:"pong_wait"`

	// WriteWait bounds a single frame write.
	WriteWait time.Duration `yaml:"write_wait"`

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `yaml:"send_buffer"`

	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func applyServerDefaults(c *ServerConfig) {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 18080
	}
	if c.LimitConcurrency == 0 {
		c.LimitConcurrency = 100
	}
	if c.Backlog == 0 {
		c.Backlog = 512
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.RateLimit.RequestsPerSecond == 0 && c.RateLimit.BurstSize == 0 {
		enabled := c.RateLimit.Enabled
		c.RateLimit = ratelimit.DefaultConfig()
		c.RateLimit.Enabled = enabled
	}
	if c.WS.MaxMessageBytes == 0 {
		c.WS.MaxMessageBytes = 1 << 20
	}
	if c.WS.PongWait == 0 {
		c.WS.PongWait = 60 * time.Second
	}
	if c.WS.PingInterval == 0 {
		c.WS.PingInterval = c.WS.PongWait * 9 / 10
	}
	if c.WS.WriteWait == 0 {
		c.WS.WriteWait = 10 * time.Second
	}
	if c.WS.SendBuffer == 0 {
		c.WS.SendBuffer = 64
	}
}

func validateServer(c *ServerConfig) []string {
	var issues []string
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.http_port %d out of range", c.HTTPPort))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.grpc_port %d out of range", c.GRPCPort))
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.HTTPPort {
		issues = append(issues, "server.grpc_port must differ from server.http_port")
	}
	if c.LimitConcurrency < 1 {
		issues = append(issues, "server.limit_concurrency must be at least 1")
	}
	if c.Backlog < 0 {
		issues = append(issues, "server.backlog must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			issues = append(issues, "server.rate_limit.requests_per_second must be positive")
		}
		if c.RateLimit.BurstSize < 1 {
			issues = append(issues, "server.rate_limit.burst_size must be at least 1")
		}
	}
	if c.WS.PingInterval >= c.WS.PongWait {
		issues = append(issues, "server.ws.ping_interval must be shorter than server.ws.pong_wait")
	}
	if c.WS.SendBuffer < 1 {
		issues = append(issues, "server.ws.send_buffer must be at least 1")
	}
	return issues
}
