// Package config provides configuration types for the MCP observability
// gateway: a single storage directory, a single HTTP listener, a single
// management-plane bearer token, and the background health scheduler's
// interval. There is no policy, identity, or multi-tenant configuration --
// those concerns belong to a policy gateway, not an observability one.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// GatewayConfig is the top-level configuration for the gateway.
type GatewayConfig struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage configures the embedded SQL storage backend.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Capture configures the capture engine's background writer.
	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`

	// Health configures the background health scheduler.
	Health HealthConfig `yaml:"health" mapstructure:"health"`

	// ManagementToken is the single bearer token protecting /api.
	// If empty at load time, one is auto-generated and printed at startup.
	ManagementToken string `yaml:"management_token" mapstructure:"management_token"`

	// AllowedOrigins is the DNS-rebinding-protection allowlist applied
	// to the proxy path. Empty means only same-origin/non-browser
	// requests (no Origin header) are accepted.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// DevMode enables verbose logging and relaxes the origin allowlist.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the TCP port to listen on. Defaults to 3333.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// Addr is the bind address. Defaults to "127.0.0.1".
	Addr string `yaml:"addr" mapstructure:"addr"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// StorageConfig configures the embedded SQL storage backend.
type StorageConfig struct {
	// Dir is the directory containing the sqlite database file and the
	// migration latch sidecar. Defaults to "~/.mcp-gateway/captures".
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`
}

// CaptureConfig configures the capture engine's background writer.
type CaptureConfig struct {
	// ChannelSize is the buffer size for the capture channel.
	// Defaults to 4096 if zero.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records buffered before the capture
	// worker flushes them to storage.
	// Defaults to 50 if zero.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush a partial batch (e.g. "200ms").
	// Defaults to "200ms" if empty.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout bounds how long enqueue blocks before dropping a
	// record under backpressure (e.g. "25ms"). Defaults to "25ms".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`
}

// HealthConfig configures the background health scheduler.
type HealthConfig struct {
	// IntervalMs is the period between health-probe cycles.
	// Defaults to 30000 (30s) if zero.
	IntervalMs int64 `yaml:"interval_ms" mapstructure:"interval_ms" validate:"omitempty,min=1000"`
}

// SetDefaults applies sensible default values for every environment
// variable the gateway recognizes.
func (c *GatewayConfig) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3333
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Storage.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Storage.Dir = filepath.Join(home, ".mcp-gateway", "captures")
		} else {
			c.Storage.Dir = ".mcp-gateway/captures"
		}
	}

	if c.Capture.ChannelSize == 0 {
		c.Capture.ChannelSize = 4096
	}
	if c.Capture.BatchSize == 0 {
		c.Capture.BatchSize = 50
	}
	if c.Capture.FlushInterval == "" {
		c.Capture.FlushInterval = "200ms"
	}
	if c.Capture.SendTimeout == "" {
		c.Capture.SendTimeout = "25ms"
	}

	if c.Health.IntervalMs == 0 {
		c.Health.IntervalMs = 30000
	}

	if c.DevMode && len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3333", "http://127.0.0.1:3333"}
	}
}

// ListenAddr returns the listen address in host:port form.
func (c *GatewayConfig) ListenAddr() string {
	return c.Server.Addr + ":" + strconv.Itoa(c.Server.Port)
}
