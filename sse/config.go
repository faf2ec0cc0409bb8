package sse

import "fmt"

// Config holds stream core configuration.
type Config struct {
	// Path is the route prefix for the SSE API.
	Path string `yaml:"path" mapstructure:"path"`
	// BufferSize is the per-sink channel capacity. When a sink's buffer
	// is exhausted, further pushes are dropped rather than blocking.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
	// KeepAliveInterval is the seconds between keep-alive comments on an
	// open stream. Must stay below intermediary idle timeouts.
	KeepAliveInterval int `yaml:"keep_alive_interval" mapstructure:"keep_alive_interval"`
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "/api/sse"
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 30
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.BufferSize < 0 {
		return fmt.Errorf("sse.buffer_size must be non-negative (got: %d)", c.BufferSize)
	}
	if c.KeepAliveInterval < 0 {
		return fmt.Errorf("sse.keep_alive_interval must be non-negative (got: %d)", c.KeepAliveInterval)
	}
	return nil
}
