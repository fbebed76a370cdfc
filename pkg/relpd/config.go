package relpd

import (
	"fmt"
	"time"

	"github.com/bft-labs/relpd/internal/app"
	"github.com/bft-labs/relpd/internal/domain"
)

// Default configuration values.
const (
	DefaultListenAddr      = "127.0.0.1:5170"
	DefaultMaxFrameBytes   = 128 * 1024
	DefaultMaxBufferBytes  = 1024 * 1024
	DefaultShutdownTimeout = app.ShutdownTimeout
)

// Config holds the listener configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config struct {
	// ListenAddr is the host:port to bind.
	ListenAddr string

	// MaxBatchSize finalizes a batch once it holds this many events.
	// Zero means batches finalize only when their connection closes.
	MaxBatchSize int

	// MaxFrameBytes caps a single frame's declared data length.
	MaxFrameBytes int

	// MaxBufferBytes caps accumulated undecoded bytes per connection.
	MaxBufferBytes int

	// ShutdownTimeout bounds how long Stop waits for live connections
	// to finish their current frame before force-closing them.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		MaxBatchSize:    0,
		MaxFrameBytes:   DefaultMaxFrameBytes,
		MaxBufferBytes:  DefaultMaxBufferBytes,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", domain.ErrInvalidConfig)
	}
	if c.MaxBatchSize < 0 {
		return fmt.Errorf("%w: max batch size must not be negative", domain.ErrInvalidConfig)
	}
	if c.MaxBufferBytes < c.MaxFrameBytes {
		return fmt.Errorf("%w: buffer limit below frame limit", domain.ErrInvalidConfig)
	}
	return nil
}
