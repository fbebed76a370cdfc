package cliconfig

import (
	"fmt"
	"strconv"
	"time"
)

// DefaultListenAddr is the default RELP listen address. The loopback
// default keeps an unconfigured daemon off the network.
const DefaultListenAddr = "127.0.0.1:5170"

// Config holds CLI configuration for relpd.
type Config struct {
	ListenAddr string

	MaxBatchSize   int
	MaxFrameBytes  int
	MaxBufferBytes int

	ShutdownTimeout time.Duration

	DrainInterval   time.Duration
	DrainMaxBatches int

	TLSCert   string
	TLSKey    string
	TLSReload bool

	// MetricsAddr serves prometheus metrics over HTTP when set.
	MetricsAddr string

	Verbose bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		MaxBatchSize:    0, // unbounded: batches close with the connection
		MaxFrameBytes:   128 << 10,
		MaxBufferBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
		DrainInterval:   time.Second,
		DrainMaxBatches: 0, // drain everything each tick
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MaxBatchSize < 0 {
		return fmt.Errorf("max batch size must not be negative")
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("max frame bytes must be positive")
	}
	if c.MaxBufferBytes == 0 {
		c.MaxBufferBytes = 8 * c.MaxFrameBytes
	}
	if c.MaxBufferBytes < c.MaxFrameBytes {
		return fmt.Errorf("max buffer bytes must be at least max frame bytes")
	}
	if c.DrainInterval <= 0 {
		return fmt.Errorf("drain interval must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must be set together")
	}
	if c.TLSReload && c.TLSCert == "" {
		return fmt.Errorf("tls-reload requires tls-cert and tls-key")
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
