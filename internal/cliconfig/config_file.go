package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	MaxBatchSize    int    `toml:"max_batch_size"`
	MaxFrameBytes   int    `toml:"max_frame_bytes"`
	MaxBufferBytes  int    `toml:"max_buffer_bytes"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	DrainInterval   string `toml:"drain_interval"`
	DrainMaxBatches int    `toml:"drain_max_batches"`
	TLSCert         string `toml:"tls_cert"`
	TLSKey          string `toml:"tls_key"`
	TLSReload       *bool  `toml:"tls_reload"`
	MetricsAddr     string `toml:"metrics_addr"`
	Verbose         *bool  `toml:"verbose"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.relpd/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".relpd", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("tls-cert", fc.TLSCert, &cfg.TLSCert)
	s.setString("tls-key", fc.TLSKey, &cfg.TLSKey)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	s.setInt("max-batch-size", fc.MaxBatchSize, &cfg.MaxBatchSize)
	s.setInt("max-frame-bytes", fc.MaxFrameBytes, &cfg.MaxFrameBytes)
	s.setInt("max-buffer-bytes", fc.MaxBufferBytes, &cfg.MaxBufferBytes)
	s.setInt("drain-max", fc.DrainMaxBatches, &cfg.DrainMaxBatches)

	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("drain-interval", fc.DrainInterval, &cfg.DrainInterval); err != nil {
		return err
	}

	s.setBool("tls-reload", fc.TLSReload, &cfg.TLSReload)
	s.setBool("verbose", fc.Verbose, &cfg.Verbose)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
