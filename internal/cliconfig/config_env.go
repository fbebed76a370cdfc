package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (RELPD_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", os.Getenv("RELPD_LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("tls-cert", os.Getenv("RELPD_TLS_CERT"), &cfg.TLSCert)
	s.setString("tls-key", os.Getenv("RELPD_TLS_KEY"), &cfg.TLSKey)
	s.setString("metrics-addr", os.Getenv("RELPD_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setIntFromString("max-batch-size", os.Getenv("RELPD_MAX_BATCH_SIZE"), &cfg.MaxBatchSize); err != nil {
		return err
	}
	if err := s.setIntFromString("max-frame-bytes", os.Getenv("RELPD_MAX_FRAME_BYTES"), &cfg.MaxFrameBytes); err != nil {
		return err
	}
	if err := s.setIntFromString("max-buffer-bytes", os.Getenv("RELPD_MAX_BUFFER_BYTES"), &cfg.MaxBufferBytes); err != nil {
		return err
	}
	if err := s.setIntFromString("drain-max", os.Getenv("RELPD_DRAIN_MAX_BATCHES"), &cfg.DrainMaxBatches); err != nil {
		return err
	}

	if err := s.setDuration("shutdown-timeout", os.Getenv("RELPD_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("drain-interval", os.Getenv("RELPD_DRAIN_INTERVAL"), &cfg.DrainInterval); err != nil {
		return err
	}

	s.setBoolFromString("tls-reload", os.Getenv("RELPD_TLS_RELOAD"), &cfg.TLSReload)
	s.setBoolFromString("verbose", os.Getenv("RELPD_VERBOSE"), &cfg.Verbose)

	return nil
}
