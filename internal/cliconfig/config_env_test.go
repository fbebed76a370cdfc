package cliconfig

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"RELPD_LISTEN_ADDR":      "0.0.0.0:2514",
				"RELPD_MAX_BATCH_SIZE":   "250",
				"RELPD_SHUTDOWN_TIMEOUT": "10s",
				"RELPD_TLS_RELOAD":       "true",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				ListenAddr:      "0.0.0.0:2514",
				MaxBatchSize:    250,
				ShutdownTimeout: 10 * time.Second,
				TLSReload:       true,
			},
			wantErr: false,
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"RELPD_LISTEN_ADDR":    "0.0.0.0:2514",
				"RELPD_MAX_BATCH_SIZE": "250",
			},
			changed: map[string]bool{"listen": true},
			initial: Config{ListenAddr: "127.0.0.1:9999"},
			expected: Config{
				ListenAddr:   "127.0.0.1:9999",
				MaxBatchSize: 250,
			},
			wantErr: false,
		},
		{
			name: "returns error for invalid duration",
			envVars: map[string]string{
				"RELPD_DRAIN_INTERVAL": "not-a-duration",
			},
			changed:  map[string]bool{},
			initial:  Config{},
			expected: Config{},
			wantErr:  true,
		},
		{
			name: "returns error for invalid int",
			envVars: map[string]string{
				"RELPD_MAX_FRAME_BYTES": "not-a-number",
			},
			changed:  map[string]bool{},
			initial:  Config{},
			expected: Config{},
			wantErr:  true,
		},
		{
			name: "handles bool '1' as true",
			envVars: map[string]string{
				"RELPD_VERBOSE": "1",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Verbose: true,
			},
			wantErr: false,
		},
		{
			name: "handles bool 'false' as false",
			envVars: map[string]string{
				"RELPD_TLS_RELOAD": "false",
			},
			changed: map[string]bool{},
			initial: Config{TLSReload: true},
			expected: Config{
				TLSReload: false,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyEnvConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyEnvConfig() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("config = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

// Integration test: precedence order (CLI > Env > File)
func TestConfigPrecedence(t *testing.T) {
	fileConf := FileConfig{
		ListenAddr:   "0.0.0.0:1111",
		MaxBatchSize: 100,
		TLSCert:      "/file/server.crt",
	}

	os.Setenv("RELPD_LISTEN_ADDR", "0.0.0.0:2222")
	os.Setenv("RELPD_MAX_BATCH_SIZE", "200")
	defer func() {
		os.Unsetenv("RELPD_LISTEN_ADDR")
		os.Unsetenv("RELPD_MAX_BATCH_SIZE")
	}()

	changed := map[string]bool{
		"listen": true, // CLI flag was set for the listen address
	}

	cfg := Config{
		ListenAddr: "0.0.0.0:3333", // This should remain (CLI wins)
	}

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:3333" {
		t.Errorf("ListenAddr = %v, want 0.0.0.0:3333 (CLI should win)", cfg.ListenAddr)
	}
	if cfg.MaxBatchSize != 200 {
		t.Errorf("MaxBatchSize = %v, want 200 (env should override file)", cfg.MaxBatchSize)
	}
	if cfg.TLSCert != "/file/server.crt" {
		t.Errorf("TLSCert = %v, want /file/server.crt (file should set)", cfg.TLSCert)
	}
}
