package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/relpd/internal/cliconfig"
	logAdapter "github.com/bft-labs/relpd/pkg/log"
	"github.com/bft-labs/relpd/pkg/relpd"
)

const helpDescription = `
Accept syslog events over RELP and hand them downstream in per-connection batches.

Highlights:
  - Every frame is acknowledged individually, so senders never lose events silently.
  - Batches preserve arrival order and carry sender provenance.
  - Plain TCP or TLS, with optional certificate hot reload.
  - Configure via file ($HOME/.relpd/config.toml), RELPD_* env vars, or flags.
`

var longHelp = strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  relpd --listen 0.0.0.0:2514
  relpd --config /etc/relpd/config.toml --tls-cert server.crt --tls-key server.key --tls-reload
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:     "relpd",
		Short:   "Accept syslog events over RELP and hand them downstream in batches",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first (default $HOME/.relpd/config.toml),
			// then env, then flag overrides via the changed map.
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment (RELPD_*) overrides file config but loses to flags.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			if cfg.Verbose {
				cliconfig.SetVerbose()
			}
			log := cliconfig.Logger()
			log.Info().Interface("config", cfg).Msg("configuration")

			libCfg := relpd.Config{
				ListenAddr:      cfg.ListenAddr,
				MaxBatchSize:    cfg.MaxBatchSize,
				MaxFrameBytes:   cfg.MaxFrameBytes,
				MaxBufferBytes:  cfg.MaxBufferBytes,
				ShutdownTimeout: cfg.ShutdownTimeout,
			}

			opts := []relpd.Option{
				relpd.WithLogger(logAdapter.NewZerologAdapterWithLogger(log)),
			}
			switch {
			case cfg.TLSReload:
				opts = append(opts, relpd.WithCertReload(cfg.TLSCert, cfg.TLSKey))
			case cfg.TLSCert != "":
				cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
				if err != nil {
					return fmt.Errorf("load certificate: %w", err)
				}
				opts = append(opts, relpd.WithTLSConfig(&tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				}))
			}

			srv, err := relpd.New(libCfg, opts...)
			if err != nil {
				return fmt.Errorf("create listener: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
						log.Error().Err(err).Msg("metrics endpoint failed")
					}
				}()
				log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			}

			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("start listener: %w", err)
			}
			log.Info().Str("addr", srv.Addr().String()).Msg("listening")

			// Detect a crash while running.
			doneCh := make(chan struct{})
			go func() {
				ticker := time.NewTicker(100 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						status := srv.Status()
						if status == relpd.StateStopped || status == relpd.StateCrashed {
							close(doneCh)
							return
						}
					}
				}
			}()

			// Consume finalized batches until shutdown. This is where a real
			// deployment hooks in its downstream sink; the daemon just logs.
			drainTicker := time.NewTicker(cfg.DrainInterval)
			defer drainTicker.Stop()

		loop:
			for {
				select {
				case <-sigCh:
					log.Info().Msg("received signal, stopping...")
					break loop
				case <-doneCh:
					if srv.Status() == relpd.StateCrashed {
						log.Error().Msg("listener crashed")
					}
					break loop
				case <-drainTicker.C:
					logBatches(log, srv.Drain(cfg.DrainMaxBatches))
				}
			}

			if err := srv.Stop(); err != nil {
				// Finalized batches survive a failed stop; drain them anyway.
				logBatches(log, srv.Drain(0))
				return fmt.Errorf("stop listener: %w", err)
			}
			logBatches(log, srv.Drain(0))
			return nil
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.relpd/config.toml)")
	root.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "RELP listen address")

	root.Flags().IntVar(&cfg.MaxBatchSize, "max-batch-size", cfg.MaxBatchSize, "events per batch before it is finalized (0 = close with connection)")
	root.Flags().IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "maximum payload bytes in a single frame")
	root.Flags().IntVar(&cfg.MaxBufferBytes, "max-buffer-bytes", cfg.MaxBufferBytes, "maximum buffered bytes per connection")

	root.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "grace period for live sessions on shutdown")
	root.Flags().DurationVar(&cfg.DrainInterval, "drain-interval", cfg.DrainInterval, "how often to collect finalized batches")
	root.Flags().IntVar(&cfg.DrainMaxBatches, "drain-max", cfg.DrainMaxBatches, "maximum batches per drain (0 = all)")

	root.Flags().StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate file (PEM)")
	root.Flags().StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS private key file (PEM)")
	root.Flags().BoolVar(&cfg.TLSReload, "tls-reload", cfg.TLSReload, "reload the certificate pair when the files change")

	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address (disabled when empty)")
	root.Flags().BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")

	if err := root.Execute(); err != nil {
		logger := cliconfig.Logger()
		logger.Error().Err(err).Msg("relpd")
		os.Exit(1)
	}
}

// logBatches reports drained batches with their provenance. Stands in for
// a downstream sink.
func logBatches(log zerolog.Logger, batches []*relpd.Batch) {
	for _, b := range batches {
		log.Info().
			Str("transit", b.TransitURI()).
			Int("events", b.Size()).
			Uint64("firstTxnr", b.Events[0].Txnr).
			Uint64("lastTxnr", b.Events[len(b.Events)-1].Txnr).
			Msg("batch ready")
	}
}
