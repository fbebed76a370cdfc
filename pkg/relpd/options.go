package relpd

import (
	"crypto/tls"

	"github.com/bft-labs/relpd/pkg/log"
)

// Option configures optional behavior of the listener.
type Option func(*options)

// options holds the optional configuration for a Server instance.
type options struct {
	logger       log.Logger
	tlsConfig    *tls.Config
	certFile     string
	keyFile      string
	stateHandler StateHandler
}

// StateHandler receives lifecycle state changes.
// Calls are synchronous with the transition.
type StateHandler interface {
	OnStateChange(previous, current State, reason string)
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTLSConfig serves RELP over TLS using an already constructed server
// config. relpd does not build TLS material itself.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

// WithCertReload serves RELP over TLS with a certificate pair that is
// hot-reloaded when the files change on disk. Mutually exclusive with
// WithTLSConfig; when both are set, WithCertReload wins.
func WithCertReload(certFile, keyFile string) Option {
	return func(o *options) {
		o.certFile = certFile
		o.keyFile = keyFile
	}
}

// WithStateHandler registers a handler for lifecycle state changes.
func WithStateHandler(h StateHandler) Option {
	return func(o *options) {
		o.stateHandler = h
	}
}
