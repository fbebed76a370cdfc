package relpd

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/bft-labs/relpd/internal/app"
	"github.com/bft-labs/relpd/internal/domain"
	"github.com/bft-labs/relpd/internal/observability"
	"github.com/bft-labs/relpd/internal/queue"
	"github.com/bft-labs/relpd/internal/server"
	"github.com/bft-labs/relpd/internal/tlsreload"
	"github.com/bft-labs/relpd/pkg/log"
)

// Re-exported types so embedders need not import internal packages.
type (
	// Batch is an ordered group of events from one connection.
	Batch = domain.Batch

	// Event is one accepted syslog payload with wire metadata.
	Event = domain.Event

	// Scheme is the transport a connection arrived on.
	Scheme = domain.Scheme

	// State is the lifecycle state of the listener.
	State = app.State
)

// Lifecycle states.
const (
	StateStopped  = app.StateStopped
	StateStarting = app.StateStarting
	StateRunning  = app.StateRunning
	StateStopping = app.StateStopping
	StateCrashed  = app.StateCrashed
)

// Server is an embeddable RELP listener.
// Use New() to create an instance, then Start() to begin accepting.
type Server struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	queue     *queue.Batching
	listener  *server.Listener
	reloader  *tlsreload.Reloader

	mu sync.Mutex
}

// eventEmitterWrapper adapts the public StateHandler to the lifecycle's
// emitter interface.
type eventEmitterWrapper struct {
	handler StateHandler
}

func (w *eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	if w.handler != nil {
		w.handler.OnStateChange(previous, current, reason)
	}
}

// New creates a new Server with the given configuration.
// The instance is created in StateStopped; call Start() to begin accepting.
// Returns an error if configuration is invalid.
func New(cfg Config, opts ...Option) (*Server, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	observability.RegisterMetrics()

	s := &Server{
		config:    cfg,
		opts:      o,
		queue:     queue.NewBatching(cfg.MaxBatchSize),
		lifecycle: app.NewLifecycle(o.logger, &eventEmitterWrapper{handler: o.stateHandler}),
	}
	return s, nil
}

// Start binds the socket and begins accepting connections.
// Returns ErrAlreadyRunning if the server is not stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := s.lifecycle.TransitionTo(app.StateStarting, "start requested"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.lifecycle.SetCancel(cancel)

	tlsConfig := s.opts.tlsConfig
	if s.opts.certFile != "" {
		reloader, err := tlsreload.New(s.opts.certFile, s.opts.keyFile, s.opts.logger)
		if err != nil {
			s.crash(fmt.Errorf("certificate reloader: %w", err))
			return err
		}
		if err := reloader.Start(runCtx); err != nil {
			s.crash(fmt.Errorf("certificate reloader: %w", err))
			return err
		}
		s.reloader = reloader
		tlsConfig = reloader.ServerConfig()
	}

	// The listener's accept loop and handlers register as lifecycle
	// workers, so Stop can wait on them through the lifecycle.
	l := server.New(server.Config{
		ListenAddr:     s.config.ListenAddr,
		MaxFrameBytes:  s.config.MaxFrameBytes,
		MaxBufferBytes: s.config.MaxBufferBytes,
		TLS:            tlsConfig,
	}, s.queue, s.lifecycle, s.opts.logger)

	if err := l.Start(); err != nil {
		if s.reloader != nil {
			s.reloader.Stop()
			s.reloader = nil
		}
		s.crash(err)
		return err
	}
	s.listener = l

	return s.lifecycle.TransitionTo(app.StateRunning, "listener bound")
}

// Stop shuts the listener down gracefully: the accept loop stops, live
// handlers finish their current frame and finalize their batches, and
// after ShutdownTimeout remaining sockets are force-closed. Finalized
// batches stay drainable after Stop.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStop() {
		return domain.ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(app.StateStopping, "stop requested"); err != nil {
		return err
	}

	stopErr := s.listener.Stop(s.config.ShutdownTimeout)

	if s.reloader != nil {
		s.reloader.Stop()
		s.reloader = nil
	}
	s.lifecycle.Cancel()

	// Whatever the handlers did not flush themselves (force-closed
	// stragglers) is finalized here so no accepted event is lost.
	s.queue.FlushOpen()

	if stopErr != nil {
		if err := s.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout"); err != nil {
			return err
		}
		return stopErr
	}
	return s.lifecycle.TransitionTo(app.StateStopped, "shutdown complete")
}

// Drain atomically removes and returns up to maxBatches finalized
// batches, oldest first. It never blocks; when nothing is finalized it
// returns an empty slice. maxBatches <= 0 drains everything finalized.
func (s *Server) Drain(maxBatches int) []*Batch {
	return s.queue.Drain(maxBatches)
}

// Flush finalizes every open batch so the next Drain sees them, letting
// a consumer collect ahead of the batch size limit.
func (s *Server) Flush() {
	s.queue.FlushOpen()
}

// Addr returns the bound listen address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Status returns the current lifecycle state.
func (s *Server) Status() State {
	return s.lifecycle.State()
}

func (s *Server) crash(err error) {
	s.opts.logger.Error("start failed", log.Err(err))
	// Crashed keeps the instance restartable.
	_ = s.lifecycle.TransitionTo(app.StateCrashed, err.Error())
	s.lifecycle.Cancel()
}
