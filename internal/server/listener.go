// Package server contains the RELP dispatcher: the accept loop that
// spawns one connection handler per accepted socket, plain or TLS.
package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bft-labs/relpd/internal/domain"
	"github.com/bft-labs/relpd/internal/observability"
	"github.com/bft-labs/relpd/internal/queue"
	"github.com/bft-labs/relpd/internal/relp"
	"github.com/bft-labs/relpd/pkg/log"
)

// Config holds the listener's network and protocol limits.
type Config struct {
	// ListenAddr is the host:port to bind.
	ListenAddr string

	// MaxFrameBytes caps a single frame's declared data length.
	MaxFrameBytes int

	// MaxBufferBytes caps the accumulated undecoded bytes per connection.
	MaxBufferBytes int

	// TLS, when non-nil, wraps the listener. relpd consumes an already
	// constructed server config; building one is the caller's job.
	TLS *tls.Config
}

// Workers tracks the listener's goroutines so shutdown can wait for
// them. The accept loop and every connection handler register as one
// worker each. *app.Lifecycle satisfies this.
type Workers interface {
	AddWorker()
	WorkerDone()
	WaitWithTimeout(timeout time.Duration) error
}

// Listener accepts RELP connections and runs one handler goroutine per
// connection. Handlers push accepted events into the shared batching
// queue; nothing else is shared between them.
type Listener struct {
	cfg     Config
	queue   *queue.Batching
	workers Workers
	logger  log.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[string]net.Conn
	nextID uint64
	closed bool
}

// New creates a listener that feeds q and registers its goroutines with
// workers. It does not bind until Start.
func New(cfg Config, q *queue.Batching, workers Workers, logger log.Logger) *Listener {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = relp.DefaultLimits().MaxDataBytes
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 8 * cfg.MaxFrameBytes
	}
	return &Listener{
		cfg:     cfg,
		queue:   q,
		workers: workers,
		logger:  logger,
		conns:   make(map[string]net.Conn),
	}
}

// Start binds the listen socket and launches the accept loop.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.ListenAddr, err)
	}
	if l.cfg.TLS != nil {
		ln = tls.NewListener(ln, l.cfg.TLS)
	}

	l.mu.Lock()
	l.ln = ln
	l.closed = false
	l.mu.Unlock()

	l.logger.Info("listening",
		log.String("addr", ln.Addr().String()),
		log.String("scheme", string(l.scheme())),
	)

	l.workers.AddWorker()
	go l.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Stop shuts the listener down cooperatively: the accept loop stops,
// live handlers are nudged off their blocking reads so they can finish
// the current frame and finalize their batches, and after timeout any
// straggling sockets are force-closed.
func (l *Listener) Stop(timeout time.Duration) error {
	l.mu.Lock()
	if l.ln == nil || l.closed {
		l.mu.Unlock()
		return domain.ErrNotRunning
	}
	l.closed = true
	ln := l.ln
	// Expire reads immediately; in-flight response writes are not
	// interrupted.
	for _, c := range l.conns {
		c.SetReadDeadline(time.Now())
	}
	l.mu.Unlock()

	ln.Close()

	if err := l.workers.WaitWithTimeout(timeout); err != nil {
		l.logger.Warn("shutdown timeout, force-closing connections",
			log.Duration("timeout", timeout),
		)
		l.mu.Lock()
		for _, c := range l.conns {
			c.Close()
		}
		l.mu.Unlock()
		l.workers.WaitWithTimeout(time.Second)
		return err
	}
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.workers.WorkerDone()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Error("accept failed", log.Err(err))
			// Transient accept errors (fd exhaustion, resets) must not
			// kill the loop.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		l.startHandler(conn)
	}
}

// startHandler registers the connection and runs its handler goroutine.
// One unit of execution per connection; a slow client only ever blocks
// its own handler.
func (l *Listener) startHandler(conn net.Conn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.nextID++
	id := fmt.Sprintf("%s#%d", conn.RemoteAddr(), l.nextID)
	l.conns[id] = conn
	l.mu.Unlock()

	scheme := l.scheme()
	observability.RecordConnectionOpened(string(scheme))

	h := &handler{
		conn: conn,
		info: queue.ConnInfo{
			ID:     id,
			Sender: remoteHost(conn),
			Port:   localPort(conn),
			Scheme: scheme,
		},
		session: relp.NewSession(),
		queue:   l.queue,
		logger:  l.logger,
		limits: relp.Limits{
			MaxDataBytes:  l.cfg.MaxFrameBytes,
			MaxCommandLen: relp.DefaultLimits().MaxCommandLen,
		},
		maxBuffer: l.cfg.MaxBufferBytes,
	}

	l.logger.Debug("connection accepted",
		log.String("conn", id),
		log.String("scheme", string(scheme)),
	)

	l.workers.AddWorker()
	go func() {
		defer l.workers.WorkerDone()
		defer l.forget(id)
		h.run()
	}()
}

func (l *Listener) forget(id string) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

func (l *Listener) scheme() domain.Scheme {
	if l.cfg.TLS != nil {
		return domain.SchemeTLS
	}
	return domain.SchemePlain
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func localPort(conn net.Conn) int {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}
