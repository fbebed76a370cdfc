// Package tlsreload serves a certificate pair that follows the files on
// disk. When the certificate or key is rewritten (rotation by an agent
// like certbot), new connections pick up the new pair without a listener
// restart.
package tlsreload

import (
	"context"
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/relpd/pkg/log"
)

// debounceDelay coalesces the burst of fs events a rotation produces
// (certbot writes key and cert separately).
const debounceDelay = 100 * time.Millisecond

// Reloader watches a certificate/key pair and serves the latest valid
// pair via GetCertificate.
type Reloader struct {
	certFile string
	keyFile  string
	logger   log.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	debounce *time.Timer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the initial pair. It fails when the pair is unreadable or
// inconsistent; after that, reload failures keep the last good pair.
func New(certFile, keyFile string, logger log.Logger) (*Reloader, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
		cert:     &cert,
	}, nil
}

// ServerConfig returns a TLS config that always serves the current pair.
func (r *Reloader) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.getCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

func (r *Reloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Start begins watching the directories holding the pair. Watching the
// directory rather than the files survives rename-based rotation.
func (r *Reloader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dirs := map[string]bool{
		filepath.Dir(r.certFile): true,
		filepath.Dir(r.keyFile):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.watchLoop(watchCtx, watcher)

	r.logger.Info("certificate reloader started",
		log.String("cert", r.certFile),
		log.String("key", r.keyFile),
	)
	return nil
}

// Stop ends the watch loop.
func (r *Reloader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reloader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer r.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != filepath.Clean(r.certFile) && name != filepath.Clean(r.keyFile) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.debounceReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("certificate watcher error", log.Err(err))
		}
	}
}

func (r *Reloader) debounceReload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(debounceDelay, r.reload)
}

func (r *Reloader) reload() {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		// Mid-rotation the pair can be transiently inconsistent; keep
		// serving the last good pair.
		r.logger.Warn("certificate reload failed, keeping previous pair",
			log.Err(err),
		)
		return
	}

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	r.logger.Info("certificate reloaded",
		log.String("cert", r.certFile),
	)
}
