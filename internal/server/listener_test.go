package server

import (
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/relpd/internal/app"
	"github.com/bft-labs/relpd/internal/domain"
	"github.com/bft-labs/relpd/internal/queue"
	"github.com/bft-labs/relpd/internal/relp"
	"github.com/bft-labs/relpd/internal/testutil/tlstest"
	"github.com/bft-labs/relpd/pkg/log"
)

const syslogMsg = "this is a syslog message here"

func startListener(t *testing.T, cfg Config, maxBatch int) (*Listener, *queue.Batching) {
	t.Helper()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	q := queue.NewBatching(maxBatch)
	l := New(cfg, q, app.NewLifecycle(log.NewNoopLogger(), nil), log.NewNoopLogger())
	if err := l.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(func() { l.Stop(5 * time.Second) })
	return l, q
}

// relpClient is a minimal test-side RELP sender.
type relpClient struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func dialPlain(t *testing.T, l *Listener) *relpClient {
	t.Helper()
	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &relpClient{t: t, conn: conn}
}

func (c *relpClient) send(frames ...relp.Frame) {
	c.t.Helper()
	var out []byte
	for _, f := range frames {
		out = append(out, relp.Encode(f)...)
	}
	if _, err := c.conn.Write(out); err != nil {
		c.t.Fatalf("write frames: %v", err)
	}
}

func (c *relpClient) readResponses(n int) []relp.Frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frames []relp.Frame
	chunk := make([]byte, 4096)
	for len(frames) < n {
		for {
			f, consumed, err := relp.Decode(c.buf, relp.DefaultLimits())
			if err != nil {
				c.t.Fatalf("decode response: %v", err)
			}
			if consumed == 0 {
				break
			}
			c.buf = c.buf[consumed:]
			frames = append(frames, f)
		}
		if len(frames) >= n {
			break
		}
		rn, err := c.conn.Read(chunk)
		if err != nil {
			c.t.Fatalf("read responses (%d of %d): %v", len(frames), n, err)
		}
		c.buf = append(c.buf, chunk[:rn]...)
	}
	return frames
}

func (c *relpClient) openSession() {
	c.t.Helper()
	c.send(relp.Frame{Txnr: 1, Command: "open", Data: []byte("relp_version=0\nrelp_software=librelp,1.2.7,http://librelp.adiscon.com\ncommands=syslog")})
	rsp := c.readResponses(1)[0]
	if !strings.HasPrefix(string(rsp.Data), "200 OK") {
		c.t.Fatalf("open response = %q", rsp.Data)
	}
}

func syslogFrame(txnr uint64) relp.Frame {
	return relp.Frame{Txnr: txnr, Command: "syslog", Data: []byte(syslogMsg)}
}

// open, syslog x3, close with unbounded batching: five acknowledgments in
// order and one batch of three on close.
func TestListener_OpenSyslogClose(t *testing.T) {
	l, q := startListener(t, Config{}, 0)
	c := dialPlain(t, l)

	c.send(
		relp.Frame{Txnr: 1, Command: "open", Data: []byte("commands=syslog")},
		syslogFrame(2),
		syslogFrame(3),
		syslogFrame(4),
		relp.Frame{Txnr: 5, Command: "close"},
	)

	rsps := c.readResponses(5)
	for i, rsp := range rsps {
		if rsp.Txnr != uint64(i+1) {
			t.Errorf("response %d txnr = %d, want %d", i, rsp.Txnr, i+1)
		}
		if rsp.Command != "rsp" {
			t.Errorf("response %d command = %q", i, rsp.Command)
		}
		if !strings.HasPrefix(string(rsp.Data), "200 OK") {
			t.Errorf("response %d data = %q", i, rsp.Data)
		}
	}

	batches := drainEventually(t, q, 1)
	if batches[0].Size() != 3 {
		t.Fatalf("batch size = %d, want 3", batches[0].Size())
	}
	for i, e := range batches[0].Events {
		if e.Txnr != uint64(i+2) {
			t.Errorf("event %d txnr = %d, want %d", i, e.Txnr, i+2)
		}
		if string(e.Data) != syslogMsg {
			t.Errorf("event %d data = %q", i, e.Data)
		}
		if e.Sender == "" || e.Port == 0 {
			t.Errorf("event %d missing provenance: sender=%q port=%d", i, e.Sender, e.Port)
		}
	}
	if batches[0].Scheme != "relp" {
		t.Errorf("batch scheme = %q, want relp", batches[0].Scheme)
	}
}

// With a batch limit above the event count, close finalizes early: one
// batch of three even though the limit is five.
func TestListener_BatchClosesEarlyOnClose(t *testing.T) {
	l, q := startListener(t, Config{}, 5)
	c := dialPlain(t, l)
	c.openSession()

	c.send(syslogFrame(2), syslogFrame(3), syslogFrame(4))
	acks := c.readResponses(3)
	if len(acks) != 3 {
		t.Fatalf("got %d acks, want 3", len(acks))
	}

	c.send(relp.Frame{Txnr: 5, Command: "close"})
	c.readResponses(1)

	batches := drainEventually(t, q, 1)
	if batches[0].Size() != 3 {
		t.Fatalf("batch size = %d, want 3", batches[0].Size())
	}
}

// With a batch limit of one and no close, each syslog frame becomes its
// own drainable batch as soon as it is accepted.
func TestListener_SizeLimitBatchesWithoutClose(t *testing.T) {
	l, q := startListener(t, Config{}, 1)
	c := dialPlain(t, l)
	c.openSession()

	c.send(syslogFrame(2), syslogFrame(3), syslogFrame(4))
	c.readResponses(3)

	batches := drainEventually(t, q, 3)
	for i, b := range batches {
		if b.Size() != 1 {
			t.Errorf("batch %d size = %d, want 1", i, b.Size())
		}
	}
}

func TestListener_SyslogBeforeOpenRejected(t *testing.T) {
	l, q := startListener(t, Config{}, 0)
	c := dialPlain(t, l)

	c.send(syslogFrame(1))
	rsp := c.readResponses(1)[0]
	if rsp.Txnr != 1 {
		t.Errorf("response txnr = %d, want 1", rsp.Txnr)
	}
	if string(rsp.Data) != "500 command before open" {
		t.Errorf("response data = %q", rsp.Data)
	}

	// The session never opened, so a following open must still work.
	c.send(relp.Frame{Txnr: 2, Command: "open", Data: []byte("commands=syslog")})
	rsp = c.readResponses(1)[0]
	if !strings.HasPrefix(string(rsp.Data), "200 OK") {
		t.Errorf("open after reject = %q", rsp.Data)
	}

	if q.Ready() != 0 {
		t.Errorf("rejected frame produced a batch")
	}
}

// An oversize frame kills the connection and nothing from it reaches a batch.
func TestListener_OversizeFrameFatal(t *testing.T) {
	l, q := startListener(t, Config{MaxFrameBytes: 64}, 0)
	c := dialPlain(t, l)
	c.openSession()

	huge := relp.Frame{Txnr: 2, Command: "syslog", Data: []byte(strings.Repeat("x", 65))}
	c.send(huge)

	// The declared length is rejected after the txnr was parsed, so one
	// last negative response precedes the teardown.
	rsp := c.readResponses(1)[0]
	if rsp.Txnr != 2 {
		t.Errorf("response txnr = %d, want 2", rsp.Txnr)
	}
	if !strings.HasPrefix(string(rsp.Data), "500 ") {
		t.Errorf("response data = %q, want 500", rsp.Data)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Read(make([]byte, 256)); err == nil {
		t.Fatal("expected connection teardown after oversize frame")
	}

	q.FlushOpen()
	for _, b := range q.Drain(0) {
		if b.Size() != 0 {
			t.Fatalf("oversize frame leaked %d events into a batch", b.Size())
		}
	}
}

func TestListener_MalformedHeaderFatal(t *testing.T) {
	l, q := startListener(t, Config{}, 0)
	c := dialPlain(t, l)
	c.openSession()

	if _, err := c.conn.Write([]byte("garbage frame\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Read(make([]byte, 256)); err == nil {
		t.Fatal("expected connection teardown after framing error")
	}
	if q.Ready() != 0 {
		t.Errorf("framing error produced a batch")
	}
}

// Events from two connections must never share a batch.
func TestListener_ConcurrentConnectionsDontMix(t *testing.T) {
	l, q := startListener(t, Config{}, 0)

	const perConn = 20
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c := dialPlain(t, l)
			c.openSession()
			for n := 0; n < perConn; n++ {
				c.send(relp.Frame{Txnr: uint64(n + 2), Command: "syslog", Data: []byte(syslogMsg)})
				c.readResponses(1)
			}
			c.send(relp.Frame{Txnr: perConn + 2, Command: "close"})
			c.readResponses(1)
		}(i)
	}
	wg.Wait()

	batches := drainEventually(t, q, 2)
	for _, b := range batches {
		if b.Size() != perConn {
			t.Errorf("batch has %d events, want %d", b.Size(), perConn)
		}
	}
}

// A stop while a session is open flushes its partial batch.
func TestListener_StopFlushesOpenBatches(t *testing.T) {
	l, q := startListener(t, Config{}, 0)
	c := dialPlain(t, l)
	c.openSession()

	c.send(syslogFrame(2), syslogFrame(3))
	c.readResponses(2)

	if err := l.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	batches := q.Drain(0)
	if len(batches) != 1 || batches[0].Size() != 2 {
		t.Fatalf("got %d batches, want one batch of 2", len(batches))
	}
}

// countingWorkers records worker registrations so tests can verify the
// listener accounts for every goroutine it spawns.
type countingWorkers struct {
	mu    sync.Mutex
	adds  int
	dones int
	wg    sync.WaitGroup
}

func (w *countingWorkers) AddWorker() {
	w.mu.Lock()
	w.adds++
	w.mu.Unlock()
	w.wg.Add(1)
}

func (w *countingWorkers) WorkerDone() {
	w.mu.Lock()
	w.dones++
	w.mu.Unlock()
	w.wg.Done()
}

func (w *countingWorkers) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return domain.ErrShutdownTimeout
	}
}

// The accept loop and every handler goroutine register as workers, and
// Stop waits for all of them through the tracker.
func TestListener_TracksWorkersThroughShutdown(t *testing.T) {
	w := &countingWorkers{}
	q := queue.NewBatching(0)
	l := New(Config{ListenAddr: "127.0.0.1:0"}, q, w, log.NewNoopLogger())
	if err := l.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	c := dialPlain(t, l)
	c.openSession()
	c.send(relp.Frame{Txnr: 2, Command: "close"})
	c.readResponses(1)

	if err := l.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.adds < 2 {
		t.Fatalf("registered %d workers, want at least accept loop + handler", w.adds)
	}
	if w.adds != w.dones {
		t.Fatalf("registered %d workers but %d finished", w.adds, w.dones)
	}
}

func TestListener_TLS(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "relpd test ca")
	certPath, keyPath := ca.IssueServerCert(t, dir, "localhost", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatalf("load key pair: %v", err)
	}

	l, q := startListener(t, Config{TLS: &tls.Config{Certificates: []tls.Certificate{cert}}}, 0)

	conn, err := tls.Dial("tcp", l.Addr().String(), &tls.Config{
		RootCAs:    ca.Pool(t),
		ServerName: "localhost",
	})
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	defer conn.Close()

	c := &relpClient{t: t, conn: conn}
	c.openSession()
	c.send(syslogFrame(2), relp.Frame{Txnr: 3, Command: "close"})
	c.readResponses(2)

	batches := drainEventually(t, q, 1)
	if batches[0].Scheme != "relp+tls" {
		t.Errorf("batch scheme = %q, want relp+tls", batches[0].Scheme)
	}
	if batches[0].Size() != 1 {
		t.Errorf("batch size = %d, want 1", batches[0].Size())
	}
}

// drainEventually polls the queue until want batches accumulate. Handler
// goroutines push concurrently with the test, so a short wait is needed
// after the last ack.
func drainEventually(t *testing.T, q *queue.Batching, want int) []*domain.Batch {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var batches []*domain.Batch
	for time.Now().Before(deadline) {
		batches = append(batches, q.Drain(0)...)
		if len(batches) >= want {
			if len(batches) > want {
				t.Fatalf("drained %d batches, want %d", len(batches), want)
			}
			return batches
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("drained %d batches, want %d", len(batches), want)
	return nil
}
