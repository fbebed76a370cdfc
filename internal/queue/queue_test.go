package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/relpd/internal/domain"
)

func testConn(id string) ConnInfo {
	return ConnInfo{ID: id, Sender: "10.0.0.1", Port: 5170, Scheme: domain.SchemePlain}
}

func testEvent(txnr uint64, data string) domain.Event {
	return domain.Event{
		Txnr:      txnr,
		Command:   "syslog",
		Data:      []byte(data),
		Sender:    "10.0.0.1",
		Port:      5170,
		Timestamp: time.Now(),
	}
}

func TestBatching_CloseFinalizesUnderLimit(t *testing.T) {
	q := NewBatching(5)
	conn := testConn("c1")

	for i := 1; i <= 3; i++ {
		q.Push(conn, testEvent(uint64(i), "msg"))
	}
	if got := q.Ready(); got != 0 {
		t.Fatalf("ready before close = %d, want 0", got)
	}

	q.CloseBatch(conn.ID)

	batches := q.Drain(0)
	if len(batches) != 1 {
		t.Fatalf("drained %d batches, want 1", len(batches))
	}
	if batches[0].Size() != 3 {
		t.Errorf("batch size = %d, want 3", batches[0].Size())
	}
}

func TestBatching_SizeLimitFinalizes(t *testing.T) {
	q := NewBatching(1)
	conn := testConn("c1")

	for i := 1; i <= 3; i++ {
		q.Push(conn, testEvent(uint64(i), "msg"))
	}

	batches := q.Drain(0)
	if len(batches) != 3 {
		t.Fatalf("drained %d batches, want 3", len(batches))
	}
	for i, b := range batches {
		if b.Size() != 1 {
			t.Errorf("batch %d size = %d, want 1", i, b.Size())
		}
		if b.Events[0].Txnr != uint64(i+1) {
			t.Errorf("batch %d txnr = %d, want %d", i, b.Events[0].Txnr, i+1)
		}
	}
}

func TestBatching_UnboundedFlushesOnlyOnClose(t *testing.T) {
	q := NewBatching(0)
	conn := testConn("c1")

	for i := 1; i <= 100; i++ {
		q.Push(conn, testEvent(uint64(i), "msg"))
	}
	if got := q.Ready(); got != 0 {
		t.Fatalf("ready = %d, want 0 before close", got)
	}

	q.CloseBatch(conn.ID)
	batches := q.Drain(0)
	if len(batches) != 1 || batches[0].Size() != 100 {
		t.Fatalf("got %d batches, want one batch of 100", len(batches))
	}
}

func TestBatching_ArrivalOrderPreserved(t *testing.T) {
	q := NewBatching(0)
	conn := testConn("c1")

	for i := 1; i <= 10; i++ {
		q.Push(conn, testEvent(uint64(i), "msg"))
	}
	q.CloseBatch(conn.ID)

	b := q.Drain(0)[0]
	for i, e := range b.Events {
		if e.Txnr != uint64(i+1) {
			t.Fatalf("event %d txnr = %d, want %d", i, e.Txnr, i+1)
		}
	}
}

func TestBatching_DrainLimitAndFIFO(t *testing.T) {
	q := NewBatching(1)
	for i := 0; i < 5; i++ {
		conn := testConn(fmt.Sprintf("c%d", i))
		q.Push(conn, testEvent(uint64(i+1), "msg"))
	}

	first := q.Drain(2)
	if len(first) != 2 {
		t.Fatalf("drained %d batches, want 2", len(first))
	}
	if first[0].Events[0].Txnr != 1 || first[1].Events[0].Txnr != 2 {
		t.Errorf("drain order = %d, %d; want 1, 2", first[0].Events[0].Txnr, first[1].Events[0].Txnr)
	}

	rest := q.Drain(0)
	if len(rest) != 3 {
		t.Fatalf("drained %d batches, want 3", len(rest))
	}
	if q.Ready() != 0 {
		t.Errorf("ready = %d after full drain", q.Ready())
	}
}

func TestBatching_DrainNeverBlocksWhenEmpty(t *testing.T) {
	q := NewBatching(5)
	if got := q.Drain(10); len(got) != 0 {
		t.Fatalf("drained %d batches from empty queue", len(got))
	}
}

func TestBatching_CloseUnknownConnIsNoop(t *testing.T) {
	q := NewBatching(5)
	q.CloseBatch("missing")
	if q.Ready() != 0 {
		t.Fatalf("ready = %d", q.Ready())
	}
}

func TestBatching_EmptyBatchNotEnqueued(t *testing.T) {
	q := NewBatching(0)
	conn := testConn("c1")
	q.Push(conn, testEvent(1, "msg"))
	q.CloseBatch(conn.ID)
	q.CloseBatch(conn.ID) // second close finds nothing

	if got := len(q.Drain(0)); got != 1 {
		t.Fatalf("drained %d batches, want 1", got)
	}
}

func TestBatching_FlushOpen(t *testing.T) {
	q := NewBatching(0)
	q.Push(testConn("c1"), testEvent(1, "a"))
	q.Push(testConn("c2"), testEvent(2, "b"))

	q.FlushOpen()

	if got := len(q.Drain(0)); got != 2 {
		t.Fatalf("drained %d batches after flush, want 2", got)
	}
}

func TestBatching_ConnectionsNeverShareBatches(t *testing.T) {
	q := NewBatching(0)
	connA := ConnInfo{ID: "a", Sender: "10.0.0.1", Port: 5170, Scheme: domain.SchemePlain}
	connB := ConnInfo{ID: "b", Sender: "10.0.0.2", Port: 5170, Scheme: domain.SchemePlain}

	var wg sync.WaitGroup
	for _, conn := range []ConnInfo{connA, connB} {
		conn := conn
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				q.Push(conn, domain.Event{Txnr: uint64(i), Command: "syslog", Sender: conn.Sender, Port: conn.Port})
			}
			q.CloseBatch(conn.ID)
		}()
	}
	wg.Wait()

	batches := q.Drain(0)
	if len(batches) != 2 {
		t.Fatalf("drained %d batches, want 2", len(batches))
	}
	for _, b := range batches {
		if b.Size() != 200 {
			t.Errorf("batch from %s has %d events, want 200", b.Sender, b.Size())
		}
		for _, e := range b.Events {
			if e.Sender != b.Sender {
				t.Fatalf("batch from %s contains event from %s", b.Sender, e.Sender)
			}
		}
	}
}

func TestBatch_TransitURI(t *testing.T) {
	b := domain.NewBatch("10.0.0.9", 5170, domain.SchemeTLS)
	if got := b.TransitURI(); got != "relp+tls://10.0.0.9:5170" {
		t.Errorf("TransitURI() = %q", got)
	}
}
