// Package queue holds accepted events between the connection handlers
// that produce them and the consumer that drains them.
//
// The queue is the only synchronization point shared between
// connections. Handlers push into per-connection open batches; finalized
// batches move to a FIFO list that Drain empties. Acknowledgment latency
// on the wire is therefore independent of how often the consumer polls.
package queue

import (
	"sync"

	"github.com/bft-labs/relpd/internal/domain"
	"github.com/bft-labs/relpd/internal/observability"
)

// ConnInfo identifies the connection a batch belongs to. ID must be
// unique among live connections; the remaining fields become batch
// provenance metadata.
type ConnInfo struct {
	ID     string
	Sender string
	Port   int
	Scheme domain.Scheme
}

// Batching accumulates events into per-connection batches and hands
// finalized batches to the consumer oldest first.
//
// All methods are safe for concurrent use.
type Batching struct {
	mu sync.Mutex

	// maxBatchSize finalizes a batch once it holds this many events.
	// Zero means unbounded: batches finalize only on connection close.
	maxBatchSize int

	open  map[string]*domain.Batch
	ready []*domain.Batch
}

// NewBatching creates a queue with the given per-batch event limit.
func NewBatching(maxBatchSize int) *Batching {
	return &Batching{
		maxBatchSize: maxBatchSize,
		open:         make(map[string]*domain.Batch),
	}
}

// Push appends an event to the connection's open batch, creating one if
// absent. Reaching the configured batch size finalizes the batch and
// makes it drainable.
func (q *Batching) Push(conn ConnInfo, e domain.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.open[conn.ID]
	if !ok {
		b = domain.NewBatch(conn.Sender, conn.Port, conn.Scheme)
		q.open[conn.ID] = b
	}
	b.Add(e)

	if q.maxBatchSize > 0 && b.Size() >= q.maxBatchSize {
		q.finalizeLocked(conn.ID)
	}
}

// CloseBatch finalizes the connection's open batch regardless of size.
// Handlers call it on close frames, disconnects and fatal errors. It is
// a no-op when the connection has no open batch.
func (q *Batching) CloseBatch(connID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finalizeLocked(connID)
}

// FlushOpen finalizes every open batch. Used when the consumer wants to
// drain ahead of the size limit, and during shutdown.
func (q *Batching) FlushOpen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id := range q.open {
		q.finalizeLocked(id)
	}
}

// Drain atomically removes and returns up to maxBatches finalized
// batches, oldest first across all connections. It never blocks; when
// nothing is finalized it returns an empty slice. maxBatches <= 0 drains
// everything finalized.
func (q *Batching) Drain(maxBatches int) []*domain.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.ready)
	if maxBatches > 0 && maxBatches < n {
		n = maxBatches
	}
	if n == 0 {
		return nil
	}

	out := make([]*domain.Batch, n)
	copy(out, q.ready[:n])
	q.ready = append(q.ready[:0], q.ready[n:]...)
	return out
}

// Ready returns the number of finalized batches awaiting drain.
func (q *Batching) Ready() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *Batching) finalizeLocked(connID string) {
	b, ok := q.open[connID]
	if !ok {
		return
	}
	delete(q.open, connID)
	if b.Empty() {
		return
	}
	q.ready = append(q.ready, b)
	observability.RecordBatchFinalized(b.Size())
}
