package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/bft-labs/relpd/internal/domain"
	"github.com/bft-labs/relpd/internal/observability"
	"github.com/bft-labs/relpd/internal/queue"
	"github.com/bft-labs/relpd/internal/relp"
	"github.com/bft-labs/relpd/pkg/log"
)

const readChunkSize = 4096

// handler owns one accepted connection: it reads bytes, peels complete
// frames off a growable buffer, drives the session machine, writes the
// acknowledgment for each frame before touching the next, and forwards
// accepted events into the batching queue.
//
// A handler never shares mutable state with other handlers; the queue is
// the only shared sink.
type handler struct {
	conn    net.Conn
	info    queue.ConnInfo
	session *relp.Session
	queue   *queue.Batching
	logger  log.Logger

	limits    relp.Limits
	maxBuffer int
}

// run is the acquire-decode-respond loop. It returns when the client
// closes the session, the socket fails, or framing is lost. The
// connection's open batch is always finalized on the way out.
func (h *handler) run() {
	defer func() {
		h.queue.CloseBatch(h.info.ID)
		h.conn.Close()
		observability.RecordConnectionClosed()
	}()

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		// Peel off every complete frame already buffered. Responses are
		// written synchronously inside handleFrame, so pipelined frames
		// are still acknowledged one at a time, in order.
		off := 0
		for {
			frame, consumed, err := relp.Decode(buf[off:], h.limits)
			if err != nil {
				h.failFraming(err)
				return
			}
			if consumed == 0 {
				break
			}
			off += consumed
			done, werr := h.handleFrame(frame)
			if werr != nil {
				h.logger.Debug("response write failed",
					log.String("conn", h.info.ID),
					log.Err(werr),
				)
				return
			}
			if done {
				return
			}
		}
		if off > 0 {
			buf = append(buf[:0], buf[off:]...)
		}

		if len(buf) > h.maxBuffer {
			h.failFraming(&relp.FramingError{Offset: h.maxBuffer, Reason: "receive buffer limit exceeded"})
			return
		}

		n, err := h.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			h.logConnEnd(err)
			return
		}
	}
}

// handleFrame runs one frame through the session machine and writes its
// single response. It reports done=true when the handler should close
// the socket afterwards.
func (h *handler) handleFrame(f relp.Frame) (done bool, err error) {
	observability.RecordFrame(f.Command)

	d := relp.Transition(h.session, f)

	// The event is queued before the ack goes out: once the client sees
	// the acknowledgment, the event is guaranteed to reach a batch.
	if d.Kind == relp.AcceptEvent {
		h.queue.Push(h.info, domain.Event{
			Txnr:      f.Txnr,
			Command:   f.Command,
			Data:      f.Data,
			Sender:    h.info.Sender,
			Port:      h.info.Port,
			Timestamp: time.Now(),
		})
		observability.RecordEvent()
	}

	rsp := relp.Response(f.Txnr, d)
	if _, err := h.conn.Write(relp.Encode(rsp)); err != nil {
		return true, err
	}
	if d.Kind == relp.Reject {
		observability.RecordResponse(500)
	} else {
		observability.RecordResponse(200)
	}

	switch d.Kind {
	case relp.AcceptClose:
		// Ack written; the server closes the socket, per protocol.
		h.logger.Debug("session closed by client",
			log.String("conn", h.info.ID),
			log.Uint64("lastTxnr", h.session.LastTxnr),
		)
		return true, nil

	case relp.Reject:
		h.logger.Warn("protocol violation",
			log.String("conn", h.info.ID),
			log.Uint64("txnr", f.Txnr),
			log.String("command", f.Command),
			log.String("reason", d.Reason),
		)
		// Violations on a live session are answered and tolerated; a
		// frame after close means the peer is confused, so tear down.
		if h.session.State == relp.StateClosed {
			return true, nil
		}
	}
	return false, nil
}

// failFraming handles an unrecoverable framing error: the stream cannot
// be resynchronized, so the connection is dropped. When the frame's
// transaction number was parsed before framing broke, a negative
// response is written first, best effort, so the sender can log the
// loss instead of timing out.
func (h *handler) failFraming(err error) {
	observability.RecordFramingError()

	var fe *relp.FramingError
	if !errors.As(err, &fe) {
		h.logger.Warn("framing error, dropping connection",
			log.String("conn", h.info.ID),
			log.Err(err),
		)
		return
	}

	if fe.HasTxnr {
		rsp := relp.Response(fe.Txnr, relp.Decision{Kind: relp.Reject, Reason: fe.Reason})
		if _, werr := h.conn.Write(relp.Encode(rsp)); werr == nil {
			observability.RecordResponse(500)
		}
	}

	h.logger.Warn("framing error, dropping connection",
		log.String("conn", h.info.ID),
		log.Int("offset", fe.Offset),
		log.String("reason", fe.Reason),
	)
}

func (h *handler) logConnEnd(err error) {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		h.logger.Debug("connection closed",
			log.String("conn", h.info.ID),
		)
		return
	}
	h.logger.Debug("connection read failed",
		log.String("conn", h.info.ID),
		log.Err(err),
	)
}
