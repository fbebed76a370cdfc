package relp

import "fmt"

// RELP command tokens. Only the client-side commands relpd accepts are
// listed together with "rsp", which appears server to client only.
const (
	CmdOpen   = "open"
	CmdSyslog = "syslog"
	CmdClose  = "close"
	CmdRsp    = "rsp"
)

// Frame is one immutable RELP protocol unit. The declared data length is
// implied by len(Data); the decoder only produces frames whose declared
// and actual lengths agree.
type Frame struct {
	// Txnr is the transaction number. Zero is reserved and never sent
	// by a real client frame.
	Txnr uint64

	// Command is the frame command token.
	Command string

	// Data is the opaque payload, binary-safe.
	Data []byte
}

// Limits constrains decoder memory use. A frame exceeding them is a
// framing error, fatal for the connection.
type Limits struct {
	// MaxDataBytes caps the declared data length of a single frame.
	MaxDataBytes int

	// MaxCommandLen caps the command token length.
	MaxCommandLen int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDataBytes:  128 * 1024,
		MaxCommandLen: 11,
	}
}

// FramingError reports an unrecoverable framing problem at a byte offset
// within the buffer being decoded. Once framing is lost mid-stream there
// is no way to resynchronize, so the connection must be closed.
//
// When the transaction number was already parsed before framing broke,
// Txnr carries it so the handler can correlate one last negative
// response before tearing the connection down.
type FramingError struct {
	Offset int
	Reason string

	Txnr    uint64
	HasTxnr bool
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("relp: framing error at offset %d: %s", e.Offset, e.Reason)
}

func framingErr(offset int, reason string) error {
	return &FramingError{Offset: offset, Reason: reason}
}

func framingErrTxnr(txnr uint64, offset int, reason string) error {
	return &FramingError{Offset: offset, Reason: reason, Txnr: txnr, HasTxnr: true}
}
