package domain

import "time"

// Scheme identifies the transport a connection arrived on.
type Scheme string

const (
	// SchemePlain is RELP over plaintext TCP.
	SchemePlain Scheme = "relp"

	// SchemeTLS is RELP over TLS.
	SchemeTLS Scheme = "relp+tls"
)

// Event is the payload of one accepted syslog frame together with the
// wire metadata a downstream consumer needs for attribution.
type Event struct {
	// Txnr is the transaction number of the originating frame.
	Txnr uint64

	// Command is the frame command, always "syslog" for accepted events.
	Command string

	// Data is the opaque payload. relpd does not interpret it; parsing
	// syslog content is the downstream consumer's job.
	Data []byte

	// Sender is the remote host the event arrived from.
	Sender string

	// Port is the local listener port the event arrived on.
	Port int

	// Timestamp is the arrival time of the frame.
	Timestamp time.Time
}
