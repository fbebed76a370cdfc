// Package relp implements the RELP (Reliable Event Logging Protocol) wire
// format and per-connection protocol rules.
//
// A RELP frame is text-delimited with a binary-safe payload:
//
//	TXNR SP COMMAND SP DATALEN [SP DATA] LF
//
// TXNR and DATALEN are decimal ASCII, COMMAND is a short token, and DATA
// is DATALEN opaque bytes (it may contain newlines). The trailing LF is
// only expected once DATALEN bytes of data have been consumed.
//
// The package is split into three pure pieces:
//
//   - [Decode] / [Encode]: stateless frame codec over byte slices
//   - [Session] / [Transition]: the per-connection command-ordering rules
//   - [Response]: maps a transition [Decision] to the rsp frame the
//     client is waiting on
//
// None of them perform I/O; the connection handler in internal/server
// drives them against a socket.
package relp
