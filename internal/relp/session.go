package relp

import "strings"

// relpVersion and relpSoftware identify this server in the open offer,
// in the librelp "name,version,url" convention.
const (
	relpVersion  = "0"
	relpSoftware = "relpd,0.1.0,https://github.com/bft-labs/relpd"
)

// ServerCommands are the commands this server accepts on an open session.
const ServerCommands = CmdSyslog

// SessionState is the protocol state of one connection.
type SessionState int

const (
	// StateAwaitingOpen is the initial state; only "open" is valid.
	StateAwaitingOpen SessionState = iota

	// StateOpen accepts "syslog" and "close".
	StateOpen

	// StateClosed accepts nothing; the connection is being torn down.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateAwaitingOpen:
		return "AwaitingOpen"
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is the mutable per-connection protocol state. It is owned
// exclusively by the connection's handler goroutine and never shared.
type Session struct {
	// State is the current protocol state.
	State SessionState

	// NegotiatedCommands holds the command tokens the client declared
	// support for in its open frame. Informational only.
	NegotiatedCommands map[string]bool

	// LastTxnr is the transaction number of the last accepted frame.
	// RELP does not require contiguity; this exists for diagnostics.
	LastTxnr uint64
}

// NewSession creates a session in StateAwaitingOpen.
func NewSession() *Session {
	return &Session{
		State:              StateAwaitingOpen,
		NegotiatedCommands: make(map[string]bool),
	}
}

// DecisionKind enumerates the outcomes of a session transition.
type DecisionKind int

const (
	// AcceptOpen acknowledges an open frame with a capability offer.
	AcceptOpen DecisionKind = iota

	// AcceptEvent acknowledges a syslog frame whose payload becomes an event.
	AcceptEvent

	// AcceptClose acknowledges a close frame; the server closes the socket
	// after the response is written.
	AcceptClose

	// Reject produces a negative acknowledgment carrying a reason.
	Reject
)

// Decision is the session machine's verdict on one frame. Every decision
// produces exactly one response frame.
type Decision struct {
	Kind DecisionKind

	// Offer is the capability offer, set for AcceptOpen.
	Offer string

	// Reason is the rejection reason, set for Reject.
	Reason string
}

// Transition applies one inbound frame to the session and returns the
// decision for it. It performs no I/O and is deterministic, so the
// protocol rules are testable without a socket.
func Transition(s *Session, f Frame) Decision {
	switch s.State {
	case StateAwaitingOpen:
		if f.Command != CmdOpen {
			return Decision{Kind: Reject, Reason: "command before open"}
		}
		s.parseOffer(f.Data)
		s.State = StateOpen
		s.LastTxnr = f.Txnr
		return Decision{Kind: AcceptOpen, Offer: serverOffer()}

	case StateOpen:
		switch f.Command {
		case CmdSyslog:
			s.LastTxnr = f.Txnr
			return Decision{Kind: AcceptEvent}
		case CmdClose:
			s.State = StateClosed
			s.LastTxnr = f.Txnr
			return Decision{Kind: AcceptClose}
		case CmdOpen:
			return Decision{Kind: Reject, Reason: "duplicate open"}
		default:
			return Decision{Kind: Reject, Reason: "unknown command"}
		}

	default: // StateClosed
		return Decision{Kind: Reject, Reason: "frame after close"}
	}
}

// parseOffer records the client's capability offer: newline-separated
// key=value lines, unknown keys ignored, commands comma-separated.
func (s *Session) parseOffer(data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok || key != "commands" {
			continue
		}
		for _, cmd := range strings.Split(value, ",") {
			cmd = strings.TrimSpace(cmd)
			if cmd != "" {
				s.NegotiatedCommands[cmd] = true
			}
		}
	}
}

// serverOffer is the capability offer sent in the open acknowledgment.
func serverOffer() string {
	return "relp_version=" + relpVersion +
		"\nrelp_software=" + relpSoftware +
		"\ncommands=" + ServerCommands
}
