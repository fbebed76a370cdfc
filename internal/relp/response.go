package relp

// Response status lines. RELP correlates a response to its request by
// echoing the transaction number, so these carry no session identifier.
const (
	statusOK    = "200 OK"
	statusError = "500 "
)

// Response builds the single rsp frame owed for a decision. Clients
// block awaiting this acknowledgment before sending further frames, so
// every decision must be answered exactly once.
func Response(txnr uint64, d Decision) Frame {
	var data string
	switch d.Kind {
	case AcceptOpen:
		data = statusOK + "\n" + d.Offer
	case Reject:
		data = statusError + d.Reason
	default:
		data = statusOK
	}
	return Frame{
		Txnr:    txnr,
		Command: CmdRsp,
		Data:    []byte(data),
	}
}
