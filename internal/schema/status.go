package schema

// ConnectionStatus is the lifecycle state of a peer session row.
type ConnectionStatus string

const (
	ConnConnecting   ConnectionStatus = "Connecting"
	ConnPending      ConnectionStatus = "Pending"
	ConnConnected    ConnectionStatus = "Connected"
	ConnDisconnected ConnectionStatus = "Disconnected"
	ConnFailed       ConnectionStatus = "Failed"
)

var connRank = map[ConnectionStatus]int{
	ConnConnecting:   0,
	ConnPending:      1,
	ConnConnected:    2,
	ConnDisconnected: 3,
}

// Terminal reports whether no further transition is possible.
func (s ConnectionStatus) Terminal() bool {
	return s == ConnDisconnected || s == ConnFailed
}

// CanTransition reports whether moving from s to next keeps the status
// moving forward. Failed is reachable from every non-terminal status.
// Re-applying the current status is not a transition.
func (s ConnectionStatus) CanTransition(next ConnectionStatus) bool {
	if s.Terminal() || s == next {
		return false
	}
	if next == ConnFailed {
		return true
	}
	from, ok := connRank[s]
	if !ok {
		// Unknown text in the cell: only allow moving to a known status.
		_, known := connRank[next]
		return known
	}
	to, ok := connRank[next]
	return ok && to > from
}

// RequestStatus is the disposition of a pending request row.
type RequestStatus string

const (
	ReqPending  RequestStatus = "Pending"
	ReqApproved RequestStatus = "Approved"
	ReqRejected RequestStatus = "Rejected"
)

func (s RequestStatus) Terminal() bool {
	return s == ReqApproved || s == ReqRejected
}

func parseRequestStatus(v string) RequestStatus {
	switch RequestStatus(v) {
	case ReqApproved, ReqRejected:
		return RequestStatus(v)
	default:
		return ReqPending
	}
}

// TxStatus is the status of a ledger row.
type TxStatus string

const (
	TxProcessing TxStatus = "Processing"
	TxPending    TxStatus = "Pending"
	TxSuccess    TxStatus = "Success"
	TxFailed     TxStatus = "Failed"
)

func (s TxStatus) Terminal() bool {
	return s == TxSuccess || s == TxFailed
}

// InFlight reports whether the sweep should look at the row.
func (s TxStatus) InFlight() bool {
	return s == TxPending || s == TxProcessing
}
