package handshake

// Phase is a state of the registration state machine.
type Phase int32

const (
	PhaseUnregistered Phase = iota
	PhaseSendingRequest
	PhaseAwaitingReply
	PhaseValidating
	PhaseConfirming
	PhaseRegistered
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUnregistered:
		return "unregistered"
	case PhaseSendingRequest:
		return "sending_request"
	case PhaseAwaitingReply:
		return "awaiting_reply"
	case PhaseValidating:
		return "validating"
	case PhaseConfirming:
		return "confirming"
	case PhaseRegistered:
		return "registered"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p == PhaseRegistered || p == PhaseFailed
}
