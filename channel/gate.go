package channel

// closingState is the channel's position in the lifecycle state machine
// (spec §4.3): Open, JustChannel (a local close is outstanding), or
// Connection (the owning connection is going away; reason carries why).
type closingState int

const (
	stateOpen closingState = iota
	stateJustChannel
	stateConnection
)

func (s closingState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateJustChannel:
		return "just_channel"
	case stateConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// admitOutbound is the admission gate every outbound Call/Cast/Close
// passes through before it is allowed onto rpc_queue (spec §4.1):
//
//  1. closing != Open -> ErrClosing
//  2. the method carries Content and flow_active is false -> ErrBlocked
//
// It is a pure function of the two pieces of state it needs, kept
// separate from Channel so the admission rule itself is trivially
// testable without standing up an actor.
func admitOutbound(closing closingState, flowActive bool, m Method) error {
	if closing != stateOpen {
		return ErrClosing
	}
	if classify(m).HasContent && !flowActive {
		return ErrBlocked
	}
	return nil
}
