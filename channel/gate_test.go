package channel

import "testing"

func TestAdmitOutboundClosingRejectsEverything(t *testing.T) {
	for _, st := range []closingState{stateJustChannel, stateConnection} {
		if err := admitOutbound(st, true, &QueueDeclare{}); err != ErrClosing {
			t.Errorf("state %s: err = %v, want ErrClosing", st, err)
		}
		if err := admitOutbound(st, true, &BasicPublish{}); err != ErrClosing {
			t.Errorf("state %s: err = %v, want ErrClosing", st, err)
		}
	}
}

func TestAdmitOutboundBlocksContentWhenFlowInactive(t *testing.T) {
	if err := admitOutbound(stateOpen, false, &BasicPublish{}); err != ErrBlocked {
		t.Errorf("err = %v, want ErrBlocked", err)
	}
	if err := admitOutbound(stateOpen, false, &BasicReturn{}); err != ErrBlocked {
		t.Errorf("err = %v, want ErrBlocked", err)
	}
}

func TestAdmitOutboundAllowsNonContentWhenFlowInactive(t *testing.T) {
	if err := admitOutbound(stateOpen, false, &QueueDeclare{}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
	if err := admitOutbound(stateOpen, false, &BasicAck{}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestAdmitOutboundOpenAndFlowingAllowsEverything(t *testing.T) {
	if err := admitOutbound(stateOpen, true, &BasicPublish{}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
	if err := admitOutbound(stateOpen, true, &QueueDeclare{}); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}
