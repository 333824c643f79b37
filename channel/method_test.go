package channel

import "testing"

func TestClassifySynchronicityAndContent(t *testing.T) {
	cases := []struct {
		m          Method
		class      uint16
		sync       bool
		hasContent bool
	}{
		{&ChannelOpen{}, ClassChannel, true, false},
		{&ChannelOpenOk{}, ClassChannel, false, false},
		{&ChannelClose{}, ClassChannel, true, false},
		{&ChannelFlow{}, ClassChannel, true, false},
		{&ChannelFlowOk{}, ClassChannel, false, false},
		{&ExchangeDeclare{}, ClassExchange, true, false},
		{&QueueDeclare{}, ClassQueue, true, false},
		{&QueueDeclareOk{}, ClassQueue, false, false},
		{&BasicPublish{}, ClassBasic, false, true},
		{&BasicReturn{}, ClassBasic, false, true},
		{&BasicDeliver{}, ClassBasic, false, true},
		{&BasicGetOk{}, ClassBasic, false, true},
		{&BasicAck{}, ClassBasic, false, false},
		{&BasicGet{}, ClassBasic, true, false},
		{&ConfirmSelect{}, ClassConfirm, true, false},
		{&ConnectionClose{}, ClassConnection, true, false},
	}
	for _, c := range cases {
		info := classify(c.m)
		if info.ClassID != c.class {
			t.Errorf("%T: class = %d, want %d", c.m, info.ClassID, c.class)
		}
		if info.Synchronous != c.sync {
			t.Errorf("%T: synchronous = %v, want %v", c.m, info.Synchronous, c.sync)
		}
		if info.HasContent != c.hasContent {
			t.Errorf("%T: hasContent = %v, want %v", c.m, info.HasContent, c.hasContent)
		}
	}
}

func TestClassifyUnknownMethodFailsClosed(t *testing.T) {
	info := classify(nil)
	if !info.Synchronous {
		t.Error("unknown method must classify as synchronous (fail closed)")
	}
}

func TestValidateApplicationMethodRejectsBootstrapAndTeardown(t *testing.T) {
	if err := validateApplicationMethod(&ChannelOpen{}); err == nil {
		t.Error("expected ChannelOpen to be rejected")
	}
	if err := validateApplicationMethod(&ChannelClose{}); err == nil {
		t.Error("expected ChannelClose to be rejected")
	}
	if err := validateApplicationMethod(&ConnectionClose{}); err == nil {
		t.Error("expected connection-class method to be rejected")
	}
	if err := validateApplicationMethod(&QueueDeclare{}); err != nil {
		t.Errorf("QueueDeclare should be a legal application method, got %v", err)
	}
}

func TestClassifyExceptionHardSoft(t *testing.T) {
	soft := []uint16{ReplyContentTooLarge, ReplyNoConsumers, ReplyAccessRefused, ReplyNotFound, ReplyResourceLocked, ReplyPreconditionFailed}
	for _, code := range soft {
		e, ok := classifyException(code)
		if !ok {
			t.Errorf("code %d: expected known exception", code)
		}
		if e.Hard {
			t.Errorf("code %d (%s): expected soft, got hard", code, e.Name)
		}
	}

	hard := []uint16{ReplyConnectionForced, ReplyInvalidPath, ReplyFrameError, ReplySyntaxError,
		ReplyCommandInvalid, ReplyChannelError, ReplyUnexpectedFrame, ReplyResourceError,
		ReplyNotAllowed, ReplyNotImplemented, ReplyInternalError}
	for _, code := range hard {
		e, ok := classifyException(code)
		if !ok {
			t.Errorf("code %d: expected known exception", code)
		}
		if !e.Hard {
			t.Errorf("code %d (%s): expected hard, got soft", code, e.Name)
		}
	}
}

func TestClassifyExceptionUnknownCodeIsHard(t *testing.T) {
	e, ok := classifyException(9999)
	if ok {
		t.Error("expected unknown code to report !ok")
	}
	if !e.Hard {
		t.Error("unknown exception code must classify as hard (fail closed)")
	}
}

func TestIsGracefulClose(t *testing.T) {
	if !isGracefulClose(ReplySuccess) {
		t.Error("ReplySuccess must be graceful")
	}
	if isGracefulClose(ReplyAccessRefused) {
		t.Error("ReplyAccessRefused must not be graceful")
	}
}
