package amqp

import (
	"sync"

	"go.wirebox.dev/amqp/channel"
)

// fakeBroker is the in-process channel.Broker double used by the
// session/consumer/publisher tests below: it answers the handful of
// methods session.init() always drives (channel.open, basic.qos,
// confirm.select) automatically, and lets each test hook into anything
// else through onMethod.
//
// The session establishes its channel asynchronously (session.init runs
// on the session's own event-loop goroutine, kicked off right after
// open() returns), so the broker can't be handed a *channel.Channel up
// front the way channel_test.go's scriptedBroker is. Instead it blocks
// its first Dispatch on a session reference the test hands over via
// setSession immediately after the constructor returns; the blocking
// send/receive on ready is what makes that handover race-free rather
// than a bare field assignment would be.
type fakeBroker struct {
	ready chan *session
	sess  *session // only ever touched from the channel actor goroutine

	mu       sync.Mutex
	tag      uint64
	onMethod func(m channel.Method, content *channel.Content)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{ready: make(chan *session, 1)}
}

func (b *fakeBroker) setSession(s *session) { b.ready <- s }

func (b *fakeBroker) session() *session {
	if b.sess == nil {
		b.sess = <-b.ready
	}
	return b.sess
}

func (b *fakeBroker) deliver(m channel.Method, content *channel.Content) {
	b.session().channelHandle().Deliver(m, content)
}

func (b *fakeBroker) Dispatch(_ uint16, m channel.Method, content *channel.Content) error {
	if b.onMethod != nil {
		b.onMethod(m, content)
	}
	switch mm := m.(type) {
	case *channel.ChannelOpen:
		b.deliver(&channel.ChannelOpenOk{}, nil)
	case *channel.ChannelClose:
		b.deliver(&channel.ChannelCloseOk{}, nil)
	case *channel.BasicQos:
		b.deliver(&channel.BasicQosOk{}, nil)
	case *channel.ConfirmSelect:
		b.deliver(&channel.ConfirmSelectOk{}, nil)
	case *channel.ExchangeDeclare:
		b.deliver(&channel.ExchangeDeclareOk{}, nil)
	case *channel.QueueDeclare:
		name := mm.Queue
		if name == "" {
			name = "generated-queue"
		}
		b.deliver(&channel.QueueDeclareOk{Queue: name}, nil)
	case *channel.QueueBind:
		b.deliver(&channel.QueueBindOk{}, nil)
	case *channel.QueueUnbind:
		b.deliver(&channel.QueueUnbindOk{}, nil)
	case *channel.BasicConsume:
		tag := mm.ConsumerTag
		if tag == "" {
			tag = "generated-consumer"
		}
		b.deliver(&channel.BasicConsumeOk{ConsumerTag: tag}, nil)
	case *channel.BasicCancel:
		b.deliver(&channel.BasicCancelOk{ConsumerTag: mm.ConsumerTag}, nil)
	case *channel.BasicPublish:
		b.mu.Lock()
		b.tag++
		tag := b.tag
		b.mu.Unlock()
		go b.deliver(&channel.BasicAck{DeliveryTag: tag}, nil)
	}
	return nil
}
