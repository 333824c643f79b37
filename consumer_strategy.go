package amqp

import (
	"fmt"
	"time"

	"go.wirebox.dev/amqp/channel"
	xlog "go.wirebox.dev/amqp/log"
)

// registerSubscription and cancelSubscription are the two message kinds
// a Consumer routes through Channel.CallConsumer to keep its delivery
// channel bookkeeping on the channel actor's own goroutine (spec §4.5
// "HandleCall": an application-level request outside the AMQP flow).
type registerSubscription struct {
	tag string
	out chan<- Delivery
}

type cancelSubscription struct {
	tag string
}

// sessionConsumer is the default channel.ConsumerStrategy backing every
// Consumer subscription opened through a session. It owns the mapping
// from consumer tag to delivery channel; the channel actor is the only
// goroutine that ever touches it.
type sessionConsumer struct {
	subs map[string]chan<- Delivery
	log  xlog.Logger
	ch   *channel.Channel // set post-construction, see session.init
}

func newSessionConsumer(log xlog.Logger) *sessionConsumer {
	return &sessionConsumer{log: log}
}

func (s *sessionConsumer) Init(interface{}) error {
	s.subs = make(map[string]chan<- Delivery)
	return nil
}

func (s *sessionConsumer) HandleConsumeOk(*channel.BasicConsumeOk, *channel.BasicConsume) error {
	return nil
}

func (s *sessionConsumer) HandleCancelOk(ok *channel.BasicCancelOk, _ *channel.BasicCancel) error {
	s.drop(ok.ConsumerTag)
	return nil
}

func (s *sessionConsumer) HandleCancel(c *channel.BasicCancel) error {
	s.drop(c.ConsumerTag)
	return nil
}

func (s *sessionConsumer) drop(tag string) {
	if out, ok := s.subs[tag]; ok {
		close(out)
		delete(s.subs, tag)
	}
}

func (s *sessionConsumer) HandleDeliver(d *channel.BasicDeliver, content *channel.Content) error {
	out, ok := s.subs[d.ConsumerTag]
	if !ok {
		s.log.WithField("tag", d.ConsumerTag).Warning("delivery for unknown consumer tag")
		return nil
	}
	delivery := newDelivery(s.ch, d, content)
	select {
	case out <- delivery:
	case <-time.After(ackDelay):
		s.log.WithField("tag", d.ConsumerTag).Warning("delivery channel is not being drained; dropping message")
	}
	return nil
}

func (s *sessionConsumer) HandleCall(msg interface{}) (interface{}, error) {
	switch m := msg.(type) {
	case registerSubscription:
		s.subs[m.tag] = m.out
		return nil, nil
	case cancelSubscription:
		s.drop(m.tag)
		return nil, nil
	default:
		return nil, fmt.Errorf("sessionConsumer: unsupported call %T", msg)
	}
}

func (s *sessionConsumer) Terminate(error) {
	for tag, out := range s.subs {
		close(out)
		delete(s.subs, tag)
	}
}
