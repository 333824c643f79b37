package amqp

import (
	"context"
	"sync"
	"time"

	"go.wirebox.dev/amqp/channel"
	werrors "go.wirebox.dev/amqp/errors"
	xlog "go.wirebox.dev/amqp/log"
)

// SubscribeOptions allow a consumer to specify the settings and behavior
// for a message delivery channel with the broker.
type SubscribeOptions struct {
	// Queue to subscribe to.
	Queue string `json:"queue" yaml:"queue"`

	// When set, the server will acknowledge deliveries to this consumer prior
	// to writing the delivery to the network. The consumer should not call
	// Delivery.Ack. Automatically acknowledging deliveries means that some
	// messages may get lost if the consumer is unable to process them after
	// the server delivers them.
	AutoAck bool `json:"auto_ack" yaml:"auto_ack"`

	// When set, the broker will ensure this is the sole consumer for the
	// specified queue.
	Exclusive bool `json:"exclusive" yaml:"exclusive"`

	// Additional arguments.
	Arguments map[string]interface{} `json:"arguments,omitempty" yaml:",omitempty"`
}

// Consumer instances can receive messages from a broker server. The
// consumer is responsible for letting the broker know when a message
// should be considered handled.
type Consumer struct {
	subs    []string // open subscriptions, by consumer tag
	log     xlog.Logger
	rpc     *rpc
	session *session
	ready   chan bool
	pause   chan bool
	status  bool
	ctx     context.Context
	halt    context.CancelFunc
	mu      sync.Mutex
}

// NewConsumer returns a handler that receives messages from a broker
// server. The instance monitors its connection and handles reconnects
// automatically.
func NewConsumer(addr string, options ...Option) (*Consumer, error) {
	s, err := open(addr, options...)
	if err != nil {
		return nil, err
	}

	ctx, halt := context.WithCancel(context.Background())
	c := &Consumer{
		session: s,
		ready:   make(chan bool, 1),
		pause:   make(chan bool, 1),
		halt:    halt,
		ctx:     ctx,
		log:     s.log,
	}
	go c.eventLoop()

	if c.session.rpcEnabled {
		if err := c.setupRPC(); err != nil {
			c.log.WithField("error", err.Error()).Warning("RPC error")
		}
	}
	return c, nil
}

// AddQueue creates a new queue if it doesn't already exist, or ensures
// that an existing queue matches the same parameters.
func (c *Consumer) AddQueue(q Queue) (string, error) {
	if !c.session.isReady() {
		c.log.Warning("consumer session is not ready")
		return "", werrors.New(errNotConnected)
	}
	return c.session.addQueue(q, c.session.channelHandle())
}

// AddBinding connects an exchange to a queue so that messages published
// to it will be routed to the queue when the publishing routing key
// matches the binding parameters.
func (c *Consumer) AddBinding(b Binding) error {
	if !c.session.isReady() {
		c.log.Warning("consumer session is not ready")
		return werrors.New(errNotConnected)
	}
	return c.session.addBinding(b, c.session.channelHandle())
}

// Ready allows a user to receive notifications when the consumer becomes
// available, so operations can be resumed.
func (c *Consumer) Ready() <-chan bool {
	return c.ready
}

// Pause allows a user to receive notifications when the consumer becomes
// unavailable, so operations can be paused.
func (c *Consumer) Pause() <-chan bool {
	return c.pause
}

// Close gracefully terminates any existing subscriptions and closes the
// connection to the broker.
func (c *Consumer) Close() error {
	c.log.Debug("closing consumer")

	if c.rpc != nil {
		if err := c.rpc.close(); err != nil {
			c.log.WithField("error", err.Error()).Warning("RPC close error")
		}
	}

	c.halt()
	<-c.ctx.Done()

	c.mu.Lock()
	ch := c.session.channelHandle()
	for _, tag := range c.subs {
		if ch != nil {
			if _, err := ch.Call(&channel.BasicCancel{ConsumerTag: tag}, nil); err != nil {
				c.log.WithFields(xlog.Fields{"id": tag, "error": err.Error()}).Error("failed to close subscription")
			}
		}
	}
	c.mu.Unlock()

	return c.session.close()
}

// Subscribe opens a channel to start receiving queued messages. A single
// consumer instance can open multiple subscriptions. Callers must range
// over the returned channel to drain deliveries; subscription channels
// are closed automatically if connection with the broker is lost.
func (c *Consumer) Subscribe(opts SubscribeOptions) (<-chan Delivery, string, error) {
	if !c.session.isReady() {
		c.log.Warning("consumer session is not ready")
		return nil, "", werrors.New(errNotConnected)
	}
	ch := c.session.channelHandle()
	if ch == nil {
		return nil, "", werrors.New(errNotConnected)
	}

	id := getName(c.session.name)
	c.log.WithFields(xlog.Fields{"id": id, "queue": opts.Queue}).Debug("opening new subscription")

	out := make(chan Delivery)
	if _, err := ch.CallConsumer(registerSubscription{tag: id, out: out}); err != nil {
		return nil, "", err
	}
	_, err := ch.Call(&channel.BasicConsume{
		Queue:       opts.Queue,
		ConsumerTag: id,
		AutoAck:     opts.AutoAck,
		Exclusive:   opts.Exclusive,
		Arguments:   channel.Table(opts.Arguments),
	}, nil)
	if err != nil {
		_, _ = ch.CallConsumer(cancelSubscription{tag: id})
		return nil, "", err
	}

	c.mu.Lock()
	c.subs = append(c.subs, id)
	c.mu.Unlock()
	return out, id, nil
}

// CloseSubscription gracefully terminates an existing subscription,
// waiting for any in-flight message to be delivered.
func (c *Consumer) CloseSubscription(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, tag := range c.subs {
		if tag == id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			ch := c.session.channelHandle()
			if ch == nil {
				return werrors.New(errNotConnected)
			}
			_, err := ch.Call(&channel.BasicCancel{ConsumerTag: id}, nil)
			return err
		}
	}
	return nil
}

// RespondRPC submits a response for a received RPC request. Callers must
// set the response "CorrelationId" to the request's "MessageId".
func (c *Consumer) RespondRPC(msg Message, replyTo string) error {
	if !c.hasRPC() {
		return werrors.New("RPC not enabled")
	}
	if !c.rpc.isReady() {
		return werrors.New("RPC not ready")
	}
	c.log.WithFields(xlog.Fields{"request-id": msg.CorrelationId, "reply-to": replyTo}).Info("RPC response")
	return c.rpc.submitResponse(msg, replyTo)
}

func (c *Consumer) hasRPC() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpc != nil
}

func (c *Consumer) setupRPC() error {
	if c.hasRPC() {
		return nil
	}
	opts := []Option{
		WithName(c.session.name + "-rpc"),
		WithTLS(c.session.tlsConf),
	}
	rpcChan, err := NewPublisher(c.session.addr, opts...)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rpc = &rpc{
		publisher: rpcChan,
		mode:      "sub",
		log:       c.log,
		ctx:       c.ctx,
	}
	c.mu.Unlock()
	return nil
}

func (c *Consumer) eventLoop() {
	defer c.log.Debug("closing consumer event processing")
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.session.ctx.Done():
			return
		case status, ok := <-c.session.status:
			if !ok {
				return
			}
			c.mu.Lock()
			if status == c.status {
				c.mu.Unlock()
				continue
			}
			c.status = status
			c.mu.Unlock()
			go func(status bool) {
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(ackDelay):
					return
				default:
					if status {
						c.ready <- true
					} else {
						c.pause <- true
					}
				}
			}(status)
		}
	}
}
