package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.wirebox.dev/amqp/channel"
	werrors "go.wirebox.dev/amqp/errors"
	xlog "go.wirebox.dev/amqp/log"
)

// errUnconfirmedPush is logged whenever a publish confirmation isn't
// received within resendDelay, prior to retrying.
const errUnconfirmedPush = "timed out waiting for publish confirmation, retrying"

// MessageOptions allow a publisher to adjust the expected behavior when
// dispatching a message to a broker instance.
type MessageOptions struct {
	// Name of the exchange to publish the message to. An empty string
	// (the default value) represents the default exchange.
	Exchange string

	// Allows the broker to route the message based on the topology and
	// settings specified; see Binding.RoutingKey for the exchange-kind
	// dependent matching rules.
	RoutingKey string

	// Time-To-Live, in seconds, applied on a per-message basis. Zero
	// means no TTL.
	TTL int

	// Mandatory messages are returned by the broker if no queue is bound
	// that matches the routing key.
	Mandatory bool

	// Immediate messages are returned by the broker if no consumer on
	// the matched queue is ready to accept the delivery.
	Immediate bool

	// Persistent messages are restored on broker restart, provided they
	// are routed into durable queues.
	Persistent bool

	// Message priority, between 0 (default) and 9, if the destination
	// queue supports it.
	Priority uint8
}

// Publisher instances send messages to a broker for asynchronous
// consumption.
type Publisher struct {
	log     xlog.Logger
	rpc     *rpc
	session *session
	ready   chan bool
	pause   chan bool
	status  bool
	wg      *sync.WaitGroup
	mu      sync.Mutex
	ctx     context.Context
	halt    context.CancelFunc
}

// NewPublisher returns a handler that sends messages to a broker server.
// The instance monitors its connection and handles reconnects
// automatically.
func NewPublisher(addr string, options ...Option) (*Publisher, error) {
	s, err := open(addr, options...)
	if err != nil {
		return nil, err
	}

	ctx, halt := context.WithCancel(context.Background())
	p := &Publisher{
		session: s,
		ready:   make(chan bool, 1),
		pause:   make(chan bool, 1),
		halt:    halt,
		ctx:     ctx,
		log:     s.log,
		wg:      new(sync.WaitGroup),
	}
	go p.eventLoop()

	if p.session.rpcEnabled {
		if err := p.setupRPC(); err != nil {
			p.log.WithField("error", err.Error()).Warning("RPC error")
		}
	}
	return p, nil
}

// AddExchange dynamically creates a new exchange with the broker. If the
// exchange already exists, the server verifies it matches the provided
// kind, durability and auto-delete flags.
func (p *Publisher) AddExchange(ex Exchange) error {
	if !p.session.isReady() {
		p.log.Warning("publisher session is not ready")
		return werrors.New(errNotConnected)
	}
	return p.session.addExchange(ex, p.session.channelHandle())
}

// Ready allows a user to receive notifications when the publisher
// becomes available, so operations can be resumed.
func (p *Publisher) Ready() <-chan bool {
	return p.ready
}

// Pause allows a user to receive notifications when the publisher
// becomes unavailable, so operations can be paused.
func (p *Publisher) Pause() <-chan bool {
	return p.pause
}

// Close waits for any in-flight publish operations and gracefully
// terminates the connection to the broker.
func (p *Publisher) Close() error {
	p.log.Debug("closing publisher")

	if p.rpc != nil {
		if err := p.rpc.close(); err != nil {
			p.log.WithField("error", err.Error()).Warning("RPC close error")
		}
	}

	p.halt()
	<-p.ctx.Done()
	p.wg.Wait()
	return p.session.close()
}

// MessageReturns allows a publisher to receive notifications when a
// message is returned by the broker (unroutable mandatory/immediate
// publish).
func (p *Publisher) MessageReturns() <-chan Return {
	return p.session.messageReturns()
}

// UnsafePush publishes the message without waiting for confirmation. It
// returns an error only if the channel is not currently usable; no
// guarantee is made that the broker received the message.
func (p *Publisher) UnsafePush(msg Message, opts MessageOptions) error {
	if !p.session.isReady() {
		p.log.Warning("publisher session is not ready")
		return werrors.New(errNotConnected)
	}
	ch := p.session.channelHandle()
	if ch == nil {
		return werrors.New(errNotConnected)
	}

	if opts.Persistent {
		msg.DeliveryMode = 2
	}
	if ttl := opts.TTL; ttl != 0 {
		if ttl < 0 {
			ttl = 0
		}
		msg.Expiration = fmt.Sprintf("%d", ttl*1000)
	}
	if opts.Priority <= 9 {
		msg.Priority = opts.Priority
	}

	p.log.Debug("publishing message")
	return ch.Cast(&channel.BasicPublish{
		Exchange:   opts.Exchange,
		RoutingKey: opts.RoutingKey,
		Mandatory:  opts.Mandatory,
		Immediate:  opts.Immediate,
	}, &msg)
}

// Push publishes the message and waits for a publisher confirm. If no
// confirmation is received within resendDelay, the message is
// continuously re-sent until one arrives. This operation blocks until a
// confirm is returned by the server; errors are only returned for
// connection-level failures.
func (p *Publisher) Push(msg Message, opts MessageOptions) (bool, error) {
	if !p.session.isReady() {
		p.log.Warning("publisher session is not ready")
		return false, werrors.New(errNotConnected)
	}

	p.wg.Add(1)
	defer p.wg.Done()

	for {
		ch := p.session.channelHandle()
		if ch == nil {
			return false, werrors.New(errNotConnected)
		}
		seqno := ch.NextPublishSeqno()
		waiter := p.session.registerConfirmWaiter(seqno)

		if err := p.UnsafePush(msg, opts); err != nil {
			p.log.WithField("error", err.Error()).Warning("push failed")
			select {
			case <-p.session.ctx.Done():
				return false, werrors.New(errShutdown)
			case <-p.ctx.Done():
				return false, werrors.New(errShutdown)
			case <-time.After(resendDelay):
				p.log.Warning("retrying to push message")
				continue
			}
		}

		select {
		case c, ok := <-waiter:
			if ok {
				status := c.Ack != nil
				p.log.WithField("status", status).Debug("push confirmed")
				return status, nil
			}
		case <-p.session.ctx.Done():
			return false, werrors.New(errShutdown)
		case <-p.ctx.Done():
			return false, werrors.New(errShutdown)
		case <-time.After(resendDelay):
			p.log.Warning(errUnconfirmedPush)
			continue
		}
	}
}

// GetDispatcher returns a preconfigured interface that simplifies
// publishing several messages reusing a base configuration. The
// dispatcher is linked to this publisher and closes automatically if
// the publisher is closed; callers can also terminate it manually via
// the supplied context. A single publisher can back several
// dispatchers.
func (p *Publisher) GetDispatcher(ctx context.Context, safe bool, opts MessageOptions) *Dispatcher {
	dp := &Dispatcher{
		ctx:    ctx,
		safe:   safe,
		opts:   opts,
		name:   getName(p.session.name),
		done:   make(chan struct{}),
		msgCh:  make(chan Message),
		errCh:  make(chan error),
		parent: p,
	}
	go dp.eventLoop()
	return dp
}

// SubmitRPC publishes a message to the selected exchange as an RPC
// request and returns a handler to synchronously wait for the response.
// Cancelling the supplied context releases the response handler but
// does not interrupt the message processing itself.
func (p *Publisher) SubmitRPC(ctx context.Context, exchange string, msg Message) (<-chan Message, error) {
	if !p.hasRPC() {
		return nil, werrors.New("RPC not enabled")
	}
	if !p.rpc.isReady() {
		return nil, werrors.New("RPC not ready")
	}

	msg.ReplyTo = p.rpc.queue()
	if msg.MessageId == "" {
		msg.MessageId = uuid.New().String()
	}
	status, err := p.Push(msg, MessageOptions{Exchange: exchange})
	if err != nil {
		return nil, err
	}
	if !status {
		return nil, werrors.New("failed to submit RPC request")
	}

	p.log.WithField("request-id", msg.MessageId).Info("RPC request")
	return p.rpc.responseHandler(ctx, msg.MessageId), nil
}

func (p *Publisher) setupRPC() error {
	if p.hasRPC() {
		return nil
	}
	opts := []Option{
		WithName(p.session.name + "-rpc"),
		WithTLS(p.session.tlsConf),
	}
	rpcChan, err := NewConsumer(p.session.addr, opts...)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.rpc = &rpc{
		consumer: rpcChan,
		resp:     make(map[string]chan Message),
		mode:     "pub",
		log:      p.log,
		ctx:      p.ctx,
	}
	p.mu.Unlock()
	go p.rpc.eventLoop()
	return nil
}

func (p *Publisher) hasRPC() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rpc != nil
}

func (p *Publisher) eventLoop() {
	defer p.log.Debug("closing publisher event processing")
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.session.ctx.Done():
			return
		case status, ok := <-p.session.status:
			if !ok {
				return
			}
			p.mu.Lock()
			if status == p.status {
				p.mu.Unlock()
				continue
			}
			p.status = status
			p.mu.Unlock()
			go func(status bool) {
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(ackDelay):
					return
				default:
					if status {
						p.ready <- true
					} else {
						p.pause <- true
					}
				}
			}(status)
		}
	}
}
