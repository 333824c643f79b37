package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	xlog "go.wirebox.dev/amqp/log"
)

// Option configures a Channel at construction time.
type Option func(*Channel)

// WithLogger attaches a structured logger. Default is a discard logger.
func WithLogger(l xlog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// WithInitialFlow sets the starting value of flow_active. AMQP channels
// start unblocked, so the default is true; tests exercising the blocked
// path can start a channel pre-blocked instead.
func WithInitialFlow(active bool) Option {
	return func(c *Channel) { c.flowActive = active }
}

// Reply is what a successful Call returns: the server's matching reply
// method, plus its content when the reply is itself content-bearing
// (basic.get-ok). Method is nil for a plain Ok with no server reply
// (an asynchronous method admitted successfully).
type Reply struct {
	Method  Method
	Content *Content
}

// ReturnEvent is delivered to a registered return handler for every
// basic.return the server sends (spec §4.4).
type ReturnEvent struct {
	Method  *BasicReturn
	Content *Content
}

// ConfirmEvent is delivered to a registered confirm handler for every
// basic.ack/basic.nack the server sends once confirm mode is selected.
type ConfirmEvent struct {
	Ack  *BasicAck
	Nack *BasicNack
}

// FlowEvent is delivered to a registered flow handler for every
// channel.flow the server sends.
type FlowEvent struct {
	Active bool
}

type handlerKind int

const (
	handlerReturn handlerKind = iota
	handlerConfirm
	handlerFlow
)

type handlerDownEvent struct {
	kind  handlerKind
	epoch uint64
}

// Channel is the client-side AMQP 0-9-1 channel actor: a single
// goroutine owning all channel state, serializing every inbound and
// outbound event through its own event loop (spec §2, §5).
type Channel struct {
	number    uint16
	transport Transport
	consumer  ConsumerStrategy
	log       xlog.Logger

	// actor-owned state; touched only from eventLoop.
	rpcQ         rpcQueue
	closing      closingState
	closeReason  error
	flowActive   bool
	nextPubSeqno uint64

	returnHandler  chan<- ReturnEvent
	returnDone     <-chan struct{}
	returnEpoch    uint64
	confirmHandler chan<- ConfirmEvent
	confirmDone    <-chan struct{}
	confirmEpoch   uint64
	flowHandler    chan<- FlowEvent
	flowDone       <-chan struct{}
	flowEpoch      uint64

	flushTimer   *time.Timer
	closeOkTimer *time.Timer

	// inbound command surface.
	calls          chan *callCmd
	closeReqs      chan *closeCmd
	nextSeqReqs    chan chan uint64
	registerCmds   chan *registerCmd
	consumerCalls  chan *consumerCallCmd
	serverIn       chan serverMethodEvent
	connClosing    chan connectionClosingEvent
	faults         chan faultEvent
	handlerDown    chan handlerDownEvent

	done     chan struct{}
	exited   bool
	exitOnce sync.Once
	exitErr  error
	exitMu   sync.RWMutex
}

type callCmd struct {
	method  Method
	content *Content
	isCall  bool
	result  chan rpcResult
}

type closeCmd struct {
	code   uint16
	text   string
	result chan rpcResult
}

type registerCmd struct {
	kind    handlerKind
	ret     chan<- ReturnEvent
	confirm chan<- ConfirmEvent
	flow    chan<- FlowEvent
	done    <-chan struct{}
}

type consumerCallCmd struct {
	msg    interface{}
	result chan consumerCallResult
}

type consumerCallResult struct {
	reply interface{}
	err   error
}

// serverMethodEvent is one inbound frame from the transport's peer.
type serverMethodEvent struct {
	method  Method
	content *Content
}

// faultEvent is an out-of-band failure report: either a protocol
// exception (AMQPError) or a raw infrastructure failure.
type faultEvent struct {
	reason error
}

// New constructs a Channel bound to number and transport, driven by
// consumer (use NoopConsumer for pure publishers). consumer.Init(initArgs)
// runs synchronously before the actor starts (spec §4.5 lifecycle).
func New(number uint16, transport Transport, consumer ConsumerStrategy, initArgs interface{}, opts ...Option) (*Channel, error) {
	if consumer == nil {
		consumer = NoopConsumer{}
	}
	if err := consumer.Init(initArgs); err != nil {
		return nil, fmt.Errorf("channel: consumer init: %w", err)
	}

	c := &Channel{
		number:        number,
		transport:     transport,
		consumer:      consumer,
		log:           xlog.Discard(),
		flowActive:    true,
		calls:         make(chan *callCmd),
		closeReqs:     make(chan *closeCmd),
		nextSeqReqs:   make(chan chan uint64),
		registerCmds:  make(chan *registerCmd),
		consumerCalls: make(chan *consumerCallCmd),
		serverIn:      make(chan serverMethodEvent, 16),
		connClosing:   make(chan connectionClosingEvent, 1),
		faults:        make(chan faultEvent, 1),
		handlerDown:   make(chan handlerDownEvent, 3),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.eventLoop()
	return c, nil
}

// Done is closed once the actor has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the normalized shutdown reason once Done is closed; it
// blocks until then.
func (c *Channel) Err() error {
	<-c.done
	c.exitMu.RLock()
	defer c.exitMu.RUnlock()
	return c.exitErr
}

// validateApplicationMethod rejects the handful of methods an
// application is never allowed to drive through Call/Cast directly
// (spec §7 taxonomy item 1): channel.open, channel.close, and anything
// connection-class.
func validateApplicationMethod(m Method) error {
	switch m.(type) {
	case *ChannelOpen:
		return fmt.Errorf("%w: use the connection-level opener to issue channel.open", ErrInvalidMethod)
	case *ChannelClose:
		return fmt.Errorf("%w: use Channel.Close to issue channel.close", ErrInvalidMethod)
	}
	if classify(m).ClassID == ClassConnection {
		return fmt.Errorf("%w: %T belongs to the connection actor, not a channel", ErrInvalidMethod, m)
	}
	return nil
}

// Call submits m (with optional content) and blocks until the matching
// server reply arrives, or until an admission failure (Blocked/Closing)
// short-circuits it (spec §4.1, §6).
func (c *Channel) Call(m Method, content *Content) (*Reply, error) {
	return c.submitFromApplication(m, content, true)
}

// Cast submits m without waiting for a reply. Misuse is still reported
// synchronously; admission failures (Blocked/Closing) are logged and
// dropped rather than returned, matching the fire-and-forget contract
// (spec §6).
func (c *Channel) Cast(m Method, content *Content) error {
	_, err := c.submitFromApplication(m, content, false)
	return err
}

func (c *Channel) submitFromApplication(m Method, content *Content, isCall bool) (*Reply, error) {
	if err := validateApplicationMethod(m); err != nil {
		return nil, err
	}
	return c.submit(m, content, isCall)
}

func (c *Channel) submit(m Method, content *Content, isCall bool) (*Reply, error) {
	var result chan rpcResult
	if isCall {
		result = make(chan rpcResult, 1)
	}
	cmd := &callCmd{method: m, content: content, isCall: isCall, result: result}
	select {
	case c.calls <- cmd:
	case <-c.done:
		return nil, c.terminalErr()
	}
	if !isCall {
		return nil, nil
	}
	select {
	case res := <-result:
		if res.err != nil {
			return nil, res.err
		}
		return &Reply{Method: res.method, Content: res.content}, nil
	case <-c.done:
		return nil, c.terminalErr()
	}
}

// Open issues the one-time channel.open handshake. It is reserved for
// the connection-level opener (session.go) right after New returns;
// applications reach it only indirectly and never see a *Channel before
// it has been opened.
func (c *Channel) Open() (*Reply, error) {
	return c.submit(&ChannelOpen{}, nil, true)
}

func (c *Channel) terminalErr() error {
	c.exitMu.RLock()
	defer c.exitMu.RUnlock()
	if c.exitErr != nil {
		return c.exitErr
	}
	return ErrChannelClosed
}

// Close requests a local channel.close with code/text, blocking until
// close_ok arrives (or the actor exits for any other reason).
func (c *Channel) Close(code uint16, text string) error {
	result := make(chan rpcResult, 1)
	cmd := &closeCmd{code: code, text: text, result: result}
	select {
	case c.closeReqs <- cmd:
	case <-c.done:
		return c.terminalErr()
	}
	select {
	case res := <-result:
		return res.err
	case <-c.done:
		return c.terminalErr()
	}
}

// NextPublishSeqno returns the sequence number that will be assigned to
// the next basic.publish once confirm mode is active (0 otherwise).
func (c *Channel) NextPublishSeqno() uint64 {
	reply := make(chan uint64, 1)
	select {
	case c.nextSeqReqs <- reply:
	case <-c.done:
		return 0
	}
	select {
	case v := <-reply:
		return v
	case <-c.done:
		return 0
	}
}

// RegisterReturnHandler installs ch as the sink for basic.return events,
// replacing any previous one. ctx, if non-nil, is watched by the actor;
// when it is done the slot is cleared (spec §4.4 handler liveness).
func (c *Channel) RegisterReturnHandler(ctx context.Context, ch chan<- ReturnEvent) {
	c.register(&registerCmd{kind: handlerReturn, ret: ch, done: ctxDone(ctx)})
}

// RegisterConfirmHandler installs ch as the sink for basic.ack/basic.nack
// events, replacing any previous one.
func (c *Channel) RegisterConfirmHandler(ctx context.Context, ch chan<- ConfirmEvent) {
	c.register(&registerCmd{kind: handlerConfirm, confirm: ch, done: ctxDone(ctx)})
}

// RegisterFlowHandler installs ch as the sink for channel.flow events,
// replacing any previous one.
func (c *Channel) RegisterFlowHandler(ctx context.Context, ch chan<- FlowEvent) {
	c.register(&registerCmd{kind: handlerFlow, flow: ch, done: ctxDone(ctx)})
}

func ctxDone(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}

func (c *Channel) register(cmd *registerCmd) {
	select {
	case c.registerCmds <- cmd:
	case <-c.done:
	}
}

// CallConsumer routes msg to the consumer strategy's HandleCall, from the
// actor goroutine, and returns its reply.
func (c *Channel) CallConsumer(msg interface{}) (interface{}, error) {
	out := make(chan consumerCallResult, 1)
	cmd := &consumerCallCmd{msg: msg, result: out}
	select {
	case c.consumerCalls <- cmd:
	case <-c.done:
		return nil, c.terminalErr()
	}
	select {
	case r := <-out:
		return r.reply, r.err
	case <-c.done:
		return nil, c.terminalErr()
	}
}

// Deliver feeds one inbound server method (with optional content) into
// the actor. The caller (a connection/session collaborator demuxing
// frames by channel number) is expected to call this for every frame
// addressed to this channel.
func (c *Channel) Deliver(m Method, content *Content) {
	select {
	case c.serverIn <- serverMethodEvent{method: m, content: content}:
	case <-c.done:
	}
}

// ReportFault notifies the actor of an out-of-band failure: either a
// protocol exception (pass an *AMQPError) or a raw transport/connection
// failure (pass any other error).
func (c *Channel) ReportFault(reason error) {
	select {
	case c.faults <- faultEvent{reason: reason}:
	case <-c.done:
	}
}

// ConnectionClosing notifies the actor that its owning connection is
// shutting down (spec §4.3). flush selects a graceful flush (true) or an
// abrupt teardown (false).
func (c *Channel) ConnectionClosing(flush bool, reason error) {
	kind := closeAbrupt
	if flush {
		kind = closeFlush
	}
	select {
	case c.connClosing <- connectionClosingEvent{kind: kind, reason: reason}:
	case <-c.done:
	}
}
