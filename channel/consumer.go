package channel

// ConsumerStrategy is the pluggable callback set the channel actor drives
// for every server-originated consumer event (spec §4.5). A Channel owns
// exactly one strategy instance for its lifetime; the actor calls these
// methods synchronously from its own goroutine, so an implementation
// never needs its own locking for state only the channel touches.
//
// Unlike the originating design (a functional-state thread: each
// callback takes and returns updated state), a Go strategy keeps its
// state on the receiver and mutates it in place — the channel still
// "owns" that state in the sense that it is the only caller, it just
// doesn't need to carry it as a return value between calls.
type ConsumerStrategy interface {
	// Init runs once, before the channel actor starts, with whatever
	// arguments the caller constructed the strategy with.
	Init(args interface{}) error

	// HandleConsumeOk runs when the server confirms a basic.consume this
	// strategy requested. original is the basic.consume the channel sent.
	HandleConsumeOk(ok *BasicConsumeOk, original *BasicConsume) error

	// HandleCancelOk runs when the server confirms a basic.cancel this
	// strategy requested.
	HandleCancelOk(ok *BasicCancelOk, original *BasicCancel) error

	// HandleCancel runs when the server unilaterally cancels a consumer
	// (e.g. the backing queue was deleted).
	HandleCancel(c *BasicCancel) error

	// HandleDeliver runs for every basic.deliver addressed to this
	// channel's consumers.
	HandleDeliver(d *BasicDeliver, content *Content) error

	// HandleCall answers an application-level request routed to the
	// strategy via Channel.CallConsumer, outside the AMQP method flow
	// entirely (e.g. "how many messages are in flight").
	HandleCall(msg interface{}) (interface{}, error)

	// Terminate runs once, when the channel actor is about to exit, with
	// the normalized shutdown reason (nil for a graceful close).
	Terminate(reason error)
}

// NoopConsumer is a ConsumerStrategy that ignores every event. Useful for
// channels that never consume (pure publishers) but still need to
// satisfy Channel's constructor.
type NoopConsumer struct{}

func (NoopConsumer) Init(interface{}) error { return nil }
func (NoopConsumer) HandleConsumeOk(*BasicConsumeOk, *BasicConsume) error { return nil }
func (NoopConsumer) HandleCancelOk(*BasicCancelOk, *BasicCancel) error    { return nil }
func (NoopConsumer) HandleCancel(*BasicCancel) error                     { return nil }
func (NoopConsumer) HandleDeliver(*BasicDeliver, *Content) error         { return nil }
func (NoopConsumer) HandleCall(msg interface{}) (interface{}, error)     { return nil, nil }
func (NoopConsumer) Terminate(error)                                     {}
