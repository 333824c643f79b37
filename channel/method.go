package channel

// AMQP 0-9-1 class identifiers. Only connection, channel, exchange,
// queue, basic and confirm classes are represented; the channel actor
// never needs to construct methods of any other class.
const (
	ClassConnection uint16 = 10
	ClassChannel    uint16 = 20
	ClassExchange   uint16 = 40
	ClassQueue      uint16 = 50
	ClassBasic      uint16 = 60
	ClassConfirm    uint16 = 85
)

// Method is implemented by every AMQP 0-9-1 method the channel actor
// can send or receive. It intentionally carries no behavior beyond
// identity: classification (class, synchronicity, content) is handled
// by the pure classify function, which returns a methodInfo, never by
// the method itself,
// so adding a method never means touching the actor.
type Method interface {
	amqpMethod()
}

// methodInfo describes the classification of a Method relevant to the
// RPC engine: its class (used to reject connection-class methods sent
// through the channel), whether a reply is expected before the next
// synchronous method can be issued, and whether it carries Content.
type methodInfo struct {
	ClassID     uint16
	ClassName   string
	Synchronous bool
	HasContent  bool
}

func classify(m Method) methodInfo {
	switch m.(type) {
	// connection class - never legal through a channel's call/cast.
	case *ConnectionStart, *ConnectionStartOk, *ConnectionTune, *ConnectionTuneOk,
		*ConnectionOpen, *ConnectionOpenOk, *ConnectionClose, *ConnectionCloseOk:
		return methodInfo{ClassID: ClassConnection, ClassName: "connection", Synchronous: true}

	case *ChannelOpen:
		return methodInfo{ClassID: ClassChannel, ClassName: "channel", Synchronous: true}
	case *ChannelOpenOk:
		return methodInfo{ClassID: ClassChannel, ClassName: "channel", Synchronous: false}
	case *ChannelClose:
		return methodInfo{ClassID: ClassChannel, ClassName: "channel", Synchronous: true}
	case *ChannelCloseOk:
		return methodInfo{ClassID: ClassChannel, ClassName: "channel", Synchronous: false}
	case *ChannelFlow:
		return methodInfo{ClassID: ClassChannel, ClassName: "channel", Synchronous: true}
	case *ChannelFlowOk:
		return methodInfo{ClassID: ClassChannel, ClassName: "channel", Synchronous: false}

	case *ExchangeDeclare:
		return methodInfo{ClassID: ClassExchange, ClassName: "exchange", Synchronous: true}
	case *ExchangeDeclareOk:
		return methodInfo{ClassID: ClassExchange, ClassName: "exchange", Synchronous: false}
	case *ExchangeDelete:
		return methodInfo{ClassID: ClassExchange, ClassName: "exchange", Synchronous: true}
	case *ExchangeDeleteOk:
		return methodInfo{ClassID: ClassExchange, ClassName: "exchange", Synchronous: false}

	case *QueueDeclare:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: true}
	case *QueueDeclareOk:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: false}
	case *QueueBind:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: true}
	case *QueueBindOk:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: false}
	case *QueueUnbind:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: true}
	case *QueueUnbindOk:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: false}
	case *QueueDelete:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: true}
	case *QueueDeleteOk:
		return methodInfo{ClassID: ClassQueue, ClassName: "queue", Synchronous: false}

	case *BasicQos:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: true}
	case *BasicQosOk:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}
	case *BasicConsume:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: true}
	case *BasicConsumeOk:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}
	case *BasicCancel:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: true}
	case *BasicCancelOk:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}
	case *BasicPublish:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false, HasContent: true}
	case *BasicReturn:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false, HasContent: true}
	case *BasicDeliver:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false, HasContent: true}
	case *BasicAck:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}
	case *BasicNack:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}
	case *BasicReject:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}
	case *BasicGet:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: true}
	case *BasicGetOk:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false, HasContent: true}
	case *BasicGetEmpty:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}
	case *BasicRecover:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: true}
	case *BasicRecoverOk:
		return methodInfo{ClassID: ClassBasic, ClassName: "basic", Synchronous: false}

	case *ConfirmSelect:
		return methodInfo{ClassID: ClassConfirm, ClassName: "confirm", Synchronous: true}
	case *ConfirmSelectOk:
		return methodInfo{ClassID: ClassConfirm, ClassName: "confirm", Synchronous: false}
	}
	// Unknown method: treat conservatively as synchronous so a bug in a
	// future method addition fails closed (blocks the queue) rather than
	// silently racing ahead of an awaited reply.
	return methodInfo{ClassName: "unknown", Synchronous: true}
}

// Table carries method and queue/exchange arguments, mirroring the
// AMQP "field-table" wire type.
type Table map[string]interface{}

// --- connection class: classification only, the channel never builds these ---

type ConnectionStart struct{}
type ConnectionStartOk struct{}
type ConnectionTune struct{}
type ConnectionTuneOk struct{}
type ConnectionOpen struct{ VirtualHost string }
type ConnectionOpenOk struct{}
type ConnectionClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}
type ConnectionCloseOk struct{}

func (*ConnectionStart) amqpMethod()    {}
func (*ConnectionStartOk) amqpMethod()  {}
func (*ConnectionTune) amqpMethod()     {}
func (*ConnectionTuneOk) amqpMethod()   {}
func (*ConnectionOpen) amqpMethod()     {}
func (*ConnectionOpenOk) amqpMethod()   {}
func (*ConnectionClose) amqpMethod()    {}
func (*ConnectionCloseOk) amqpMethod()  {}

// --- channel class ---

// ChannelOpen requests a new channel be allocated server-side. Applications
// must never issue this directly through Channel.Call/Cast; it is reserved
// for the connection-level opener (spec §4.1).
type ChannelOpen struct{}
type ChannelOpenOk struct{}

// ChannelFlow throttles (active=false) or resumes (active=true) content
// delivery on the channel. Sent by either side.
type ChannelFlow struct{ Active bool }
type ChannelFlowOk struct{ Active bool }

// ChannelClose requests the channel be shut down. Applications must use
// Channel.Close, never issue this directly via Call/Cast.
type ChannelClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}
type ChannelCloseOk struct{}

func (*ChannelOpen) amqpMethod()     {}
func (*ChannelOpenOk) amqpMethod()   {}
func (*ChannelFlow) amqpMethod()     {}
func (*ChannelFlowOk) amqpMethod()   {}
func (*ChannelClose) amqpMethod()    {}
func (*ChannelCloseOk) amqpMethod()  {}

// --- exchange class ---

type ExchangeDeclare struct {
	Exchange   string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  Table
}
type ExchangeDeclareOk struct{}

type ExchangeDelete struct {
	Exchange string
	IfUnused bool
	NoWait   bool
}
type ExchangeDeleteOk struct{}

func (*ExchangeDeclare) amqpMethod()   {}
func (*ExchangeDeclareOk) amqpMethod() {}
func (*ExchangeDelete) amqpMethod()    {}
func (*ExchangeDeleteOk) amqpMethod()  {}

// --- queue class ---

type QueueDeclare struct {
	Queue      string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Arguments  Table
}
type QueueDeclareOk struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

type QueueBind struct {
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  Table
}
type QueueBindOk struct{}

type QueueUnbind struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  Table
}
type QueueUnbindOk struct{}

type QueueDelete struct {
	Queue    string
	IfUnused bool
	IfEmpty  bool
	NoWait   bool
}
type QueueDeleteOk struct{ MessageCount uint32 }

func (*QueueDeclare) amqpMethod()   {}
func (*QueueDeclareOk) amqpMethod() {}
func (*QueueBind) amqpMethod()      {}
func (*QueueBindOk) amqpMethod()    {}
func (*QueueUnbind) amqpMethod()    {}
func (*QueueUnbindOk) amqpMethod()  {}
func (*QueueDelete) amqpMethod()    {}
func (*QueueDeleteOk) amqpMethod()  {}

// --- basic class ---

type BasicQos struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}
type BasicQosOk struct{}

type BasicConsume struct {
	Queue       string
	ConsumerTag string
	AutoAck     bool
	Exclusive   bool
	NoLocal     bool
	NoWait      bool
	Arguments   Table
}
type BasicConsumeOk struct{ ConsumerTag string }

type BasicCancel struct {
	ConsumerTag string
	NoWait      bool
}
type BasicCancelOk struct{ ConsumerTag string }

// BasicPublish is content-bearing: it always travels together with a
// *Content value in the RPC queue.
type BasicPublish struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

// BasicReturn is content-bearing and server-originated: an unroutable
// mandatory/immediate publish bounced back to the publisher.
type BasicReturn struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

// BasicDeliver is content-bearing and server-originated: a message
// pushed to a consumer.
type BasicDeliver struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

type BasicAck struct {
	DeliveryTag uint64
	Multiple    bool
}
type BasicNack struct {
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool
}
type BasicReject struct {
	DeliveryTag uint64
	Requeue     bool
}

type BasicGet struct {
	Queue  string
	NoAck  bool
}
type BasicGetOk struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
}
type BasicGetEmpty struct{}

type BasicRecover struct{ Requeue bool }
type BasicRecoverOk struct{}

func (*BasicQos) amqpMethod()        {}
func (*BasicQosOk) amqpMethod()      {}
func (*BasicConsume) amqpMethod()    {}
func (*BasicConsumeOk) amqpMethod()  {}
func (*BasicCancel) amqpMethod()     {}
func (*BasicCancelOk) amqpMethod()   {}
func (*BasicPublish) amqpMethod()    {}
func (*BasicReturn) amqpMethod()     {}
func (*BasicDeliver) amqpMethod()    {}
func (*BasicAck) amqpMethod()        {}
func (*BasicNack) amqpMethod()       {}
func (*BasicReject) amqpMethod()     {}
func (*BasicGet) amqpMethod()        {}
func (*BasicGetOk) amqpMethod()      {}
func (*BasicGetEmpty) amqpMethod()   {}
func (*BasicRecover) amqpMethod()    {}
func (*BasicRecoverOk) amqpMethod()  {}

// --- confirm class ---

type ConfirmSelect struct{ NoWait bool }
type ConfirmSelectOk struct{}

func (*ConfirmSelect) amqpMethod()   {}
func (*ConfirmSelectOk) amqpMethod() {}
