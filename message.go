package amqp

import (
	"time"

	"go.wirebox.dev/amqp/channel"
)

// Message is the payload applications publish and receive. It mirrors
// the AMQP 0-9-1 basic content properties; channel.Content carries the
// identical shape one layer down, where the package cannot depend on a
// concrete driver type.
type Message = channel.Content

// Return captures the fields the broker sends back when a mandatory or
// immediate publish could not be routed (spec glossary "Return").
type Return = channel.ReturnEvent

// Confirmation captures a publisher-confirm ack/nack pair for one
// previously published message (spec glossary "Confirmation").
type Confirmation = channel.ConfirmEvent

// Delivery represents one message handed to a consumer, plus the
// acknowledgement handle back to the channel that received it.
type Delivery struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string

	Headers         map[string]interface{}
	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	CorrelationId   string
	ReplyTo         string
	Expiration      string
	MessageId       string
	Timestamp       time.Time
	Type            string
	UserId          string
	AppId           string
	Body            []byte

	ch *channel.Channel
}

func newDelivery(ch *channel.Channel, d *channel.BasicDeliver, content *channel.Content) Delivery {
	dl := Delivery{
		ConsumerTag: d.ConsumerTag,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
		ch:          ch,
	}
	if content != nil {
		dl.Headers = content.Headers
		dl.ContentType = content.ContentType
		dl.ContentEncoding = content.ContentEncoding
		dl.DeliveryMode = content.DeliveryMode
		dl.Priority = content.Priority
		dl.CorrelationId = content.CorrelationId
		dl.ReplyTo = content.ReplyTo
		dl.Expiration = content.Expiration
		dl.MessageId = content.MessageId
		dl.Timestamp = content.Timestamp
		dl.Type = content.Type
		dl.UserId = content.UserId
		dl.AppId = content.AppId
		dl.Body = content.Body
	}
	return dl
}

// Ack acknowledges this delivery; multiple acknowledges every
// outstanding delivery up to and including this one.
func (d Delivery) Ack(multiple bool) error {
	return d.ch.Cast(&channel.BasicAck{DeliveryTag: d.DeliveryTag, Multiple: multiple}, nil)
}

// Nack negatively acknowledges this delivery, optionally requeueing it.
func (d Delivery) Nack(multiple, requeue bool) error {
	return d.ch.Cast(&channel.BasicNack{DeliveryTag: d.DeliveryTag, Multiple: multiple, Requeue: requeue}, nil)
}

// Reject rejects this delivery, optionally requeueing it.
func (d Delivery) Reject(requeue bool) error {
	return d.ch.Cast(&channel.BasicReject{DeliveryTag: d.DeliveryTag, Requeue: requeue}, nil)
}
