package amqp

import (
	"context"
	"fmt"

	driver "github.com/rabbitmq/amqp091-go"

	"go.wirebox.dev/amqp/channel"
)

// driverWriter is the channel.Writer a NetworkTransport binds to: it
// turns channel.Method/channel.Content values into real driver calls
// against one already-open *driver.Channel, and turns the driver's own
// asynchronous notifications (close/confirm/return) back into the
// inbound events channel.Channel expects, mirroring the teacher's
// session.go eventLoop notification handling one layer down.
//
// Every method that, on the wire, expects a matching server reply is
// sent from a background goroutine: the blocking driver call stands in
// for "wait for the frame", and its result is handed back through
// deliver/fault exactly as an asynchronously-arriving reply would be.
type driverWriter struct {
	ch      *driver.Channel
	deliver func(channel.Method, *channel.Content)
	fault   func(error)
}

// newDriverWriter wraps ch. deliver and fault are expected to route to
// the owning channel.Channel's Deliver and ReportFault.
func newDriverWriter(ch *driver.Channel, deliver func(channel.Method, *channel.Content), fault func(error)) channel.Writer {
	w := &driverWriter{ch: ch, deliver: deliver, fault: fault}
	go w.watchNotifications()
	return w
}

func (w *driverWriter) watchNotifications() {
	closeCh := w.ch.NotifyClose(make(chan *driver.Error, 1))
	confirmCh := w.ch.NotifyPublish(make(chan driver.Confirmation, 16))
	returnCh := w.ch.NotifyReturn(make(chan driver.Return, 16))
	for {
		select {
		case e, ok := <-closeCh:
			if !ok {
				return
			}
			w.fault(&channel.AMQPError{Name: e.Reason, Code: uint16(e.Code), Explanation: e.Reason})
			return
		case c, ok := <-confirmCh:
			if !ok {
				continue
			}
			if c.Ack {
				w.deliver(&channel.BasicAck{DeliveryTag: c.DeliveryTag}, nil)
			} else {
				w.deliver(&channel.BasicNack{DeliveryTag: c.DeliveryTag}, nil)
			}
		case r, ok := <-returnCh:
			if !ok {
				continue
			}
			w.deliver(&channel.BasicReturn{
				ReplyCode:  r.ReplyCode,
				ReplyText:  r.ReplyText,
				Exchange:   r.Exchange,
				RoutingKey: r.RoutingKey,
			}, contentFromReturn(r))
		}
	}
}

func (w *driverWriter) Send(m channel.Method, content *channel.Content) error {
	switch mm := m.(type) {
	case *channel.ChannelOpen:
		go w.deliver(&channel.ChannelOpenOk{}, nil)

	case *channel.ChannelClose:
		go func() {
			if err := w.ch.Close(); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.ChannelCloseOk{}, nil)
		}()

	case *channel.ChannelFlow:
		// The driver does not expose client-initiated channel.flow; AMQP
		// brokers never require a client to send one, so this always
		// succeeds locally.
		go w.deliver(&channel.ChannelFlowOk{Active: mm.Active}, nil)

	case *channel.ChannelFlowOk:
		// Our reply to a server-sent channel.flow (dispatch.go's
		// internalCast). The driver's own read loop already answers flow
		// frames at the protocol level before the channel actor ever sees
		// them, so there is nothing left to put on the wire.

	case *channel.ExchangeDeclare:
		go func() {
			err := w.ch.ExchangeDeclare(mm.Exchange, mm.Kind, mm.Durable, mm.AutoDelete, mm.Internal, false, tableFrom(mm.Arguments))
			if err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.ExchangeDeclareOk{}, nil)
		}()

	case *channel.ExchangeDelete:
		go func() {
			if err := w.ch.ExchangeDelete(mm.Exchange, mm.IfUnused, false); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.ExchangeDeleteOk{}, nil)
		}()

	case *channel.QueueDeclare:
		go func() {
			q, err := w.ch.QueueDeclare(mm.Queue, mm.Durable, mm.AutoDelete, mm.Exclusive, false, tableFrom(mm.Arguments))
			if err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.QueueDeclareOk{
				Queue:         q.Name,
				MessageCount:  uint32(q.Messages),
				ConsumerCount: uint32(q.Consumers),
			}, nil)
		}()

	case *channel.QueueBind:
		go func() {
			if err := w.ch.QueueBind(mm.Queue, mm.RoutingKey, mm.Exchange, false, tableFrom(mm.Arguments)); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.QueueBindOk{}, nil)
		}()

	case *channel.QueueUnbind:
		go func() {
			if err := w.ch.QueueUnbind(mm.Queue, mm.RoutingKey, mm.Exchange, tableFrom(mm.Arguments)); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.QueueUnbindOk{}, nil)
		}()

	case *channel.QueueDelete:
		go func() {
			n, err := w.ch.QueueDelete(mm.Queue, mm.IfUnused, mm.IfEmpty, false)
			if err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.QueueDeleteOk{MessageCount: uint32(n)}, nil)
		}()

	case *channel.BasicQos:
		go func() {
			if err := w.ch.Qos(int(mm.PrefetchCount), int(mm.PrefetchSize), mm.Global); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.BasicQosOk{}, nil)
		}()

	case *channel.BasicConsume:
		go func() {
			deliveries, err := w.ch.Consume(mm.Queue, mm.ConsumerTag, mm.AutoAck, mm.Exclusive, mm.NoLocal, false, tableFrom(mm.Arguments))
			if err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.BasicConsumeOk{ConsumerTag: mm.ConsumerTag}, nil)
			for d := range deliveries {
				w.deliver(&channel.BasicDeliver{
					ConsumerTag: d.ConsumerTag,
					DeliveryTag: d.DeliveryTag,
					Redelivered: d.Redelivered,
					Exchange:    d.Exchange,
					RoutingKey:  d.RoutingKey,
				}, contentFromDelivery(d))
			}
		}()

	case *channel.BasicCancel:
		go func() {
			if err := w.ch.Cancel(mm.ConsumerTag, false); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.BasicCancelOk{ConsumerTag: mm.ConsumerTag}, nil)
		}()

	case *channel.BasicPublish:
		return w.ch.PublishWithContext(context.Background(), mm.Exchange, mm.RoutingKey, mm.Mandatory, mm.Immediate, publishingFrom(content))

	case *channel.BasicAck:
		return w.ch.Ack(mm.DeliveryTag, mm.Multiple)

	case *channel.BasicNack:
		return w.ch.Nack(mm.DeliveryTag, mm.Multiple, mm.Requeue)

	case *channel.BasicReject:
		return w.ch.Reject(mm.DeliveryTag, mm.Requeue)

	case *channel.BasicGet:
		go func() {
			d, ok, err := w.ch.Get(mm.Queue, mm.NoAck)
			if err != nil {
				w.fault(err)
				return
			}
			if !ok {
				w.deliver(&channel.BasicGetEmpty{}, nil)
				return
			}
			w.deliver(&channel.BasicGetOk{
				DeliveryTag:  d.DeliveryTag,
				Redelivered:  d.Redelivered,
				Exchange:     d.Exchange,
				RoutingKey:   d.RoutingKey,
				MessageCount: d.MessageCount,
			}, contentFromDelivery(d))
		}()

	case *channel.BasicRecover:
		go func() {
			if err := w.ch.Recover(mm.Requeue); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.BasicRecoverOk{}, nil)
		}()

	case *channel.ConfirmSelect:
		go func() {
			if err := w.ch.Confirm(mm.NoWait); err != nil {
				w.fault(err)
				return
			}
			w.deliver(&channel.ConfirmSelectOk{}, nil)
		}()

	default:
		return fmt.Errorf("driverWriter: unsupported method %T", m)
	}
	return nil
}

func (w *driverWriter) Close() error {
	return nil // channel.ChannelClose already drives the real ch.Close().
}

func tableFrom(t channel.Table) driver.Table {
	if t == nil {
		return nil
	}
	return driver.Table(t)
}

func publishingFrom(c *channel.Content) driver.Publishing {
	if c == nil {
		return driver.Publishing{}
	}
	return driver.Publishing{
		Headers:         driver.Table(c.Headers),
		ContentType:     c.ContentType,
		ContentEncoding: c.ContentEncoding,
		DeliveryMode:    c.DeliveryMode,
		Priority:        c.Priority,
		CorrelationId:   c.CorrelationId,
		ReplyTo:         c.ReplyTo,
		Expiration:      c.Expiration,
		MessageId:       c.MessageId,
		Timestamp:       c.Timestamp,
		Type:            c.Type,
		UserId:          c.UserId,
		AppId:           c.AppId,
		Body:            c.Body,
	}
}

func contentFromDelivery(d driver.Delivery) *channel.Content {
	return &channel.Content{
		Headers:         channel.Table(d.Headers),
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationId:   d.CorrelationId,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
		MessageId:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		UserId:          d.UserId,
		AppId:           d.AppId,
		Body:            d.Body,
	}
}

func contentFromReturn(r driver.Return) *channel.Content {
	return &channel.Content{
		Headers:         channel.Table(r.Headers),
		ContentType:     r.ContentType,
		ContentEncoding: r.ContentEncoding,
		DeliveryMode:    r.DeliveryMode,
		Priority:        r.Priority,
		CorrelationId:   r.CorrelationId,
		ReplyTo:         r.ReplyTo,
		Expiration:      r.Expiration,
		MessageId:       r.MessageId,
		Timestamp:       r.Timestamp,
		Type:            r.Type,
		UserId:          r.UserId,
		AppId:           r.AppId,
		Body:            r.Body,
	}
}
