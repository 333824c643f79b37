package amqp

import (
	"context"
	"sync"

	werrors "go.wirebox.dev/amqp/errors"
	xlog "go.wirebox.dev/amqp/log"
)

// rpc abstracts the additional plumbing required to offer a
// request/response helper on top of either a Consumer or a Publisher.
type rpc struct {
	consumer *Consumer
	publisher *Publisher
	mode      string // "pub" (owns a consumer to collect responses) or "sub" (owns a publisher to send them)
	sink      string // exclusive queue used to wait for responses
	resp      map[string]chan Message
	ctx       context.Context
	incoming  <-chan Delivery
	log       xlog.Logger
	mu        sync.RWMutex
}

func (r *rpc) isReady() bool {
	switch r.mode {
	case "pub":
		if r.consumer == nil {
			return false
		}
		return r.consumer.session.isReady()
	case "sub":
		if r.publisher == nil {
			return false
		}
		return r.publisher.session.isReady()
	}
	return false
}

func (r *rpc) queue() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink
}

func (r *rpc) close() error {
	var err error
	switch r.mode {
	case "pub":
		err = r.consumer.Close()
		<-r.consumer.ctx.Done()
	case "sub":
		err = r.publisher.Close()
		<-r.publisher.ctx.Done()
	}
	return err
}

func (r *rpc) eventLoop() {
	for {
		select {
		case <-r.ctx.Done():
			return
		// Re-declare the response queue each time the consumer
		// reconnects; it's exclusive, so the previous one is gone.
		case <-r.consumer.Ready():
			if err := r.setupQueue(); err != nil {
				r.consumer.log.WithField("error", err.Error()).Warning("failed to setup RPC queue")
			}
		}
	}
}

func (r *rpc) responseHandler(ctx context.Context, id string) <-chan Message {
	handler := make(chan Message, 1)
	r.mu.Lock()
	r.resp[id] = handler
	r.mu.Unlock()

	go func(ctx context.Context, id string, h chan Message) {
		select {
		case <-r.ctx.Done():
		case <-ctx.Done():
		case _, ok := <-h:
			if ok {
				return
			}
		}
		r.mu.Lock()
		delete(r.resp, id)
		r.mu.Unlock()
	}(ctx, id, handler)
	return handler
}

func (r *rpc) submitResponse(msg Message, replyTo string) error {
	if r.publisher == nil {
		return werrors.New("RPC not enabled to submit responses")
	}
	status, err := r.publisher.Push(msg, MessageOptions{RoutingKey: replyTo})
	if err != nil {
		return err
	}
	if !status {
		return werrors.New("failed to submit RPC response")
	}
	return nil
}

func (r *rpc) handleResponses() {
	for resp := range r.incoming {
		r.mu.Lock()
		handler, ok := r.resp[resp.CorrelationId]
		r.mu.Unlock()

		if ok {
			handler <- deliveryToMessage(resp)
			close(handler)
			continue
		}
		r.log.WithField("request-id", resp.CorrelationId).Warning("unknown RPC request")
	}
}

func (r *rpc) setupQueue() error {
	r.log.Debug("setup RPC queue")
	name, err := r.consumer.AddQueue(Queue{
		Name:       getName(r.consumer.session.name),
		Durable:    false,
		Exclusive:  true,
		AutoDelete: true,
	})
	if err != nil {
		return err
	}

	deliveries, id, err := r.consumer.Subscribe(SubscribeOptions{
		Queue:     name,
		AutoAck:   true,
		Exclusive: true,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sink = name
	r.incoming = deliveries
	r.mu.Unlock()

	go r.handleResponses()
	r.log.WithFields(xlog.Fields{"queue": name, "consumer": id}).Info("RPC queue ready")
	return nil
}

// deliveryToMessage "unpacks" a message out of its delivery wrapper, for
// handing off to code that deals in published payloads rather than
// consumer acknowledgement handles.
func deliveryToMessage(d Delivery) Message {
	return Message{
		Headers:         d.Headers,
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
