package amqp

import (
	"testing"
	"time"

	"go.wirebox.dev/amqp/channel"
)

// Scenario: Subscribe registers the delivery channel before issuing
// basic.consume, and a delivery addressed to the returned consumer tag
// reaches the caller.
func TestConsumerSubscribeReceivesDelivery(t *testing.T) {
	broker := newFakeBroker()
	c, err := NewConsumer("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	broker.setSession(c.session)
	defer func() { _ = c.Close() }()

	select {
	case <-c.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer to become ready")
	}

	deliveries, id, err := c.Subscribe(SubscribeOptions{Queue: "q"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	broker.deliver(&channel.BasicDeliver{
		ConsumerTag: id,
		DeliveryTag: 1,
		RoutingKey:  "rk",
	}, &channel.Content{Body: []byte("hi")})

	select {
	case d := <-deliveries:
		if string(d.Body) != "hi" {
			t.Errorf("body = %q, want %q", d.Body, "hi")
		}
		if d.RoutingKey != "rk" {
			t.Errorf("routing key = %q, want %q", d.RoutingKey, "rk")
		}
		if err := d.Ack(false); err != nil {
			t.Errorf("Ack: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// Scenario: CloseSubscription cancels the subscription and stops
// tracking it, without tearing down the consumer itself.
func TestConsumerCloseSubscription(t *testing.T) {
	var sawCancel bool
	broker := newFakeBroker()
	broker.onMethod = func(m channel.Method, _ *channel.Content) {
		if _, ok := m.(*channel.BasicCancel); ok {
			sawCancel = true
		}
	}

	c, err := NewConsumer("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	broker.setSession(c.session)
	defer func() { _ = c.Close() }()

	select {
	case <-c.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer to become ready")
	}

	_, id, err := c.Subscribe(SubscribeOptions{Queue: "q"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := c.CloseSubscription(id); err != nil {
		t.Fatalf("CloseSubscription: %v", err)
	}
	if !sawCancel {
		t.Error("expected basic.cancel to be sent")
	}
}

// Scenario: AddQueue/AddBinding route through the shared channel handle
// and surface the declared queue name.
func TestConsumerAddQueueAndBinding(t *testing.T) {
	broker := newFakeBroker()
	c, err := NewConsumer("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	broker.setSession(c.session)
	defer func() { _ = c.Close() }()

	select {
	case <-c.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consumer to become ready")
	}

	name, err := c.AddQueue(Queue{Exclusive: true})
	if err != nil {
		t.Fatalf("AddQueue: %v", err)
	}
	if name == "" {
		t.Error("expected a non-empty generated queue name")
	}
	if err := c.AddBinding(Binding{Queue: name, Exchange: "ex"}); err != nil {
		t.Fatalf("AddBinding: %v", err)
	}
}
