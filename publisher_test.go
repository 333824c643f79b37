package amqp

import (
	"context"
	"testing"
	"time"

	"go.wirebox.dev/amqp/channel"
)

// Scenario: UnsafePush fires a basic.publish without waiting on a
// confirmation.
func TestPublisherUnsafePush(t *testing.T) {
	var published int
	broker := newFakeBroker()
	broker.onMethod = func(m channel.Method, _ *channel.Content) {
		if _, ok := m.(*channel.BasicPublish); ok {
			published++
		}
	}

	p, err := NewPublisher("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	broker.setSession(p.session)
	defer func() { _ = p.Close() }()

	select {
	case <-p.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publisher to become ready")
	}

	if err := p.UnsafePush(Message{Body: []byte("hi")}, MessageOptions{RoutingKey: "q"}); err != nil {
		t.Fatalf("UnsafePush: %v", err)
	}
	if published != 1 {
		t.Errorf("published = %d, want 1", published)
	}
}

// Scenario: Push blocks until the broker's basic.ack arrives, correlated
// by delivery tag, and reports a successful confirmation.
func TestPublisherPushWaitsForConfirm(t *testing.T) {
	broker := newFakeBroker()
	p, err := NewPublisher("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	broker.setSession(p.session)
	defer func() { _ = p.Close() }()

	select {
	case <-p.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publisher to become ready")
	}

	done := make(chan struct{})
	var ok bool
	var pushErr error
	go func() {
		ok, pushErr = p.Push(Message{Body: []byte("hi")}, MessageOptions{RoutingKey: "q"})
		close(done)
	}()

	select {
	case <-done:
		if pushErr != nil {
			t.Fatalf("Push: %v", pushErr)
		}
		if !ok {
			t.Error("expected a positive (ack) confirmation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Push to return")
	}
}

// Scenario: a mandatory publish that the broker bounces back as
// basic.return reaches a registered MessageReturns listener.
func TestPublisherMessageReturns(t *testing.T) {
	broker := newFakeBroker()
	p, err := NewPublisher("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	broker.setSession(p.session)
	defer func() { _ = p.Close() }()

	select {
	case <-p.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publisher to become ready")
	}

	returns := p.MessageReturns()

	broker.deliver(&channel.BasicReturn{
		ReplyCode:  channel.ReplyNotFound,
		ReplyText:  "no route",
		RoutingKey: "q",
	}, &channel.Content{Body: []byte("bounced")})

	select {
	case r := <-returns:
		if r.Method.ReplyText != "no route" {
			t.Errorf("reply text = %q, want %q", r.Method.ReplyText, "no route")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message return")
	}
}

// Scenario: GetDispatcher builds a usable publishing helper bound to the
// publisher's lifecycle.
func TestPublisherGetDispatcher(t *testing.T) {
	broker := newFakeBroker()
	p, err := NewPublisher("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	broker.setSession(p.session)
	defer func() { _ = p.Close() }()

	select {
	case <-p.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publisher to become ready")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dp := p.GetDispatcher(ctx, false, MessageOptions{RoutingKey: "q"})

	select {
	case dp.Publish() <- Message{Body: []byte("hi")}:
	case <-time.After(time.Second):
		t.Fatal("timed out sending through dispatcher")
	}

	cancel()
	select {
	case <-dp.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not close after context cancellation")
	}
}
