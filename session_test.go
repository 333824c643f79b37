package amqp

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"go.wirebox.dev/amqp/channel"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// Scenario: a session wired to an in-process broker completes its
// connect handshake (channel.open, basic.qos, confirm.select) and
// closes cleanly.
func TestSessionOpenAndClose(t *testing.T) {
	broker := newFakeBroker()
	s, err := open("", WithDirectBroker(broker))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	broker.setSession(s)

	waitUntil(t, time.Second, s.isReady)

	if err := s.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// Scenario: a topology supplied via WithTopology is declared against the
// broker as part of session startup (exchange, queue, binding).
func TestSessionDeclaresTopology(t *testing.T) {
	var seen []string
	broker := newFakeBroker()
	broker.onMethod = func(m channel.Method, _ *channel.Content) {
		switch m.(type) {
		case *channel.ExchangeDeclare:
			seen = append(seen, "exchange.declare")
		case *channel.QueueDeclare:
			seen = append(seen, "queue.declare")
		case *channel.QueueBind:
			seen = append(seen, "queue.bind")
		}
	}

	top := Topology{
		Exchanges: []Exchange{{Name: "ex", Kind: "direct"}},
		Queues:    []Queue{{Name: "q"}},
		Bindings:  []Binding{{Exchange: "ex", Queue: "q", RoutingKey: []string{"rk"}}},
	}

	s, err := open("", WithDirectBroker(broker), WithTopology(top))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	broker.setSession(s)

	waitUntil(t, time.Second, s.isReady)
	want := []string{"exchange.declare", "queue.declare", "queue.bind"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}

	if err := s.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// Scenario: WithName/WithPrefetch are plain field setters; a smoke test
// that constructing a session with several options together doesn't
// error and keeps the configured name.
func TestSessionOptionsCompose(t *testing.T) {
	broker := newFakeBroker()
	s, err := open("",
		WithDirectBroker(broker),
		WithName("custom"),
		WithPrefetch(5, 0),
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	broker.setSession(s)
	waitUntil(t, time.Second, s.isReady)

	if s.name != "custom" {
		t.Errorf("name = %q, want %q", s.name, "custom")
	}
	if err := s.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
