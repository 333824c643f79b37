package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestChannel(t *testing.T, handler func(m Method, content *Content) error) (*Channel, *scriptedBroker) {
	t.Helper()
	broker := newScriptedBroker(handler)
	transport := NewDirectTransport(1, broker)
	ch, err := New(1, transport, &NoopConsumer{}, nil)
	if err != nil {
		t.Fatalf("channel.New: %v", err)
	}
	broker.attach(ch)
	return ch, broker
}

func waitFor(t *testing.T, ch *Channel, d time.Duration) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(d):
		t.Fatal("timed out waiting for channel to exit")
	}
}

// Scenario: a plain channel.open/open_ok round trip succeeds and the
// channel can be closed gracefully afterward.
func TestBasicOpen(t *testing.T) {
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		if _, ok := m.(*ChannelOpen); ok {
			broker.deliver(&ChannelOpenOk{}, nil)
		}
		return nil
	})
	reply, err := ch.Open()
	tdd.NoError(t, err)
	if tdd.NotNil(t, reply) {
		_, ok := reply.Method.(*ChannelOpenOk)
		tdd.True(t, ok)
	}

	broker.handler = func(m Method, content *Content) error {
		if _, ok := m.(*ChannelClose); ok {
			broker.deliver(&ChannelCloseOk{}, nil)
		}
		return nil
	}
	tdd.NoError(t, ch.Close(ReplySuccess, "bye"))
	waitFor(t, ch, time.Second)
	tdd.NoError(t, ch.Err())
}

// Scenario: publisher confirms are correlated by delivery tag and
// reported through the registered confirm handler.
func TestPublisherConfirms(t *testing.T) {
	var tag uint64
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		switch mm := m.(type) {
		case *ChannelOpen:
			broker.deliver(&ChannelOpenOk{}, nil)
		case *ConfirmSelect:
			broker.deliver(&ConfirmSelectOk{}, nil)
		case *BasicPublish:
			_ = mm
			go broker.deliver(&BasicAck{DeliveryTag: tag}, nil)
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)
	_, err = ch.Call(&ConfirmSelect{}, nil)
	tdd.NoError(t, err)

	confirms := make(chan ConfirmEvent, 1)
	ch.RegisterConfirmHandler(context.Background(), confirms)

	tag = ch.NextPublishSeqno()
	tdd.Equal(t, uint64(1), tag)
	err = ch.Cast(&BasicPublish{Exchange: "", RoutingKey: "q"}, &Content{Body: []byte("hi")})
	tdd.NoError(t, err)

	select {
	case ev := <-confirms:
		if tdd.NotNil(t, ev.Ack) {
			tdd.Equal(t, uint64(1), ev.Ack.DeliveryTag)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for confirm")
	}
}

// Scenario: the server throttles the channel with channel.flow; the
// actor must answer flow_ok on its own and start rejecting
// content-bearing methods until flow resumes.
func TestFlowThrottle(t *testing.T) {
	sawFlowOk := make(chan struct{}, 1)
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		switch m.(type) {
		case *ChannelOpen:
			broker.deliver(&ChannelOpenOk{}, nil)
		case *ChannelFlowOk:
			sawFlowOk <- struct{}{}
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	ch.Deliver(&ChannelFlow{Active: false}, nil)

	select {
	case <-sawFlowOk:
	case <-time.After(time.Second):
		t.Fatal("channel did not answer channel.flow")
	}

	_, err = ch.Call(&BasicPublish{RoutingKey: "q"}, &Content{Body: []byte("x")})
	tdd.ErrorIs(t, err, ErrBlocked)

	ch.Deliver(&ChannelFlow{Active: true}, nil)
	select {
	case <-sawFlowOk:
	case <-time.After(time.Second):
		t.Fatal("channel did not answer second channel.flow")
	}
	err = ch.Cast(&BasicPublish{RoutingKey: "q"}, &Content{Body: []byte("x")})
	tdd.NoError(t, err)
}

// Scenario: the server closes the channel; the actor must answer
// close_ok and exit with a ServerInitiatedClose reason.
func TestServerInitiatedClose(t *testing.T) {
	gotCloseOk := make(chan struct{}, 1)
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		switch m.(type) {
		case *ChannelOpen:
			broker.deliver(&ChannelOpenOk{}, nil)
		case *ChannelCloseOk:
			gotCloseOk <- struct{}{}
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	ch.Deliver(&ChannelClose{ReplyCode: ReplyAccessRefused, ReplyText: "no"}, nil)

	select {
	case <-gotCloseOk:
	case <-time.After(time.Second):
		t.Fatal("channel did not answer server-initiated close")
	}
	waitFor(t, ch, time.Second)

	var sic *ServerInitiatedClose
	tdd.ErrorAs(t, ch.Err(), &sic)
	if sic != nil {
		tdd.Equal(t, uint16(ReplyAccessRefused), sic.Code)
	}
}

// Scenario: a locally-initiated close races a pending call: the close
// request queues FIFO behind it rather than jumping ahead.
func TestLocalCloseOrdering(t *testing.T) {
	release := make(chan struct{})
	var order []string
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		switch m.(type) {
		case *ChannelOpen:
			broker.deliver(&ChannelOpenOk{}, nil)
		case *QueueDeclare:
			order = append(order, "queue.declare")
			go func() {
				<-release
				broker.deliver(&QueueDeclareOk{Queue: "q"}, nil)
			}()
		case *ChannelClose:
			order = append(order, "channel.close")
			broker.deliver(&ChannelCloseOk{}, nil)
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = ch.Call(&QueueDeclare{Queue: "q"}, nil)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond) // let queue.declare reach the head first

	closeDone := make(chan struct{})
	go func() {
		_ = ch.Close(ReplySuccess, "bye")
		close(closeDone)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	<-done
	<-closeDone
	waitFor(t, ch, time.Second)
	tdd.Equal(t, []string{"queue.declare", "channel.close"}, order)
}

// Scenario: a connection-closing notification with an empty RPC queue
// shuts the channel down immediately, without waiting for TimeoutFlush.
func TestConnectionClosingImmediate(t *testing.T) {
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		if _, ok := m.(*ChannelOpen); ok {
			broker.deliver(&ChannelOpenOk{}, nil)
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	ch.ConnectionClosing(true, nil)
	waitFor(t, ch, time.Second)
	tdd.NoError(t, ch.Err())
}

// Scenario: an AMQPError{Code: ReplySuccess} reason normalizes to a nil
// exit error; any other reason does not.
func TestShutdownReasonNormalization(t *testing.T) {
	tdd.Nil(t, normalizeShutdownReason(nil))
	tdd.Nil(t, normalizeShutdownReason(&AMQPError{Code: ReplySuccess, Name: "ok"}))
	err := normalizeShutdownReason(&AMQPError{Code: ReplyAccessRefused, Name: "no"})
	tdd.NotNil(t, err)
}

// recordingConsumer wraps NoopConsumer and records every basic.deliver it
// is handed, so a test can assert a spurious delivery never reached it.
type recordingConsumer struct {
	NoopConsumer
	delivered []*BasicDeliver
}

func (r *recordingConsumer) HandleDeliver(d *BasicDeliver, content *Content) error {
	r.delivered = append(r.delivered, d)
	return nil
}

// Scenario: a locally-initiated close races a spurious inbound
// basic.deliver that arrives before close_ok. The delivery must be
// dropped without reaching the consumer strategy; the close itself still
// completes normally once close_ok arrives.
func TestLocalCloseRaceDropsSpuriousDelivery(t *testing.T) {
	consumer := &recordingConsumer{}
	broker := newScriptedBroker(nil)
	transport := NewDirectTransport(1, broker)
	ch, err := New(1, transport, consumer, nil)
	tdd.NoError(t, err)
	broker.attach(ch)

	broker.handler = func(m Method, content *Content) error {
		switch m.(type) {
		case *ChannelOpen:
			broker.deliver(&ChannelOpenOk{}, nil)
		case *ChannelClose:
			// Spurious frame the server happens to still have in flight
			// when it receives our close; it must be dropped, not routed
			// to the consumer strategy, because closing == JustChannel by
			// the time preDo(channel.close) has run.
			broker.deliver(&BasicDeliver{ConsumerTag: "ctag", DeliveryTag: 1}, &Content{Body: []byte("late")})
			broker.deliver(&ChannelCloseOk{}, nil)
		}
		return nil
	}

	_, err = ch.Open()
	tdd.NoError(t, err)

	tdd.NoError(t, ch.Close(ReplySuccess, "Goodbye"))
	waitFor(t, ch, time.Second)
	tdd.NoError(t, ch.Err())
	tdd.Empty(t, consumer.delivered)
}

// Scenario: the owning connection signals a flush-style closing while
// several RPCs are still queued; the channel must drain them within
// TimeoutFlush rather than exiting (or timing out) immediately, then
// shut down with the supplied reason.
func TestConnectionClosingFlushDrainsQueuedRPCs(t *testing.T) {
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		switch mm := m.(type) {
		case *ChannelOpen:
			broker.deliver(&ChannelOpenOk{}, nil)
		case *QueueDeclare:
			name := mm.Queue
			mu.Lock()
			order = append(order, "queue.declare:"+name)
			mu.Unlock()
			go func(name string) {
				<-release
				broker.deliver(&QueueDeclareOk{Queue: name}, nil)
			}(name)
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	// Launched one at a time, each given a moment to land on the rpc
	// queue before the next starts, so the three end up FIFO-ordered
	// regardless of goroutine scheduling: q1 reaches the wire immediately
	// (the queue was empty), q2 and q3 merely need to win the race to
	// enqueue behind it, which is no race at all once only one goroutine
	// is contending for the channel at a time.
	var wg sync.WaitGroup
	for _, name := range []string{"q1", "q2", "q3"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, _ = ch.Call(&QueueDeclare{Queue: name}, nil)
		}(name)
		time.Sleep(20 * time.Millisecond)
	}

	shutdownReason := errors.New("supervisor restart")
	ch.ConnectionClosing(true, shutdownReason)

	// The queue is non-empty, so the channel must still be running,
	// waiting out TimeoutFlush rather than exiting right away.
	select {
	case <-ch.Done():
		t.Fatal("channel exited before its queued RPCs drained")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	waitFor(t, ch, time.Second)

	mu.Lock()
	defer mu.Unlock()
	tdd.Equal(t, []string{"queue.declare:q1", "queue.declare:q2", "queue.declare:q3"}, order)

	var reason *ConnectionClosingReason
	tdd.ErrorAs(t, ch.Err(), &reason)
	if reason != nil {
		tdd.Equal(t, shutdownReason, reason.Inner)
	}
}

// Scenario: an out-of-band fault report (e.g. a dropped connection) that
// isn't an AMQPError is fatal and reported as InfrastructureDied, never
// silently swallowed.
func TestFaultReportsInfrastructureDied(t *testing.T) {
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		if _, ok := m.(*ChannelOpen); ok {
			broker.deliver(&ChannelOpenOk{}, nil)
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	cause := errors.New("connection reset by peer")
	broker.fault(cause)

	waitFor(t, ch, time.Second)
	var died *InfrastructureDied
	tdd.ErrorAs(t, ch.Err(), &died)
	if died != nil {
		tdd.Equal(t, cause, died.Cause)
	}
}

// Scenario: a soft AMQP exception reported out-of-band (e.g. surfaced by
// the transport outside the normal channel.close flow) triggers a local,
// asynchronous close rather than tearing down the whole connection.
func TestFaultSoftExceptionInitiatesLocalClose(t *testing.T) {
	sawClose := make(chan *ChannelClose, 1)
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		switch mm := m.(type) {
		case *ChannelOpen:
			broker.deliver(&ChannelOpenOk{}, nil)
		case *ChannelClose:
			sawClose <- mm
			broker.deliver(&ChannelCloseOk{}, nil)
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	broker.fault(&AMQPError{Code: ReplyNotFound, Name: "NOT_FOUND", Explanation: "no queue"})

	select {
	case m := <-sawClose:
		tdd.Equal(t, uint16(ReplyNotFound), m.ReplyCode)
	case <-time.After(time.Second):
		t.Fatal("soft fault did not trigger a local channel.close")
	}
	waitFor(t, ch, time.Second)
}

// Scenario: a hard AMQP exception reported out-of-band is fatal for the
// whole connection, not just this channel.
func TestFaultHardExceptionClosesConnection(t *testing.T) {
	ch, broker := newTestChannel(t, func(m Method, content *Content) error {
		if _, ok := m.(*ChannelOpen); ok {
			broker.deliver(&ChannelOpenOk{}, nil)
		}
		return nil
	})
	_, err := ch.Open()
	tdd.NoError(t, err)

	broker.fault(&AMQPError{Code: ReplyFrameError, Name: "FRAME_ERROR", Explanation: "bad frame"})

	waitFor(t, ch, time.Second)
	var reason *ConnectionClosingReason
	tdd.ErrorAs(t, ch.Err(), &reason)
	if reason != nil {
		var hard *ServerInitiatedHardClose
		tdd.ErrorAs(t, reason.Inner, &hard)
		if hard != nil {
			tdd.Equal(t, uint16(ReplyFrameError), hard.Code)
		}
	}
}
