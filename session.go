package amqp

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	driver "github.com/rabbitmq/amqp091-go"

	"go.wirebox.dev/amqp/channel"
	werrors "go.wirebox.dev/amqp/errors"
	xlog "go.wirebox.dev/amqp/log"
)

const (
	// reconnectDelay is how long to wait between reconnection attempts
	// after the connection or channel is unexpectedly lost.
	reconnectDelay = 3 * time.Second

	// resendDelay is how long Publisher waits before retrying a publish
	// that did not receive a confirmation.
	resendDelay = 3 * time.Second

	// ackDelay bounds how long a session will wait for a slow consumer
	// of one of its notification channels before giving up on that
	// particular delivery.
	ackDelay = 10 * time.Millisecond
)

var (
	errShutdown      = "session is shutting down"
	errNotConnected  = "not connected to a server"
	errAlreadyClosed = "session is already closed"
)

// session owns one logical AMQP channel, built on top of channel.Channel
// rather than talking to the driver directly: it dials (or attaches to a
// direct broker), declares the expected topology, and supervises
// reconnection exactly like the connection-level actor spec.md treats as
// an external collaborator.
type session struct {
	topology     Topology
	name         string
	addr         string
	log          xlog.Logger
	conn         *driver.Connection
	ch           *channel.Channel
	consumer     *sessionConsumer
	tlsConf      *tls.Config
	directBroker channel.Broker

	reconnect       chan bool
	notifyConnClose chan *driver.Error
	prefetchCount   int
	prefetchSize    int
	status          chan bool
	rpcEnabled      bool
	rr              bool
	wg              *sync.WaitGroup

	confirmMu      sync.Mutex
	confirmWaiters map[uint64]chan Confirmation

	returnMu        sync.Mutex
	returnListeners []chan<- Return

	ctx  context.Context
	halt context.CancelFunc
	mu   sync.RWMutex
}

// open builds a new session instance and starts its event loop.
func open(addr string, options ...Option) (*session, error) {
	ctx, halt := context.WithCancel(context.Background())
	s := &session{
		addr:           addr,
		reconnect:      make(chan bool, 5),
		status:         make(chan bool, 1),
		prefetchSize:   0,
		prefetchCount:  1,
		halt:           halt,
		ctx:            ctx,
		log:            xlog.Discard(),
		wg:             new(sync.WaitGroup),
		confirmWaiters: make(map[uint64]chan Confirmation),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.name == "" {
		s.name = getName("session")
	}

	go s.eventLoop()
	s.reconnect <- true
	return s, nil
}

// close cleanly shuts down the channel and, if dialed over the network,
// the underlying connection.
func (s *session) close() error {
	if !s.isReady() {
		return werrors.New(errAlreadyClosed)
	}

	s.log.Debug("closing session")
	s.halt()
	<-s.ctx.Done()

	s.mu.RLock()
	ch := s.ch
	conn := s.conn
	s.mu.RUnlock()

	if ch != nil {
		if err := ch.Close(channel.ReplySuccess, "goodbye"); err != nil {
			s.log.WithField("error", err.Error()).Warning("channel close error")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			return err
		}
	}
	s.updateStatus(false)
	s.wg.Wait()
	s.clean()
	return nil
}

func (s *session) clean() {
	s.returnMu.Lock()
	s.returnListeners = nil
	s.returnMu.Unlock()
	s.confirmMu.Lock()
	for tag, w := range s.confirmWaiters {
		close(w)
		delete(s.confirmWaiters, tag)
	}
	s.confirmMu.Unlock()
	close(s.status)
}

func (s *session) isReady() bool {
	s.mu.RLock()
	v := s.rr
	s.mu.RUnlock()
	return v
}

func (s *session) updateStatus(value bool) {
	s.mu.Lock()
	s.rr = value
	s.mu.Unlock()

	s.wg.Add(1)
	go func(val bool) {
		defer s.wg.Done()
		select {
		case s.status <- val:
		case <-s.ctx.Done():
		case <-time.After(ackDelay):
		}
	}(value)
}

// init (re)establishes the channel actor: dials the broker (unless a
// direct broker was configured), opens a channel, applies QoS and
// confirm mode, ensures the topology, and wires up return/confirm fan
// out (spec §4.7/§4.9).
func (s *session) init() error {
	var transport channel.Transport
	if s.directBroker != nil {
		transport = channel.NewDirectTransport(0, s.directBroker)
	} else {
		if s.conn == nil || s.conn.IsClosed() {
			conn, err := driver.DialTLS(s.addr, s.tlsConf)
			if err != nil {
				return err
			}
			s.setConnection(conn)
			s.log.Info("connected")
		}
		conn := s.conn
		transport = channel.NewNetworkTransport(func() (channel.Writer, error) {
			driverCh, err := conn.Channel()
			if err != nil {
				return nil, err
			}
			return newDriverWriter(driverCh, s.ch.Deliver, s.ch.ReportFault), nil
		})
	}

	consumer := newSessionConsumer(s.log)
	ch, err := channel.New(0, transport, consumer, nil, channel.WithLogger(s.log))
	if err != nil {
		return err
	}
	consumer.ch = ch
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()

	if _, err := ch.Open(); err != nil {
		return fmt.Errorf("channel.open: %w", err)
	}
	if _, err := ch.Call(&channel.BasicQos{PrefetchCount: uint16(s.prefetchCount), PrefetchSize: uint32(s.prefetchSize)}, nil); err != nil {
		return fmt.Errorf("basic.qos: %w", err)
	}
	if _, err := ch.Call(&channel.ConfirmSelect{}, nil); err != nil {
		return fmt.Errorf("confirm.select: %w", err)
	}
	if err := s.loadTopology(ch); err != nil {
		return err
	}

	ch.RegisterReturnHandler(s.ctx, s.returnSink())
	ch.RegisterConfirmHandler(s.ctx, s.confirmSink())

	s.updateStatus(true)
	s.log.Info("ready")
	return nil
}

func (s *session) setConnection(conn *driver.Connection) {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.notifyConnClose = make(chan *driver.Error)
	s.conn.NotifyClose(s.notifyConnClose)
	s.mu.Unlock()
}

func (s *session) loadTopology(ch *channel.Channel) error {
	for _, ex := range s.topology.Exchanges {
		if err := s.addExchange(ex, ch); err != nil {
			return err
		}
	}
	for _, q := range s.topology.Queues {
		if _, err := s.addQueue(q, ch); err != nil {
			return err
		}
	}
	for _, b := range s.topology.Bindings {
		if err := s.addBinding(b, ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) addExchange(ex Exchange, ch *channel.Channel) error {
	_, err := ch.Call(&channel.ExchangeDeclare{
		Exchange:   ex.Name,
		Kind:       ex.Kind,
		Durable:    ex.Durable,
		AutoDelete: ex.AutoDelete,
		Internal:   ex.Internal,
		Arguments:  channel.Table(ex.Arguments),
	}, nil)
	return err
}

func (s *session) addQueue(q Queue, ch *channel.Channel) (string, error) {
	if q.Name == "" {
		q.Name = getName(fmt.Sprintf("%s-gen", s.name))
	}
	_, err := ch.Call(&channel.QueueDeclare{
		Queue:      q.Name,
		Durable:    q.Durable,
		AutoDelete: q.AutoDelete,
		Exclusive:  q.Exclusive,
		Arguments:  channel.Table(q.Arguments),
	}, nil)
	return q.Name, err
}

func (s *session) addBinding(b Binding, ch *channel.Channel) error {
	if len(b.RoutingKey) > 0 {
		for _, rk := range b.RoutingKey {
			_, err := ch.Call(&channel.QueueBind{
				Queue:      b.Queue,
				Exchange:   b.Exchange,
				RoutingKey: rk,
				Arguments:  channel.Table(b.Arguments),
			}, nil)
			if err != nil {
				return err
			}
		}
		return nil
	}
	_, err := ch.Call(&channel.QueueBind{
		Queue:     b.Queue,
		Exchange:  b.Exchange,
		Arguments: channel.Table(b.Arguments),
	}, nil)
	return err
}

// registerConfirmWaiter records a channel waiting for the confirm event
// matching seqno, used by Publisher.Push (spec §4.9).
func (s *session) registerConfirmWaiter(seqno uint64) <-chan Confirmation {
	w := make(chan Confirmation, 1)
	s.confirmMu.Lock()
	s.confirmWaiters[seqno] = w
	s.confirmMu.Unlock()
	return w
}

func (s *session) confirmSink() chan Confirmation {
	sink := make(chan Confirmation, 32)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Waiters are keyed by publish sequence number (FIFO, starting
		// at 1; spec invariant on nextPubSeqno) and matched against the
		// DeliveryTag of each basic.ack/basic.nack; an event carrying
		// neither falls back to the tag after the last one seen. An
		// ack/nack with Multiple set releases only the waiter for its
		// own tag.
		next := uint64(1)
		for {
			select {
			case c, ok := <-sink:
				if !ok {
					return
				}
				tag := next
				if c.Ack != nil {
					tag = c.Ack.DeliveryTag
				} else if c.Nack != nil {
					tag = c.Nack.DeliveryTag
				}
				s.confirmMu.Lock()
				w, found := s.confirmWaiters[tag]
				if found {
					delete(s.confirmWaiters, tag)
				}
				s.confirmMu.Unlock()
				if found {
					w <- c
					close(w)
				}
				next = tag + 1
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return sink
}

func (s *session) returnSink() chan Return {
	sink := make(chan Return, 32)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case r, ok := <-sink:
				if !ok {
					return
				}
				s.returnMu.Lock()
				listeners := append([]chan<- Return{}, s.returnListeners...)
				s.returnMu.Unlock()
				for _, l := range listeners {
					s.wg.Add(1)
					go func(l chan<- Return) {
						defer s.wg.Done()
						select {
						case l <- r:
						case <-time.After(ackDelay):
						case <-s.ctx.Done():
						}
					}(l)
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return sink
}

// messageReturns registers a broadcast listener for basic.return events.
func (s *session) messageReturns() <-chan Return {
	monitor := make(chan Return)
	s.returnMu.Lock()
	s.returnListeners = append(s.returnListeners, monitor)
	s.returnMu.Unlock()
	return monitor
}

// eventLoop mirrors the teacher's connection-supervision loop one layer
// up: it watches the network connection (when dialed) and the channel
// actor's own exit, and drives reconnection.
func (s *session) eventLoop() {
	for {
		select {
		case <-s.ctx.Done():
			s.log.Debug("stop listening for session events")
			return

		case _, ok := <-s.notifyConnClose:
			if !ok {
				continue
			}
			if s.isReady() {
				s.log.Warning("connection closed")
				s.reconnect <- true
			}

		case <-s.channelDone():
			if s.isReady() {
				s.log.Warning("channel closed")
				s.reconnect <- true
			}

		case <-s.reconnect:
			s.updateStatus(false)
			s.log.Debug("attempting to connect")
			if err := s.init(); err != nil {
				s.log.WithField("error", err.Error()).Warning("failed to connect")
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					select {
					case <-time.After(reconnectDelay):
						s.reconnect <- true
					case <-s.ctx.Done():
					}
				}()
			}
		}
	}
}

// channelHandle returns the currently active channel actor, or nil if
// none has been established yet.
func (s *session) channelHandle() *channel.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ch
}

func (s *session) channelDone() <-chan struct{} {
	s.mu.RLock()
	ch := s.ch
	s.mu.RUnlock()
	if ch == nil {
		return nil
	}
	return ch.Done()
}
