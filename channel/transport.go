package channel

import "sync"

// Writer is the thing a NetworkTransport binds to when Bind runs, just
// before channel.open is sent: the actual wire connection for one
// channel number.
type Writer interface {
	Send(m Method, content *Content) error
	Close() error
}

// Transport is the channel actor's only way to reach the outside world
// (spec §4.6). Two shapes are supported: Network (wraps a real
// connection, writer created lazily) and Direct (in-process, talks
// straight to a Broker double or embedded broker).
//
// Send errors are never surfaced synchronously to an RPC caller: per
// spec §4.1/§7 a transport failure is expected to arrive later as an
// out-of-band fault (Channel.ReportFault), so implementations that can
// detect failure only at Send time should still return the error here —
// the actor turns it into a fault event rather than a reply.
type Transport interface {
	// Bind performs any one-time setup (e.g. lazily opening the network
	// writer) and is called from pre_do(channel.open). It is safe to
	// call more than once; a call made while already bound does nothing.
	Bind() error
	Send(m Method, content *Content) error
	Close() error
}

// NetworkTransport defers creating its Writer until Bind is called, so a
// caller can construct a Channel before the underlying network channel
// has actually been opened on the wire (spec §9 "writer lazy creation").
type NetworkTransport struct {
	mu      sync.Mutex
	factory func() (Writer, error)
	writer  Writer
}

// NewNetworkTransport wraps a Writer factory. factory is called by Bind
// whenever no writer is bound: on the first call, again after a failed
// call, and again after Close.
func NewNetworkTransport(factory func() (Writer, error)) *NetworkTransport {
	return &NetworkTransport{factory: factory}
}

func (t *NetworkTransport) Bind() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer != nil {
		return nil
	}
	w, err := t.factory()
	if err != nil {
		return err
	}
	t.writer = w
	return nil
}

func (t *NetworkTransport) Send(m Method, content *Content) error {
	t.mu.Lock()
	w := t.writer
	t.mu.Unlock()
	if w == nil {
		return ErrTransportNotBound
	}
	return w.Send(m, content)
}

func (t *NetworkTransport) Close() error {
	t.mu.Lock()
	w := t.writer
	t.writer = nil
	t.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// Broker is the in-process counterpart of a real server connection: a
// DirectTransport hands it frames to dispatch synchronously instead of
// serializing them onto a socket. Used for tests and for an embedded
// broker that lives in the same process as its only client.
type Broker interface {
	Dispatch(channelNumber uint16, m Method, content *Content) error
}

// DirectTransport needs no lazy writer: the broker is already reachable
// the moment the transport is constructed.
type DirectTransport struct {
	number uint16
	broker Broker
}

func NewDirectTransport(number uint16, broker Broker) *DirectTransport {
	return &DirectTransport{number: number, broker: broker}
}

func (t *DirectTransport) Bind() error { return nil }

func (t *DirectTransport) Send(m Method, content *Content) error {
	return t.broker.Dispatch(t.number, m, content)
}

func (t *DirectTransport) Close() error { return nil }
