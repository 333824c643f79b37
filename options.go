package amqp

import (
	"crypto/tls"

	"go.wirebox.dev/amqp/channel"
	xlog "go.wirebox.dev/amqp/log"
)

// Option configures a session (and, through it, every Publisher/Consumer
// built on top of one) at construction time.
type Option func(*session) error

// WithLogger sets the logger instance to use. Default is a discard
// logger: nothing is logged unless a caller opts in.
func WithLogger(l xlog.Logger) Option {
	return func(s *session) error {
		s.log = l
		return nil
	}
}

// WithName sets the session's identifier. If not set, a name of the form
// "session-*" is generated, for publishers and consumers alike.
func WithName(name string) Option {
	return func(s *session) error {
		s.name = name
		return nil
	}
}

// WithPrefetch sets the basic.qos values applied to the channel right
// after it is opened: count is the maximum number of unacknowledged
// in-flight deliveries, size is a byte ceiling (0 disables it).
func WithPrefetch(count, size int) Option {
	return func(s *session) error {
		s.prefetchCount = count
		s.prefetchSize = size
		return nil
	}
}

// WithTopology loads a broker topology the session will ensure exists
// once connected: missing exchanges, queues and bindings are declared.
func WithTopology(t Topology) Option {
	return func(s *session) error {
		s.topology = t
		return nil
	}
}

// WithTLS dials the broker over AMQPS using the supplied TLS config. A
// nil config is a no-op (plain AMQP).
func WithTLS(conf *tls.Config) Option {
	return func(s *session) error {
		s.tlsConf = conf
		return nil
	}
}

// WithRPC enables the request/response helper (rpc.go) on top of this
// session: a Publisher built with it gains a dedicated reply queue and
// SubmitRPC support; a Consumer built with it gains RespondRPC support.
func WithRPC() Option {
	return func(s *session) error {
		s.rpcEnabled = true
		return nil
	}
}

// WithDirectBroker bypasses the network entirely: the session's channel
// talks straight to broker through an in-process channel.Broker, useful
// for tests and for embedding a broker double in the same process as its
// only client.
func WithDirectBroker(broker channel.Broker) Option {
	return func(s *session) error {
		s.directBroker = broker
		return nil
	}
}
