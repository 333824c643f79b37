// Package amqp provides a client for AMQP 0-9-1 message brokers.
//
// Three handlers are exposed for application use: Consumer to receive
// messages, Publisher to send them, and an optional request/response
// helper (WithRPC) layered on top of either. Both handlers manage their
// own connection and reconnect automatically; Ready/Pause report status
// transitions so callers can throttle their own work accordingly.
//
// Underneath, every handler owns one session, and every session drives
// exactly one channel/Channel: a single-goroutine actor that implements
// the AMQP channel state machine (method classification, FIFO RPC
// correlation, flow control, publisher confirms, and graceful closing)
// independently of any particular wire transport. The session wires that
// actor to a real broker via a rabbitmq/amqp091-go connection, or to an
// in-process channel.Broker for tests, via WithDirectBroker.
package amqp
