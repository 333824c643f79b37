package channel

import (
	"errors"
	"fmt"
)

// Sentinel replies visible to applications (spec §6).
var (
	// ErrBlocked is returned by Call when a content-bearing method is
	// submitted while flow_active is false.
	ErrBlocked = errors.New("channel: blocked by flow control")

	// ErrClosing is returned by Call when the channel is no longer Open.
	ErrClosing = errors.New("channel: channel is closing")

	// ErrInvalidMethod wraps application misuse of Call/Cast: channel.open,
	// channel.close, or any connection-class method.
	ErrInvalidMethod = errors.New("channel: invalid method for this operation")

	// ErrChannelClosed is returned when a caller reaches a terminated actor.
	ErrChannelClosed = errors.New("channel: actor has exited")

	// ErrTransportNotBound is returned if Send is attempted before Bind
	// has run (should only happen on a programming error: preDo(open)
	// always binds before the first frame is sent).
	ErrTransportNotBound = errors.New("channel: transport writer not bound yet")

	// ErrTimedOutFlushingChannel is the fatal exit reason when the RPC
	// queue fails to drain within TimeoutFlush after a connection-closing
	// signal arrives while the channel is still Open.
	ErrTimedOutFlushingChannel = errors.New("channel: timed out flushing channel")

	// ErrTimedOutWaitingCloseOk is the fatal exit reason when close_ok
	// fails to arrive within TimeoutCloseOk after a connection-closing
	// signal arrives while the channel has already requested its own close.
	ErrTimedOutWaitingCloseOk = errors.New("channel: timed out waiting for close_ok")
)

// ServerInitiatedClose is the terminal reason when the broker closes the
// channel gracefully or with a protocol-level complaint (§7 item 3).
type ServerInitiatedClose struct {
	Code uint16
	Text string
}

func (e *ServerInitiatedClose) Error() string {
	return fmt.Sprintf("server initiated close (%d): %s", e.Code, e.Text)
}

// ServerInitiatedHardClose is wrapped inside ConnectionClosingReason when a
// server-pushed AMQP exception is classified as hard (§7 item 4).
type ServerInitiatedHardClose struct {
	Code        uint16
	Explanation string
}

func (e *ServerInitiatedHardClose) Error() string {
	return fmt.Sprintf("server initiated hard close (%d): %s", e.Code, e.Explanation)
}

// ConnectionClosingReason propagates a structured close cause up through
// the actor exit so the connection actor / supervisor can observe it
// (§7 propagation policy).
type ConnectionClosingReason struct {
	Inner error
}

func (e *ConnectionClosingReason) Error() string {
	if e.Inner == nil {
		return "connection closing"
	}
	return "connection closing: " + e.Inner.Error()
}

func (e *ConnectionClosingReason) Unwrap() error { return e.Inner }

// InfrastructureDied is the terminal reason for any non-AMQPError
// channel_exit fault (§7 item 5).
type InfrastructureDied struct {
	Cause error
}

func (e *InfrastructureDied) Error() string {
	return "infrastructure died: " + e.Cause.Error()
}

func (e *InfrastructureDied) Unwrap() error { return e.Cause }

// ServerMisbehaved is the terminal reason when the server sends a
// connection-class method on a non-zero channel and the mapped exception
// is hard (§7 item 6).
type ServerMisbehaved struct {
	Cause error
}

func (e *ServerMisbehaved) Error() string {
	return "server misbehaved: " + e.Cause.Error()
}

func (e *ServerMisbehaved) Unwrap() error { return e.Cause }
