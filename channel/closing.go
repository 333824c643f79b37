package channel

import (
	"errors"
	"time"
)

// Timeouts bounding how long a channel will wait to finish closing once
// the owning connection starts shutting down (spec §5).
const (
	// TimeoutFlush bounds how long an Open channel with a non-empty
	// rpc_queue is given to drain before the actor gives up and exits
	// with ErrTimedOutFlushingChannel.
	TimeoutFlush = 60 * time.Second

	// TimeoutCloseOk bounds how long a channel that has already sent its
	// own channel.close is given to receive close_ok before the actor
	// gives up and exits with ErrTimedOutWaitingCloseOk.
	TimeoutCloseOk = 3 * time.Second
)

// closeType distinguishes the two ways the owning connection can signal
// it is going away (spec §4.3).
type closeType int

const (
	// closeFlush asks the channel to drain its outstanding RPC before
	// exiting, within TimeoutFlush/TimeoutCloseOk.
	closeFlush closeType = iota
	// closeAbrupt asks the channel to exit immediately.
	closeAbrupt
)

// connectionClosingEvent is what the owning connection posts to a
// channel actor when it starts shutting down.
type connectionClosingEvent struct {
	kind   closeType
	reason error
}

// normalizeShutdownReason implements the shutdown-reason normalization
// from spec §4.3/§9: a close-reply reason carrying AMQP's success code
// (200) normalizes to "normal" (reported as a nil reason), everything
// else is preserved, wrapped so a caller can still unwrap to the
// original cause.
//
// Resolved narrowly per the open question: only an actual AMQPError
// reply with Code 200 normalizes. A reason that merely happens to
// contain the number 200 somewhere else does not.
func normalizeShutdownReason(reason error) error {
	if reason == nil {
		return nil
	}
	var ae *AMQPError
	if errors.As(reason, &ae) && isGracefulClose(ae.Code) {
		return nil
	}
	return &ConnectionClosingReason{Inner: reason}
}
