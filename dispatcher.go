package amqp

import (
	"context"
	"time"
)

// Dispatcher instances simplify sending messages to a broker through an
// underlying publisher instance.
type Dispatcher struct {
	name   string
	safe   bool
	opts   MessageOptions
	done   chan struct{}
	msgCh  chan Message
	errCh  chan error
	parent *Publisher
	ctx    context.Context
}

// Errors returned by publish operations.
func (dp *Dispatcher) Errors() <-chan error {
	return dp.errCh
}

// Publish returns the sink used to submit new messages, published with
// the dispatcher's preconfigured options.
func (dp *Dispatcher) Publish() chan<- Message {
	return dp.msgCh
}

// Done notifies users when the dispatcher instance is closing.
func (dp *Dispatcher) Done() <-chan struct{} {
	return dp.done
}

func (dp *Dispatcher) eventLoop() {
	defer func() {
		dp.parent.log.WithField("id", dp.name).Debug("closing dispatcher")
		close(dp.done)
	}()
	dp.parent.log.WithField("id", dp.name).Debug("starting new dispatcher")
	for {
		select {
		case <-dp.parent.ctx.Done():
			return
		case <-dp.ctx.Done():
			return
		case msg, ok := <-dp.msgCh:
			if !ok {
				return
			}

			var err error
			if dp.safe {
				_, err = dp.parent.Push(msg, dp.opts)
			} else {
				err = dp.parent.UnsafePush(msg, dp.opts)
			}

			if err != nil {
				go func(err error) {
					select {
					case dp.errCh <- err:
					case <-dp.parent.ctx.Done():
					case <-dp.ctx.Done():
					case <-time.After(ackDelay):
					}
				}(err)
			}
		}
	}
}
