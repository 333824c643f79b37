package channel

import (
	"errors"
	"fmt"
	"time"
)

// eventLoop is the channel actor's single goroutine: every field above is
// touched only from here, which is what lets the rest of the package
// stay lock-free (spec §5).
func (c *Channel) eventLoop() {
	defer close(c.done)

	for {
		select {
		case cmd := <-c.calls:
			c.handleCallCmd(cmd)

		case cmd := <-c.closeReqs:
			c.handleCloseCmd(cmd)

		case reply := <-c.nextSeqReqs:
			reply <- c.nextPubSeqno

		case cmd := <-c.registerCmds:
			c.handleRegisterCmd(cmd)

		case cmd := <-c.consumerCalls:
			reply, err := c.consumer.HandleCall(cmd.msg)
			cmd.result <- consumerCallResult{reply: reply, err: err}

		case ev := <-c.serverIn:
			c.handleServerMethod(ev.method, ev.content)

		case ev := <-c.connClosing:
			c.handleConnectionClosing(ev)

		case f := <-c.faults:
			c.handleFault(f)

		case d := <-c.handlerDown:
			c.handleHandlerDown(d)

		case <-c.flushTimerC():
			c.terminate(ErrTimedOutFlushingChannel)
			return

		case <-c.closeOkTimerC():
			c.terminate(ErrTimedOutWaitingCloseOk)
			return
		}

		if c.exited {
			return
		}
	}
}

func (c *Channel) flushTimerC() <-chan time.Time {
	if c.flushTimer == nil {
		return nil
	}
	return c.flushTimer.C
}

func (c *Channel) closeOkTimerC() <-chan time.Time {
	if c.closeOkTimer == nil {
		return nil
	}
	return c.closeOkTimer.C
}

// handleCallCmd runs the admission gate, then enqueues and, if the queue
// was empty, starts driving it (spec §4.1).
func (c *Channel) handleCallCmd(cmd *callCmd) {
	if err := admitOutbound(c.closing, c.flowActive, cmd.method); err != nil {
		if cmd.isCall {
			cmd.result <- rpcResult{err: err}
		} else {
			c.log.WithField("method", fmt.Sprintf("%T", cmd.method)).Warning("dropping cast: " + err.Error())
		}
		return
	}
	c.enqueue(rpcEntry{sink: cmd.result, method: cmd.method, content: cmd.content})
}

func (c *Channel) handleCloseCmd(cmd *closeCmd) {
	m := &ChannelClose{ReplyCode: cmd.code, ReplyText: cmd.text}
	if err := admitOutbound(c.closing, c.flowActive, m); err != nil {
		cmd.result <- rpcResult{err: err}
		return
	}
	c.enqueue(rpcEntry{sink: cmd.result, method: m})
}

func (c *Channel) enqueue(e rpcEntry) {
	wasEmpty := c.rpcQ.empty()
	c.applyOutboundCounters(e.method)
	c.rpcQ.push(e)
	if wasEmpty {
		c.driveRPC()
	}
}

// applyOutboundCounters updates publisher-confirm bookkeeping as soon as
// a method is admitted, not when it is actually written to the wire
// (spec §3 invariant on nextPubSeqno ordering matching admission order).
func (c *Channel) applyOutboundCounters(m Method) {
	switch m.(type) {
	case *ConfirmSelect:
		if c.nextPubSeqno == 0 {
			c.nextPubSeqno = 1
		}
	case *BasicPublish:
		if c.nextPubSeqno > 0 {
			c.nextPubSeqno++
		}
	}
}

// driveRPC sends queued entries to the transport until it either hits a
// synchronous method (and must wait for its reply) or the queue runs
// dry. Asynchronous entries complete immediately with an Ok result.
func (c *Channel) driveRPC() {
	for {
		head, ok := c.rpcQ.peek()
		if !ok {
			c.afterQueueDrained()
			return
		}

		c.preDo(head.method)

		if err := c.transport.Send(head.method, head.content); err != nil {
			c.log.WithField("method", fmt.Sprintf("%T", head.method)).Error("transport send failed: " + err.Error())
			c.postFault(err)
			return
		}

		if classify(head.method).Synchronous {
			// wait for the matching server reply.
			return
		}

		c.rpcQ.pop()
		if head.sink != nil {
			head.sink <- rpcResult{}
		}
	}
}

// preDo runs side effects that must happen exactly once, right before a
// method is written to the wire (spec §4.1).
func (c *Channel) preDo(m Method) {
	switch m.(type) {
	case *ChannelOpen:
		if err := c.transport.Bind(); err != nil {
			c.log.Error("transport bind failed: " + err.Error())
		}
	case *ChannelClose:
		if c.closing == stateOpen {
			c.closing = stateJustChannel
		}
	}
}

// postFault asynchronously turns a synchronous transport failure into
// the same out-of-band fault path a real async transport would use, so
// driveRPC never replies to the waiting sink directly on a send error
// (spec §4.1: "do NOT reply; expect channel_exit").
func (c *Channel) postFault(err error) {
	go func() {
		select {
		case c.faults <- faultEvent{reason: err}:
		case <-c.done:
		}
	}()
}

// afterQueueDrained runs whenever the RPC queue becomes empty: if the
// channel is mid-shutdown waiting for drainage, this is what actually
// fires the exit (spec §4.3).
func (c *Channel) afterQueueDrained() {
	if c.closing == stateConnection {
		c.cancelTimers()
		c.shutdown(c.closeReason)
	}
}

// completeHead matches an inbound server reply to the head of the RPC
// queue, delivers it to the waiting sink (if any), and resumes driving.
func (c *Channel) completeHead(replyMethod Method, content *Content, err error) {
	head, ok := c.rpcQ.peek()
	if !ok {
		c.log.Warning("received a reply with no pending RPC: " + fmt.Sprintf("%T", replyMethod))
		return
	}
	c.rpcQ.pop()
	if head.sink != nil {
		head.sink <- rpcResult{method: replyMethod, content: content, err: err}
	}
	c.driveRPC()
}

// internalCast enqueues a method the channel itself originates (e.g.
// channel.flow_ok) through the same RPC path a Cast would use, never
// out-of-band (spec §9).
func (c *Channel) internalCast(m Method) {
	c.enqueue(rpcEntry{method: m})
}

// handleServerMethod is the inbound half of the actor: classify, guard
// against late frames while closing, then dispatch (spec §4.2).
func (c *Channel) handleServerMethod(m Method, content *Content) {
	info := classify(m)
	if info.ClassID == ClassConnection {
		c.handleServerMisbehavior(m)
		return
	}

	if c.closing == stateJustChannel {
		switch m.(type) {
		case *ChannelClose, *ChannelCloseOk:
			// allowed through: resolving our own outstanding close.
		default:
			c.log.WithField("method", fmt.Sprintf("%T", m)).Debug("dropping inbound method while closing")
			return
		}
	}

	c.dispatchServerMethod(m, content)
}

// dispatchServerMethod implements the inbound-dispatch table (spec §4.2).
func (c *Channel) dispatchServerMethod(m Method, content *Content) {
	switch mm := m.(type) {
	case *ChannelOpenOk:
		c.completeHead(mm, nil, nil)

	case *ChannelClose:
		_ = c.transport.Send(&ChannelCloseOk{}, nil)
		c.terminate(&ServerInitiatedClose{Code: mm.ReplyCode, Text: mm.ReplyText})

	case *ChannelCloseOk:
		c.completeHead(mm, nil, nil)
		c.terminate(nil)

	case *ChannelFlow:
		c.flowActive = mm.Active
		c.deliverFlow(FlowEvent{Active: mm.Active})
		c.internalCast(&ChannelFlowOk{Active: mm.Active})

	case *BasicConsumeOk:
		head, _ := c.rpcQ.peek()
		original, _ := head.method.(*BasicConsume)
		if err := c.consumer.HandleConsumeOk(mm, original); err != nil {
			c.log.Warning("consumer HandleConsumeOk: " + err.Error())
		}
		c.completeHead(mm, nil, nil)

	case *BasicCancelOk:
		head, _ := c.rpcQ.peek()
		original, _ := head.method.(*BasicCancel)
		if err := c.consumer.HandleCancelOk(mm, original); err != nil {
			c.log.Warning("consumer HandleCancelOk: " + err.Error())
		}
		c.completeHead(mm, nil, nil)

	case *BasicCancel:
		if err := c.consumer.HandleCancel(mm); err != nil {
			c.log.Warning("consumer HandleCancel: " + err.Error())
		}

	case *BasicDeliver:
		if err := c.consumer.HandleDeliver(mm, content); err != nil {
			c.log.Warning("consumer HandleDeliver: " + err.Error())
		}

	case *BasicReturn:
		c.deliverReturn(ReturnEvent{Method: mm, Content: content})

	case *BasicAck:
		c.deliverConfirm(ConfirmEvent{Ack: mm})

	case *BasicNack:
		c.deliverConfirm(ConfirmEvent{Nack: mm})

	default:
		c.completeHead(m, content, nil)
	}
}

// handleServerMisbehavior runs when a connection-class method arrives on
// this (non-zero) channel: always a protocol violation (spec §7 item 6).
func (c *Channel) handleServerMisbehavior(m Method) {
	cause := fmt.Errorf("unexpected connection-class method %T on channel %d", m, c.number)
	exc, _ := classifyException(ReplyCommandInvalid)
	if exc.Hard {
		c.terminate(&ServerMisbehaved{Cause: cause})
		return
	}
	go func() {
		_ = c.Close(exc.Code, exc.Name)
	}()
}

// handleFault reacts to an out-of-band failure report (spec §7 items 4-5).
func (c *Channel) handleFault(f faultEvent) {
	var ae *AMQPError
	if errors.As(f.reason, &ae) {
		exc, _ := classifyException(ae.Code)
		if exc.Hard {
			c.terminate(&ConnectionClosingReason{Inner: &ServerInitiatedHardClose{Code: ae.Code, Explanation: ae.Explanation}})
			return
		}
		// soft error: initiate a local close asynchronously, never by
		// re-entering Call from inside the actor goroutine.
		go func() {
			_ = c.Close(ae.Code, ae.Explanation)
		}()
		return
	}
	c.terminate(&InfrastructureDied{Cause: f.reason})
}

// handleConnectionClosing implements the closing state machine's
// transition on a connection_closing signal (spec §4.3).
func (c *Channel) handleConnectionClosing(ev connectionClosingEvent) {
	if c.closing == stateConnection {
		return
	}
	wasOpen := c.closing == stateOpen
	wasJustChannel := c.closing == stateJustChannel
	c.closing = stateConnection
	c.closeReason = ev.reason

	if ev.kind == closeFlush && wasOpen && !c.rpcQ.empty() {
		c.flushTimer = newTimer(TimeoutFlush)
		return
	}
	if ev.kind == closeFlush && wasJustChannel && !c.rpcQ.empty() {
		c.closeOkTimer = newTimer(TimeoutCloseOk)
		return
	}
	c.shutdown(ev.reason)
}

func (c *Channel) cancelTimers() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
	if c.closeOkTimer != nil {
		c.closeOkTimer.Stop()
		c.closeOkTimer = nil
	}
}

// shutdown normalizes reason and terminates the actor.
func (c *Channel) shutdown(reason error) {
	c.terminate(normalizeShutdownReason(reason))
}

// terminate tears the actor down exactly once: notifies the consumer
// strategy, closes the transport, records the exit reason, and marks the
// loop for exit on its next iteration.
func (c *Channel) terminate(reason error) {
	c.exitOnce.Do(func() {
		c.exitMu.Lock()
		c.exitErr = reason
		c.exitMu.Unlock()
		c.consumer.Terminate(reason)
		if err := c.transport.Close(); err != nil {
			c.log.Warning("transport close: " + err.Error())
		}
		c.exited = true
	})
}

func newTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

func (c *Channel) handleRegisterCmd(cmd *registerCmd) {
	switch cmd.kind {
	case handlerReturn:
		c.returnEpoch++
		c.returnHandler = cmd.ret
		c.returnDone = cmd.done
		c.watchHandler(handlerReturn, c.returnEpoch, cmd.done)
	case handlerConfirm:
		c.confirmEpoch++
		c.confirmHandler = cmd.confirm
		c.confirmDone = cmd.done
		c.watchHandler(handlerConfirm, c.confirmEpoch, cmd.done)
	case handlerFlow:
		c.flowEpoch++
		c.flowHandler = cmd.flow
		c.flowDone = cmd.done
		c.watchHandler(handlerFlow, c.flowEpoch, cmd.done)
	}
}

// watchHandler spawns a goroutine that waits for a registered handler's
// liveness channel to close, then reports it to the actor with the
// epoch it was registered under, so a stale watcher from a
// since-replaced registration can never clear the current one (spec §4.4).
func (c *Channel) watchHandler(kind handlerKind, epoch uint64, done <-chan struct{}) {
	if done == nil {
		return
	}
	go func() {
		select {
		case <-done:
			select {
			case c.handlerDown <- handlerDownEvent{kind: kind, epoch: epoch}:
			case <-c.done:
			}
		case <-c.done:
		}
	}()
}

func (c *Channel) handleHandlerDown(d handlerDownEvent) {
	switch d.kind {
	case handlerReturn:
		if d.epoch == c.returnEpoch {
			c.returnHandler = nil
			c.returnDone = nil
			c.log.Warning("return handler sink died; slot cleared")
		}
	case handlerConfirm:
		if d.epoch == c.confirmEpoch {
			c.confirmHandler = nil
			c.confirmDone = nil
			c.log.Warning("confirm handler sink died; slot cleared")
		}
	case handlerFlow:
		if d.epoch == c.flowEpoch {
			c.flowHandler = nil
			c.flowDone = nil
			c.log.Warning("flow handler sink died; slot cleared")
		}
	}
}

func (c *Channel) deliverReturn(ev ReturnEvent) {
	if c.returnHandler == nil {
		c.log.Warning("basic.return with no registered handler")
		return
	}
	h := c.returnHandler
	go func() { h <- ev }()
}

func (c *Channel) deliverConfirm(ev ConfirmEvent) {
	if c.confirmHandler == nil {
		c.log.Warning("confirm event with no registered handler")
		return
	}
	h := c.confirmHandler
	go func() { h <- ev }()
}

func (c *Channel) deliverFlow(ev FlowEvent) {
	if c.flowHandler == nil {
		return
	}
	h := c.flowHandler
	go func() { h <- ev }()
}
