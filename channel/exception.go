package channel

// Reply codes for the AMQP 0-9-1 exceptions the channel actor needs to
// reason about (§7 taxonomy item 4 and 6). Values match the protocol's
// constant-body definitions.
const (
	ReplyContentTooLarge   uint16 = 311
	ReplyNoConsumers       uint16 = 313
	ReplyConnectionForced  uint16 = 320
	ReplyInvalidPath       uint16 = 402
	ReplyAccessRefused     uint16 = 403
	ReplyNotFound          uint16 = 404
	ReplyResourceLocked    uint16 = 405
	ReplyPreconditionFailed uint16 = 406
	ReplyFrameError        uint16 = 501
	ReplySyntaxError       uint16 = 502
	ReplyCommandInvalid    uint16 = 503
	ReplyChannelError      uint16 = 504
	ReplyUnexpectedFrame   uint16 = 505
	ReplyResourceError     uint16 = 506
	ReplyNotAllowed        uint16 = 530
	ReplyNotImplemented    uint16 = 540
	ReplyInternalError     uint16 = 541

	// ReplySuccess is the graceful AMQP close-reply code; reasons
	// carrying it normalize to a "normal" shutdown (§4.3, §9).
	ReplySuccess uint16 = 200
)

// exception describes one entry of the AMQP exception table: whether it
// is a "hard" (connection-fatal) or "soft" (channel-fatal) error, its
// wire code and canonical text.
type exception struct {
	Name string
	Code uint16
	Hard bool
}

// exceptionsByCode classifies every exception the channel actor is
// expected to react to. This is a pure lookup table (spec §2 component 2,
// §9 "method universe"); it holds no behavior.
var exceptionsByCode = map[uint16]exception{
	ReplyContentTooLarge:    {"CONTENT-TOO-LARGE", ReplyContentTooLarge, false},
	ReplyNoConsumers:        {"NO-CONSUMERS", ReplyNoConsumers, false},
	ReplyConnectionForced:   {"CONNECTION-FORCED", ReplyConnectionForced, true},
	ReplyInvalidPath:        {"INVALID-PATH", ReplyInvalidPath, true},
	ReplyAccessRefused:      {"ACCESS-REFUSED", ReplyAccessRefused, false},
	ReplyNotFound:           {"NOT-FOUND", ReplyNotFound, false},
	ReplyResourceLocked:     {"RESOURCE-LOCKED", ReplyResourceLocked, false},
	ReplyPreconditionFailed: {"PRECONDITION-FAILED", ReplyPreconditionFailed, false},
	ReplyFrameError:         {"FRAME-ERROR", ReplyFrameError, true},
	ReplySyntaxError:        {"SYNTAX-ERROR", ReplySyntaxError, true},
	ReplyCommandInvalid:     {"COMMAND-INVALID", ReplyCommandInvalid, true},
	ReplyChannelError:       {"CHANNEL-ERROR", ReplyChannelError, true},
	ReplyUnexpectedFrame:    {"UNEXPECTED-FRAME", ReplyUnexpectedFrame, true},
	ReplyResourceError:      {"RESOURCE-ERROR", ReplyResourceError, true},
	ReplyNotAllowed:         {"NOT-ALLOWED", ReplyNotAllowed, true},
	ReplyNotImplemented:     {"NOT-IMPLEMENTED", ReplyNotImplemented, true},
	ReplyInternalError:      {"INTERNAL-ERROR", ReplyInternalError, true},
}

// AMQPError is the structured form of a server-pushed protocol exception
// (§6 Fault events, §7 taxonomy item 4).
type AMQPError struct {
	Name        string
	Code        uint16
	Explanation string
	Method      Method
}

func (e *AMQPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Name + ": " + e.Explanation
}

// classifyException looks up the hard/soft nature of a reply code. A
// code missing from the table is treated as hard: an error the channel
// doesn't recognize is safer to escalate to the connection than to
// silently treat as channel-local.
func classifyException(code uint16) (exception, bool) {
	e, ok := exceptionsByCode[code]
	if !ok {
		return exception{Name: "UNKNOWN", Code: code, Hard: true}, false
	}
	return e, true
}

// isGracefulClose reports whether a reply code is the AMQP close-reply
// "success" code. Used narrowly by the shutdown-reason normalization in
// closing.go: only an actual close-reply reason carrying 200 normalizes
// to "normal" (spec §9 open question — the looser "any 200-shaped tuple"
// behavior from the source is intentionally NOT reproduced).
func isGracefulClose(code uint16) bool {
	return code == ReplySuccess
}
