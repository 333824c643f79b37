package channel

import "time"

// Content is the payload half of a content-bearing method (basic.publish,
// basic.return, basic.deliver, basic.get-ok). Field set mirrors the AMQP
// 0-9-1 basic content header properties.
type Content struct {
	Headers         Table
	ContentType     string
	ContentEncoding string
	DeliveryMode    uint8
	Priority        uint8
	CorrelationId   string
	ReplyTo         string
	Expiration      string
	MessageId       string
	Timestamp       time.Time
	Type            string
	UserId          string
	AppId           string
	Body            []byte
}
