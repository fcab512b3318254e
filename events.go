package x402

import "time"

// PaymentEventType is the kind of a payment lifecycle event.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent is emitted by the client transport and by the gateway while a
// payment moves through the handshake.
type PaymentEvent struct {
	Type      PaymentEventType
	Timestamp time.Time

	// Method is "HTTP" or "MCP".
	Method string

	// URL is the paid resource.
	URL string

	Amount      string
	Asset       string
	Network     string
	Recipient   string
	Payer       string
	Transaction string

	Error    error
	Duration time.Duration
}

// PaymentCallback receives payment events. It runs synchronously on the
// request path and must return quickly.
type PaymentCallback func(PaymentEvent)
