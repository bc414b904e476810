package domain

// PaymentStatus is the provider's view of a checkout session.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusUnpaid  PaymentStatus = "unpaid"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusExpired PaymentStatus = "expired"
)

// PaymentSession is a created provider session and where to send the payer.
type PaymentSession struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Status      PaymentStatus `json:"payment_status"`
	Email       string        `json:"customer_email,omitempty"`
	OrderRef    string        `json:"orderId,omitempty"`
	AmountCents int64         `json:"amount_total,omitempty"`
}

type PaymentEventType string

const (
	PaymentEventSuccess PaymentEventType = "payment_success"
	PaymentEventFailed  PaymentEventType = "payment_failed"
	PaymentEventPending PaymentEventType = "payment_pending"
)

// PaymentEvent is a transient payment outcome pushed to subscribers.
type PaymentEvent struct {
	Type      PaymentEventType `json:"type"`
	OrderID   string           `json:"orderId"`
	SessionID string           `json:"sessionId"`
	Amount    int64            `json:"amount"`
	Status    string           `json:"status"`
	Email     string           `json:"userEmail,omitempty"`
}

// EventTypeFor maps a settled provider status to the event announcing it.
func EventTypeFor(status PaymentStatus) PaymentEventType {
	switch status {
	case PaymentStatusPaid:
		return PaymentEventSuccess
	case PaymentStatusUnpaid:
		return PaymentEventPending
	default:
		return PaymentEventFailed
	}
}
