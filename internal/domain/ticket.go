package domain

import "time"

type TicketStatus string

const (
	TicketStatusPendingPayment TicketStatus = "PENDING_PAYMENT"
	TicketStatusPaid           TicketStatus = "PAID"
	TicketStatusPaymentFailed  TicketStatus = "PAYMENT_FAILED"
	TicketStatusExpired        TicketStatus = "EXPIRED"
)

// Ticket is a booked offer for one passenger, created before payment.
type Ticket struct {
	ID                int64
	OrderNumber       string
	Passenger         PassengerDetails
	Offer             TicketOffer
	Status            TicketStatus
	PaymentSessionID  string
	PaymentSessionURL string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TicketRequest is the ticket-creation payload: one offer plus its passenger.
type TicketRequest struct {
	Offer     TicketOffer
	Passenger PassengerDetails
}

// TicketCheckout is returned when a ticket and its payment session are
// created in one step.
type TicketCheckout struct {
	TicketID          int64        `json:"ticketId"`
	OrderNumber       string       `json:"orderNumber"`
	PassengerName     string       `json:"passengerName"`
	Email             string       `json:"email,omitempty"`
	Origin            string       `json:"origin"`
	Destination       string       `json:"destination"`
	Airline           string       `json:"airline"`
	Cost              string       `json:"cost"`
	PaymentSessionURL string       `json:"paymentSessionUrl"`
	PaymentSessionID  string       `json:"paymentSessionId"`
	Status            TicketStatus `json:"status"`
}

func (t Ticket) Checkout() TicketCheckout {
	return TicketCheckout{
		TicketID:          t.ID,
		OrderNumber:       t.OrderNumber,
		PassengerName:     t.Passenger.FullName,
		Email:             t.Passenger.Email,
		Origin:            t.Offer.Origin,
		Destination:       t.Offer.Destination,
		Airline:           t.Offer.Airline,
		Cost:              FormatCents(t.Offer.AmountCents()),
		PaymentSessionURL: t.PaymentSessionURL,
		PaymentSessionID:  t.PaymentSessionID,
		Status:            t.Status,
	}
}

// Payable reports whether a payment may still settle this ticket.
func (t Ticket) Payable() bool {
	return t.Status == TicketStatusPendingPayment || t.Status == TicketStatusPaid
}
