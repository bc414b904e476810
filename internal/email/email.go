package email

import (
	"context"
	"fmt"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/kafka"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/rs/zerolog"
)

// Message is a rendered notification e-mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender renders booking events into e-mails. Delivery is logged; there is
// no SMTP relay in this deployment.
type Sender struct {
	log  zerolog.Logger
	sent func(Message)
}

type Option func(*Sender)

// WithObserver is called for every message handed to the relay.
func WithObserver(fn func(Message)) Option {
	return func(s *Sender) { s.sent = fn }
}

func NewSender(opts ...Option) *Sender {
	s := &Sender{log: logger.WithComponent("email")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send renders event; events that need no e-mail are skipped.
func (s *Sender) Send(ctx context.Context, event kafka.BookingEvent) error {
	msg, ok := Render(event)
	if !ok {
		return nil
	}
	if msg.To == "" {
		s.log.Warn().Str("type", event.Type).Str("order_number", event.OrderNumber).Msg("no recipient, e-mail skipped")
		return nil
	}

	s.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("send email")
	if s.sent != nil {
		s.sent(msg)
	}
	return nil
}

func Render(event kafka.BookingEvent) (Message, bool) {
	switch event.Type {
	case kafka.EventOrderConfirmed:
		return Message{
			To:      event.Email,
			Subject: fmt.Sprintf("Your booking %s is confirmed", event.OrderNumber),
			Body: fmt.Sprintf("Hello %s,\n\nyour flight %s is booked.\nItinerary: %s\nTotal paid: %s\n",
				event.PassengerName, event.Route, event.ItineraryNumber, domain.FormatCents(event.AmountCents)),
		}, true
	case kafka.EventOrderCancelled:
		return Message{
			To:      event.Email,
			Subject: fmt.Sprintf("Your booking %s was cancelled", event.OrderNumber),
			Body:    fmt.Sprintf("Order %s (itinerary %s) has been cancelled.\n", event.OrderNumber, event.ItineraryNumber),
		}, true
	case kafka.EventTicketExpired:
		return Message{
			To:      event.Email,
			Subject: fmt.Sprintf("Reservation %s expired", event.OrderNumber),
			Body:    fmt.Sprintf("We did not receive payment for %s in time, so the reservation was released.\n", event.Route),
		}, true
	}
	return Message{}, false
}
