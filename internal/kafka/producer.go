package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	EventOrderConfirmed = "order_confirmed"
	EventOrderCancelled = "order_cancelled"
	EventTicketCreated  = "ticket_created"
	EventTicketExpired  = "ticket_expired"
	EventPaymentFailed  = "payment_failed"
)

// BookingEvent is published on the booking topic whenever a ticket or
// order changes state.
type BookingEvent struct {
	Type            string    `json:"type"`
	OrderNumber     string    `json:"order_number"`
	OrderID         int64     `json:"order_id,omitempty"`
	TicketID        int64     `json:"ticket_id,omitempty"`
	FlightID        int64     `json:"flight_id,omitempty"`
	ItineraryNumber string    `json:"itinerary_number,omitempty"`
	SessionID       string    `json:"session_id,omitempty"`
	PassengerName   string    `json:"passenger_name,omitempty"`
	Email           string    `json:"email"`
	Route           string    `json:"route,omitempty"`
	AmountCents     int64     `json:"amount_cents,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type Producer struct {
	brokers      []string
	writer       *kafka.Writer
	paymentTopic string
	log          zerolog.Logger
}

func NewProducer(brokers []string, paymentTopic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		brokers:      brokers,
		writer:       writer,
		paymentTopic: paymentTopic,
		log:          logger.WithComponent("kafka-producer"),
	}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.log.Debug().Str("topic", topic).Str("key", key).Msg("published")
	return nil
}

func (p *Producer) PublishWithRetry(ctx context.Context, topic, key string, payload interface{}, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := p.Publish(ctx, topic, key, payload)
		if err == nil {
			return nil
		}

		lastErr = err
		p.log.Warn().Err(err).Int("attempt", i+1).Str("topic", topic).Msg("publish failed")

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// PublishPaymentEvent forwards a provider outcome to the payment topic,
// keyed by session id.
func (p *Producer) PublishPaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	return p.PublishWithRetry(ctx, p.paymentTopic, event.SessionID, event, 3)
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// CheckConnection dials the first broker.
func (p *Producer) CheckConnection(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to read brokers: %w", err)
	}
	return nil
}
