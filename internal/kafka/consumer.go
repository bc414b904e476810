package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// BookingEventHandler processes one event from the booking topic.
type BookingEventHandler func(context.Context, BookingEvent) error

// BookingEventConsumer reads the booking topic as part of a consumer group.
// An offset is committed only after its event was handled, so a failed
// event is delivered again once the worker restarts.
type BookingEventConsumer struct {
	reader *kafka.Reader
	log    zerolog.Logger
}

func NewBookingEventConsumer(brokers []string, groupID, topic string) *BookingEventConsumer {
	return &BookingEventConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		log: logger.WithComponent("kafka-consumer").With().Str("topic", topic).Logger(),
	}
}

func (c *BookingEventConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Run dispatches events to handle until ctx is done, which is not an
// error. Undecodable messages are logged and committed; a handler error
// stops Run with the offset uncommitted.
func (c *BookingEventConsumer) Run(ctx context.Context, handle BookingEventHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch booking event: %w", err)
		}

		event, err := DecodeBookingEvent(msg)
		if err != nil {
			c.log.Warn().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("skip undecodable booking event")
		} else if err := handle(ctx, event); err != nil {
			return fmt.Errorf("handle %s for %s: %w", event.Type, event.OrderNumber, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func DecodeBookingEvent(msg kafka.Message) (BookingEvent, error) {
	var event BookingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return event, fmt.Errorf("decode booking event at offset %d: %w", msg.Offset, err)
	}
	if event.Type == "" {
		return event, fmt.Errorf("booking event at offset %d has no type", msg.Offset)
	}
	return event, nil
}
