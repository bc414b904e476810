// Package notify routes payment events to push-channel subscribers.
//
// A subscription is keyed by the payer's identity (e-mail) and a
// correlation id, which may be either the order reference or the payment
// session id. An event reaches every subscription whose correlation id
// matches the event's order or session, provided the identities do not
// contradict each other. Events that match nobody are dropped.
package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultBuffer = 16

type Subscription struct {
	ID            string
	Identity      string
	CorrelationID string

	ch chan domain.PaymentEvent
}

// Events is closed when the subscription is removed.
func (s *Subscription) Events() <-chan domain.PaymentEvent {
	return s.ch
}

func (s *Subscription) matches(event domain.PaymentEvent) bool {
	if s.Identity != "" && event.Email != "" && !strings.EqualFold(s.Identity, event.Email) {
		return false
	}
	if s.CorrelationID != "" {
		return s.CorrelationID == event.OrderID || s.CorrelationID == event.SessionID
	}
	return s.Identity != "" && strings.EqualFold(s.Identity, event.Email)
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	log    zerolog.Logger
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		log:    logger.WithComponent("notify"),
	}
}

func (h *Hub) Subscribe(identity, correlationID string) *Subscription {
	sub := &Subscription{
		ID:            uuid.NewString(),
		Identity:      strings.TrimSpace(identity),
		CorrelationID: strings.TrimSpace(correlationID),
		ch:            make(chan domain.PaymentEvent, h.buffer),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	metrics.PushSubscribers.Inc()
	h.log.Debug().Str("subscription", sub.ID).Str("identity", sub.Identity).Str("correlation_id", sub.CorrelationID).Msg("subscribed")
	return sub
}

// Unsubscribe is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	if ok {
		delete(h.subs, sub.ID)
		close(sub.ch)
	}
	h.mu.Unlock()

	if ok {
		metrics.PushSubscribers.Dec()
		h.log.Debug().Str("subscription", sub.ID).Msg("unsubscribed")
	}
}

// Publish delivers event to the matching subscriptions and returns how many
// received it. A subscriber with a full buffer misses the event.
func (h *Hub) Publish(event domain.PaymentEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs {
		if !sub.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			h.log.Warn().Str("subscription", sub.ID).Str("type", string(event.Type)).Msg("subscriber buffer full, event dropped")
		}
	}
	return delivered
}

// PublishPaymentEvent lets the hub act as a payment event sink.
func (h *Hub) PublishPaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	n := h.Publish(event)
	h.log.Debug().Str("type", string(event.Type)).Str("session", event.SessionID).Int("delivered", n).Msg("payment event")
	return nil
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
		metrics.PushSubscribers.Dec()
	}
}
