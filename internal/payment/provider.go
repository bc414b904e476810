// Package payment is an in-process stand-in for a hosted checkout provider.
// Sessions live in memory; outcomes are announced to the configured sinks.
package payment

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SessionPlaceholder is replaced by the session id in success and cancel URLs.
const SessionPlaceholder = "{CHECKOUT_SESSION_ID}"

type Session struct {
	ID          string
	URL         string
	OrderRef    string
	Email       string
	AmountCents int64
	Currency    string
	Description string
	Status      domain.PaymentStatus
	SuccessURL  string
	CancelURL   string
	CreatedAt   time.Time
	SettledAt   time.Time
}

func (s Session) Public() domain.PaymentSession {
	return domain.PaymentSession{
		ID:          s.ID,
		URL:         s.URL,
		Status:      s.Status,
		Email:       s.Email,
		OrderRef:    s.OrderRef,
		AmountCents: s.AmountCents,
	}
}

// ReturnURL is where the payer lands after the hosted page.
func (s Session) ReturnURL() string {
	target := s.CancelURL
	if s.Status == domain.PaymentStatusPaid {
		target = s.SuccessURL
	}
	return strings.ReplaceAll(target, SessionPlaceholder, s.ID)
}

type CreateParams struct {
	OrderRef    string
	Email       string
	AmountCents int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
}

// EventSink receives payment outcomes.
type EventSink interface {
	PublishPaymentEvent(ctx context.Context, event domain.PaymentEvent) error
}

type Config struct {
	PublicURL         string
	SuccessURL        string
	CancelURL         string
	Currency          string
	SessionsPerSecond float64
	SessionBurst      int
}

type Provider struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg     Config
	limiter *rate.Limiter
	sinks   []EventSink
	now     func() time.Time
	log     zerolog.Logger
}

type Option func(*Provider)

func WithSink(sink EventSink) Option {
	return func(p *Provider) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func NewProvider(cfg Config, opts ...Option) *Provider {
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	limit := rate.Inf
	if cfg.SessionsPerSecond > 0 {
		limit = rate.Limit(cfg.SessionsPerSecond)
	}
	burst := cfg.SessionBurst
	if burst <= 0 {
		burst = 1
	}

	p := &Provider{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
		log:      logger.WithComponent("payment-provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) CreateSession(ctx context.Context, params CreateParams) (*Session, error) {
	if params.AmountCents <= 0 {
		metrics.PaymentSessionsTotal.WithLabelValues("invalid_amount").Inc()
		return nil, domain.ErrInvalidAmount
	}
	if !p.limiter.Allow() {
		metrics.PaymentSessionsTotal.WithLabelValues("unavailable").Inc()
		return nil, domain.ErrProviderUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	currency := strings.ToLower(params.Currency)
	if currency == "" {
		currency = p.cfg.Currency
	}
	successURL := firstNonEmpty(params.SuccessURL, p.cfg.SuccessURL)
	cancelURL := firstNonEmpty(params.CancelURL, p.cfg.CancelURL)

	id := "cs_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s := &Session{
		ID:          id,
		URL:         strings.TrimRight(p.cfg.PublicURL, "/") + "/checkout/" + id,
		OrderRef:    params.OrderRef,
		Email:       params.Email,
		AmountCents: params.AmountCents,
		Currency:    currency,
		Description: params.Description,
		Status:      domain.PaymentStatusUnpaid,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		CreatedAt:   p.now(),
	}

	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()

	metrics.PaymentSessionsTotal.WithLabelValues("created").Inc()
	p.log.Info().Str("session", id).Str("order_ref", s.OrderRef).Int64("amount", s.AmountCents).Msg("checkout session created")
	return s.copy(), nil
}

func (p *Provider) Get(id string) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.sessions[id]
	if !ok {
		return nil, domain.ErrSessionUnknown
	}
	return s.copy(), nil
}

// Verify reports the session's current status. It has no side effects.
func (p *Provider) Verify(ctx context.Context, id string) (domain.PaymentStatus, error) {
	s, err := p.Get(id)
	if err != nil {
		return "", err
	}
	return s.Status, nil
}

// Complete settles an unpaid session. Only the first outcome counts; later
// calls return the settled session with changed=false and emit nothing.
func (p *Provider) Complete(ctx context.Context, id string, paid bool) (*Session, bool, error) {
	status := domain.PaymentStatusFailed
	if paid {
		status = domain.PaymentStatusPaid
	}
	return p.settle(ctx, id, status)
}

// Expire settles every unpaid session older than maxAge as expired.
func (p *Provider) Expire(ctx context.Context, maxAge time.Duration) int {
	deadline := p.now().Add(-maxAge)

	p.mu.RLock()
	var stale []string
	for id, s := range p.sessions {
		if s.Status == domain.PaymentStatusUnpaid && s.CreatedAt.Before(deadline) {
			stale = append(stale, id)
		}
	}
	p.mu.RUnlock()

	expired := 0
	for _, id := range stale {
		if _, changed, err := p.settle(ctx, id, domain.PaymentStatusExpired); err == nil && changed {
			expired++
		}
	}
	return expired
}

func (p *Provider) settle(ctx context.Context, id string, status domain.PaymentStatus) (*Session, bool, error) {
	p.mu.Lock()
	s, ok := p.sessions[id]
	if !ok {
		p.mu.Unlock()
		return nil, false, domain.ErrSessionUnknown
	}
	if s.Status != domain.PaymentStatusUnpaid {
		out := s.copy()
		p.mu.Unlock()
		return out, false, nil
	}
	s.Status = status
	s.SettledAt = p.now()
	out := s.copy()
	p.mu.Unlock()

	p.log.Info().Str("session", id).Str("status", string(status)).Msg("checkout session settled")
	p.emit(ctx, out)
	return out, true, nil
}

func (p *Provider) emit(ctx context.Context, s *Session) {
	event := EventFor(s)
	metrics.PaymentEventsTotal.WithLabelValues(string(event.Type)).Inc()
	for _, sink := range p.sinks {
		if err := sink.PublishPaymentEvent(ctx, event); err != nil {
			p.log.Warn().Err(err).Str("session", s.ID).Msg("payment event sink failed")
		}
	}
}

// EventFor builds the push message announcing s's status.
func EventFor(s *Session) domain.PaymentEvent {
	return domain.PaymentEvent{
		Type:      domain.EventTypeFor(s.Status),
		OrderID:   s.OrderRef,
		SessionID: s.ID,
		Amount:    s.AmountCents,
		Status:    string(s.Status),
		Email:     s.Email,
	}
}

func (s *Session) copy() *Session {
	cp := *s
	return &cp
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
