// Package payment adapts the hosted checkout of the payment provider for
// the front end: open a session, send the payer to it, verify the outcome.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Second

// Navigator performs the off-site redirect to a hosted payment page.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

type Adapter struct {
	baseURL string
	http    *http.Client
	nav     Navigator
	log     zerolog.Logger

	mu   sync.Mutex
	urls map[string]string
}

type Option func(*Adapter)

func WithHTTPClient(h *http.Client) Option {
	return func(a *Adapter) { a.http = h }
}

func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.http.Timeout = d
		}
	}
}

func New(baseURL string, nav Navigator, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		nav:     nav,
		log:     logger.WithComponent("payment-adapter"),
		urls:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type createBody struct {
	OrderRef    string `json:"orderId"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
}

// CreateSession opens a hosted checkout session for orderRef.
func (a *Adapter) CreateSession(ctx context.Context, orderRef string, amountCents int64, currency, description string) (*domain.PaymentSession, error) {
	if amountCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var session domain.PaymentSession
	body := createBody{OrderRef: orderRef, AmountCents: amountCents, Currency: currency, Description: description}
	if err := a.do(ctx, "create session", http.MethodPost, "/api/v1/stripe/create-checkout-session", body, &session); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.urls[session.ID] = session.URL
	a.mu.Unlock()
	return &session, nil
}

// Redirect sends the payer to the hosted page of sessionID.
func (a *Adapter) Redirect(ctx context.Context, sessionID string) error {
	if err := a.nav.Navigate(ctx, a.PageURL(sessionID)); err != nil {
		return &domain.ProviderError{Op: "redirect", Err: err}
	}
	return nil
}

// PageURL is the hosted page of sessionID, whether or not this adapter
// created it.
func (a *Adapter) PageURL(sessionID string) string {
	a.mu.Lock()
	u, ok := a.urls[sessionID]
	a.mu.Unlock()
	if ok && u != "" {
		return u
	}
	return a.baseURL + "/checkout/" + url.PathEscape(sessionID)
}

// Remember records the hosted page URL of a session opened elsewhere, for
// example by the booking backend during ticket creation.
func (a *Adapter) Remember(sessionID, pageURL string) {
	if sessionID == "" || pageURL == "" {
		return
	}
	a.mu.Lock()
	a.urls[sessionID] = pageURL
	a.mu.Unlock()
}

// Verify asks the provider for the session's status. It has no side
// effects and may be called any number of times.
func (a *Adapter) Verify(ctx context.Context, sessionID string) (domain.PaymentStatus, error) {
	var event domain.PaymentEvent
	if err := a.do(ctx, "verify", http.MethodGet, "/api/v1/stripe/verify-payment/"+url.PathEscape(sessionID), nil, &event); err != nil {
		return "", err
	}

	switch domain.PaymentStatus(event.Status) {
	case domain.PaymentStatusPaid:
		return domain.PaymentStatusPaid, nil
	case domain.PaymentStatusUnpaid:
		return domain.PaymentStatusUnpaid, nil
	default:
		return domain.PaymentStatusFailed, nil
	}
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *Adapter) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: op, Err: fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.ProviderError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	var payload errorPayload
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &payload) != nil || payload.Message == "" {
		payload.Message = http.StatusText(resp.StatusCode)
	}
	a.log.Debug().Str("op", op).Int("status", resp.StatusCode).Str("code", payload.Error).Msg(payload.Message)

	switch {
	case payload.Error == "invalid_amount":
		return domain.ErrInvalidAmount
	case resp.StatusCode == http.StatusNotFound:
		return &domain.ProviderError{Op: op, Err: fmt.Errorf("%w: %s", domain.ErrSessionUnknown, payload.Message)}
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return &domain.ProviderError{Op: op, Err: fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, payload.Message)}
	}
	return &domain.ProviderError{Op: op, Err: errors.New(payload.Message)}
}
