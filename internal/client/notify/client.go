// Package notify subscribes to the backend's payment push channel over
// Server-Sent Events.
//
// A client holds at most one live subscription. Subscribe tears down the
// previous one, and Unsubscribe is safe to call any number of times.
// Connection problems never fail Subscribe; they are reported through the
// error handler and Subscription.Err so the caller can fall back to
// verifying the payment itself.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/rs/zerolog"
)

const (
	eventConnected = "connected"

	defaultConnectTimeout = 5 * time.Second
)

// ErrNotConnected is reported when the stream did not confirm the
// subscription within the connect timeout.
var ErrNotConnected = errors.New("push channel not connected")

type Client struct {
	baseURL        string
	http           *http.Client
	connectTimeout time.Duration
	onError        func(error)
	log            zerolog.Logger

	mu     sync.Mutex
	active *Subscription
}

type Option func(*Client)

// WithHTTPClient sets the client used for the stream. It must not carry a
// Timeout, which would cut long-lived streams.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithErrorHandler is called for every connection or stream failure.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Client) { c.onError = fn }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/") + "/api/v1/notifications/stream",
		http:           &http.Client{},
		connectTimeout: defaultConnectTimeout,
		log:            logger.WithComponent("notify-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe opens the push channel for (identity, correlationID) and waits
// until the server confirms it, the connect timeout passes or ctx is done.
// The returned handle must be passed to Unsubscribe in every case.
func (c *Client) Subscribe(ctx context.Context, identity, correlationID string) *Subscription {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		Identity:      identity,
		CorrelationID: correlationID,
		client:        c,
		cancel:        cancel,
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}

	c.mu.Lock()
	c.active = sub
	c.mu.Unlock()

	go sub.run(streamCtx)

	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()
	select {
	case <-sub.ready:
	case <-sub.done:
	case <-timer.C:
		sub.fail(ErrNotConnected)
	case <-ctx.Done():
		sub.fail(ctx.Err())
	}
	return sub
}

// OnEvent registers cb for the subscription's events. Events that arrived
// earlier are replayed first; delivery is always in arrival order.
func (c *Client) OnEvent(sub *Subscription, cb func(domain.PaymentEvent)) {
	sub.OnEvent(cb)
}

func (c *Client) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Active returns the live subscription, if any.
func (c *Client) Active() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Client) streamURL(identity, correlationID string) string {
	q := url.Values{}
	if identity != "" {
		q.Set("userEmail", identity)
	}
	if correlationID != "" {
		q.Set("orderId", correlationID)
	}
	return c.baseURL + "?" + q.Encode()
}

type Subscription struct {
	// ID is assigned by the server once connected.
	ID            string
	Identity      string
	CorrelationID string

	client    *Client
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once

	// deliverMu serializes callbacks so events keep arrival order.
	deliverMu sync.Mutex

	mu      sync.Mutex
	handler func(domain.PaymentEvent)
	backlog []domain.PaymentEvent
	err     error
	stopped bool
}

func (s *Subscription) OnEvent(cb func(domain.PaymentEvent)) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.handler = cb
	backlog := s.backlog
	s.backlog = nil
	s.mu.Unlock()

	for _, ev := range backlog {
		if s.Stopped() {
			return
		}
		cb(ev)
	}
}

// Unsubscribe closes the stream. Only the first call has an effect.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.backlog = nil
		s.mu.Unlock()
		s.cancel()

		c := s.client
		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()
	})
}

// Err is the connection or stream failure, if one happened.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Done is closed once the stream goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	c := s.client

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(s.Identity, s.CorrelationID), nil)
	if err != nil {
		s.fail(&domain.NetworkError{Op: "subscribe", Err: err})
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.fail(&domain.NetworkError{Op: "subscribe", Err: err})
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.fail(&domain.NetworkError{Op: "subscribe", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)})
		return
	}

	reader := newEventReader(resp.Body)
	for {
		ev, err := reader.next()
		if err != nil {
			if ctx.Err() == nil && !s.Stopped() {
				s.fail(&domain.NetworkError{Op: "stream", Err: err})
			}
			return
		}

		if ev.name == eventConnected {
			var hello struct {
				SubscriptionID string `json:"subscriptionId"`
			}
			_ = json.Unmarshal([]byte(ev.data), &hello)
			s.mu.Lock()
			s.ID = hello.SubscriptionID
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.ready) })
			continue
		}

		var event domain.PaymentEvent
		if err := json.Unmarshal([]byte(ev.data), &event); err != nil {
			c.log.Warn().Err(err).Str("event", ev.name).Msg("skip undecodable push event")
			continue
		}
		if event.Type == "" {
			event.Type = domain.PaymentEventType(ev.name)
		}
		s.deliver(event)
	}
}

func (s *Subscription) deliver(ev domain.PaymentEvent) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	h := s.handler
	if h == nil {
		s.backlog = append(s.backlog, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	h(ev)
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err != nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()

	c := s.client
	c.log.Warn().Err(err).Str("identity", s.Identity).Str("correlation_id", s.CorrelationID).Msg("push channel unavailable")
	if c.onError != nil {
		c.onError(err)
	}
}
