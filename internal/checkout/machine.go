// Package checkout drives one booking attempt from search to a confirmed
// order.
//
// The Machine owns the attempt's state. Every step checks the current
// state under the lock, releases the lock for network calls and re-checks
// before committing, so push events and the return-URL path may race
// freely: whichever terminal outcome is committed first wins and the
// other becomes a no-op.
package checkout

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/metrics"
	"github.com/rs/zerolog"
)

// BookingClient is the booking backend as the checkout sees it.
type BookingClient interface {
	Search(ctx context.Context, criteria domain.SearchCriteria, page, size int) (*domain.SearchResult, error)
	CreateTicket(ctx context.Context, offer domain.TicketOffer, passenger domain.PassengerDetails) (*domain.TicketCheckout, error)
	UpdatePaymentStatus(ctx context.Context, sessionID string, status domain.PaymentStatus) (*domain.OrderDetails, error)
	OrderBySession(ctx context.Context, sessionID string) (*domain.OrderDetails, error)
}

type PaymentAdapter interface {
	CreateSession(ctx context.Context, orderRef string, amountCents int64, currency, description string) (*domain.PaymentSession, error)
	Redirect(ctx context.Context, sessionID string) error
	Verify(ctx context.Context, sessionID string) (domain.PaymentStatus, error)
}

// Subscription is a live push-channel handle.
type Subscription interface {
	OnEvent(cb func(domain.PaymentEvent))
	Unsubscribe()
}

// Notifier opens push-channel subscriptions. A non-nil error means the
// channel is unavailable; the returned handle, if any, must still be
// released.
type Notifier interface {
	Subscribe(ctx context.Context, identity, correlationID string) (Subscription, error)
}

type Machine struct {
	booking  BookingClient
	payments PaymentAdapter
	notifier Notifier
	store    Store
	listener func(from, to State)
	baseCtx  context.Context
	pageSize int
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	state   State
	session Session
	results *domain.SearchResult
	sub     Subscription
	lastErr error
	// attempt is bumped on every reset; calls in flight compare it before
	// committing.
	attempt uint64
}

type Option func(*Machine)

// WithStore persists attempts awaiting payment.
func WithStore(s Store) Option {
	return func(m *Machine) { m.store = s }
}

// WithListener observes transitions. It runs under the machine's lock and
// must not call back into the machine.
func WithListener(fn func(from, to State)) Option {
	return func(m *Machine) { m.listener = fn }
}

// WithContext is the context for work started by push events.
func WithContext(ctx context.Context) Option {
	return func(m *Machine) { m.baseCtx = ctx }
}

func WithPageSize(size int) Option {
	return func(m *Machine) { m.pageSize = size }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func NewMachine(booking BookingClient, payments PaymentAdapter, notifier Notifier, opts ...Option) *Machine {
	m := &Machine{
		booking:  booking,
		payments: payments,
		notifier: notifier,
		baseCtx:  context.Background(),
		now:      time.Now,
		log:      logger.WithComponent("checkout"),
		state:    StateSearchEntry,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err is the error shown with the current state, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Machine) Results() *domain.SearchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results
}

func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Order is the confirmed order, or nil before confirmation.
func (m *Machine) Order() *domain.OrderRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConfirmed || m.session.Order == nil {
		return nil
	}
	return orderRecord(m.session)
}

// Search submits criteria. Invalid criteria are rejected without leaving
// the current state. A failed search still shows (empty) results together
// with the error.
func (m *Machine) Search(ctx context.Context, criteria domain.SearchCriteria) (*domain.SearchResult, error) {
	m.mu.Lock()
	if m.state != StateSearchEntry && m.state != StateResultsShown {
		defer m.mu.Unlock()
		return nil, m.invalid("search")
	}
	if err := criteria.Validate(); err != nil {
		m.lastErr = err
		m.mu.Unlock()
		return nil, err
	}
	criteria = criteria.Normalize()
	m.session.Criteria = &criteria
	m.transition(StateSearching)
	attempt := m.attempt
	m.mu.Unlock()

	result, err := m.booking.Search(ctx, criteria, 1, m.pageSize)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ownsLocked(attempt, StateSearching) {
		return nil, ErrAbandoned
	}
	if err != nil {
		m.results = &domain.SearchResult{}
		m.lastErr = err
		m.transition(StateResultsShown)
		return nil, err
	}
	m.results = result
	m.lastErr = nil
	m.transition(StateResultsShown)
	return result, nil
}

// SelectOffer picks the i-th offer of the shown results, outbound first.
func (m *Machine) SelectOffer(i int) (domain.TicketOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateResultsShown {
		return domain.TicketOffer{}, m.invalid("select offer")
	}
	offers := m.results.Offers()
	if i < 0 || i >= len(offers) {
		return domain.TicketOffer{}, domain.NewValidationError("offer", "no such offer")
	}

	offer := offers[i]
	m.session.Offer = &offer
	m.lastErr = nil
	m.transition(StatePassengerEntry)
	return offer, nil
}

// SubmitPassenger books the selected offer, opens the push channel and
// only then redirects the payer off-site. A redirect failure leaves the
// attempt awaiting payment; the page URL stays in the snapshot.
func (m *Machine) SubmitPassenger(ctx context.Context, passenger domain.PassengerDetails) error {
	m.mu.Lock()
	if m.state != StatePassengerEntry {
		defer m.mu.Unlock()
		return m.invalid("submit passenger")
	}
	if err := passenger.Validate(m.now()); err != nil {
		m.lastErr = err
		m.mu.Unlock()
		return err
	}
	m.session.Passenger = &passenger
	offer := *m.session.Offer
	m.lastErr = nil
	m.transition(StateCreatingPaymentSession)
	attempt := m.attempt
	m.mu.Unlock()

	checkout, err := m.createPayment(ctx, offer, passenger)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.ownsLocked(attempt, StateCreatingPaymentSession) {
			return ErrAbandoned
		}
		m.lastErr = err
		m.transition(StatePassengerEntry)
		return err
	}

	sub, err := m.notifier.Subscribe(ctx, passenger.Email, checkout.PaymentSessionID)
	if err != nil {
		m.log.Warn().Err(err).Str("session", checkout.PaymentSessionID).Msg("push channel unavailable, relying on return URL")
	}

	m.mu.Lock()
	if !m.ownsLocked(attempt, StateCreatingPaymentSession) {
		m.mu.Unlock()
		release(sub)
		return ErrAbandoned
	}
	m.session.TicketID = checkout.TicketID
	m.session.OrderNumber = checkout.OrderNumber
	m.session.PaymentSessionID = checkout.PaymentSessionID
	m.session.PaymentSessionURL = checkout.PaymentSessionURL
	m.sub = sub
	m.transition(StateAwaitingExternalPayment)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.save(snapshot)
	if sub != nil {
		sub.OnEvent(m.HandlePaymentEvent)
	}

	// Events buffered before OnEvent may already have settled the attempt.
	m.mu.Lock()
	pending := m.ownsLocked(attempt, StateAwaitingExternalPayment)
	m.mu.Unlock()
	if !pending {
		return nil
	}

	if err := m.payments.Redirect(ctx, checkout.PaymentSessionID); err != nil {
		m.mu.Lock()
		if m.ownsLocked(attempt, StateAwaitingExternalPayment) {
			m.lastErr = err
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// createPayment creates the ticket and, when the backend did not open one,
// the payment session.
func (m *Machine) createPayment(ctx context.Context, offer domain.TicketOffer, passenger domain.PassengerDetails) (*domain.TicketCheckout, error) {
	checkout, err := m.booking.CreateTicket(ctx, offer, passenger)
	if err != nil {
		return nil, err
	}
	if checkout.PaymentSessionID != "" {
		return checkout, nil
	}

	session, err := m.payments.CreateSession(ctx, checkout.OrderNumber, offer.AmountCents(), offer.Currency, offer.Description())
	if err != nil {
		return nil, err
	}
	checkout.PaymentSessionID = session.ID
	checkout.PaymentSessionURL = session.URL
	return checkout, nil
}

// HandlePaymentEvent applies a pushed payment outcome. Events for other
// sessions, pending events and events arriving outside
// AwaitingExternalPayment are ignored.
func (m *Machine) HandlePaymentEvent(event domain.PaymentEvent) {
	m.mu.Lock()
	if m.state != StateAwaitingExternalPayment || !m.matchesLocked(event) {
		state := m.state
		m.mu.Unlock()
		m.log.Debug().Str("type", string(event.Type)).Str("session", event.SessionID).Str("state", string(state)).Msg("payment event ignored")
		return
	}

	switch event.Type {
	case domain.PaymentEventSuccess:
		sessionID := m.beginFinalizeLocked()
		m.mu.Unlock()
		_ = m.finalize(m.baseCtx, sessionID)
	case domain.PaymentEventFailed:
		m.failPaymentLocked(&domain.PaymentDeclinedError{SessionID: event.SessionID, Status: event.Status})
		m.mu.Unlock()
	default:
		m.mu.Unlock()
	}
}

func (m *Machine) matchesLocked(event domain.PaymentEvent) bool {
	if event.SessionID != "" {
		return event.SessionID == m.session.PaymentSessionID
	}
	return event.OrderID != "" && event.OrderID == m.session.OrderNumber
}

// ResumeFromReturnURL handles the payer coming back from the hosted page.
// The session id in the URL is enough to restore the attempt and verify.
func (m *Machine) ResumeFromReturnURL(ctx context.Context, rawURL string) (Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Session{}, domain.NewValidationError("returnUrl", "return URL is malformed")
	}
	q := u.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		sessionID = q.Get("sessionId")
	}
	if sessionID == "" {
		return Session{}, domain.NewValidationError("session_id", "return URL carries no session id")
	}
	return m.Resume(ctx, sessionID)
}

// Resume verifies the payment of sessionID, restoring the attempt from the
// store when this machine is not already tracking it. Attempts that have
// already resolved are returned unchanged.
func (m *Machine) Resume(ctx context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	tracking := m.session.PaymentSessionID == sessionID && m.state != StateSearchEntry
	if !tracking && m.state != StateSearchEntry {
		defer m.mu.Unlock()
		return m.snapshotLocked(), m.invalid("resume another attempt")
	}
	m.mu.Unlock()

	if !tracking {
		if err := m.restoreFor(ctx, sessionID); err != nil {
			return Session{}, err
		}
	}

	m.mu.Lock()
	if m.state != StateAwaitingExternalPayment {
		defer m.mu.Unlock()
		return m.snapshotLocked(), nil
	}
	m.mu.Unlock()

	status, verr := m.payments.Verify(ctx, sessionID)

	m.mu.Lock()
	if m.state != StateAwaitingExternalPayment || m.session.PaymentSessionID != sessionID {
		defer m.mu.Unlock()
		return m.snapshotLocked(), nil
	}
	switch {
	case verr != nil:
		m.failPaymentLocked(verr)
		defer m.mu.Unlock()
		return m.snapshotLocked(), verr
	case status != domain.PaymentStatusPaid:
		err := &domain.PaymentDeclinedError{SessionID: sessionID, Status: string(status)}
		m.failPaymentLocked(err)
		defer m.mu.Unlock()
		return m.snapshotLocked(), err
	}
	m.beginFinalizeLocked()
	m.mu.Unlock()

	err := m.finalize(ctx, sessionID)
	return m.Snapshot(), err
}

// restoreFor loads the stored attempt for sessionID into an idle machine.
// Without a snapshot, an order already booked for the session is shown as
// confirmed.
func (m *Machine) restoreFor(ctx context.Context, sessionID string) error {
	var snapshot *Session
	if m.store != nil {
		s, err := m.store.Load(sessionID)
		switch {
		case err == nil:
			snapshot = s
		case !errors.Is(err, ErrSnapshotNotFound):
			return err
		}
	}

	if snapshot == nil {
		details, err := m.booking.OrderBySession(ctx, sessionID)
		if err != nil || !details.Success {
			return ErrUnknownSession
		}
		snapshot = &Session{
			State:            StateConfirmed,
			OrderNumber:      details.OrderNumber,
			PaymentSessionID: sessionID,
			Order:            details,
		}
	}
	return m.Restore(*snapshot)
}

// Restore loads a snapshot into an idle machine. No subscription is
// reopened; a restored attempt is resolved by verification.
func (m *Machine) Restore(s Session) error {
	if !s.State.Valid() {
		return domain.NewValidationError("state", "unknown checkout state "+string(s.State))
	}
	if s.State == StateAwaitingExternalPayment && s.PaymentSessionID == "" {
		return domain.NewValidationError("paymentSessionId", "awaiting payment without a session")
	}
	// In-flight steps cannot be resumed; they restart from their last
	// stable state. Search results are not kept.
	switch s.State {
	case StateSearching, StateResultsShown:
		s.State = StateSearchEntry
	case StateCreatingPaymentSession:
		s.State = StatePassengerEntry
	case StateFinalizingOrder:
		s.State = StateAwaitingExternalPayment
	}
	if s.State == StatePassengerEntry && s.Offer == nil {
		s.State = StateSearchEntry
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateSearchEntry {
		return m.invalid("restore")
	}
	target := s.State
	m.session = s
	m.session.State, m.session.Status, m.session.Error = "", "", ""
	m.results = nil
	m.lastErr = nil
	if s.Error != "" {
		m.lastErr = errors.New(s.Error)
	}
	m.transition(target)
	return nil
}

// Retry returns a failed payment to passenger entry with the same offer
// and passenger.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaymentFailed {
		return m.invalid("retry payment")
	}
	m.session.TicketID = 0
	m.session.OrderNumber = ""
	m.session.PaymentSessionID = ""
	m.session.PaymentSessionURL = ""
	m.lastErr = nil
	m.transition(StatePassengerEntry)
	return nil
}

// Acknowledge closes a confirmed attempt and returns to search.
func (m *Machine) Acknowledge() error {
	m.mu.Lock()
	if m.state != StateConfirmed {
		defer m.mu.Unlock()
		return m.invalid("acknowledge")
	}
	m.resetLocked()
	m.mu.Unlock()
	return nil
}

// Cancel abandons the attempt and returns to search. An attempt whose
// order is being finalized cannot be abandoned: payment has been taken.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	if m.state == StateFinalizingOrder {
		defer m.mu.Unlock()
		return m.invalid("cancel")
	}
	sub := m.detachSubLocked()
	sessionID := m.session.PaymentSessionID
	awaiting := m.state == StateAwaitingExternalPayment
	m.resetLocked()
	m.mu.Unlock()

	release(sub)
	if awaiting {
		m.discard(sessionID)
	}
	return nil
}

// beginFinalizeLocked leaves AwaitingExternalPayment for FinalizingOrder.
// The caller must finalize once the lock is released.
func (m *Machine) beginFinalizeLocked() string {
	sub := m.detachSubLocked()
	m.lastErr = nil
	m.transition(StateFinalizingOrder)
	release(sub)
	return m.session.PaymentSessionID
}

func (m *Machine) failPaymentLocked(err error) {
	sub := m.detachSubLocked()
	m.lastErr = err
	m.transition(StatePaymentFailed)
	release(sub)
	m.discardLocked()
}

// finalize books the order for a verified payment. It runs without the lock.
func (m *Machine) finalize(ctx context.Context, sessionID string) error {
	details, err := m.booking.UpdatePaymentStatus(ctx, sessionID, domain.PaymentStatusPaid)
	if err == nil && !details.Success {
		err = errors.New(details.Message)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFinalizingOrder || m.session.PaymentSessionID != sessionID {
		return ErrAbandoned
	}

	if err != nil {
		ferr := finalizationError(err, sessionID, m.session.TicketID)
		m.lastErr = ferr
		m.transition(StateOrderFinalizationError)
		m.log.Error().Err(err).Str("session", sessionID).Int64("ticket_id", m.session.TicketID).Msg("payment captured but order not booked")
		// Kept for reconciliation.
		m.saveLocked()
		return ferr
	}

	m.session.Order = details
	if details.OrderNumber != "" {
		m.session.OrderNumber = details.OrderNumber
	}
	m.transition(StateConfirmed)
	m.discardLocked()
	return nil
}

func finalizationError(err error, sessionID string, ticketID int64) *domain.FinalizationError {
	var ferr *domain.FinalizationError
	if errors.As(err, &ferr) {
		if ferr.SessionID == "" {
			ferr.SessionID = sessionID
		}
		if ferr.TicketID == 0 {
			ferr.TicketID = ticketID
		}
		return ferr
	}
	return &domain.FinalizationError{SessionID: sessionID, TicketID: ticketID, Err: err}
}

func (m *Machine) transition(to State) {
	from := m.state
	m.state = to
	m.session.UpdatedAt = m.now()
	metrics.CheckoutTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("transition")
	if m.listener != nil {
		m.listener(from, to)
	}
}

func (m *Machine) invalid(action string) error {
	return &TransitionError{From: m.state, Action: action}
}

func (m *Machine) resetLocked() {
	m.attempt++
	m.session = Session{}
	m.results = nil
	m.lastErr = nil
	m.transition(StateSearchEntry)
}

func (m *Machine) ownsLocked(attempt uint64, state State) bool {
	return m.attempt == attempt && m.state == state
}

func (m *Machine) detachSubLocked() Subscription {
	sub := m.sub
	m.sub = nil
	return sub
}

func (m *Machine) snapshotLocked() Session {
	s := m.session
	s.State = m.state
	s.Status = statusOf(m.state)
	s.Error = ""
	if m.lastErr != nil {
		s.Error = m.lastErr.Error()
	}
	return s
}

func (m *Machine) save(s Session) {
	if m.store == nil || s.PaymentSessionID == "" {
		return
	}
	if err := m.store.Save(s); err != nil {
		m.log.Warn().Err(err).Str("session", s.PaymentSessionID).Msg("save checkout snapshot")
	}
}

func (m *Machine) saveLocked() {
	m.save(m.snapshotLocked())
}

func (m *Machine) discard(sessionID string) {
	if m.store == nil || sessionID == "" {
		return
	}
	if err := m.store.Delete(sessionID); err != nil {
		m.log.Warn().Err(err).Str("session", sessionID).Msg("delete checkout snapshot")
	}
}

func (m *Machine) discardLocked() {
	m.discard(m.session.PaymentSessionID)
}

func release(sub Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

func orderRecord(s Session) *domain.OrderRecord {
	d := s.Order
	o := &domain.OrderRecord{
		ID:               d.OrderID,
		OrderNumber:      d.OrderNumber,
		ItineraryNumber:  d.ItineraryNumber,
		PaymentSessionID: s.PaymentSessionID,
		Status:           domain.OrderStatusConfirmed,
		CreatedAt:        s.UpdatedAt,
	}
	if s.TicketID != 0 {
		o.TicketIDs = []int64{s.TicketID}
	}
	if s.Passenger != nil {
		o.UserEmail = s.Passenger.Email
	}
	if cost, err := strconv.ParseFloat(d.Cost, 64); err == nil {
		o.TotalCents = domain.AmountToCents(cost)
	}
	return o
}
