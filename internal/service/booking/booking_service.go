package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/kafka"
	"github.com/Domenick1991/aimtravel/internal/logger"
	"github.com/Domenick1991/aimtravel/internal/metrics"
	"github.com/Domenick1991/aimtravel/internal/payment"
	"github.com/Domenick1991/aimtravel/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type BookingUseCase interface {
	CreateTicket(ctx context.Context, userEmail string, req domain.TicketRequest) (*domain.Ticket, error)
	CreateTicketWithPayment(ctx context.Context, req domain.TicketRequest) (*domain.TicketCheckout, error)
	StartPayment(ctx context.Context, req PaymentRequest) (*domain.PaymentSession, error)
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderRecord, error)
	GetOrder(ctx context.Context, id int64) (*domain.OrderRecord, error)
	GetOrderBySession(ctx context.Context, sessionID string) (*domain.OrderDetails, error)
	UpdatePaymentStatus(ctx context.Context, sessionID string, status domain.PaymentStatus) (*domain.OrderDetails, error)
	CancelOrder(ctx context.Context, id int64) (*domain.OrderRecord, error)
	ExpireUnpaidTickets(ctx context.Context) ([]domain.Ticket, error)
}

// Locker serializes finalization of one payment session across instances.
type Locker interface {
	AcquireFinalizeLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
	ReleaseFinalizeLock(ctx context.Context, sessionID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Payments is the part of the payment provider the booking flow needs.
type Payments interface {
	CreateSession(ctx context.Context, params payment.CreateParams) (*payment.Session, error)
	Get(id string) (*payment.Session, error)
}

// PaymentRequest asks for a checkout session for an existing ticket.
type PaymentRequest struct {
	OrderRef    string `json:"orderId"`
	Email       string `json:"userEmail"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type BookingService struct {
	tickets  repository.TicketRepository
	orders   repository.OrderRepository
	flights  repository.FlightRepository
	payments Payments
	locker   Locker
	producer Producer

	bookingTopic string
	currency     string
	paymentTTL   time.Duration
	lockTTL      time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

type BookingServiceOption func(*BookingService)

func WithLocker(l Locker) BookingServiceOption {
	return func(s *BookingService) { s.locker = l }
}

func WithProducer(p Producer, bookingTopic string) BookingServiceOption {
	return func(s *BookingService) {
		s.producer = p
		s.bookingTopic = bookingTopic
	}
}

func WithCurrency(currency string) BookingServiceOption {
	return func(s *BookingService) {
		if currency != "" {
			s.currency = strings.ToLower(currency)
		}
	}
}

// WithPaymentTTL sets how long a ticket may wait for payment before it expires.
func WithPaymentTTL(ttl time.Duration) BookingServiceOption {
	return func(s *BookingService) { s.paymentTTL = ttl }
}

func WithLockTTL(ttl time.Duration) BookingServiceOption {
	return func(s *BookingService) { s.lockTTL = ttl }
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) { s.now = now }
}

func NewBookingService(
	tickets repository.TicketRepository,
	orders repository.OrderRepository,
	flights repository.FlightRepository,
	payments Payments,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		tickets:    tickets,
		orders:     orders,
		flights:    flights,
		payments:   payments,
		currency:   domain.DefaultCurrency,
		paymentTTL: 30 * time.Minute,
		lockTTL:    30 * time.Second,
		now:        time.Now,
		log:        logger.WithComponent("booking"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CreateTicket books a seat for the passenger and leaves the ticket
// awaiting payment. userEmail is used when the passenger has none.
func (s *BookingService) CreateTicket(ctx context.Context, userEmail string, req domain.TicketRequest) (*domain.Ticket, error) {
	if err := req.Passenger.Validate(s.now()); err != nil {
		return nil, err
	}
	if err := req.Offer.Validate(); err != nil {
		return nil, err
	}
	if req.Passenger.Email == "" {
		req.Passenger.Email = strings.TrimSpace(userEmail)
	}
	if req.Offer.Currency == "" {
		req.Offer.Currency = s.currency
	}

	if req.Offer.FlightID != 0 {
		if err := s.flights.ReserveSeat(ctx, req.Offer.FlightID); err != nil {
			if errors.Is(err, repository.ErrNoAvailableSeats) {
				return nil, domain.NewValidationError("flightId", "no seats left on this flight")
			}
			return nil, fmt.Errorf("reserve seat: %w", err)
		}
	}

	ticket := &domain.Ticket{
		OrderNumber: NewOrderNumber(),
		Passenger:   req.Passenger,
		Offer:       req.Offer,
		Status:      domain.TicketStatusPendingPayment,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		s.releaseSeat(ctx, ticket)
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	s.log.Info().Int64("ticket_id", ticket.ID).Str("order_number", ticket.OrderNumber).Msg("ticket created")
	s.publish(ctx, kafka.EventTicketCreated, ticket, nil)
	return ticket, nil
}

// CreateTicketWithPayment creates the ticket and its checkout session in one call.
func (s *BookingService) CreateTicketWithPayment(ctx context.Context, req domain.TicketRequest) (*domain.TicketCheckout, error) {
	ticket, err := s.CreateTicket(ctx, "", req)
	if err != nil {
		return nil, err
	}

	session, err := s.payments.CreateSession(ctx, payment.CreateParams{
		OrderRef:    ticket.OrderNumber,
		Email:       ticket.Passenger.Email,
		AmountCents: ticket.Offer.AmountCents(),
		Currency:    ticket.Offer.Currency,
		Description: ticket.Offer.Description(),
	})
	if err != nil {
		return nil, &domain.ProviderError{Op: "create session", Err: err}
	}

	if err := s.tickets.AttachSession(ctx, ticket.ID, session.ID, session.URL); err != nil {
		return nil, fmt.Errorf("attach session: %w", err)
	}
	ticket.PaymentSessionID = session.ID
	ticket.PaymentSessionURL = session.URL

	out := ticket.Checkout()
	return &out, nil
}

// StartPayment opens a checkout session for a ticket identified by its
// order number. The amount defaults to the ticket price.
func (s *BookingService) StartPayment(ctx context.Context, req PaymentRequest) (*domain.PaymentSession, error) {
	var ticket *domain.Ticket
	if req.OrderRef != "" {
		t, err := s.tickets.GetByOrderNumber(ctx, req.OrderRef)
		switch {
		case err == nil:
			if t.Status != domain.TicketStatusPendingPayment {
				return nil, domain.ErrTicketNotPayable
			}
			ticket = t
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	amount := req.AmountCents
	if amount == 0 && ticket != nil {
		amount = ticket.Offer.AmountCents()
	}
	email := req.Email
	if email == "" && ticket != nil {
		email = ticket.Passenger.Email
	}
	description := req.Description
	if description == "" && ticket != nil {
		description = ticket.Offer.Description()
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	session, err := s.payments.CreateSession(ctx, payment.CreateParams{
		OrderRef:    req.OrderRef,
		Email:       email,
		AmountCents: amount,
		Currency:    currency,
		Description: description,
	})
	if err != nil {
		return nil, err
	}

	if ticket != nil {
		if err := s.tickets.AttachSession(ctx, ticket.ID, session.ID, session.URL); err != nil {
			return nil, fmt.Errorf("attach session: %w", err)
		}
	}

	out := session.Public()
	return &out, nil
}

// CreateOrder turns tickets into an order. With a payment session the
// session must be paid; without one every ticket must already be PAID.
func (s *BookingService) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderRecord, error) {
	if strings.TrimSpace(req.UserEmail) == "" {
		return nil, domain.NewValidationError("userEmail", "user email is required")
	}
	if len(req.TicketIDs) == 0 {
		return nil, domain.NewValidationError("flightTicketIds", "at least one ticket is required")
	}

	if req.PaymentSessionID != "" {
		if existing, err := s.orders.GetBySessionID(ctx, req.PaymentSessionID); err == nil {
			return existing, nil
		}
		if err := s.requirePaid(req.PaymentSessionID); err != nil {
			return nil, err
		}
	}

	tickets := make([]domain.Ticket, 0, len(req.TicketIDs))
	for _, id := range req.TicketIDs {
		t, err := s.tickets.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ticket %d: %w", id, err)
		}
		if req.PaymentSessionID == "" && t.Status != domain.TicketStatusPaid {
			return nil, domain.ErrPaymentNotSettled
		}
		if !t.Payable() {
			return nil, domain.ErrTicketNotPayable
		}
		tickets = append(tickets, *t)
	}

	return s.bookOrder(ctx, tickets, req.UserEmail, req.ItineraryNumber, req.PaymentSessionID)
}

func (s *BookingService) GetOrder(ctx context.Context, id int64) (*domain.OrderRecord, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *BookingService) GetOrderBySession(ctx context.Context, sessionID string) (*domain.OrderDetails, error) {
	order, err := s.orders.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, order)
}

// UpdatePaymentStatus settles the ticket behind a payment session. A paid
// session becomes a confirmed order; repeating the call returns that order.
func (s *BookingService) UpdatePaymentStatus(ctx context.Context, sessionID string, status domain.PaymentStatus) (*domain.OrderDetails, error) {
	switch status {
	case domain.PaymentStatusPaid:
		return s.finalize(ctx, sessionID)
	case domain.PaymentStatusFailed, domain.PaymentStatusExpired:
		return s.markFailed(ctx, sessionID)
	default:
		return nil, domain.NewValidationError("status", fmt.Sprintf("unsupported payment status %q", status))
	}
}

func (s *BookingService) CancelOrder(ctx context.Context, id int64) (*domain.OrderRecord, error) {
	current, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.OrderStatusCancelled {
		return current, nil
	}

	updated, err := s.orders.UpdateStatus(ctx, id, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	var first *domain.Ticket
	for _, ticketID := range updated.TicketIDs {
		t, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			s.log.Warn().Err(err).Int64("ticket_id", ticketID).Msg("cancel: ticket lookup failed")
			continue
		}
		s.releaseSeat(ctx, t)
		if first == nil {
			first = t
		}
	}
	if first != nil {
		s.publish(ctx, kafka.EventOrderCancelled, first, updated)
	}
	s.log.Info().Int64("order_id", id).Msg("order cancelled")
	return updated, nil
}

// ExpireUnpaidTickets expires tickets that waited longer than the payment
// window and gives their seats back.
func (s *BookingService) ExpireUnpaidTickets(ctx context.Context) ([]domain.Ticket, error) {
	deadline := s.now().Add(-s.paymentTTL)
	expired, err := s.tickets.ExpirePendingBefore(ctx, deadline)
	if err != nil {
		return nil, err
	}
	for i := range expired {
		t := &expired[i]
		s.releaseSeat(ctx, t)
		s.publish(ctx, kafka.EventTicketExpired, t, nil)
	}
	if len(expired) > 0 {
		s.log.Info().Int("count", len(expired)).Msg("unpaid tickets expired")
	}
	return expired, nil
}

func (s *BookingService) finalize(ctx context.Context, sessionID string) (*domain.OrderDetails, error) {
	if existing, err := s.orders.GetBySessionID(ctx, sessionID); err == nil {
		metrics.OrdersFinalizedTotal.WithLabelValues("duplicate").Inc()
		return s.details(ctx, existing)
	}

	if s.locker != nil {
		ok, err := s.locker.AcquireFinalizeLock(ctx, sessionID, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire finalize lock: %w", err)
		}
		if !ok {
			return nil, domain.ErrFinalizeInProgress
		}
		defer func() {
			if err := s.locker.ReleaseFinalizeLock(ctx, sessionID); err != nil {
				s.log.Warn().Err(err).Str("session", sessionID).Msg("release finalize lock")
			}
		}()

		if existing, err := s.orders.GetBySessionID(ctx, sessionID); err == nil {
			metrics.OrdersFinalizedTotal.WithLabelValues("duplicate").Inc()
			return s.details(ctx, existing)
		}
	}

	if err := s.requirePaid(sessionID); err != nil {
		metrics.OrdersFinalizedTotal.WithLabelValues("unpaid").Inc()
		return nil, err
	}

	ticket, err := s.ticketForSession(ctx, sessionID)
	if err != nil {
		metrics.OrdersFinalizedTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !ticket.Payable() {
		metrics.OrdersFinalizedTotal.WithLabelValues("error").Inc()
		return nil, &domain.FinalizationError{SessionID: sessionID, TicketID: ticket.ID, Err: domain.ErrTicketNotPayable}
	}

	order, err := s.bookOrder(ctx, []domain.Ticket{*ticket}, ticket.Passenger.Email, "", sessionID)
	if err != nil {
		metrics.OrdersFinalizedTotal.WithLabelValues("error").Inc()
		return nil, &domain.FinalizationError{SessionID: sessionID, TicketID: ticket.ID, Err: err}
	}
	metrics.OrdersFinalizedTotal.WithLabelValues("confirmed").Inc()
	return s.details(ctx, order)
}

func (s *BookingService) markFailed(ctx context.Context, sessionID string) (*domain.OrderDetails, error) {
	ticket, err := s.ticketForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusPendingPayment {
		updated, err := s.tickets.UpdateStatus(ctx, ticket.ID, domain.TicketStatusPaymentFailed)
		if err != nil {
			return nil, err
		}
		s.releaseSeat(ctx, updated)
		s.publish(ctx, kafka.EventPaymentFailed, updated, nil)
		ticket = updated
	}

	return &domain.OrderDetails{
		OrderNumber:   ticket.OrderNumber,
		PassengerName: ticket.Passenger.FullName,
		Origin:        ticket.Offer.Origin,
		Destination:   ticket.Offer.Destination,
		Airline:       ticket.Offer.Airline,
		Cost:          domain.FormatCents(ticket.Offer.AmountCents()),
		Success:       false,
		Message:       "Payment was not completed",
	}, nil
}

// bookOrder stores the order and marks its tickets paid. A concurrent
// finalization of the same session yields the order that won.
func (s *BookingService) bookOrder(ctx context.Context, tickets []domain.Ticket, email, itinerary, sessionID string) (*domain.OrderRecord, error) {
	if itinerary == "" {
		itinerary = NewItineraryNumber(s.now())
	}

	order := &domain.OrderRecord{
		OrderNumber:      tickets[0].OrderNumber,
		ItineraryNumber:  itinerary,
		UserEmail:        email,
		PaymentSessionID: sessionID,
		Status:           domain.OrderStatusConfirmed,
	}
	for _, t := range tickets {
		order.TicketIDs = append(order.TicketIDs, t.ID)
		order.TotalCents += t.Offer.AmountCents()
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrder) {
			return s.orders.GetBySessionID(ctx, sessionID)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	for _, t := range tickets {
		if t.Status == domain.TicketStatusPaid {
			continue
		}
		if _, err := s.tickets.UpdateStatus(ctx, t.ID, domain.TicketStatusPaid); err != nil {
			return nil, fmt.Errorf("mark ticket %d paid: %w", t.ID, err)
		}
	}

	s.log.Info().Int64("order_id", order.ID).Str("order_number", order.OrderNumber).Str("session", sessionID).Msg("order confirmed")
	s.publish(ctx, kafka.EventOrderConfirmed, &tickets[0], order)
	return order, nil
}

func (s *BookingService) requirePaid(sessionID string) error {
	session, err := s.payments.Get(sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.PaymentStatusPaid {
		return domain.ErrPaymentNotSettled
	}
	return nil
}

// ticketForSession finds the ticket linked to a session, falling back to
// the session's order reference for sessions opened by the client.
func (s *BookingService) ticketForSession(ctx context.Context, sessionID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetBySessionID(ctx, sessionID)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	session, err := s.payments.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if session.OrderRef == "" {
		return nil, domain.ErrNotFound
	}
	ticket, err = s.tickets.GetByOrderNumber(ctx, session.OrderRef)
	if err != nil {
		return nil, err
	}
	if err := s.tickets.AttachSession(ctx, ticket.ID, session.ID, session.URL); err != nil {
		return nil, err
	}
	ticket.PaymentSessionID = session.ID
	ticket.PaymentSessionURL = session.URL
	return ticket, nil
}

func (s *BookingService) details(ctx context.Context, order *domain.OrderRecord) (*domain.OrderDetails, error) {
	out := &domain.OrderDetails{
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		ItineraryNumber: order.ItineraryNumber,
		Cost:            domain.FormatCents(order.TotalCents),
		Success:         order.Status == domain.OrderStatusConfirmed,
	}
	if order.Status == domain.OrderStatusCancelled {
		out.Message = "Order was cancelled"
	}
	if len(order.TicketIDs) == 0 {
		return out, nil
	}

	ticket, err := s.tickets.GetByID(ctx, order.TicketIDs[0])
	if err != nil {
		return nil, err
	}
	out.PassengerName = ticket.Passenger.FullName
	out.Origin = ticket.Offer.Origin
	out.Destination = ticket.Offer.Destination
	out.Airline = ticket.Offer.Airline
	return out, nil
}

func (s *BookingService) releaseSeat(ctx context.Context, t *domain.Ticket) {
	if t.Offer.FlightID == 0 {
		return
	}
	if err := s.flights.ReleaseSeat(ctx, t.Offer.FlightID); err != nil {
		s.log.Warn().Err(err).Int64("flight_id", t.Offer.FlightID).Msg("release seat")
	}
}

func (s *BookingService) publish(ctx context.Context, eventType string, t *domain.Ticket, order *domain.OrderRecord) {
	if s.producer == nil || s.bookingTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:          eventType,
		OrderNumber:   t.OrderNumber,
		TicketID:      t.ID,
		FlightID:      t.Offer.FlightID,
		SessionID:     t.PaymentSessionID,
		PassengerName: t.Passenger.FullName,
		Email:         t.Passenger.Email,
		Route:         t.Offer.Origin + " → " + t.Offer.Destination,
		AmountCents:   t.Offer.AmountCents(),
		OccurredAt:    s.now(),
	}
	if order != nil {
		event.OrderID = order.ID
		event.ItineraryNumber = order.ItineraryNumber
		event.AmountCents = order.TotalCents
		if order.UserEmail != "" {
			event.Email = order.UserEmail
		}
	}
	if err := s.producer.Publish(ctx, s.bookingTopic, t.OrderNumber, event); err != nil {
		s.log.Warn().Err(err).Str("type", eventType).Str("order_number", t.OrderNumber).Msg("failed to publish booking event")
	}
}

// NewOrderNumber returns "ORD-" followed by eight upper-case hex digits.
func NewOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func NewItineraryNumber(now time.Time) string {
	return fmt.Sprintf("ITN%d", now.UnixMilli())
}

var _ BookingUseCase = (*BookingService)(nil)
