package booking

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/kafka"
	"github.com/Domenick1991/aimtravel/internal/payment"
	"github.com/Domenick1991/aimtravel/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func (m *MockProducer) eventTypes() []string {
	var types []string
	for _, call := range m.Calls {
		if call.Method == "Publish" {
			types = append(types, call.Arguments.Get(3).(kafka.BookingEvent).Type)
		}
	}
	return types
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) AcquireFinalizeLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, sessionID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLocker) ReleaseFinalizeLock(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

type fixture struct {
	service  *BookingService
	tickets  *repository.MemoryTicketRepository
	orders   *repository.MemoryOrderRepository
	flights  *repository.MemoryFlightRepository
	provider *payment.Provider
	producer *MockProducer
}

func newFixture(t *testing.T, opts ...BookingServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		tickets:  repository.NewMemoryTicketRepository(),
		orders:   repository.NewMemoryOrderRepository(),
		flights:  repository.NewMemoryFlightRepository(repository.SeedFlights()),
		provider: payment.NewProvider(payment.Config{PublicURL: "http://localhost:8080"}),
		producer: &MockProducer{},
	}
	f.producer.On("Publish", mock.Anything, "booking-events", mock.Anything, mock.Anything).Return(nil)

	opts = append([]BookingServiceOption{WithProducer(f.producer, "booking-events")}, opts...)
	f.service = NewBookingService(f.tickets, f.orders, f.flights, f.provider, opts...)
	return f
}

func (f *fixture) seats(t *testing.T, flightID int64) int {
	t.Helper()
	flight, err := f.flights.GetByID(context.Background(), flightID)
	require.NoError(t, err)
	return flight.AvailableSeats
}

func ticketRequest() domain.TicketRequest {
	aa123 := repository.SeedFlights()[0]
	return domain.TicketRequest{
		Offer: aa123.Offer(false),
		Passenger: domain.PassengerDetails{
			FullName:    "John Doe",
			DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
			Email:       "john@example.com",
		},
	}
}

func TestBookingService_CreateTicketWithPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^ORD-[0-9A-F]{8}$`), checkout.OrderNumber)
	assert.Equal(t, domain.TicketStatusPendingPayment, checkout.Status)
	assert.Equal(t, "John Doe", checkout.PassengerName)
	assert.Equal(t, "299.99", checkout.Cost)
	assert.NotEmpty(t, checkout.PaymentSessionID)
	assert.Equal(t, "http://localhost:8080/checkout/"+checkout.PaymentSessionID, checkout.PaymentSessionURL)
	assert.Equal(t, 149, f.seats(t, 1))

	session, err := f.provider.Get(checkout.PaymentSessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(29999), session.AmountCents)
	assert.Equal(t, checkout.OrderNumber, session.OrderRef)
	assert.Equal(t, "john@example.com", session.Email)

	stored, err := f.tickets.GetBySessionID(ctx, checkout.PaymentSessionID)
	require.NoError(t, err)
	assert.Equal(t, checkout.TicketID, stored.ID)

	assert.Equal(t, []string{kafka.EventTicketCreated}, f.producer.eventTypes())
}

func TestBookingService_CreateTicketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := ticketRequest()
	req.Passenger.FullName = " "
	_, err := f.service.CreateTicket(ctx, "", req)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, "Passenger name is required", err.(*domain.ValidationError).Message)

	req = ticketRequest()
	req.Passenger.DateOfBirth = time.Time{}
	_, err = f.service.CreateTicket(ctx, "", req)
	assert.True(t, domain.IsValidation(err))

	req = ticketRequest()
	req.Offer.Price = 0
	_, err = f.service.CreateTicket(ctx, "", req)
	assert.True(t, domain.IsValidation(err))

	assert.Equal(t, 150, f.seats(t, 1))
	f.producer.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBookingService_CreateTicketUsesUserEmail(t *testing.T) {
	f := newFixture(t)

	req := ticketRequest()
	req.Passenger.Email = ""
	ticket, err := f.service.CreateTicket(context.Background(), "jane@example.com", req)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", ticket.Passenger.Email)
	assert.Equal(t, "usd", ticket.Offer.Currency)
}

func TestBookingService_CreateTicketNoSeats(t *testing.T) {
	f := newFixture(t)
	f.flights = repository.NewMemoryFlightRepository([]domain.Flight{{ID: 1, TotalSeats: 1, AvailableSeats: 0}})
	f.service = NewBookingService(f.tickets, f.orders, f.flights, f.provider)

	_, err := f.service.CreateTicket(context.Background(), "", ticketRequest())
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestBookingService_FinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)
	_, _, err = f.provider.Complete(ctx, checkout.PaymentSessionID, true)
	require.NoError(t, err)

	first, err := f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusPaid)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, checkout.OrderNumber, first.OrderNumber)
	assert.Equal(t, "John Doe", first.PassengerName)
	assert.Equal(t, "299.99", first.Cost)
	assert.Regexp(t, `^ITN\d+$`, first.ItineraryNumber)

	second, err := f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ticket, err := f.tickets.GetByID(ctx, checkout.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPaid, ticket.Status)

	bySession, err := f.service.GetOrderBySession(ctx, checkout.PaymentSessionID)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, bySession.OrderID)

	assert.Equal(t, []string{kafka.EventTicketCreated, kafka.EventOrderConfirmed}, f.producer.eventTypes())
}

func TestBookingService_FinalizeRequiresSettledPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)

	_, err = f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusPaid)
	assert.ErrorIs(t, err, domain.ErrPaymentNotSettled)

	_, err = f.service.UpdatePaymentStatus(ctx, "cs_test_unknown", domain.PaymentStatusPaid)
	assert.ErrorIs(t, err, domain.ErrSessionUnknown)

	_, err = f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusUnpaid)
	assert.True(t, domain.IsValidation(err))
}

func TestBookingService_FinalizeLockHeldElsewhere(t *testing.T) {
	locker := &MockLocker{}
	f := newFixture(t, WithLocker(locker), WithLockTTL(5*time.Second))
	ctx := context.Background()

	checkout, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)
	_, _, err = f.provider.Complete(ctx, checkout.PaymentSessionID, true)
	require.NoError(t, err)

	locker.On("AcquireFinalizeLock", mock.Anything, checkout.PaymentSessionID, 5*time.Second).Return(false, nil).Once()
	_, err = f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusPaid)
	assert.ErrorIs(t, err, domain.ErrFinalizeInProgress)

	locker.On("AcquireFinalizeLock", mock.Anything, checkout.PaymentSessionID, 5*time.Second).Return(true, nil).Once()
	locker.On("ReleaseFinalizeLock", mock.Anything, checkout.PaymentSessionID).Return(nil).Once()
	details, err := f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusPaid)
	require.NoError(t, err)
	assert.True(t, details.Success)

	locker.AssertExpectations(t)
}

func TestBookingService_FinalizeLockError(t *testing.T) {
	locker := &MockLocker{}
	f := newFixture(t, WithLocker(locker))
	ctx := context.Background()

	locker.On("AcquireFinalizeLock", mock.Anything, "cs_test_1", mock.Anything).Return(false, errors.New("redis down"))
	_, err := f.service.UpdatePaymentStatus(ctx, "cs_test_1", domain.PaymentStatusPaid)
	assert.ErrorContains(t, err, "redis down")
}

func TestBookingService_FinalizeFindsTicketByOrderRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.service.CreateTicket(ctx, "", ticketRequest())
	require.NoError(t, err)

	session, err := f.provider.CreateSession(ctx, payment.CreateParams{OrderRef: ticket.OrderNumber, AmountCents: 29999})
	require.NoError(t, err)
	_, _, err = f.provider.Complete(ctx, session.ID, true)
	require.NoError(t, err)

	details, err := f.service.UpdatePaymentStatus(ctx, session.ID, domain.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, ticket.OrderNumber, details.OrderNumber)

	linked, err := f.tickets.GetBySessionID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, linked.ID)
}

func TestBookingService_FinalizeExpiredTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)
	_, err = f.tickets.UpdateStatus(ctx, checkout.TicketID, domain.TicketStatusExpired)
	require.NoError(t, err)
	_, _, err = f.provider.Complete(ctx, checkout.PaymentSessionID, true)
	require.NoError(t, err)

	_, err = f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusPaid)
	var finErr *domain.FinalizationError
	require.ErrorAs(t, err, &finErr)
	assert.Equal(t, checkout.TicketID, finErr.TicketID)
	assert.ErrorIs(t, err, domain.ErrTicketNotPayable)
	assert.False(t, domain.Retryable(err))
}

func TestBookingService_PaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)
	assert.Equal(t, 149, f.seats(t, 1))

	details, err := f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusFailed)
	require.NoError(t, err)
	assert.False(t, details.Success)
	assert.Equal(t, checkout.OrderNumber, details.OrderNumber)

	ticket, err := f.tickets.GetByID(ctx, checkout.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusPaymentFailed, ticket.Status)
	assert.Equal(t, 150, f.seats(t, 1))

	_, err = f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 150, f.seats(t, 1))
}

func TestBookingService_StartPayment(t *testing.T) {
	f := newFixture(t, WithCurrency("EUR"))
	ctx := context.Background()

	ticket, err := f.service.CreateTicket(ctx, "", ticketRequest())
	require.NoError(t, err)

	session, err := f.service.StartPayment(ctx, PaymentRequest{OrderRef: ticket.OrderNumber})
	require.NoError(t, err)
	assert.Equal(t, int64(29999), session.AmountCents)
	assert.Equal(t, "john@example.com", session.Email)
	assert.Equal(t, domain.PaymentStatusUnpaid, session.Status)

	linked, err := f.tickets.GetBySessionID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, linked.ID)

	_, err = f.service.StartPayment(ctx, PaymentRequest{OrderRef: "ORD-UNKNOWN"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	free, err := f.service.StartPayment(ctx, PaymentRequest{AmountCents: 45000, Email: "a@b.co"})
	require.NoError(t, err)
	assert.Equal(t, int64(45000), free.AmountCents)
}

func TestBookingService_CreateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.service.CreateTicket(ctx, "", ticketRequest())
	require.NoError(t, err)

	_, err = f.service.CreateOrder(ctx, domain.OrderRequest{TicketIDs: []int64{ticket.ID}})
	assert.True(t, domain.IsValidation(err))

	_, err = f.service.CreateOrder(ctx, domain.OrderRequest{UserEmail: "john@example.com", TicketIDs: []int64{ticket.ID}})
	assert.ErrorIs(t, err, domain.ErrPaymentNotSettled)

	session, err := f.service.StartPayment(ctx, PaymentRequest{OrderRef: ticket.OrderNumber})
	require.NoError(t, err)
	_, _, err = f.provider.Complete(ctx, session.ID, true)
	require.NoError(t, err)

	req := domain.OrderRequest{
		UserEmail:        "john@example.com",
		TicketIDs:        []int64{ticket.ID},
		ItineraryNumber:  "ITN1",
		PaymentSessionID: session.ID,
	}
	order, err := f.service.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "ITN1", order.ItineraryNumber)
	assert.Equal(t, int64(29999), order.TotalCents)
	assert.Equal(t, domain.OrderStatusConfirmed, order.Status)

	again, err := f.service.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID)

	got, err := f.service.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{ticket.ID}, got.TicketIDs)
}

func TestBookingService_CancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)
	_, _, err = f.provider.Complete(ctx, checkout.PaymentSessionID, true)
	require.NoError(t, err)
	details, err := f.service.UpdatePaymentStatus(ctx, checkout.PaymentSessionID, domain.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, 149, f.seats(t, 1))

	cancelled, err := f.service.CancelOrder(ctx, details.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 150, f.seats(t, 1))

	again, err := f.service.CancelOrder(ctx, details.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, again.Status)
	assert.Equal(t, 150, f.seats(t, 1))

	_, err = f.service.CancelOrder(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, []string{kafka.EventTicketCreated, kafka.EventOrderConfirmed, kafka.EventOrderCancelled}, f.producer.eventTypes())
}

func TestBookingService_ExpireUnpaidTickets(t *testing.T) {
	now := time.Now()
	f := newFixture(t, WithPaymentTTL(30*time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := f.service.CreateTicketWithPayment(ctx, ticketRequest())
	require.NoError(t, err)

	expired, err := f.service.ExpireUnpaidTickets(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	now = now.Add(time.Hour)
	expired, err = f.service.ExpireUnpaidTickets(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, domain.TicketStatusExpired, expired[0].Status)
	assert.Equal(t, 150, f.seats(t, 1))
	assert.Contains(t, f.producer.eventTypes(), kafka.EventTicketExpired)
}

func TestNewOrderNumber(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := NewOrderNumber()
		assert.Regexp(t, `^ORD-[0-9A-F]{8}$`, n)
		seen[n] = true
	}
	assert.Len(t, seen, 50)
	assert.Equal(t, "ITN1705312800000", NewItineraryNumber(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)))
}
