package checkout

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBookingClient struct {
	mock.Mock
}

func (m *MockBookingClient) Search(ctx context.Context, criteria domain.SearchCriteria, page, size int) (*domain.SearchResult, error) {
	args := m.Called(ctx, criteria, page, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SearchResult), args.Error(1)
}

func (m *MockBookingClient) CreateTicket(ctx context.Context, offer domain.TicketOffer, passenger domain.PassengerDetails) (*domain.TicketCheckout, error) {
	args := m.Called(ctx, offer, passenger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TicketCheckout), args.Error(1)
}

func (m *MockBookingClient) UpdatePaymentStatus(ctx context.Context, sessionID string, status domain.PaymentStatus) (*domain.OrderDetails, error) {
	args := m.Called(ctx, sessionID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OrderDetails), args.Error(1)
}

func (m *MockBookingClient) OrderBySession(ctx context.Context, sessionID string) (*domain.OrderDetails, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OrderDetails), args.Error(1)
}

type MockPaymentAdapter struct {
	mock.Mock
}

func (m *MockPaymentAdapter) CreateSession(ctx context.Context, orderRef string, amountCents int64, currency, description string) (*domain.PaymentSession, error) {
	args := m.Called(ctx, orderRef, amountCents, currency, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentSession), args.Error(1)
}

func (m *MockPaymentAdapter) Redirect(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockPaymentAdapter) Verify(ctx context.Context, sessionID string) (domain.PaymentStatus, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(domain.PaymentStatus), args.Error(1)
}

// fakeNotifier counts every Subscribe and Unsubscribe call.
type fakeNotifier struct {
	subscribes   atomic.Int32
	unsubscribes atomic.Int32
	err          error
	// replay is delivered as soon as a callback is registered.
	replay []domain.PaymentEvent

	mu   sync.Mutex
	subs []*fakeSub
}

type fakeSub struct {
	n             *fakeNotifier
	identity      string
	correlationID string
	replay        []domain.PaymentEvent

	mu sync.Mutex
	cb func(domain.PaymentEvent)
}

func (n *fakeNotifier) Subscribe(_ context.Context, identity, correlationID string) (Subscription, error) {
	n.subscribes.Add(1)
	sub := &fakeSub{n: n, identity: identity, correlationID: correlationID, replay: n.replay}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	return sub, n.err
}

func (n *fakeNotifier) last() *fakeSub {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subs[len(n.subs)-1]
}

func (s *fakeSub) OnEvent(cb func(domain.PaymentEvent)) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	for _, ev := range s.replay {
		cb(ev)
	}
}

func (s *fakeSub) Unsubscribe() {
	s.n.unsubscribes.Add(1)
}

func (s *fakeSub) emit(ev domain.PaymentEvent) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	cb(ev)
}

type fixture struct {
	booking  *MockBookingClient
	payments *MockPaymentAdapter
	notifier *fakeNotifier
	machine  *Machine

	mu          sync.Mutex
	transitions []State
}

var (
	testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	aa123 = domain.TicketOffer{
		FlightID: 1, FlightNumber: "AA123", Airline: "American Airlines", Price: 299.99,
		Origin: "JFK", Destination: "LAX",
		DepartureTime: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		ArrivalTime:   time.Date(2024, 1, 15, 13, 30, 0, 0, time.UTC),
	}
	scenarioA = domain.SearchCriteria{
		Origin: "JFK", Destination: "LAX", DepartureDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Passengers: 1,
	}
	john = domain.PassengerDetails{
		FullName: "John Doe", DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC), Email: "john@example.com",
	}
	johnsCheckout = &domain.TicketCheckout{
		TicketID: 11, OrderNumber: "ORD-AB12CD34", Cost: "299.99",
		PaymentSessionID: "cs_test_1", PaymentSessionURL: "http://pay.test/checkout/cs_test_1",
		Status: domain.TicketStatusPendingPayment,
	}
	confirmedOrder = &domain.OrderDetails{
		OrderID: 7, OrderNumber: "ORD-AB12CD34", ItineraryNumber: "ITN1704888000000",
		PassengerName: "John Doe", Cost: "299.99", Success: true,
	}
)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		booking:  &MockBookingClient{},
		payments: &MockPaymentAdapter{},
		notifier: &fakeNotifier{},
	}
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithListener(func(_, to State) {
			f.mu.Lock()
			f.transitions = append(f.transitions, to)
			f.mu.Unlock()
		}),
	}, opts...)
	f.machine = NewMachine(f.booking, f.payments, f.notifier, opts...)
	return f
}

func (f *fixture) visited() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.transitions...)
}

// toAwaiting drives the machine from search to AwaitingExternalPayment.
func (f *fixture) toAwaiting(t *testing.T) {
	t.Helper()
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()
	f.booking.On("CreateTicket", mock.Anything, aa123, john).Return(johnsCheckout, nil).Once()
	f.payments.On("Redirect", mock.Anything, "cs_test_1").Return(nil).Once()

	_, err := f.machine.Search(context.Background(), scenarioA)
	require.NoError(t, err)
	_, err = f.machine.SelectOffer(0)
	require.NoError(t, err)
	require.NoError(t, f.machine.SubmitPassenger(context.Background(), john))
	require.Equal(t, StateAwaitingExternalPayment, f.machine.State())
}

func (f *fixture) assertBalancedSubscriptions(t *testing.T) {
	t.Helper()
	assert.Equal(t, f.notifier.subscribes.Load(), f.notifier.unsubscribes.Load(), "unsubscribe calls must match subscribe calls")
}

func TestMachine_SearchShowsResults(t *testing.T) {
	f := newFixture(t)
	f.booking.On("Search", mock.Anything, mock.MatchedBy(func(c domain.SearchCriteria) bool {
		return c.Origin == "JFK" && c.Destination == "LAX"
	}), 1, 0).Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()

	result, err := f.machine.Search(context.Background(), domain.SearchCriteria{
		Origin: "jfk", Destination: "lax", DepartureDate: scenarioA.DepartureDate, Passengers: 1,
	})
	require.NoError(t, err)

	require.Len(t, result.Outbound, 1)
	assert.Equal(t, "American Airlines", result.Outbound[0].Airline)
	assert.Equal(t, 299.99, result.Outbound[0].Price)
	assert.Equal(t, []State{StateSearching, StateResultsShown}, f.visited())
	f.booking.AssertExpectations(t)
}

func TestMachine_InvalidSearchStaysInEntry(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine.Search(context.Background(), domain.SearchCriteria{
		Origin: "JFK", Destination: "JFK", DepartureDate: scenarioA.DepartureDate, Passengers: 1,
	})

	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "destination", v.Field)
	assert.Equal(t, StateSearchEntry, f.machine.State())
	assert.Empty(t, f.visited())
	f.booking.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMachine_SearchFailureShowsEmptyResults(t *testing.T) {
	f := newFixture(t)
	netErr := &domain.NetworkError{Op: "search", Err: errors.New("connection refused")}
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).Return(nil, netErr).Once()

	_, err := f.machine.Search(context.Background(), scenarioA)

	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, StateResultsShown, f.machine.State())
	assert.Empty(t, f.machine.Results().Offers())
	assert.True(t, domain.Retryable(f.machine.Err()))
}

func TestMachine_SelectOfferPrepopulatesPassengerEntry(t *testing.T) {
	f := newFixture(t)
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()
	_, err := f.machine.Search(context.Background(), scenarioA)
	require.NoError(t, err)

	_, err = f.machine.SelectOffer(3)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, StateResultsShown, f.machine.State())

	offer, err := f.machine.SelectOffer(0)
	require.NoError(t, err)
	assert.Equal(t, aa123, offer)
	assert.Equal(t, StatePassengerEntry, f.machine.State())
	assert.Equal(t, aa123, *f.machine.Snapshot().Offer)
}

func TestMachine_EmptyPassengerNameIsRejectedLocally(t *testing.T) {
	f := newFixture(t)
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()
	_, err := f.machine.Search(context.Background(), scenarioA)
	require.NoError(t, err)
	_, err = f.machine.SelectOffer(0)
	require.NoError(t, err)

	err = f.machine.SubmitPassenger(context.Background(), domain.PassengerDetails{DateOfBirth: john.DateOfBirth})

	var v *domain.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "passenger", v.Field)
	assert.Equal(t, StatePassengerEntry, f.machine.State())
	f.booking.AssertNotCalled(t, "CreateTicket", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.notifier.subscribes.Load())
}

func TestMachine_SubscribesBeforeRedirect(t *testing.T) {
	f := newFixture(t)
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()
	f.booking.On("CreateTicket", mock.Anything, aa123, john).Return(johnsCheckout, nil).Once()
	f.payments.On("Redirect", mock.Anything, "cs_test_1").Run(func(mock.Arguments) {
		assert.Equal(t, int32(1), f.notifier.subscribes.Load(), "push channel must be open before leaving the app")
		assert.Equal(t, StateAwaitingExternalPayment, f.machine.State())
	}).Return(nil).Once()

	_, err := f.machine.Search(context.Background(), scenarioA)
	require.NoError(t, err)
	_, err = f.machine.SelectOffer(0)
	require.NoError(t, err)
	require.NoError(t, f.machine.SubmitPassenger(context.Background(), john))

	sub := f.notifier.last()
	assert.Equal(t, "john@example.com", sub.identity)
	assert.Equal(t, "cs_test_1", sub.correlationID)
	f.payments.AssertExpectations(t)
}

func TestMachine_CancelledSubmitDoesNotLeakIntoNextAttempt(t *testing.T) {
	f := newFixture(t)
	jane := domain.PassengerDetails{
		FullName: "Jane Roe", DateOfBirth: time.Date(1985, 2, 3, 0, 0, 0, 0, time.UTC), Email: "jane@example.com",
	}
	janesCheckout := &domain.TicketCheckout{
		TicketID: 12, OrderNumber: "ORD-CD34EF56", Cost: "299.99",
		PaymentSessionID: "cs_test_2", PaymentSessionURL: "http://pay.test/checkout/cs_test_2",
		Status: domain.TicketStatusPendingPayment,
	}
	johnEntered, releaseJohn := make(chan struct{}), make(chan struct{})
	janeEntered, releaseJane := make(chan struct{}), make(chan struct{})

	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Twice()
	f.booking.On("CreateTicket", mock.Anything, aa123, john).Run(func(mock.Arguments) {
		close(johnEntered)
		<-releaseJohn
	}).Return(johnsCheckout, nil).Once()
	f.booking.On("CreateTicket", mock.Anything, aa123, jane).Run(func(mock.Arguments) {
		close(janeEntered)
		<-releaseJane
	}).Return(janesCheckout, nil).Once()
	f.payments.On("Redirect", mock.Anything, "cs_test_2").Return(nil).Once()

	submit := func(p domain.PassengerDetails) <-chan error {
		_, err := f.machine.Search(context.Background(), scenarioA)
		require.NoError(t, err)
		_, err = f.machine.SelectOffer(0)
		require.NoError(t, err)
		done := make(chan error, 1)
		go func() { done <- f.machine.SubmitPassenger(context.Background(), p) }()
		return done
	}

	johnDone := submit(john)
	<-johnEntered
	require.NoError(t, f.machine.Cancel())

	janeDone := submit(jane)
	<-janeEntered
	close(releaseJohn)
	assert.ErrorIs(t, <-johnDone, ErrAbandoned)
	assert.Equal(t, StateCreatingPaymentSession, f.machine.State())

	close(releaseJane)
	require.NoError(t, <-janeDone)

	snap := f.machine.Snapshot()
	assert.Equal(t, StateAwaitingExternalPayment, snap.State)
	require.NotNil(t, snap.Passenger)
	assert.Equal(t, "Jane Roe", snap.Passenger.FullName)
	assert.Equal(t, "cs_test_2", snap.PaymentSessionID)
	assert.Equal(t, int64(12), snap.TicketID)
	assert.Equal(t, "cs_test_2", f.notifier.last().correlationID)
	f.payments.AssertNotCalled(t, "Redirect", mock.Anything, "cs_test_1")

	require.NoError(t, f.machine.Cancel())
	f.assertBalancedSubscriptions(t)
}

func TestMachine_EarlySuccessSkipsRedirect(t *testing.T) {
	f := newFixture(t)
	f.notifier.replay = []domain.PaymentEvent{
		{Type: domain.PaymentEventSuccess, SessionID: "cs_test_1", OrderID: "ORD-AB12CD34", Status: "paid"},
	}
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()
	f.booking.On("CreateTicket", mock.Anything, aa123, john).Return(johnsCheckout, nil).Once()
	f.booking.On("UpdatePaymentStatus", mock.Anything, "cs_test_1", domain.PaymentStatusPaid).Return(confirmedOrder, nil).Once()

	_, err := f.machine.Search(context.Background(), scenarioA)
	require.NoError(t, err)
	_, err = f.machine.SelectOffer(0)
	require.NoError(t, err)
	require.NoError(t, f.machine.SubmitPassenger(context.Background(), john))

	assert.Equal(t, StateConfirmed, f.machine.State())
	f.payments.AssertNotCalled(t, "Redirect", mock.Anything, mock.Anything)
	f.assertBalancedSubscriptions(t)
}

func TestMachine_BackendErrorReturnsToPassengerEntry(t *testing.T) {
	f := newFixture(t)
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()
	netErr := &domain.NetworkError{Op: "create ticket", StatusCode: 500, Err: errors.New("boom")}
	f.booking.On("CreateTicket", mock.Anything, aa123, john).Return(nil, netErr).Once()

	_, _ = f.machine.Search(context.Background(), scenarioA)
	_, _ = f.machine.SelectOffer(0)
	err := f.machine.SubmitPassenger(context.Background(), john)

	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, StatePassengerEntry, f.machine.State())
	snap := f.machine.Snapshot()
	assert.Empty(t, snap.PaymentSessionID)
	assert.Zero(t, snap.TicketID)
	assert.Zero(t, f.notifier.subscribes.Load())
}

func TestMachine_OpensSessionWhenBackendDidNot(t *testing.T) {
	f := newFixture(t)
	f.booking.On("Search", mock.Anything, mock.Anything, 1, 0).
		Return(&domain.SearchResult{Outbound: []domain.TicketOffer{aa123}}, nil).Once()
	f.booking.On("CreateTicket", mock.Anything, aa123, john).
		Return(&domain.TicketCheckout{TicketID: 11, OrderNumber: "ORD-AB12CD34"}, nil).Once()
	f.payments.On("CreateSession", mock.Anything, "ORD-AB12CD34", int64(29999), "", aa123.Description()).
		Return(&domain.PaymentSession{ID: "cs_test_2", URL: "http://pay.test/checkout/cs_test_2"}, nil).Once()
	f.payments.On("Redirect", mock.Anything, "cs_test_2").Return(nil).Once()

	_, _ = f.machine.Search(context.Background(), scenarioA)
	_, _ = f.machine.SelectOffer(0)
	require.NoError(t, f.machine.SubmitPassenger(context.Background(), john))

	assert.Equal(t, "cs_test_2", f.machine.Snapshot().PaymentSessionID)
	f.payments.AssertExpectations(t)
}

func TestMachine_ReturnURLVerifiedPaidConfirms(t *testing.T) {
	f := newFixture(t)
	f.toAwaiting(t)
	f.payments.On("Verify", mock.Anything, "cs_test_1").Return(domain.PaymentStatusPaid, nil).Once()
	f.booking.On("UpdatePaymentStatus", mock.Anything, "cs_test_1", domain.PaymentStatusPaid).Return(confirmedOrder, nil).Once()

	snap, err := f.machine.ResumeFromReturnURL(context.Background(), "http://shop.test/payment-success?session_id=cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, snap.State)
	assert.Equal(t, StatusConfirmed, snap.Status)
	order := f.machine.Order()
	require.NotNil(t, order)
	assert.Equal(t, johnsCheckout.OrderNumber, order.OrderNumber)
	assert.Equal(t, "cs_test_1", order.PaymentSessionID)
	assert.Equal(t, int64(29999), order.TotalCents)
	assert.Equal(t, []int64{11}, order.TicketIDs)
	f.assertBalancedSubscriptions(t)

	require.NoError(t, f.machine.Acknowledge())
	assert.Equal(t, StateSearchEntry, f.machine.State())
	assert.Equal(t, Session{State: StateSearchEntry, Status: StatusCreated, UpdatedAt: testNow}, f.machine.Snapshot())
}

func TestMachine_DuplicateSuccessIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.toAwaiting(t)
	f.booking.On("UpdatePaymentStatus", mock.Anything, "cs_test_1", domain.PaymentStatusPaid).Return(confirmedOrder, nil).Once()

	success := domain.PaymentEvent{Type: domain.PaymentEventSuccess, SessionID: "cs_test_1", OrderID: "ORD-AB12CD34", Status: "paid"}
	f.notifier.last().emit(success)
	require.Equal(t, StateConfirmed, f.machine.State())

	f.machine.HandlePaymentEvent(success)
	f.machine.HandlePaymentEvent(success)

	assert.Equal(t, StateConfirmed, f.machine.State())
	f.booking.AssertNumberOfCalls(t, "UpdatePaymentStatus", 1)
	f.assertBalancedSubscriptions(t)

	snap, err := f.machine.ResumeFromReturnURL(context.Background(), "http://shop.test/payment-success?session_id=cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, snap.State)
	f.payments.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestMachine_PushFailureKeepsOfferForRetry(t *testing.T) {
	f := newFixture(t)
	f.toAwaiting(t)

	f.notifier.last().emit(domain.PaymentEvent{Type: domain.PaymentEventFailed, SessionID: "cs_test_1", Status: "failed"})

	assert.Equal(t, StatePaymentFailed, f.machine.State())
	var declined *domain.PaymentDeclinedError
	assert.ErrorAs(t, f.machine.Err(), &declined)
	f.assertBalancedSubscriptions(t)

	snap := f.machine.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, aa123, *snap.Offer)
	assert.Equal(t, john, *snap.Passenger)

	require.NoError(t, f.machine.Retry())
	assert.Equal(t, StatePassengerEntry, f.machine.State())
	snap = f.machine.Snapshot()
	assert.Equal(t, aa123, *snap.Offer)
	assert.Empty(t, snap.PaymentSessionID)
	assert.Empty(t, snap.Error)
}

func TestMachine_IgnoresForeignAndPendingEvents(t *testing.T) {
	f := newFixture(t)
	f.toAwaiting(t)

	f.machine.HandlePaymentEvent(domain.PaymentEvent{Type: domain.PaymentEventSuccess, SessionID: "cs_test_other"})
	f.machine.HandlePaymentEvent(domain.PaymentEvent{Type: domain.PaymentEventPending, SessionID: "cs_test_1"})

	assert.Equal(t, StateAwaitingExternalPayment, f.machine.State())
	f.booking.AssertNotCalled(t, "UpdatePaymentStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMachine_FinalizationFailureIsDistinct(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, WithStore(store))
	f.toAwaiting(t)
	f.payments.On("Verify", mock.Anything, "cs_test_1").Return(domain.PaymentStatusPaid, nil).Once()
	f.booking.On("UpdatePaymentStatus", mock.Anything, "cs_test_1", domain.PaymentStatusPaid).
		Return(nil, &domain.FinalizationError{Err: domain.ErrTicketNotPayable}).Once()

	snap, err := f.machine.Resume(context.Background(), "cs_test_1")

	var ferr *domain.FinalizationError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "cs_test_1", ferr.SessionID)
	assert.Equal(t, int64(11), ferr.TicketID)
	assert.False(t, domain.Retryable(err))
	assert.Equal(t, StateOrderFinalizationError, snap.State)
	assert.ErrorIs(t, f.machine.Retry(), ErrInvalidTransition)
	f.assertBalancedSubscriptions(t)

	kept, err := store.Load("cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, StateOrderFinalizationError, kept.State)
}

func TestMachine_VerifyUnpaidFailsPayment(t *testing.T) {
	f := newFixture(t)
	f.toAwaiting(t)
	f.payments.On("Verify", mock.Anything, "cs_test_1").Return(domain.PaymentStatusUnpaid, nil).Once()

	snap, err := f.machine.ResumeFromReturnURL(context.Background(), "http://shop.test/payment-cancelled?session_id=cs_test_1")

	var declined *domain.PaymentDeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, StatePaymentFailed, snap.State)
	f.assertBalancedSubscriptions(t)

	// A late success push no longer changes the outcome.
	f.machine.HandlePaymentEvent(domain.PaymentEvent{Type: domain.PaymentEventSuccess, SessionID: "cs_test_1"})
	assert.Equal(t, StatePaymentFailed, f.machine.State())
}

func TestMachine_ReturnURLWithoutSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.ResumeFromReturnURL(context.Background(), "http://shop.test/payment-success")
	assert.True(t, domain.IsValidation(err))
}

func TestMachine_CancelWhileAwaitingReleasesEverything(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, WithStore(store))
	f.toAwaiting(t)
	_, err = store.Load("cs_test_1")
	require.NoError(t, err)

	require.NoError(t, f.machine.Cancel())

	assert.Equal(t, StateSearchEntry, f.machine.State())
	f.assertBalancedSubscriptions(t)
	_, err = store.Load("cs_test_1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestMachine_PushChannelDownStillRedirects(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("dial tcp: connection refused")
	f.toAwaiting(t)

	f.payments.On("Verify", mock.Anything, "cs_test_1").Return(domain.PaymentStatusPaid, nil).Once()
	f.booking.On("UpdatePaymentStatus", mock.Anything, "cs_test_1", domain.PaymentStatusPaid).Return(confirmedOrder, nil).Once()
	_, err := f.machine.Resume(context.Background(), "cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, f.machine.State())
	f.assertBalancedSubscriptions(t)
}

func TestMachine_ResumeFromStoreInFreshMachine(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	defer store.Close()

	first := newFixture(t, WithStore(store))
	first.toAwaiting(t)

	second := newFixture(t, WithStore(store))
	second.payments.On("Verify", mock.Anything, "cs_test_1").Return(domain.PaymentStatusPaid, nil).Once()
	second.booking.On("UpdatePaymentStatus", mock.Anything, "cs_test_1", domain.PaymentStatusPaid).Return(confirmedOrder, nil).Once()

	snap, err := second.machine.ResumeFromReturnURL(context.Background(), "http://shop.test/payment-success?session_id=cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, snap.State)
	assert.Equal(t, aa123, *snap.Offer)
	assert.Equal(t, int64(11), snap.TicketID)
	assert.Equal(t, []State{StateAwaitingExternalPayment, StateFinalizingOrder, StateConfirmed}, second.visited())
	_, err = store.Load("cs_test_1")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestMachine_ResumeWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	f.booking.On("OrderBySession", mock.Anything, "cs_test_done").Return(confirmedOrder, nil).Once()
	f.booking.On("OrderBySession", mock.Anything, "cs_test_unknown").Return(nil, &domain.NetworkError{Op: "order by session", StatusCode: 404, Err: domain.ErrNotFound}).Once()

	_, err := f.machine.Resume(context.Background(), "cs_test_unknown")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, StateSearchEntry, f.machine.State())

	snap, err := f.machine.Resume(context.Background(), "cs_test_done")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, snap.State)
	assert.Equal(t, "ORD-AB12CD34", f.machine.Order().OrderNumber)
	f.payments.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestMachine_PushAndReturnURLRaceFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	f.toAwaiting(t)
	f.payments.On("Verify", mock.Anything, "cs_test_1").Return(domain.PaymentStatusPaid, nil).Maybe()
	f.booking.On("UpdatePaymentStatus", mock.Anything, "cs_test_1", domain.PaymentStatusPaid).Return(confirmedOrder, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.notifier.last().emit(domain.PaymentEvent{Type: domain.PaymentEventSuccess, SessionID: "cs_test_1"})
	}()
	go func() {
		defer wg.Done()
		_, _ = f.machine.Resume(context.Background(), "cs_test_1")
	}()
	wg.Wait()

	assert.Equal(t, StateConfirmed, f.machine.State())
	f.booking.AssertNumberOfCalls(t, "UpdatePaymentStatus", 1)
	f.assertBalancedSubscriptions(t)
}

func TestMachine_RejectsOutOfOrderSteps(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine.SelectOffer(0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, f.machine.SubmitPassenger(context.Background(), john), ErrInvalidTransition)
	assert.ErrorIs(t, f.machine.Acknowledge(), ErrInvalidTransition)
	assert.ErrorIs(t, f.machine.Retry(), ErrInvalidTransition)

	var terr *TransitionError
	require.ErrorAs(t, f.machine.Retry(), &terr)
	assert.Equal(t, StateSearchEntry, terr.From)
}

func TestMachine_RestoreNormalizesInFlightStates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.machine.Restore(Session{State: StateCreatingPaymentSession, Offer: &aa123, Passenger: &john}))
	assert.Equal(t, StatePassengerEntry, f.machine.State())

	g := newFixture(t)
	err := g.machine.Restore(Session{State: StateAwaitingExternalPayment})
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, StateSearchEntry, g.machine.State())
}
