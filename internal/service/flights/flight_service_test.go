package flights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/aimtravel/internal/cache"
	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/Domenick1991/aimtravel/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFlightRepository struct {
	mock.Mock
}

func (m *MockFlightRepository) List(ctx context.Context) ([]domain.Flight, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockFlightRepository) Search(ctx context.Context, q repository.FlightQuery) ([]domain.Flight, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockFlightRepository) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Flight), args.Error(1)
}

func (m *MockFlightRepository) ReserveSeat(ctx context.Context, flightID int64) error {
	args := m.Called(ctx, flightID)
	return args.Error(0)
}

func (m *MockFlightRepository) ReleaseSeat(ctx context.Context, flightID int64) error {
	args := m.Called(ctx, flightID)
	return args.Error(0)
}

type MockSearchCache struct {
	mock.Mock
}

func (m *MockSearchCache) GetSearch(ctx context.Context, key string) (*cache.SearchEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cache.SearchEntry), args.Error(1)
}

func (m *MockSearchCache) SetSearch(ctx context.Context, key string, entry *cache.SearchEntry) error {
	args := m.Called(ctx, key, entry)
	return args.Error(0)
}

func day(s string) time.Time {
	d, _ := domain.ParseDate(s)
	return d
}

func criteria(origin, destination, date string, passengers int) domain.SearchCriteria {
	return domain.SearchCriteria{Origin: origin, Destination: destination, DepartureDate: day(date), Passengers: passengers}
}

func TestFlightService_SearchSingleMatch(t *testing.T) {
	aa123 := repository.SeedFlights()[0]
	repo := repository.NewMemoryFlightRepository([]domain.Flight{aa123})
	service := NewFlightService(repo)

	result, err := service.Search(context.Background(), criteria("JFK", "LAX", "2024-01-15", 1), 1, 10)
	require.NoError(t, err)
	require.Len(t, result.Outbound, 1)

	offer := result.Outbound[0]
	assert.Equal(t, "American Airlines", offer.Airline)
	assert.Equal(t, 299.99, offer.Price)
	assert.Equal(t, "AA123", offer.FlightNumber)
	assert.Equal(t, "3h 30m", offer.Duration)
	assert.Empty(t, result.Return)
	assert.Equal(t, 1, result.Pagination.TotalElements)
}

func TestFlightService_SearchSeededDataset(t *testing.T) {
	service := NewFlightService(repository.NewMemoryFlightRepository(repository.SeedFlights()))
	ctx := context.Background()

	result, err := service.Search(ctx, criteria("jfk ", "lax", "2024-01-15", 1), 1, 2)
	require.NoError(t, err)
	require.Len(t, result.Outbound, 2)
	assert.Equal(t, "AA123", result.Outbound[0].FlightNumber)
	assert.Equal(t, domain.Pagination{Page: 1, Size: 2, TotalElements: 3, TotalPages: 2, HasNext: true}, result.Pagination)

	second, err := service.Search(ctx, criteria("JFK", "LAX", "2024-01-15", 1), 2, 2)
	require.NoError(t, err)
	require.Len(t, second.Outbound, 1)
	assert.Equal(t, "UA789", second.Outbound[0].FlightNumber)
	assert.True(t, second.Pagination.HasPrevious)

	empty, err := service.Search(ctx, criteria("JFK", "LAX", "2024-01-16", 1), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Offers())
}

func TestFlightService_SearchRoundTrip(t *testing.T) {
	service := NewFlightService(repository.NewMemoryFlightRepository(repository.SeedFlights()))

	c := criteria("JFK", "LAX", "2024-01-15", 2)
	c.RoundTrip = true
	ret := day("2024-01-22")
	c.ReturnDate = &ret

	result, err := service.Search(context.Background(), c, 1, 10)
	require.NoError(t, err)
	assert.Len(t, result.Outbound, 3)
	require.Len(t, result.Return, 1)
	assert.Equal(t, "AA124", result.Return[0].FlightNumber)
	assert.True(t, result.Return[0].RoundTrip)
	assert.Equal(t, 4, result.Total())
}

func TestFlightService_SearchValidationSkipsRepository(t *testing.T) {
	repo := &MockFlightRepository{}
	service := NewFlightService(repo)

	_, err := service.Search(context.Background(), criteria("JFK", "JFK", "2024-01-15", 1), 1, 10)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = service.Search(context.Background(), criteria("JFK", "LAX", "2024-01-15", 0), 1, 10)
	assert.True(t, domain.IsValidation(err))

	repo.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestFlightService_SearchCacheHit(t *testing.T) {
	repo := &MockFlightRepository{}
	searchCache := &MockSearchCache{}
	service := NewFlightService(repo, WithCache(searchCache))

	c := criteria("JFK", "LAX", "2024-01-15", 1)
	entry := &cache.SearchEntry{Outbound: []domain.TicketOffer{{Airline: "Cached Air", Price: 10}}}
	searchCache.On("GetSearch", mock.Anything, c.Key()).Return(entry, nil)

	result, err := service.Search(context.Background(), c, 1, 10)
	require.NoError(t, err)
	require.Len(t, result.Outbound, 1)
	assert.Equal(t, "Cached Air", result.Outbound[0].Airline)

	repo.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	searchCache.AssertExpectations(t)
}

func TestFlightService_SearchCacheMissStoresResult(t *testing.T) {
	repo := &MockFlightRepository{}
	searchCache := &MockSearchCache{}
	service := NewFlightService(repo, WithCache(searchCache), WithDefaultPageSize(5))

	c := criteria("JFK", "LAX", "2024-01-15", 1)
	flights := repository.SeedFlights()[:1]
	searchCache.On("GetSearch", mock.Anything, c.Key()).Return(nil, nil)
	repo.On("Search", mock.Anything, repository.FlightQuery{From: "JFK", To: "LAX", Date: day("2024-01-15"), MinSeats: 1}).Return(flights, nil)
	searchCache.On("SetSearch", mock.Anything, c.Key(), mock.AnythingOfType("*cache.SearchEntry")).Return(errors.New("redis down"))

	result, err := service.Search(context.Background(), c, 0, 0)
	require.NoError(t, err)
	assert.Len(t, result.Outbound, 1)
	assert.Equal(t, 5, result.Pagination.Size)

	repo.AssertExpectations(t)
	searchCache.AssertExpectations(t)
}

func TestFlightService_SearchRepositoryError(t *testing.T) {
	repo := &MockFlightRepository{}
	service := NewFlightService(repo)

	repo.On("Search", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, err := service.Search(context.Background(), criteria("JFK", "LAX", "2024-01-15", 1), 1, 10)
	assert.EqualError(t, err, "db down")
}

func TestFlightService_GetByID(t *testing.T) {
	repo := &MockFlightRepository{}
	service := NewFlightService(repo)

	expected := &domain.Flight{ID: 1, FromAirport: "JFK", ToAirport: "LAX"}
	repo.On("GetByID", mock.Anything, int64(1)).Return(expected, nil)
	repo.On("GetByID", mock.Anything, int64(2)).Return(nil, domain.ErrNotFound)

	flight, err := service.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, expected, flight)

	_, err = service.GetByID(context.Background(), 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
