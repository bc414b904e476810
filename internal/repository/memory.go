package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
)

// SeedFlights is the built-in demo dataset.
func SeedFlights() []domain.Flight {
	at := func(s string) time.Time {
		t, _ := time.Parse(time.RFC3339, s)
		return t
	}
	return []domain.Flight{
		{ID: 1, FlightNumber: "AA123", Airline: "American Airlines", FromAirport: "JFK", ToAirport: "LAX",
			DepartureTime: at("2024-01-15T10:00:00Z"), ArrivalTime: at("2024-01-15T13:30:00Z"),
			TotalSeats: 180, AvailableSeats: 150, PriceCents: 29999, Aircraft: "Boeing 737"},
		{ID: 2, FlightNumber: "DL456", Airline: "Delta Airlines", FromAirport: "JFK", ToAirport: "LAX",
			DepartureTime: at("2024-01-15T14:00:00Z"), ArrivalTime: at("2024-01-15T17:30:00Z"),
			TotalSeats: 160, AvailableSeats: 120, PriceCents: 34999, Aircraft: "Airbus A320"},
		{ID: 3, FlightNumber: "UA789", Airline: "United Airlines", FromAirport: "JFK", ToAirport: "LAX",
			DepartureTime: at("2024-01-15T18:00:00Z"), ArrivalTime: at("2024-01-15T21:30:00Z"),
			TotalSeats: 200, AvailableSeats: 180, PriceCents: 27999, Aircraft: "Boeing 737"},
		{ID: 4, FlightNumber: "AA124", Airline: "American Airlines", FromAirport: "LAX", ToAirport: "JFK",
			DepartureTime: at("2024-01-22T09:00:00Z"), ArrivalTime: at("2024-01-22T17:20:00Z"),
			TotalSeats: 180, AvailableSeats: 90, PriceCents: 31999, Aircraft: "Boeing 737"},
	}
}

// MemoryFlightRepository serves flights from an in-memory dataset.
type MemoryFlightRepository struct {
	mu      sync.RWMutex
	flights map[int64]*domain.Flight
}

func NewMemoryFlightRepository(flights []domain.Flight) *MemoryFlightRepository {
	r := &MemoryFlightRepository{flights: make(map[int64]*domain.Flight, len(flights))}
	for i := range flights {
		f := flights[i]
		r.flights[f.ID] = &f
	}
	return r
}

func (r *MemoryFlightRepository) List(ctx context.Context) ([]domain.Flight, error) {
	return r.filter(func(domain.Flight) bool { return true }), nil
}

func (r *MemoryFlightRepository) Search(ctx context.Context, q FlightQuery) ([]domain.Flight, error) {
	return r.filter(q.matches), nil
}

func (r *MemoryFlightRepository) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flights[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *MemoryFlightRepository) ReserveSeat(ctx context.Context, flightID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flights[flightID]
	if !ok {
		return domain.ErrNotFound
	}
	if f.AvailableSeats <= 0 {
		return ErrNoAvailableSeats
	}
	f.AvailableSeats--
	f.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryFlightRepository) ReleaseSeat(ctx context.Context, flightID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.flights[flightID]
	if !ok {
		return domain.ErrNotFound
	}
	if f.AvailableSeats < f.TotalSeats {
		f.AvailableSeats++
	}
	f.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryFlightRepository) filter(keep func(domain.Flight) bool) []domain.Flight {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Flight, 0, len(r.flights))
	for _, f := range r.flights {
		if keep(*f) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime.Before(out[j].DepartureTime) })
	return out
}

// MemoryTicketRepository keeps tickets in memory.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	nextID  int64
	tickets map[int64]*domain.Ticket
	now     func() time.Time
}

func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[int64]*domain.Ticket), now: time.Now}
}

func (r *MemoryTicketRepository) Create(ctx context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	t.ID = r.nextID
	t.CreatedAt = r.now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	r.tickets[t.ID] = &cp
	return nil
}

func (r *MemoryTicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.find(func(t *domain.Ticket) bool { return t.ID == id })
}

func (r *MemoryTicketRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Ticket, error) {
	return r.find(func(t *domain.Ticket) bool { return t.OrderNumber == orderNumber })
}

func (r *MemoryTicketRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Ticket, error) {
	if sessionID == "" {
		return nil, domain.ErrNotFound
	}
	return r.find(func(t *domain.Ticket) bool { return t.PaymentSessionID == sessionID })
}

func (r *MemoryTicketRepository) AttachSession(ctx context.Context, id int64, sessionID, sessionURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.PaymentSessionID = sessionID
	t.PaymentSessionURL = sessionURL
	t.UpdatedAt = r.now()
	return nil
}

func (r *MemoryTicketRepository) UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = r.now()
	cp := *t
	return &cp, nil
}

func (r *MemoryTicketRepository) ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.Ticket
	for _, t := range r.tickets {
		if t.Status == domain.TicketStatusPendingPayment && !t.CreatedAt.After(deadline) {
			t.Status = domain.TicketStatusExpired
			t.UpdatedAt = r.now()
			expired = append(expired, *t)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (r *MemoryTicketRepository) find(match func(*domain.Ticket) bool) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tickets {
		if match(t) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// MemoryOrderRepository keeps orders in memory.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	nextID int64
	orders map[int64]*domain.OrderRecord
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[int64]*domain.OrderRecord)}
}

func (r *MemoryOrderRepository) Create(ctx context.Context, o *domain.OrderRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.PaymentSessionID != "" {
		for _, existing := range r.orders {
			if existing.PaymentSessionID == o.PaymentSessionID {
				return ErrDuplicateOrder
			}
		}
	}
	r.nextID++
	o.ID = r.nextID
	o.CreatedAt = time.Now()
	cp := *o
	cp.TicketIDs = append([]int64(nil), o.TicketIDs...)
	r.orders[o.ID] = &cp
	return nil
}

func (r *MemoryOrderRepository) GetByID(ctx context.Context, id int64) (*domain.OrderRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryOrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.OrderRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sessionID == "" {
		return nil, domain.ErrNotFound
	}
	for _, o := range r.orders {
		if o.PaymentSessionID == sessionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryOrderRepository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.OrderRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o.Status = status
	cp := *o
	return &cp, nil
}

var (
	_ FlightRepository = (*MemoryFlightRepository)(nil)
	_ TicketRepository = (*MemoryTicketRepository)(nil)
	_ OrderRepository  = (*MemoryOrderRepository)(nil)
)
