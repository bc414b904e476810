package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Ticket, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Ticket, error)
	AttachSession(ctx context.Context, id int64, sessionID, sessionURL string) error
	UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error)
	ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Ticket, error)
}

const ticketColumns = `id, order_number, passenger_name, date_of_birth, email, phone, passport,
	flight_id, flight_number, airline, cost_cents, currency, origin, destination, departure_time, arrival_time,
	return_departure_time, return_arrival_time, stops, round_trip, baggage, travel_class,
	status, payment_session_id, payment_session_url, created_at, updated_at`

type PGTicketRepository struct {
	db *pgxpool.Pool
}

func NewTicketRepository(db *pgxpool.Pool) TicketRepository {
	return &PGTicketRepository{db: db}
}

func (r *PGTicketRepository) Create(ctx context.Context, t *domain.Ticket) error {
	p, o := t.Passenger, t.Offer
	return r.db.QueryRow(ctx, `INSERT INTO tickets (order_number, passenger_name, date_of_birth, email, phone, passport,
		flight_id, flight_number, airline, cost_cents, currency, origin, destination, departure_time, arrival_time,
		return_departure_time, return_arrival_time, stops, round_trip, baggage, travel_class, status)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id, created_at, updated_at`,
		t.OrderNumber, p.FullName, p.DateOfBirth, p.Email, p.Phone, p.Passport,
		o.FlightID, o.FlightNumber, o.Airline, o.AmountCents(), o.Currency, o.Origin, o.Destination, o.DepartureTime, o.ArrivalTime,
		o.ReturnDepartureTime, o.ReturnArrivalTime, o.Stops, o.RoundTrip, o.Baggage, o.TravelClass, t.Status).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *PGTicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *PGTicketRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Ticket, error) {
	return r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE order_number=$1`, orderNumber)
}

func (r *PGTicketRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Ticket, error) {
	return r.getOne(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE payment_session_id=$1`, sessionID)
}

func (r *PGTicketRepository) AttachSession(ctx context.Context, id int64, sessionID, sessionURL string) error {
	res, err := r.db.Exec(ctx, `UPDATE tickets SET payment_session_id=$1, payment_session_url=$2, updated_at=now() WHERE id=$3`, sessionID, sessionURL, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PGTicketRepository) UpdateStatus(ctx context.Context, id int64, status domain.TicketStatus) (*domain.Ticket, error) {
	return r.getOne(ctx, `UPDATE tickets SET status=$1, updated_at=now() WHERE id=$2 RETURNING `+ticketColumns, status, id)
}

func (r *PGTicketRepository) ExpirePendingBefore(ctx context.Context, deadline time.Time) ([]domain.Ticket, error) {
	rows, err := r.db.Query(ctx, `UPDATE tickets SET status=$1, updated_at=now() WHERE status=$2 AND created_at <= $3 RETURNING `+ticketColumns,
		domain.TicketStatusExpired, domain.TicketStatusPendingPayment, deadline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *t)
	}
	return expired, rows.Err()
}

func (r *PGTicketRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t         domain.Ticket
		flightID  *int64
		costCents int64
		sessionID *string
		url       *string
	)
	p, o := &t.Passenger, &t.Offer
	if err := row.Scan(&t.ID, &t.OrderNumber, &p.FullName, &p.DateOfBirth, &p.Email, &p.Phone, &p.Passport,
		&flightID, &o.FlightNumber, &o.Airline, &costCents, &o.Currency, &o.Origin, &o.Destination, &o.DepartureTime, &o.ArrivalTime,
		&o.ReturnDepartureTime, &o.ReturnArrivalTime, &o.Stops, &o.RoundTrip, &o.Baggage, &o.TravelClass,
		&t.Status, &sessionID, &url, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if flightID != nil {
		o.FlightID = *flightID
	}
	if sessionID != nil {
		t.PaymentSessionID = *sessionID
	}
	if url != nil {
		t.PaymentSessionURL = *url
	}
	o.Price = domain.CentsToAmount(costCents)
	return &t, nil
}

var _ TicketRepository = (*PGTicketRepository)(nil)
