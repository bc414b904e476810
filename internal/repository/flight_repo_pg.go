package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FlightQuery selects flights on a route departing on one UTC calendar day
// with at least MinSeats seats left.
type FlightQuery struct {
	From     string
	To       string
	Date     time.Time
	MinSeats int
}

func (q FlightQuery) matches(f domain.Flight) bool {
	return f.FromAirport == q.From &&
		f.ToAirport == q.To &&
		domain.SameDay(f.DepartureTime, q.Date) &&
		f.AvailableSeats >= q.MinSeats
}

type FlightRepository interface {
	List(ctx context.Context) ([]domain.Flight, error)
	Search(ctx context.Context, q FlightQuery) ([]domain.Flight, error)
	GetByID(ctx context.Context, id int64) (*domain.Flight, error)
	ReserveSeat(ctx context.Context, flightID int64) error
	ReleaseSeat(ctx context.Context, flightID int64) error
}

var ErrNoAvailableSeats = errors.New("no available seats")

const flightColumns = `id, flight_number, airline, from_airport, to_airport, departure_time, arrival_time, total_seats, available_seats, price_cents, aircraft, stops, created_at, updated_at`

type PGFlightRepository struct {
	db *pgxpool.Pool
}

func NewFlightRepository(db *pgxpool.Pool) FlightRepository {
	return &PGFlightRepository{db: db}
}

func (r *PGFlightRepository) List(ctx context.Context) ([]domain.Flight, error) {
	rows, err := r.db.Query(ctx, `SELECT `+flightColumns+` FROM flights ORDER BY departure_time`)
	if err != nil {
		return nil, err
	}
	return collectFlights(rows)
}

func (r *PGFlightRepository) Search(ctx context.Context, q FlightQuery) ([]domain.Flight, error) {
	day := q.Date.UTC().Truncate(24 * time.Hour)
	rows, err := r.db.Query(ctx, `SELECT `+flightColumns+` FROM flights
		WHERE from_airport=$1 AND to_airport=$2
		AND departure_time >= $3 AND departure_time < $4
		AND available_seats >= $5
		ORDER BY departure_time`, q.From, q.To, day, day.Add(24*time.Hour), q.MinSeats)
	if err != nil {
		return nil, err
	}
	return collectFlights(rows)
}

func (r *PGFlightRepository) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	row := r.db.QueryRow(ctx, `SELECT `+flightColumns+` FROM flights WHERE id=$1`, id)
	f, err := scanFlight(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PGFlightRepository) ReserveSeat(ctx context.Context, flightID int64) error {
	res, err := r.db.Exec(ctx, `UPDATE flights SET available_seats = available_seats - 1, updated_at = now() WHERE id=$1 AND available_seats > 0`, flightID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNoAvailableSeats
	}
	return nil
}

func (r *PGFlightRepository) ReleaseSeat(ctx context.Context, flightID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE flights SET available_seats = LEAST(available_seats + 1, total_seats), updated_at = now() WHERE id=$1`, flightID)
	return err
}

func scanFlight(row pgx.Row) (*domain.Flight, error) {
	var f domain.Flight
	if err := row.Scan(&f.ID, &f.FlightNumber, &f.Airline, &f.FromAirport, &f.ToAirport, &f.DepartureTime, &f.ArrivalTime,
		&f.TotalSeats, &f.AvailableSeats, &f.PriceCents, &f.Aircraft, &f.Stops, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func collectFlights(rows pgx.Rows) ([]domain.Flight, error) {
	defer rows.Close()

	flights := make([]domain.Flight, 0)
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		flights = append(flights, *f)
	}
	return flights, rows.Err()
}

var _ FlightRepository = (*PGFlightRepository)(nil)
