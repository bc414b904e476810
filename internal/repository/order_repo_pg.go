package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository interface {
	Create(ctx context.Context, order *domain.OrderRecord) error
	GetByID(ctx context.Context, id int64) (*domain.OrderRecord, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.OrderRecord, error)
	UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.OrderRecord, error)
}

// ErrDuplicateOrder is returned when an order already exists for a payment session.
var ErrDuplicateOrder = errors.New("order already exists for payment session")

const orderColumns = `id, order_number, itinerary_number, user_email, ticket_ids, total_cents, payment_session_id, status, created_at`

type PGOrderRepository struct {
	db *pgxpool.Pool
}

func NewOrderRepository(db *pgxpool.Pool) OrderRepository {
	return &PGOrderRepository{db: db}
}

// Create inserts the order; the unique index on payment_session_id makes a
// second order for the same session fail with ErrDuplicateOrder.
func (r *PGOrderRepository) Create(ctx context.Context, o *domain.OrderRecord) error {
	err := r.db.QueryRow(ctx, `INSERT INTO orders (order_number, itinerary_number, user_email, ticket_ids, total_cents, payment_session_id, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (payment_session_id) DO NOTHING
		RETURNING id, created_at`,
		o.OrderNumber, o.ItineraryNumber, o.UserEmail, o.TicketIDs, o.TotalCents, o.PaymentSessionID, o.Status).
		Scan(&o.ID, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateOrder
	}
	return err
}

func (r *PGOrderRepository) GetByID(ctx context.Context, id int64) (*domain.OrderRecord, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *PGOrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.OrderRecord, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_session_id=$1`, sessionID)
}

func (r *PGOrderRepository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.OrderRecord, error) {
	return r.getOne(ctx, `UPDATE orders SET status=$1 WHERE id=$2 RETURNING `+orderColumns, status, id)
}

func (r *PGOrderRepository) getOne(ctx context.Context, query string, args ...any) (*domain.OrderRecord, error) {
	var (
		o         domain.OrderRecord
		sessionID *string
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(&o.ID, &o.OrderNumber, &o.ItineraryNumber, &o.UserEmail, &o.TicketIDs,
		&o.TotalCents, &sessionID, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		o.PaymentSessionID = *sessionID
	}
	return &o, nil
}

var _ OrderRepository = (*PGOrderRepository)(nil)
