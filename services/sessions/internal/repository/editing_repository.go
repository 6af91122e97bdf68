package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

type EditingRepository interface {
	// Create fails with a conflict when the booking already has an open
	// request.
	Create(ctx context.Context, e *domain.EditingRequest) error
	GetByID(ctx context.Context, id string) (*domain.EditingRequest, error)
	LatestForBooking(ctx context.Context, bookingID string) (*domain.EditingRequest, error)
	Update(ctx context.Context, id string, fn func(e *domain.EditingRequest) error) (*domain.EditingRequest, error)
}

type editingRepository struct {
	pool *pgxpool.Pool
}

func NewEditingRepository(pool *pgxpool.Pool) EditingRepository {
	return &editingRepository{pool: pool}
}

const editingCols = `id, booking_id, customer_id, provider_id, status,
pricing_model, rate, photo_count, base_amount, service_fee, total_amount, currency,
instructions, source_photos, edited_photos, revision_count, revision_notes, decline_reason,
payment_intent_id, created_at, updated_at`

// Postgres unique_violation; editing_requests has a partial unique index on
// booking_id over open statuses.
const uniqueViolation = "23505"

func scanEditing(row pgx.Row) (*domain.EditingRequest, error) {
	var e domain.EditingRequest
	err := row.Scan(
		&e.ID, &e.BookingID, &e.CustomerID, &e.ProviderID, &e.Status,
		&e.PricingModel, &e.Rate, &e.PhotoCount, &e.BaseAmount, &e.ServiceFee, &e.TotalAmount, &e.Currency,
		&e.Instructions, &e.SourcePhotos, &e.EditedPhotos, &e.RevisionCount, &e.RevisionNotes, &e.DeclineReason,
		&e.PaymentIntentID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *editingRepository) Create(ctx context.Context, e *domain.EditingRequest) error {
	const q = `INSERT INTO editing_requests (
		id, booking_id, customer_id, provider_id, status,
		pricing_model, rate, photo_count, base_amount, service_fee, total_amount, currency,
		instructions, source_photos, payment_intent_id
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	RETURNING created_at, updated_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := r.pool.QueryRow(ctx, q,
		e.ID, e.BookingID, e.CustomerID, e.ProviderID, e.Status,
		e.PricingModel, e.Rate, e.PhotoCount, e.BaseAmount, e.ServiceFee, e.TotalAmount, e.Currency,
		e.Instructions, e.SourcePhotos, e.PaymentIntentID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Conflict("booking %s already has an open editing request", e.BookingID)
	}
	return err
}

func (r *editingRepository) GetByID(ctx context.Context, id string) (*domain.EditingRequest, error) {
	const q = `SELECT ` + editingCols + ` FROM editing_requests WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	e, err := scanEditing(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *editingRepository) LatestForBooking(ctx context.Context, bookingID string) (*domain.EditingRequest, error) {
	const q = `SELECT ` + editingCols + ` FROM editing_requests
		WHERE booking_id=$1 ORDER BY created_at DESC LIMIT 1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	e, err := scanEditing(r.pool.QueryRow(ctx, q, bookingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *editingRepository) Update(ctx context.Context, id string, fn func(e *domain.EditingRequest) error) (*domain.EditingRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	e, err := scanEditing(tx.QueryRow(ctx, `SELECT `+editingCols+` FROM editing_requests WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("editing request %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(e); err != nil {
		return nil, err
	}

	const q = `UPDATE editing_requests SET
		status=$2, edited_photos=$3, revision_count=$4, revision_notes=$5, decline_reason=$6,
		payment_intent_id=$7, updated_at=now()
		WHERE id=$1
		RETURNING updated_at`
	if err := tx.QueryRow(ctx, q, e.ID,
		e.Status, e.EditedPhotos, e.RevisionCount, e.RevisionNotes, e.DeclineReason,
		e.PaymentIntentID,
	).Scan(&e.UpdatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}
