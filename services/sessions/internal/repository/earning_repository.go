package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

type EarningRepository interface {
	// Create inserts e unless an earning for the same source already
	// exists. created reports whether a row was written.
	Create(ctx context.Context, e *domain.Earning) (created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Earning, error)
	GetForSession(ctx context.Context, bookingID string) (*domain.Earning, error)
	GetForEditing(ctx context.Context, editingRequestID string) (*domain.Earning, error)
	// Transition moves an earning from one status to another. It returns
	// nil, nil when the earning is not in from.
	Transition(ctx context.Context, id string, from, to domain.EarningStatus, payoutRef string, at time.Time) (*domain.Earning, error)
	DeleteHeld(ctx context.Context, id string) error
	ListByProvider(ctx context.Context, providerID string, status *domain.EarningStatus, limit, offset int) ([]domain.Earning, error)
	Totals(ctx context.Context, providerID string) (map[domain.EarningStatus]int64, error)
	// BillableWithoutEarning lists confirmed or completed bookings that have
	// no session earning yet.
	BillableWithoutEarning(ctx context.Context, limit int) ([]domain.Booking, error)
	// EditingWithoutEarning lists accepted or later editing requests that
	// have no editing earning yet.
	EditingWithoutEarning(ctx context.Context, limit int) ([]domain.EditingRequest, error)
	// HeldForCompleted lists earnings still held although their booking, or
	// for editing earnings their editing request, is completed.
	HeldForCompleted(ctx context.Context, limit int) ([]domain.Earning, error)
}

type earningRepository struct {
	pool *pgxpool.Pool
}

func NewEarningRepository(pool *pgxpool.Pool) EarningRepository {
	return &earningRepository{pool: pool}
}

const earningCols = `id, booking_id, editing_request_id, provider_id, source, status, currency,
gross_amount, platform_fee, net_amount, payout_ref, available_at, paid_at, created_at, updated_at`

func scanEarning(row pgx.Row) (*domain.Earning, error) {
	var e domain.Earning
	err := row.Scan(
		&e.ID, &e.BookingID, &e.EditingRequestID, &e.ProviderID, &e.Source, &e.Status, &e.Currency,
		&e.GrossAmount, &e.PlatformFee, &e.NetAmount, &e.PayoutRef, &e.AvailableAt, &e.PaidAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *earningRepository) Create(ctx context.Context, e *domain.Earning) (bool, error) {
	const q = `INSERT INTO earnings (
		id, booking_id, editing_request_id, provider_id, source, status, currency,
		gross_amount, platform_fee, net_amount
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT DO NOTHING
	RETURNING created_at, updated_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := r.pool.QueryRow(ctx, q,
		e.ID, e.BookingID, e.EditingRequestID, e.ProviderID, e.Source, e.Status, e.Currency,
		e.GrossAmount, e.PlatformFee, e.NetAmount,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *earningRepository) getOne(ctx context.Context, q string, arg any) (*domain.Earning, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	e, err := scanEarning(r.pool.QueryRow(ctx, q, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *earningRepository) GetByID(ctx context.Context, id string) (*domain.Earning, error) {
	return r.getOne(ctx, `SELECT `+earningCols+` FROM earnings WHERE id=$1`, id)
}

func (r *earningRepository) GetForSession(ctx context.Context, bookingID string) (*domain.Earning, error) {
	return r.getOne(ctx, `SELECT `+earningCols+` FROM earnings WHERE booking_id=$1 AND source='session'`, bookingID)
}

func (r *earningRepository) GetForEditing(ctx context.Context, editingRequestID string) (*domain.Earning, error) {
	return r.getOne(ctx, `SELECT `+earningCols+` FROM earnings WHERE editing_request_id=$1`, editingRequestID)
}

func (r *earningRepository) Transition(ctx context.Context, id string, from, to domain.EarningStatus, payoutRef string, at time.Time) (*domain.Earning, error) {
	const q = `UPDATE earnings SET
		status=$3,
		payout_ref=CASE WHEN $4 <> '' THEN $4 ELSE payout_ref END,
		available_at=CASE WHEN $3='pending' THEN $5 ELSE available_at END,
		paid_at=CASE WHEN $3='paid' THEN $5 ELSE paid_at END,
		updated_at=now()
		WHERE id=$1 AND status=$2
		RETURNING ` + earningCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	e, err := scanEarning(r.pool.QueryRow(ctx, q, id, from, to, payoutRef, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *earningRepository) DeleteHeld(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `DELETE FROM earnings WHERE id=$1 AND status='held'`, id)
	return err
}

func (r *earningRepository) ListByProvider(ctx context.Context, providerID string, status *domain.EarningStatus, limit, offset int) ([]domain.Earning, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	q := `SELECT ` + earningCols + ` FROM earnings WHERE provider_id=$1`
	args := []any{providerID}
	if status != nil {
		q += ` AND status=$2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, *status, limit, offset)
	} else {
		q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.query(ctx, q, args...)
}

func (r *earningRepository) Totals(ctx context.Context, providerID string) (map[domain.EarningStatus]int64, error) {
	const q = `SELECT status, COALESCE(SUM(net_amount), 0) FROM earnings WHERE provider_id=$1 GROUP BY status`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[domain.EarningStatus]int64)
	for rows.Next() {
		var status domain.EarningStatus
		var sum int64
		if err := rows.Scan(&status, &sum); err != nil {
			return nil, err
		}
		totals[status] = sum
	}
	return totals, rows.Err()
}

func (r *earningRepository) BillableWithoutEarning(ctx context.Context, limit int) ([]domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings b
		WHERE b.status IN ('confirmed','completed')
		AND NOT EXISTS (SELECT 1 FROM earnings e WHERE e.booking_id=b.id AND e.source='session')
		ORDER BY b.created_at LIMIT $1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *earningRepository) EditingWithoutEarning(ctx context.Context, limit int) ([]domain.EditingRequest, error) {
	const q = `SELECT ` + editingCols + ` FROM editing_requests er
		WHERE er.status IN ('accepted','in_progress','delivered','revision_requested','completed')
		AND NOT EXISTS (SELECT 1 FROM earnings e WHERE e.editing_request_id=er.id AND e.source='editing')
		ORDER BY er.created_at LIMIT $1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.EditingRequest
	for rows.Next() {
		e, err := scanEditing(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *e)
	}
	return requests, rows.Err()
}

func (r *earningRepository) HeldForCompleted(ctx context.Context, limit int) ([]domain.Earning, error) {
	const q = `SELECT ` + earningPrefixed + ` FROM earnings e
		LEFT JOIN bookings b ON b.id=e.booking_id
		LEFT JOIN editing_requests er ON er.id=e.editing_request_id
		WHERE e.status='held' AND (
			(e.source='session' AND b.status='completed') OR
			(e.source='editing' AND er.status='completed'))
		ORDER BY e.created_at LIMIT $1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.query(ctx, q, limit)
}

const earningPrefixed = `e.id, e.booking_id, e.editing_request_id, e.provider_id, e.source, e.status, e.currency,
e.gross_amount, e.platform_fee, e.net_amount, e.payout_ref, e.available_at, e.paid_at, e.created_at, e.updated_at`

func (r *earningRepository) query(ctx context.Context, q string, args ...any) ([]domain.Earning, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var earnings []domain.Earning
	for rows.Next() {
		e, err := scanEarning(rows)
		if err != nil {
			return nil, err
		}
		earnings = append(earnings, *e)
	}
	return earnings, rows.Err()
}
