package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	ListForUser(ctx context.Context, userID string, role domain.Role, status *domain.BookingStatus, limit, offset int) ([]domain.Booking, error)
	// ListPendingCandidates returns pending bookings created before
	// createdBefore or scheduled on or before lastDate.
	ListPendingCandidates(ctx context.Context, createdBefore, lastDate time.Time, limit int) ([]domain.Booking, error)
	// Update locks the row, lets fn mutate it and writes it back in one
	// transaction. A non-nil error from fn rolls back.
	Update(ctx context.Context, id string, fn func(b *domain.Booking) error) (*domain.Booking, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingCols = `id, customer_id, provider_id, status,
session_date, session_time, duration_hours, timezone, location_label, customer_notes,
currency, subtotal_amount, service_fee, total_amount, platform_fee, provider_earnings,
payment_intent_id, meeting_lat, meeting_lng, meeting_note, meeting_updated_at,
delivered_photos, responded_at, completed_at, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b         domain.Booking
		lat, lng  *float64
		note      *string
		meetingAt *time.Time
	)
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.ProviderID, &b.Status,
		&b.SessionDate, &b.SessionTime, &b.DurationHours, &b.Timezone, &b.LocationLabel, &b.CustomerNotes,
		&b.Currency, &b.SubtotalAmount, &b.ServiceFee, &b.TotalAmount, &b.PlatformFee, &b.ProviderEarnings,
		&b.PaymentIntentID, &lat, &lng, &note, &meetingAt,
		&b.DeliveredPhotos, &b.RespondedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		mp := &domain.MeetingPoint{Lat: *lat, Lng: *lng}
		if note != nil {
			mp.Note = *note
		}
		if meetingAt != nil {
			mp.UpdatedAt = *meetingAt
		}
		b.MeetingPoint = mp
	}
	return &b, nil
}

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	const q = `INSERT INTO bookings (
		id, customer_id, provider_id, status,
		session_date, session_time, duration_hours, timezone, location_label, customer_notes,
		currency, subtotal_amount, service_fee, total_amount, platform_fee, provider_earnings,
		payment_intent_id
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	RETURNING created_at, updated_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.pool.QueryRow(ctx, q,
		b.ID, b.CustomerID, b.ProviderID, b.Status,
		b.SessionDate, b.SessionTime, b.DurationHours, b.Timezone, b.LocationLabel, b.CustomerNotes,
		b.Currency, b.SubtotalAmount, b.ServiceFee, b.TotalAmount, b.PlatformFee, b.ProviderEarnings,
		b.PaymentIntentID,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (r *bookingRepository) ListForUser(ctx context.Context, userID string, role domain.Role, status *domain.BookingStatus, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	column := "customer_id"
	if role == domain.RoleProvider {
		column = "provider_id"
	}

	q := `SELECT ` + bookingCols + ` FROM bookings WHERE ` + column + `=$1`
	args := []any{userID}
	if status != nil {
		q += ` AND status=$2 ORDER BY session_date DESC, created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, *status, limit, offset)
	} else {
		q += ` ORDER BY session_date DESC, created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.query(ctx, q, args...)
}

func (r *bookingRepository) ListPendingCandidates(ctx context.Context, createdBefore, lastDate time.Time, limit int) ([]domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings
		WHERE status='pending' AND (created_at <= $1 OR session_date <= $2)
		ORDER BY created_at LIMIT $3`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.query(ctx, q, createdBefore, lastDate, limit)
}

func (r *bookingRepository) query(ctx context.Context, q string, args ...any) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, q, args...)
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

func (r *bookingRepository) Update(ctx context.Context, id string, fn func(b *domain.Booking) error) (*domain.Booking, error) {
	// fn may call the payment processor while the row is locked.
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("booking %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(b); err != nil {
		return nil, err
	}

	var lat, lng *float64
	var note *string
	var meetingAt *time.Time
	if mp := b.MeetingPoint; mp != nil {
		lat, lng, note, meetingAt = &mp.Lat, &mp.Lng, &mp.Note, &mp.UpdatedAt
	}

	const q = `UPDATE bookings SET
		status=$2, payment_intent_id=$3,
		meeting_lat=$4, meeting_lng=$5, meeting_note=$6, meeting_updated_at=$7,
		delivered_photos=$8, responded_at=$9, completed_at=$10, updated_at=now()
		WHERE id=$1
		RETURNING updated_at`
	if err := tx.QueryRow(ctx, q, b.ID,
		b.Status, b.PaymentIntentID,
		lat, lng, note, meetingAt,
		b.DeliveredPhotos, b.RespondedAt, b.CompletedAt,
	).Scan(&b.UpdatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}
