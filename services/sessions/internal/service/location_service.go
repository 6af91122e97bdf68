package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/pkg/metrics"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
	"github.com/diagnosis/lenslink/services/sessions/internal/repository"
)

// LocationService is the server half of the live location relay. Positions
// are accepted only while the booking is confirmed and its coordination
// window is open.
type LocationService interface {
	Publish(ctx context.Context, actor domain.Actor, bookingID string, req *domain.PublishLocationReq) (*domain.LivePosition, error)
	// Stop deletes the caller's position. Once it returns, no fix recorded
	// before the call can reappear.
	Stop(ctx context.Context, actor domain.Actor, bookingID string) error
	Counterparty(ctx context.Context, actor domain.Actor, bookingID string) (*domain.CounterpartyLocation, error)
}

// stop markers outlive windows that cannot be computed by this much
const stopMarkerFallbackTTL = time.Hour

type locationService struct {
	bookingRepo repository.BookingRepository
	positions   repository.PositionStore
	now         func() time.Time
}

func NewLocationService(bookingRepo repository.BookingRepository, positions repository.PositionStore, now func() time.Time) LocationService {
	if now == nil {
		now = time.Now
	}
	return &locationService{bookingRepo: bookingRepo, positions: positions, now: now}
}

func (s *locationService) party(ctx context.Context, actor domain.Actor, bookingID string) (*domain.Booking, domain.Role, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, "", apperr.NotFound("booking %s not found", bookingID)
	}
	role, ok := b.RoleOf(actor.UserID)
	if !ok {
		return nil, "", apperr.PermissionDenied("not a party to booking %s", bookingID)
	}
	return b, role, nil
}

func (s *locationService) Publish(ctx context.Context, actor domain.Actor, bookingID string, req *domain.PublishLocationReq) (*domain.LivePosition, error) {
	if req.Lat == nil || req.Lng == nil {
		return nil, apperr.Validation("lat and lng are required")
	}
	if !domain.ValidCoordinates(*req.Lat, *req.Lng) {
		return nil, apperr.Validation("coordinates out of range")
	}
	if req.Accuracy < 0 {
		return nil, apperr.Validation("accuracy must not be negative")
	}

	b, role, err := s.party(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !b.CoordinationActive(now) {
		return nil, apperr.Conflict("location sharing is not open for booking %s", bookingID)
	}
	w, _ := b.Window()

	// Device clocks may run ahead; never accept a fix from the future.
	recordedAt := now
	if req.RecordedAt != nil && req.RecordedAt.Before(now) {
		recordedAt = *req.RecordedAt
	}

	pos := domain.LivePosition{
		BookingID: b.ID,
		Role:      role,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Accuracy:  req.Accuracy,
		UpdatedAt: recordedAt,
	}
	applied, err := s.positions.Upsert(ctx, pos, w.End.Sub(now))
	if err != nil {
		return nil, apperr.Transient(err, "failed to store position")
	}
	if !applied {
		logger.DebugContext(ctx, "Stale position ignored", "booking_id", b.ID, "role", role)
		return s.positions.Get(ctx, b.ID, role)
	}
	metrics.LocationUpdates.WithLabelValues("publish", string(role)).Inc()
	return &pos, nil
}

func (s *locationService) Stop(ctx context.Context, actor domain.Actor, bookingID string) error {
	b, role, err := s.party(ctx, actor, bookingID)
	if err != nil {
		return err
	}
	now := s.now()
	ttl := stopMarkerFallbackTTL
	if w, ok := b.Window(); ok && w.End.After(now) {
		ttl = w.End.Sub(now)
	}
	if err := s.positions.Delete(ctx, b.ID, role, now, ttl); err != nil {
		return apperr.Transient(err, "failed to clear position")
	}
	metrics.LocationUpdates.WithLabelValues("stop", string(role)).Inc()
	return nil
}

func (s *locationService) Counterparty(ctx context.Context, actor domain.Actor, bookingID string) (*domain.CounterpartyLocation, error) {
	b, role, err := s.party(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	out := &domain.CounterpartyLocation{Role: role.Counterparty()}
	if w, ok := b.Window(); ok {
		out.Window = &w
	}
	if !b.CoordinationActive(s.now()) {
		return out, nil
	}
	out.Active = true

	pos, err := s.positions.Get(ctx, b.ID, role.Counterparty())
	if err != nil {
		return nil, apperr.Transient(err, "failed to read position")
	}
	out.Position = pos
	return out, nil
}
