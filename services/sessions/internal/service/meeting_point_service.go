package service

import (
	"context"
	"strings"
	"time"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
	"github.com/diagnosis/lenslink/services/sessions/internal/repository"
)

type MeetingPointService interface {
	// Set replaces the meeting point wholesale. Only the provider may set
	// it, and only until the session starts.
	Set(ctx context.Context, actor domain.Actor, bookingID string, req *domain.MeetingPointReq) (*domain.MeetingPoint, error)
	// Get returns nil without error when no point has been set yet.
	Get(ctx context.Context, actor domain.Actor, bookingID string) (*domain.MeetingPoint, error)
}

type meetingPointService struct {
	bookingRepo repository.BookingRepository
	eventBus    events.Publisher
	now         func() time.Time
}

func NewMeetingPointService(bookingRepo repository.BookingRepository, eventBus events.Publisher, now func() time.Time) MeetingPointService {
	if now == nil {
		now = time.Now
	}
	return &meetingPointService{bookingRepo: bookingRepo, eventBus: eventBus, now: now}
}

func (s *meetingPointService) Set(ctx context.Context, actor domain.Actor, bookingID string, req *domain.MeetingPointReq) (*domain.MeetingPoint, error) {
	if req.Lat == nil || req.Lng == nil {
		return nil, apperr.Validation("lat and lng are required")
	}
	if !domain.ValidCoordinates(*req.Lat, *req.Lng) {
		return nil, apperr.Validation("coordinates out of range")
	}
	note := strings.TrimSpace(req.Note)
	if len(note) > domain.MaxNoteLength {
		return nil, apperr.Validation("note must be at most %d characters", domain.MaxNoteLength)
	}

	now := s.now()
	point := &domain.MeetingPoint{Lat: *req.Lat, Lng: *req.Lng, Note: note, UpdatedAt: now}
	updated, err := s.bookingRepo.Update(ctx, bookingID, func(b *domain.Booking) error {
		if err := requireRole(b, actor, domain.RoleProvider); err != nil {
			return err
		}
		if !meetingPointEditable(b, now) {
			return apperr.Conflict("meeting point can no longer be changed")
		}
		b.MeetingPoint = point
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.eventBus, events.MeetingPointUpdated, events.MeetingPointUpdatedEvent{
		BookingID:  updated.ID,
		CustomerID: updated.CustomerID,
		Lat:        point.Lat,
		Lng:        point.Lng,
		Note:       point.Note,
		UpdatedAt:  now,
	})
	logger.InfoContext(ctx, "Meeting point set", "booking_id", updated.ID)
	return updated.MeetingPoint, nil
}

// meetingPointEditable holds for pending bookings and confirmed ones whose
// session has not started. A window that cannot be computed does not block.
func meetingPointEditable(b *domain.Booking, now time.Time) bool {
	switch b.Status {
	case domain.BookingPending:
		return true
	case domain.BookingConfirmed:
		w, ok := b.Window()
		return !ok || !w.Started(now)
	default:
		return false
	}
}

func (s *meetingPointService) Get(ctx context.Context, actor domain.Actor, bookingID string) (*domain.MeetingPoint, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.NotFound("booking %s not found", bookingID)
	}
	if _, err := partyRole(b, actor); err != nil {
		return nil, err
	}
	return b.MeetingPoint, nil
}
