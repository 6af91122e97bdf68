package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/pkg/metrics"
	"github.com/diagnosis/lenslink/pkg/payments"
	"github.com/diagnosis/lenslink/pkg/schedule"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
	"github.com/diagnosis/lenslink/services/sessions/internal/repository"
)

type BookingService interface {
	CreateBooking(ctx context.Context, customerID string, req *domain.CreateBookingReq) (*domain.BookingView, error)
	GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.BookingView, error)
	GetPhase(ctx context.Context, actor domain.Actor, id string) (domain.Phase, error)
	ListBookings(ctx context.Context, actor domain.Actor, role domain.Role, status *domain.BookingStatus, limit, offset int) ([]domain.BookingView, error)
	Respond(ctx context.Context, actor domain.Actor, id string, req *domain.RespondReq) (*domain.BookingView, error)
	Cancel(ctx context.Context, actor domain.Actor, id string, reason string) (*domain.BookingView, error)
	DeliverPhotos(ctx context.Context, actor domain.Actor, id string, photoURLs []string) (*domain.BookingView, error)
	// ExpireStale moves unanswered pending bookings to expired and returns
	// how many it expired.
	ExpireStale(ctx context.Context) (int, error)
}

type bookingService struct {
	bookingRepo repository.BookingRepository
	positions   repository.PositionStore
	gateway     payments.Gateway
	ledger      LedgerService
	eventBus    events.Publisher
	config      *config.Config
	now         func() time.Time
}

func NewBookingService(
	bookingRepo repository.BookingRepository,
	positions repository.PositionStore,
	gateway payments.Gateway,
	ledger LedgerService,
	eventBus events.Publisher,
	config *config.Config,
	now func() time.Time,
) BookingService {
	if now == nil {
		now = time.Now
	}
	return &bookingService{
		bookingRepo: bookingRepo,
		positions:   positions,
		gateway:     gateway,
		ledger:      ledger,
		eventBus:    eventBus,
		config:      config,
		now:         now,
	}
}

func (s *bookingService) CreateBooking(ctx context.Context, customerID string, req *domain.CreateBookingReq) (*domain.BookingView, error) {
	b, err := s.newBooking(customerID, req)
	if err != nil {
		return nil, err
	}

	auth, err := s.gateway.Authorize(ctx, payments.AuthorizeRequest{
		Amount:         b.TotalAmount,
		Currency:       b.Currency,
		IdempotencyKey: paymentKey("booking", b.ID, "authorize"),
		Metadata:       map[string]string{"booking_id": b.ID, "customer_id": customerID},
	})
	if err != nil {
		return nil, apperr.External(err, "payment authorization failed")
	}
	b.PaymentIntentID = auth.IntentID

	if err := s.bookingRepo.Create(ctx, b); err != nil {
		if relErr := s.gateway.Release(ctx, auth.IntentID, paymentKey("booking", b.ID, "release")); relErr != nil {
			logger.ErrorContext(ctx, "Failed to release authorization of unsaved booking", "error", relErr, "booking_id", b.ID)
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	now := s.now()
	metrics.BookingTransitions.WithLabelValues("", string(domain.BookingPending)).Inc()
	publish(ctx, s.eventBus, events.BookingCreated, bookingEvent(b, "", "", now))
	logger.InfoContext(ctx, "Booking created", "booking_id", b.ID, "provider_id", b.ProviderID, "total", b.TotalAmount)

	view := domain.NewBookingView(b, now, domain.RoleCustomer)
	view.PaymentSecret = auth.ClientSecret
	return &view, nil
}

// newBooking validates the request and normalizes the start time so it is
// never re-parsed from free text later.
func (s *bookingService) newBooking(customerID string, req *domain.CreateBookingReq) (*domain.Booking, error) {
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		return nil, apperr.Validation("provider_id is required")
	}
	if providerID == customerID {
		return nil, apperr.Validation("cannot book yourself")
	}
	date, err := schedule.ParseDate(req.SessionDate)
	if err != nil {
		return nil, apperr.Validation("session_date must be YYYY-MM-DD")
	}
	clock, ok := schedule.NormalizeClock(req.SessionTime)
	if !ok {
		return nil, apperr.Validation("session_time %q is not a valid time of day", req.SessionTime)
	}
	if req.DurationHours <= 0 || req.DurationHours > domain.MaxDurationHours {
		return nil, apperr.Validation("duration_hours must be between 0 and %d", domain.MaxDurationHours)
	}
	if req.SubtotalAmount <= 0 {
		return nil, apperr.Validation("subtotal_amount must be positive")
	}
	label := strings.TrimSpace(req.LocationLabel)
	if label == "" {
		return nil, apperr.Validation("location_label is required")
	}
	if len(req.CustomerNotes) > domain.MaxNoteLength {
		return nil, apperr.Validation("customer_notes must be at most %d characters", domain.MaxNoteLength)
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = s.config.Sessions.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperr.Validation("unknown timezone %q", tz)
	}

	w, ok := schedule.ComputeWindow(date, clock, req.DurationHours, loc)
	if !ok {
		return nil, apperr.Validation("session window cannot be computed")
	}
	if !s.now().Before(w.Start) {
		return nil, apperr.Validation("session must start in the future")
	}

	price := domain.PriceSession(req.SubtotalAmount, s.config.Sessions.ServiceFeePercent, s.config.Sessions.CommissionPercent)
	return &domain.Booking{
		ID:               uuid.NewString(),
		CustomerID:       customerID,
		ProviderID:       providerID,
		Status:           domain.BookingPending,
		SessionDate:      date,
		SessionTime:      clock,
		DurationHours:    req.DurationHours,
		Timezone:         tz,
		LocationLabel:    label,
		CustomerNotes:    strings.TrimSpace(req.CustomerNotes),
		Currency:         s.config.Stripe.Currency,
		SubtotalAmount:   price.Subtotal,
		ServiceFee:       price.ServiceFee,
		TotalAmount:      price.Total,
		PlatformFee:      price.PlatformFee,
		ProviderEarnings: price.ProviderEarnings,
	}, nil
}

func (s *bookingService) load(ctx context.Context, id string) (*domain.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, apperr.NotFound("booking %s not found", id)
	}
	return b, nil
}

func (s *bookingService) GetBooking(ctx context.Context, actor domain.Actor, id string) (*domain.BookingView, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	role, err := partyRole(b, actor)
	if err != nil {
		return nil, err
	}
	view := domain.NewBookingView(b, s.now(), role)
	return &view, nil
}

func (s *bookingService) GetPhase(ctx context.Context, actor domain.Actor, id string) (domain.Phase, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if _, err := partyRole(b, actor); err != nil {
		return "", err
	}
	return b.Phase(s.now()), nil
}

func (s *bookingService) ListBookings(ctx context.Context, actor domain.Actor, role domain.Role, status *domain.BookingStatus, limit, offset int) ([]domain.BookingView, error) {
	bookings, err := s.bookingRepo.ListForUser(ctx, actor.UserID, role, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	now := s.now()
	views := make([]domain.BookingView, 0, len(bookings))
	for i := range bookings {
		views = append(views, domain.NewBookingView(&bookings[i], now, role))
	}
	return views, nil
}

// Respond applies the provider's answer. The row stays locked while the
// payment collaborator is called, so of two racing answers exactly one wins
// and the other sees a conflict.
func (s *bookingService) Respond(ctx context.Context, actor domain.Actor, id string, req *domain.RespondReq) (*domain.BookingView, error) {
	var to domain.BookingStatus
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "accept":
		to = domain.BookingConfirmed
	case "decline":
		to = domain.BookingDeclined
	default:
		return nil, apperr.Validation("decision must be accept or decline")
	}

	now := s.now()
	updated, err := s.bookingRepo.Update(ctx, id, func(b *domain.Booking) error {
		if err := requireRole(b, actor, domain.RoleProvider); err != nil {
			return err
		}
		if err := s.checkTransition(b, to); err != nil {
			return err
		}
		if b.Stale(now, s.config.Sessions.ResponseDeadline) {
			metrics.BookingConflicts.Inc()
			return apperr.Conflict("booking %s can no longer be answered", b.ID)
		}

		if to == domain.BookingConfirmed {
			if err := s.gateway.Capture(ctx, b.PaymentIntentID, paymentKey("booking", b.ID, "capture")); err != nil {
				return apperr.External(err, "payment capture failed")
			}
		} else if err := s.gateway.Release(ctx, b.PaymentIntentID, paymentKey("booking", b.ID, "release")); err != nil {
			return apperr.External(err, "payment release failed")
		}

		b.Status = to
		b.RespondedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransitions.WithLabelValues(string(domain.BookingPending), string(to)).Inc()
	if to == domain.BookingConfirmed {
		if err := s.ledger.RecordSessionBillable(ctx, updated); err != nil {
			logger.ErrorContext(ctx, "Failed to record session earning", "error", err, "booking_id", updated.ID)
		}
		publish(ctx, s.eventBus, events.BookingConfirmed, bookingEvent(updated, domain.BookingPending, "", now))
	} else {
		publish(ctx, s.eventBus, events.BookingDeclined, bookingEvent(updated, domain.BookingPending, req.Reason, now))
	}

	logger.InfoContext(ctx, "Booking answered", "booking_id", updated.ID, "status", updated.Status)
	view := domain.NewBookingView(updated, now, domain.RoleProvider)
	return &view, nil
}

func (s *bookingService) Cancel(ctx context.Context, actor domain.Actor, id string, reason string) (*domain.BookingView, error) {
	now := s.now()
	var from domain.BookingStatus
	var role domain.Role
	updated, err := s.bookingRepo.Update(ctx, id, func(b *domain.Booking) error {
		r, ok := b.RoleOf(actor.UserID)
		if !ok {
			return apperr.PermissionDenied("not a party to booking %s", b.ID)
		}
		role = r
		if err := s.checkTransition(b, domain.BookingCancelled); err != nil {
			return err
		}
		if b.Status == domain.BookingConfirmed {
			if w, ok := b.Window(); ok && w.Started(now) {
				metrics.BookingConflicts.Inc()
				return apperr.Conflict("session has already started")
			}
		}
		if err := s.gateway.Release(ctx, b.PaymentIntentID, paymentKey("booking", b.ID, "release")); err != nil {
			return apperr.External(err, "payment release failed")
		}
		from = b.Status
		b.Status = domain.BookingCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransitions.WithLabelValues(string(from), string(domain.BookingCancelled)).Inc()
	if from == domain.BookingConfirmed {
		if err := s.ledger.DropSession(ctx, updated.ID); err != nil {
			logger.ErrorContext(ctx, "Failed to drop session earning", "error", err, "booking_id", updated.ID)
		}
	}
	s.clearPositions(ctx, updated.ID)
	publish(ctx, s.eventBus, events.BookingCancelled, bookingEvent(updated, from, reason, now))

	view := domain.NewBookingView(updated, now, role)
	return &view, nil
}

func (s *bookingService) DeliverPhotos(ctx context.Context, actor domain.Actor, id string, photos []string) (*domain.BookingView, error) {
	urls, err := photoURLs(photos, domain.MaxDeliveredPhoto)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.bookingRepo.Update(ctx, id, func(b *domain.Booking) error {
		if err := requireRole(b, actor, domain.RoleProvider); err != nil {
			return err
		}
		if err := s.checkTransition(b, domain.BookingCompleted); err != nil {
			return err
		}
		if phase := b.Phase(now); phase != domain.PhaseAwaitingDelivery {
			metrics.BookingConflicts.Inc()
			return apperr.Conflict("photos can be delivered once the session has ended (phase is %s)", phase)
		}
		b.Status = domain.BookingCompleted
		b.DeliveredPhotos = urls
		b.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransitions.WithLabelValues(string(domain.BookingConfirmed), string(domain.BookingCompleted)).Inc()
	if err := s.ledger.ReleaseSession(ctx, updated); err != nil {
		logger.ErrorContext(ctx, "Failed to release session earning", "error", err, "booking_id", updated.ID)
	}
	s.clearPositions(ctx, updated.ID)
	publish(ctx, s.eventBus, events.BookingCompleted, bookingEvent(updated, domain.BookingConfirmed, "", now))

	view := domain.NewBookingView(updated, now, domain.RoleProvider)
	return &view, nil
}

func (s *bookingService) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	deadline := s.config.Sessions.ResponseDeadline
	// A day of slack covers sessions whose local date is ahead of UTC.
	candidates, err := s.bookingRepo.ListPendingCandidates(ctx, now.Add(-deadline), now.UTC().AddDate(0, 0, 1), 100)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending bookings: %w", err)
	}

	expired := 0
	for i := range candidates {
		if !candidates[i].Stale(now, deadline) {
			continue
		}
		updated, err := s.bookingRepo.Update(ctx, candidates[i].ID, func(b *domain.Booking) error {
			if !b.Stale(now, deadline) {
				return apperr.Conflict("booking %s is no longer stale", b.ID)
			}
			if err := s.gateway.Release(ctx, b.PaymentIntentID, paymentKey("booking", b.ID, "release")); err != nil {
				return apperr.External(err, "payment release failed")
			}
			b.Status = domain.BookingExpired
			return nil
		})
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			logger.ErrorContext(ctx, "Failed to expire booking", "error", err, "booking_id", candidates[i].ID)
			continue
		}
		expired++
		metrics.BookingTransitions.WithLabelValues(string(domain.BookingPending), string(domain.BookingExpired)).Inc()
		publish(ctx, s.eventBus, events.BookingExpired, bookingEvent(updated, domain.BookingPending, "response deadline passed", now))
	}
	return expired, nil
}

func (s *bookingService) checkTransition(b *domain.Booking, to domain.BookingStatus) error {
	if domain.CanTransition(b.Status, to) {
		return nil
	}
	metrics.BookingConflicts.Inc()
	return apperr.Conflict("booking %s is %s and cannot become %s", b.ID, b.Status, to)
}

func (s *bookingService) clearPositions(ctx context.Context, bookingID string) {
	if err := s.positions.ClearBooking(ctx, bookingID); err != nil {
		logger.WarnContext(ctx, "Failed to clear live positions", "error", err, "booking_id", bookingID)
		return
	}
	metrics.LocationUpdates.WithLabelValues("clear", "all").Inc()
}
