package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/pkg/payments"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
	"github.com/diagnosis/lenslink/services/sessions/internal/repository"
)

type EditingService interface {
	Create(ctx context.Context, actor domain.Actor, bookingID string, req *domain.CreateEditingReq) (*domain.EditingView, error)
	GetLatest(ctx context.Context, actor domain.Actor, bookingID string) (*domain.EditingView, error)
	Accept(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error)
	Start(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error)
	Deliver(ctx context.Context, actor domain.Actor, id string, editedPhotos []string) (*domain.EditingView, error)
	Approve(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error)
	RequestRevision(ctx context.Context, actor domain.Actor, id string, notes string) (*domain.EditingView, error)
	Decline(ctx context.Context, actor domain.Actor, id string, reason string) (*domain.EditingView, error)
}

const maxEditingPhotos = 200

type editingService struct {
	editingRepo repository.EditingRepository
	bookingRepo repository.BookingRepository
	gateway     payments.Gateway
	ledger      LedgerService
	eventBus    events.Publisher
	config      *config.Config
	now         func() time.Time
}

func NewEditingService(
	editingRepo repository.EditingRepository,
	bookingRepo repository.BookingRepository,
	gateway payments.Gateway,
	ledger LedgerService,
	eventBus events.Publisher,
	config *config.Config,
	now func() time.Time,
) EditingService {
	if now == nil {
		now = time.Now
	}
	return &editingService{
		editingRepo: editingRepo,
		bookingRepo: bookingRepo,
		gateway:     gateway,
		ledger:      ledger,
		eventBus:    eventBus,
		config:      config,
		now:         now,
	}
}

func (s *editingService) Create(ctx context.Context, actor domain.Actor, bookingID string, req *domain.CreateEditingReq) (*domain.EditingView, error) {
	sources, err := photoURLs(req.SourcePhotos, maxEditingPhotos)
	if err != nil {
		return nil, err
	}
	price, ok := domain.PriceEditing(req.PricingModel, req.Rate, len(sources), s.config.Sessions.ServiceFeePercent)
	if !ok {
		return nil, apperr.Validation("pricing_model must be flat or per_photo with a positive rate")
	}
	if len(req.Instructions) > domain.MaxNoteLength {
		return nil, apperr.Validation("instructions must be at most %d characters", domain.MaxNoteLength)
	}

	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, apperr.NotFound("booking %s not found", bookingID)
	}
	if err := requireRole(b, actor, domain.RoleCustomer); err != nil {
		return nil, err
	}
	if b.Status != domain.BookingCompleted {
		return nil, apperr.Conflict("editing can only be requested for a completed booking")
	}

	latest, err := s.editingRepo.LatestForBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get editing request: %w", err)
	}
	if latest != nil && latest.Status.Open() {
		return nil, apperr.Conflict("booking %s already has an open editing request", bookingID)
	}

	e := &domain.EditingRequest{
		ID:           uuid.NewString(),
		BookingID:    b.ID,
		CustomerID:   b.CustomerID,
		ProviderID:   b.ProviderID,
		Status:       domain.EditingRequested,
		PricingModel: req.PricingModel,
		Rate:         req.Rate,
		PhotoCount:   len(sources),
		BaseAmount:   price.Base,
		ServiceFee:   price.ServiceFee,
		TotalAmount:  price.Total,
		Currency:     b.Currency,
		Instructions: strings.TrimSpace(req.Instructions),
		SourcePhotos: sources,
	}

	auth, err := s.gateway.Authorize(ctx, payments.AuthorizeRequest{
		Amount:         e.TotalAmount,
		Currency:       e.Currency,
		IdempotencyKey: paymentKey("editing", e.ID, "authorize"),
		Metadata:       map[string]string{"booking_id": b.ID, "editing_request_id": e.ID},
	})
	if err != nil {
		return nil, apperr.External(err, "payment authorization failed")
	}
	e.PaymentIntentID = auth.IntentID

	if err := s.editingRepo.Create(ctx, e); err != nil {
		if relErr := s.gateway.Release(ctx, auth.IntentID, paymentKey("editing", e.ID, "release")); relErr != nil {
			logger.ErrorContext(ctx, "Failed to release authorization of unsaved editing request", "error", relErr, "editing_request_id", e.ID)
		}
		return nil, err
	}

	publish(ctx, s.eventBus, events.EditingRequested, editingEvent(e, s.now()))
	view := domain.NewEditingView(e)
	view.PaymentSecret = auth.ClientSecret
	return &view, nil
}

func (s *editingService) GetLatest(ctx context.Context, actor domain.Actor, bookingID string) (*domain.EditingView, error) {
	b, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, apperr.NotFound("booking %s not found", bookingID)
	}
	if _, err := partyRole(b, actor); err != nil {
		return nil, err
	}
	e, err := s.editingRepo.LatestForBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get editing request: %w", err)
	}
	if e == nil {
		return nil, apperr.NotFound("booking %s has no editing request", bookingID)
	}
	view := domain.NewEditingView(e)
	return &view, nil
}

// transition runs fn on the locked request after checking the caller's role
// and that the move is allowed from the current status.
func (s *editingService) transition(ctx context.Context, actor domain.Actor, id string, by domain.Role, to domain.EditingStatus, fn func(e *domain.EditingRequest) error) (*domain.EditingRequest, error) {
	return s.editingRepo.Update(ctx, id, func(e *domain.EditingRequest) error {
		owner := e.CustomerID
		if by == domain.RoleProvider {
			owner = e.ProviderID
		}
		if actor.UserID != owner {
			return apperr.PermissionDenied("only the %s may do this", by)
		}
		if !domain.CanTransitionEditing(e.Status, to) {
			return apperr.Conflict("editing request %s is %s and cannot become %s", e.ID, e.Status, to)
		}
		if fn != nil {
			if err := fn(e); err != nil {
				return err
			}
		}
		e.Status = to
		return nil
	})
}

func (s *editingService) done(ctx context.Context, subject string, e *domain.EditingRequest) *domain.EditingView {
	publish(ctx, s.eventBus, subject, editingEvent(e, s.now()))
	logger.InfoContext(ctx, "Editing request updated", "editing_request_id", e.ID, "status", e.Status)
	view := domain.NewEditingView(e)
	return &view
}

func (s *editingService) Accept(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error) {
	e, err := s.transition(ctx, actor, id, domain.RoleProvider, domain.EditingAccepted, func(e *domain.EditingRequest) error {
		if err := s.gateway.Capture(ctx, e.PaymentIntentID, paymentKey("editing", e.ID, "capture")); err != nil {
			return apperr.External(err, "payment capture failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.ledger.RecordEditingBillable(ctx, e); err != nil {
		logger.ErrorContext(ctx, "Failed to record editing earning", "error", err, "editing_request_id", e.ID)
	}
	return s.done(ctx, events.EditingAccepted, e), nil
}

func (s *editingService) Start(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error) {
	e, err := s.transition(ctx, actor, id, domain.RoleProvider, domain.EditingInProgress, nil)
	if err != nil {
		return nil, err
	}
	return s.done(ctx, events.EditingStarted, e), nil
}

func (s *editingService) Deliver(ctx context.Context, actor domain.Actor, id string, editedPhotos []string) (*domain.EditingView, error) {
	urls, err := photoURLs(editedPhotos, maxEditingPhotos)
	if err != nil {
		return nil, err
	}
	e, err := s.transition(ctx, actor, id, domain.RoleProvider, domain.EditingDelivered, func(e *domain.EditingRequest) error {
		e.EditedPhotos = urls
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.done(ctx, events.EditingDelivered, e), nil
}

func (s *editingService) Approve(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error) {
	e, err := s.transition(ctx, actor, id, domain.RoleCustomer, domain.EditingCompleted, nil)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.ReleaseEditing(ctx, e); err != nil {
		logger.ErrorContext(ctx, "Failed to release editing earning", "error", err, "editing_request_id", e.ID)
	}
	return s.done(ctx, events.EditingApproved, e), nil
}

func (s *editingService) RequestRevision(ctx context.Context, actor domain.Actor, id string, notes string) (*domain.EditingView, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, apperr.Validation("revision notes are required")
	}
	if len(notes) > domain.MaxNoteLength {
		return nil, apperr.Validation("notes must be at most %d characters", domain.MaxNoteLength)
	}
	limit := s.config.Editing.MaxRevisions
	e, err := s.transition(ctx, actor, id, domain.RoleCustomer, domain.EditingRevisionRequested, func(e *domain.EditingRequest) error {
		if limit > 0 && e.RevisionCount >= limit {
			return apperr.Conflict("revision limit of %d reached", limit)
		}
		e.RevisionCount++
		e.RevisionNotes = notes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.done(ctx, events.EditingRevisionRequested, e), nil
}

func (s *editingService) Decline(ctx context.Context, actor domain.Actor, id string, reason string) (*domain.EditingView, error) {
	var wasAccepted bool
	e, err := s.transition(ctx, actor, id, domain.RoleProvider, domain.EditingDeclined, func(e *domain.EditingRequest) error {
		wasAccepted = e.Status == domain.EditingAccepted
		if err := s.gateway.Release(ctx, e.PaymentIntentID, paymentKey("editing", e.ID, "release")); err != nil {
			return apperr.External(err, "payment release failed")
		}
		e.DeclineReason = strings.TrimSpace(reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wasAccepted {
		if err := s.ledger.DropEditing(ctx, e.ID); err != nil {
			logger.ErrorContext(ctx, "Failed to drop editing earning", "error", err, "editing_request_id", e.ID)
		}
	}
	return s.done(ctx, events.EditingDeclined, e), nil
}
