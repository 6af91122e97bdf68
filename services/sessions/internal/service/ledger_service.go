package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/config"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
	"github.com/diagnosis/lenslink/services/sessions/internal/repository"
)

// LedgerService projects bookings and editing requests into provider
// earnings. It never moves money; paid only ever reflects an external payout.
type LedgerService interface {
	RecordSessionBillable(ctx context.Context, b *domain.Booking) error
	ReleaseSession(ctx context.Context, b *domain.Booking) error
	DropSession(ctx context.Context, bookingID string) error
	RecordEditingBillable(ctx context.Context, e *domain.EditingRequest) error
	ReleaseEditing(ctx context.Context, e *domain.EditingRequest) error
	DropEditing(ctx context.Context, editingRequestID string) error
	MarkPaid(ctx context.Context, earningID, payoutRef string) (*domain.Earning, error)
	HandlePayout(ctx context.Context, msg *events.Message) error
	ListEarnings(ctx context.Context, providerID string, status *domain.EarningStatus, limit, offset int) (*domain.EarningsSummary, error)
	// Reconcile repairs earnings whose post-commit update was lost and
	// returns how many it fixed.
	Reconcile(ctx context.Context) (int, error)
}

const payoutClaimTTL = 30 * 24 * time.Hour

type ledgerService struct {
	earningRepo     repository.EarningRepository
	idempotencyRepo repository.IdempotencyRepository
	eventBus        events.Publisher
	config          *config.Config
	now             func() time.Time
}

func NewLedgerService(
	earningRepo repository.EarningRepository,
	idempotencyRepo repository.IdempotencyRepository,
	eventBus events.Publisher,
	config *config.Config,
	now func() time.Time,
) LedgerService {
	if now == nil {
		now = time.Now
	}
	return &ledgerService{
		earningRepo:     earningRepo,
		idempotencyRepo: idempotencyRepo,
		eventBus:        eventBus,
		config:          config,
		now:             now,
	}
}

func (s *ledgerService) RecordSessionBillable(ctx context.Context, b *domain.Booking) error {
	e := &domain.Earning{
		ID:          uuid.NewString(),
		BookingID:   b.ID,
		ProviderID:  b.ProviderID,
		Source:      domain.SourceSession,
		Status:      domain.EarningHeld,
		Currency:    b.Currency,
		GrossAmount: b.SubtotalAmount,
		PlatformFee: b.PlatformFee,
		NetAmount:   b.SubtotalAmount - b.PlatformFee,
	}
	return s.create(ctx, e)
}

func (s *ledgerService) RecordEditingBillable(ctx context.Context, r *domain.EditingRequest) error {
	e := domain.NewEarning(domain.SourceEditing, r.BookingID, r.ProviderID, r.Currency, r.BaseAmount, s.config.Sessions.CommissionPercent)
	e.ID = uuid.NewString()
	e.EditingRequestID = &r.ID
	return s.create(ctx, e)
}

func (s *ledgerService) create(ctx context.Context, e *domain.Earning) error {
	created, err := s.earningRepo.Create(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to create earning: %w", err)
	}
	if created {
		s.publishEarning(ctx, events.EarningHeld, e)
	}
	return nil
}

func (s *ledgerService) ReleaseSession(ctx context.Context, b *domain.Booking) error {
	e, err := s.earningRepo.GetForSession(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("failed to get session earning: %w", err)
	}
	if e == nil {
		if err := s.RecordSessionBillable(ctx, b); err != nil {
			return err
		}
		if e, err = s.earningRepo.GetForSession(ctx, b.ID); err != nil {
			return fmt.Errorf("failed to get session earning: %w", err)
		}
		if e == nil {
			return fmt.Errorf("session earning missing after create")
		}
	}
	return s.release(ctx, e)
}

func (s *ledgerService) ReleaseEditing(ctx context.Context, r *domain.EditingRequest) error {
	e, err := s.earningRepo.GetForEditing(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("failed to get editing earning: %w", err)
	}
	if e == nil {
		if err := s.RecordEditingBillable(ctx, r); err != nil {
			return err
		}
		if e, err = s.earningRepo.GetForEditing(ctx, r.ID); err != nil {
			return fmt.Errorf("failed to get editing earning: %w", err)
		}
		if e == nil {
			return fmt.Errorf("editing earning missing after create")
		}
	}
	return s.release(ctx, e)
}

// release moves held to pending. An earning already past held is left alone.
func (s *ledgerService) release(ctx context.Context, e *domain.Earning) error {
	if e.Status != domain.EarningHeld {
		return nil
	}
	updated, err := s.earningRepo.Transition(ctx, e.ID, domain.EarningHeld, domain.EarningPending, "", s.now())
	if err != nil {
		return fmt.Errorf("failed to release earning: %w", err)
	}
	if updated != nil {
		s.publishEarning(ctx, events.EarningAvailable, updated)
	}
	return nil
}

func (s *ledgerService) DropSession(ctx context.Context, bookingID string) error {
	e, err := s.earningRepo.GetForSession(ctx, bookingID)
	if err != nil || e == nil {
		return err
	}
	return s.earningRepo.DeleteHeld(ctx, e.ID)
}

func (s *ledgerService) DropEditing(ctx context.Context, editingRequestID string) error {
	e, err := s.earningRepo.GetForEditing(ctx, editingRequestID)
	if err != nil || e == nil {
		return err
	}
	return s.earningRepo.DeleteHeld(ctx, e.ID)
}

func (s *ledgerService) MarkPaid(ctx context.Context, earningID, payoutRef string) (*domain.Earning, error) {
	updated, err := s.earningRepo.Transition(ctx, earningID, domain.EarningPending, domain.EarningPaid, payoutRef, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark earning paid: %w", err)
	}
	if updated == nil {
		current, err := s.earningRepo.GetByID(ctx, earningID)
		if err != nil {
			return nil, fmt.Errorf("failed to get earning: %w", err)
		}
		if current == nil {
			return nil, apperr.NotFound("earning %s not found", earningID)
		}
		return nil, apperr.Conflict("earning %s is %s, only pending earnings can be paid", earningID, current.Status)
	}

	s.publishEarning(ctx, events.EarningPaid, updated)
	logger.InfoContext(ctx, "Earning paid", "earning_id", updated.ID, "payout_ref", payoutRef)
	return updated, nil
}

// HandlePayout applies a payout reported by the payments service. A payout
// already applied is acknowledged without effect.
func (s *ledgerService) HandlePayout(ctx context.Context, msg *events.Message) error {
	var evt events.PayoutCompletedEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return apperr.Validation("malformed payout event: %v", err)
	}
	if evt.EarningID == "" || evt.TransferID == "" {
		return apperr.Validation("payout event needs earning_id and transfer_id")
	}

	key := "payout:" + evt.TransferID
	first, err := s.idempotencyRepo.Claim(ctx, key, payoutClaimTTL)
	if err != nil {
		return fmt.Errorf("failed to claim payout: %w", err)
	}
	if !first {
		logger.DebugContext(ctx, "Payout already applied", "transfer_id", evt.TransferID)
		return nil
	}

	if _, err := s.MarkPaid(ctx, evt.EarningID, evt.TransferID); err != nil {
		if !errors.Is(err, apperr.ErrConflict) && !errors.Is(err, apperr.ErrNotFound) {
			if fErr := s.idempotencyRepo.Forget(ctx, key); fErr != nil {
				logger.ErrorContext(ctx, "Failed to forget payout claim", "error", fErr, "transfer_id", evt.TransferID)
			}
		}
		return err
	}
	return nil
}

func (s *ledgerService) ListEarnings(ctx context.Context, providerID string, status *domain.EarningStatus, limit, offset int) (*domain.EarningsSummary, error) {
	earnings, err := s.earningRepo.ListByProvider(ctx, providerID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list earnings: %w", err)
	}
	totals, err := s.earningRepo.Totals(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to total earnings: %w", err)
	}
	if earnings == nil {
		earnings = []domain.Earning{}
	}
	return &domain.EarningsSummary{
		Earnings: earnings,
		Held:     totals[domain.EarningHeld],
		Pending:  totals[domain.EarningPending],
		Paid:     totals[domain.EarningPaid],
	}, nil
}

func (s *ledgerService) Reconcile(ctx context.Context) (int, error) {
	fixed := 0

	missing, err := s.earningRepo.BillableWithoutEarning(ctx, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to find bookings without earnings: %w", err)
	}
	for i := range missing {
		b := &missing[i]
		var err error
		if b.Status == domain.BookingCompleted {
			err = s.ReleaseSession(ctx, b)
		} else {
			err = s.RecordSessionBillable(ctx, b)
		}
		if err != nil {
			logger.ErrorContext(ctx, "Failed to repair session earning", "error", err, "booking_id", b.ID)
			continue
		}
		fixed++
	}

	edits, err := s.earningRepo.EditingWithoutEarning(ctx, 100)
	if err != nil {
		return fixed, fmt.Errorf("failed to find editing requests without earnings: %w", err)
	}
	for i := range edits {
		r := &edits[i]
		var err error
		if r.Status == domain.EditingCompleted {
			err = s.ReleaseEditing(ctx, r)
		} else {
			err = s.RecordEditingBillable(ctx, r)
		}
		if err != nil {
			logger.ErrorContext(ctx, "Failed to repair editing earning", "error", err, "editing_request_id", r.ID)
			continue
		}
		fixed++
	}

	held, err := s.earningRepo.HeldForCompleted(ctx, 100)
	if err != nil {
		return fixed, fmt.Errorf("failed to find held earnings: %w", err)
	}
	for i := range held {
		if err := s.release(ctx, &held[i]); err != nil {
			logger.ErrorContext(ctx, "Failed to release held earning", "error", err, "earning_id", held[i].ID)
			continue
		}
		fixed++
	}
	return fixed, nil
}

func (s *ledgerService) publishEarning(ctx context.Context, subject string, e *domain.Earning) {
	publish(ctx, s.eventBus, subject, events.EarningEvent{
		EarningID:  e.ID,
		BookingID:  e.BookingID,
		ProviderID: e.ProviderID,
		Status:     string(e.Status),
		NetAmount:  e.NetAmount,
		OccurredAt: s.now(),
	})
}
