package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

// partyRole resolves the caller's side of a booking. Admins may read any
// booking and get an empty role.
func partyRole(b *domain.Booking, actor domain.Actor) (domain.Role, error) {
	if role, ok := b.RoleOf(actor.UserID); ok {
		return role, nil
	}
	if actor.Admin {
		return "", nil
	}
	return "", apperr.PermissionDenied("not a party to booking %s", b.ID)
}

func requireRole(b *domain.Booking, actor domain.Actor, want domain.Role) error {
	if role, ok := b.RoleOf(actor.UserID); ok && role == want {
		return nil
	}
	return apperr.PermissionDenied("only the %s may do this", want)
}

// publish is best effort; a failed event never fails the operation.
func publish(ctx context.Context, bus events.Publisher, subject string, payload any) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, subject, payload); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}

func bookingEvent(b *domain.Booking, from domain.BookingStatus, reason string, at time.Time) events.BookingStatusEvent {
	return events.BookingStatusEvent{
		BookingID:  b.ID,
		CustomerID: b.CustomerID,
		ProviderID: b.ProviderID,
		From:       string(from),
		To:         string(b.Status),
		Reason:     reason,
		OccurredAt: at,
	}
}

func editingEvent(e *domain.EditingRequest, at time.Time) events.EditingEvent {
	return events.EditingEvent{
		EditingRequestID: e.ID,
		BookingID:        e.BookingID,
		Status:           string(e.Status),
		RevisionCount:    e.RevisionCount,
		OccurredAt:       at,
	}
}

// photoURLs trims, drops blanks and duplicates, and rejects anything that is
// not an absolute http(s) URL.
func photoURLs(in []string, max int) ([]string, error) {
	urls := lo.Uniq(lo.Filter(lo.Map(in, func(s string, _ int) string {
		return strings.TrimSpace(s)
	}), func(s string, _ int) bool { return s != "" }))

	if len(urls) == 0 {
		return nil, apperr.Validation("at least one photo url is required")
	}
	if len(urls) > max {
		return nil, apperr.Validation("at most %d photos are allowed", max)
	}
	if bad, found := lo.Find(urls, func(s string) bool { return !validPhotoURL(s) }); found {
		return nil, apperr.Validation("invalid photo url %q", bad)
	}
	return urls, nil
}

func validPhotoURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func paymentKey(kind, id, op string) string {
	return kind + ":" + id + ":" + op
}
