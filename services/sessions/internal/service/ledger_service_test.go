package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

func payoutMessage(t *testing.T, earningID, transferID string) *events.Message {
	t.Helper()
	data, err := json.Marshal(events.PayoutCompletedEvent{
		EarningID:  earningID,
		TransferID: transferID,
		Amount:     8000,
		Currency:   "usd",
		PaidAt:     baseTime,
	})
	require.NoError(t, err)
	return &events.Message{Subject: events.PayoutCompleted, Data: data, ID: "evt-1"}
}

func TestEarningNeverSkipsToPaid(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := confirmedBooking(t, h)

	held, _ := h.earnings.GetForSession(ctx, id)
	require.NotNil(t, held)

	_, err := h.ledger.MarkPaid(ctx, held.ID, "tr_1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	h.clock.Set(sessionEnd)
	_, err = h.booking.DeliverPhotos(ctx, provider, id, []string{"https://cdn.example.com/a.jpg"})
	require.NoError(t, err)

	paid, err := h.ledger.MarkPaid(ctx, held.ID, "tr_1")
	require.NoError(t, err)
	assert.Equal(t, domain.EarningPaid, paid.Status)
	assert.Equal(t, "tr_1", paid.PayoutRef)
	assert.NotNil(t, paid.PaidAt)

	_, err = h.ledger.MarkPaid(ctx, held.ID, "tr_2")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = h.ledger.MarkPaid(ctx, "missing", "tr_3")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHandlePayoutIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := completedBooking(t, h)
	e, _ := h.earnings.GetForSession(ctx, id)
	require.Equal(t, domain.EarningPending, e.Status)

	require.NoError(t, h.ledger.HandlePayout(ctx, payoutMessage(t, e.ID, "tr_42")))
	require.NoError(t, h.ledger.HandlePayout(ctx, payoutMessage(t, e.ID, "tr_42")))

	got, _ := h.earnings.GetByID(ctx, e.ID)
	assert.Equal(t, domain.EarningPaid, got.Status)
	assert.Equal(t, "tr_42", got.PayoutRef)

	err := h.ledger.HandlePayout(ctx, &events.Message{Data: []byte("{")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	err = h.ledger.HandlePayout(ctx, payoutMessage(t, "", "tr_43"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListEarningsTotals(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	completed := completedBooking(t, h)

	h.clock.Set(baseTime)
	confirmedBooking(t, h)

	summary, err := h.ledger.ListEarnings(ctx, provider.UserID, nil, 20, 0)
	require.NoError(t, err)
	assert.Len(t, summary.Earnings, 2)
	assert.Equal(t, int64(8000), summary.Held)
	assert.Equal(t, int64(8000), summary.Pending)
	assert.Zero(t, summary.Paid)

	pending := domain.EarningPending
	only, err := h.ledger.ListEarnings(ctx, provider.UserID, &pending, 20, 0)
	require.NoError(t, err)
	require.Len(t, only.Earnings, 1)
	assert.Equal(t, completed, only.Earnings[0].BookingID)

	empty, err := h.ledger.ListEarnings(ctx, "nobody", nil, 20, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty.Earnings)
	assert.Empty(t, empty.Earnings)
}

func TestReconcileRepairsLostUpdates(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	confirmed := domain.Booking{
		ID: "b-confirmed", CustomerID: customer.UserID, ProviderID: provider.UserID,
		Status: domain.BookingConfirmed, SubtotalAmount: 10000, PlatformFee: 2000, Currency: "usd",
	}
	completed := confirmed
	completed.ID = "b-completed"
	completed.Status = domain.BookingCompleted
	h.bookings.put(confirmed)
	h.bookings.put(completed)

	stuck := confirmed
	stuck.ID = "b-stuck"
	h.bookings.put(stuck)
	require.NoError(t, h.ledger.RecordSessionBillable(ctx, &stuck))
	stuck.Status = domain.BookingCompleted
	h.bookings.put(stuck)

	fixed, err := h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, fixed)

	for id, want := range map[string]domain.EarningStatus{
		"b-confirmed": domain.EarningHeld,
		"b-completed": domain.EarningPending,
		"b-stuck":     domain.EarningPending,
	} {
		e, _ := h.earnings.GetForSession(ctx, id)
		require.NotNil(t, e, id)
		assert.Equal(t, want, e.Status, id)
	}

	fixed, err = h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
}

func TestReconcileRepairsEditingEarnings(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	editing := func(id, bookingID string, status domain.EditingStatus) *domain.EditingRequest {
		e := &domain.EditingRequest{
			ID: id, BookingID: bookingID, CustomerID: customer.UserID, ProviderID: provider.UserID,
			Status: status, BaseAmount: 5000, Currency: "usd",
		}
		require.NoError(t, h.editing.Create(ctx, e))
		return e
	}

	// recorded at accept, but the release on approve was lost
	approved := editing("e-approved", "b-1", domain.EditingCompleted)
	require.NoError(t, h.ledger.RecordEditingBillable(ctx, approved))

	editing("e-in-progress", "b-2", domain.EditingInProgress)
	editing("e-completed", "b-3", domain.EditingCompleted)
	editing("e-requested", "b-4", domain.EditingRequested)

	fixed, err := h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, fixed)

	for id, want := range map[string]domain.EarningStatus{
		"e-approved":    domain.EarningPending,
		"e-in-progress": domain.EarningHeld,
		"e-completed":   domain.EarningPending,
	} {
		e, _ := h.earnings.GetForEditing(ctx, id)
		require.NotNil(t, e, id)
		assert.Equal(t, want, e.Status, id)
		assert.Equal(t, domain.SourceEditing, e.Source, id)
	}
	unbilled, _ := h.earnings.GetForEditing(ctx, "e-requested")
	assert.Nil(t, unbilled)

	fixed, err = h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
}
