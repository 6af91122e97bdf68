package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/schedule"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func fix(lat, lng float64) *domain.PublishLocationReq {
	return &domain.PublishLocationReq{Lat: ptr(lat), Lng: ptr(lng), Accuracy: 8}
}

func TestLocationSharingFollowsCoordinationWindow(t *testing.T) {
	h := newHarness()
	id := confirmedBooking(t, h)
	opens := sessionStart.Add(-schedule.CoordinationLead)

	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"an hour early", sessionStart.Add(-time.Hour), false},
		{"just before opening", opens.Add(-time.Second), false},
		{"at opening", opens, true},
		{"in session", sessionStart.Add(time.Hour), true},
		{"last second", sessionEnd.Add(-time.Second), true},
		{"at end", sessionEnd, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.clock.Set(tt.at)
			_, err := h.location.Publish(context.Background(), customer, id, fix(37.77, -122.45))
			cp, cpErr := h.location.Counterparty(context.Background(), provider, id)
			require.NoError(t, cpErr)

			if tt.open {
				assert.NoError(t, err)
				assert.True(t, cp.Active)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrConflict)
			assert.False(t, cp.Active)
			assert.Nil(t, cp.Position)
		})
	}
}

func TestLocationRequiresConfirmedBooking(t *testing.T) {
	h := newHarness()
	v := createBooking(t, h)
	h.clock.Set(sessionStart)

	_, err := h.location.Publish(context.Background(), customer, v.ID, fix(1, 1))
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCounterpartySeesLatestPosition(t *testing.T) {
	h := newHarness()
	id := confirmedBooking(t, h)
	h.clock.Set(sessionStart.Add(-5 * time.Minute))

	_, err := h.location.Publish(context.Background(), provider, id, fix(37.0, -122.0))
	require.NoError(t, err)
	h.clock.Set(sessionStart.Add(-4 * time.Minute))
	_, err = h.location.Publish(context.Background(), provider, id, fix(37.1, -122.1))
	require.NoError(t, err)

	cp, err := h.location.Counterparty(context.Background(), customer, id)
	require.NoError(t, err)
	assert.True(t, cp.Active)
	assert.Equal(t, domain.RoleProvider, cp.Role)
	require.NotNil(t, cp.Position)
	assert.Equal(t, 37.1, cp.Position.Lat)
	require.NotNil(t, cp.Window)

	// the customer is not sharing
	cp, err = h.location.Counterparty(context.Background(), provider, id)
	require.NoError(t, err)
	assert.True(t, cp.Active)
	assert.Nil(t, cp.Position)
}

func TestOlderFixLosesToNewer(t *testing.T) {
	h := newHarness()
	id := confirmedBooking(t, h)
	now := sessionStart
	h.clock.Set(now)

	newer := fix(2, 2)
	newer.RecordedAt = ptr(now.Add(-time.Second))
	_, err := h.location.Publish(context.Background(), customer, id, newer)
	require.NoError(t, err)

	older := fix(1, 1)
	older.RecordedAt = ptr(now.Add(-10 * time.Second))
	got, err := h.location.Publish(context.Background(), customer, id, older)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Lat)

	cp, err := h.location.Counterparty(context.Background(), provider, id)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cp.Position.Lat)
}

func TestFutureFixIsClampedToServerTime(t *testing.T) {
	h := newHarness()
	id := confirmedBooking(t, h)
	h.clock.Set(sessionStart)

	req := fix(1, 1)
	req.RecordedAt = ptr(sessionStart.Add(time.Hour))
	got, err := h.location.Publish(context.Background(), customer, id, req)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(sessionStart))
}

func TestStopDeletesPositionAndRejectsLateFixes(t *testing.T) {
	h := newHarness()
	id := confirmedBooking(t, h)
	h.clock.Set(sessionStart)

	_, err := h.location.Publish(context.Background(), customer, id, fix(1, 1))
	require.NoError(t, err)

	h.clock.Set(sessionStart.Add(time.Second))
	require.NoError(t, h.location.Stop(context.Background(), customer, id))

	cp, err := h.location.Counterparty(context.Background(), provider, id)
	require.NoError(t, err)
	assert.Nil(t, cp.Position)

	// a fix taken before the stop that arrives after it
	late := fix(3, 3)
	late.RecordedAt = ptr(sessionStart.Add(500 * time.Millisecond))
	_, err = h.location.Publish(context.Background(), customer, id, late)
	require.NoError(t, err)
	cp, err = h.location.Counterparty(context.Background(), provider, id)
	require.NoError(t, err)
	assert.Nil(t, cp.Position)

	// sharing again later works
	h.clock.Set(sessionStart.Add(time.Minute))
	_, err = h.location.Publish(context.Background(), customer, id, fix(4, 4))
	require.NoError(t, err)
	cp, err = h.location.Counterparty(context.Background(), provider, id)
	require.NoError(t, err)
	require.NotNil(t, cp.Position)
	assert.Equal(t, 4.0, cp.Position.Lat)
}

func TestLocationValidationAndAccess(t *testing.T) {
	h := newHarness()
	id := confirmedBooking(t, h)
	h.clock.Set(sessionStart)

	_, err := h.location.Publish(context.Background(), customer, id, &domain.PublishLocationReq{Lat: ptr(1.0)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.location.Publish(context.Background(), customer, id, fix(91, 0))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.location.Publish(context.Background(), stranger, id, fix(1, 1))
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	_, err = h.location.Counterparty(context.Background(), adminUser, id)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.ErrorIs(t, h.location.Stop(context.Background(), stranger, id), apperr.ErrPermissionDenied)
}
