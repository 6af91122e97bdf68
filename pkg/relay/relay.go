// Package relay is the device half of live location sharing. A Sharer
// publishes the device's own fixes and polls the counterparty's latest
// position while a booking's coordination window is open.
package relay

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/diagnosis/lenslink/pkg/schedule"
)

// ErrPermissionDenied is returned by a LocationSource when the device
// refuses location access.
var ErrPermissionDenied = errors.New("location permission denied")

// StatusConfirmed is the only booking status during which sharing runs.
const StatusConfirmed = "confirmed"

type Fix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Position struct {
	Role      string    `json:"role"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Counterparty struct {
	Active   bool             `json:"active"`
	Role     string           `json:"role"`
	Position *Position        `json:"position"`
	Window   *schedule.Window `json:"window"`
}

// Session is the slice of a booking the relay needs to gate itself.
type Session struct {
	Status string           `json:"status"`
	Window *schedule.Window `json:"window"`
}

// Open reports whether sharing should run at now.
func (s Session) Open(now time.Time) bool {
	return s.Status == StatusConfirmed && s.Window != nil && s.Window.CoordinationOpen(now)
}

// Transport talks to the sessions API on behalf of one authenticated party.
type Transport interface {
	Session(ctx context.Context, bookingID string) (*Session, error)
	Publish(ctx context.Context, bookingID string, fix Fix) error
	Clear(ctx context.Context, bookingID string) error
	Counterparty(ctx context.Context, bookingID string) (*Counterparty, error)
}

// LocationSource streams device fixes to onFix until ctx is done. It
// returns ErrPermissionDenied (possibly wrapped) when access is refused,
// either up front or mid-stream.
type LocationSource interface {
	Watch(ctx context.Context, onFix func(Fix)) error
}

const earthRadiusMeters = 6371008.8

// Distance is the great-circle distance between two fixes in meters.
func Distance(a, b Fix) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
