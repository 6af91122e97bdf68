package domain

import (
	"time"

	"github.com/diagnosis/lenslink/pkg/schedule"
)

// LivePosition is the latest fix for one side of a booking. Only one exists
// per (booking, role) and it is never historized.
type LivePosition struct {
	BookingID string    `json:"booking_id"`
	Role      Role      `json:"role"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PublishLocationReq struct {
	Lat        *float64   `json:"lat"`
	Lng        *float64   `json:"lng"`
	Accuracy   float64    `json:"accuracy"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// CounterpartyLocation is what a party sees of the other side. Position is
// nil when the other side is not sharing.
type CounterpartyLocation struct {
	Active   bool             `json:"active"`
	Role     Role             `json:"role"`
	Position *LivePosition    `json:"position"`
	Window   *schedule.Window `json:"window"`
}

func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
