package domain

import (
	"time"

	"github.com/diagnosis/lenslink/pkg/schedule"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingDeclined  BookingStatus = "declined"
	BookingExpired   BookingStatus = "expired"
)

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled, BookingDeclined, BookingExpired:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

// Terminal statuses are absorbing.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingDeclined || s == BookingExpired
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingDeclined, BookingExpired, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingCancelled},
}

func CanTransition(from, to BookingStatus) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Phase refines a booking's status with wall-clock time. It is never stored.
type Phase string

const (
	PhasePending          Phase = "pending"
	PhaseUpcoming         Phase = "upcoming"
	PhaseInProgress       Phase = "in_progress"
	PhaseAwaitingDelivery Phase = "awaiting_delivery"
	PhaseCompleted        Phase = "completed"
	PhaseTerminal         Phase = "terminal"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

func (r Role) Counterparty() Role {
	if r == RoleCustomer {
		return RoleProvider
	}
	return RoleCustomer
}

type MeetingPoint struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Note      string    `json:"note"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Booking struct {
	ID               string        `json:"id"`
	CustomerID       string        `json:"customer_id"`
	ProviderID       string        `json:"provider_id"`
	Status           BookingStatus `json:"status"`
	SessionDate      time.Time     `json:"session_date"`
	SessionTime      string        `json:"session_time"`
	DurationHours    float64       `json:"duration_hours"`
	Timezone         string        `json:"timezone"`
	LocationLabel    string        `json:"location_label"`
	CustomerNotes    string        `json:"customer_notes,omitempty"`
	Currency         string        `json:"currency"`
	SubtotalAmount   int64         `json:"subtotal_amount"`
	ServiceFee       int64         `json:"service_fee"`
	TotalAmount      int64         `json:"total_amount"`
	PlatformFee      int64         `json:"platform_fee"`
	ProviderEarnings int64         `json:"provider_earnings"`
	PaymentIntentID  string        `json:"-"`
	MeetingPoint     *MeetingPoint `json:"meeting_point,omitempty"`
	DeliveredPhotos  []string      `json:"delivered_photos,omitempty"`
	RespondedAt      *time.Time    `json:"responded_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (b *Booking) location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Window recomputes the session window on every call; it is never cached.
func (b *Booking) Window() (schedule.Window, bool) {
	return schedule.ComputeWindow(b.SessionDate, b.SessionTime, b.DurationHours, b.location())
}

// Phase derives the lifecycle phase at now. A confirmed booking whose
// window cannot be computed reads as upcoming.
func (b *Booking) Phase(now time.Time) Phase {
	switch b.Status {
	case BookingPending:
		return PhasePending
	case BookingCompleted:
		return PhaseCompleted
	case BookingConfirmed:
		w, ok := b.Window()
		switch {
		case !ok || !w.Started(now):
			return PhaseUpcoming
		case w.InSession(now):
			return PhaseInProgress
		default:
			return PhaseAwaitingDelivery
		}
	default:
		return PhaseTerminal
	}
}

// CoordinationActive reports whether live location exchange is allowed.
func (b *Booking) CoordinationActive(now time.Time) bool {
	if b.Status != BookingConfirmed {
		return false
	}
	w, ok := b.Window()
	return ok && w.CoordinationOpen(now)
}

// RoleOf reports which side of the booking userID is on.
func (b *Booking) RoleOf(userID string) (Role, bool) {
	switch userID {
	case b.CustomerID:
		return RoleCustomer, true
	case b.ProviderID:
		return RoleProvider, true
	default:
		return "", false
	}
}

// Stale reports whether a pending request can no longer be answered.
func (b *Booking) Stale(now time.Time, deadline time.Duration) bool {
	if b.Status != BookingPending {
		return false
	}
	if !now.Before(b.CreatedAt.Add(deadline)) {
		return true
	}
	w, ok := b.Window()
	return ok && w.Started(now)
}

type CreateBookingReq struct {
	ProviderID     string  `json:"provider_id"`
	SessionDate    string  `json:"session_date"`
	SessionTime    string  `json:"session_time"`
	DurationHours  float64 `json:"duration_hours"`
	Timezone       string  `json:"timezone"`
	LocationLabel  string  `json:"location_label"`
	CustomerNotes  string  `json:"customer_notes"`
	SubtotalAmount int64   `json:"subtotal_amount"`
}

type RespondReq struct {
	Decision string `json:"decision"` // accept | decline
	Reason   string `json:"reason"`
}

type CancelReq struct {
	Reason string `json:"reason"`
}

type DeliverPhotosReq struct {
	PhotoURLs []string `json:"photo_urls"`
}

type MeetingPointReq struct {
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
	Note string   `json:"note"`
}

// BookingView is what readers get: the stored booking plus derived state.
type BookingView struct {
	Booking
	Phase         Phase            `json:"phase"`
	Window        *schedule.Window `json:"window"`
	ViewerRole    Role             `json:"viewer_role,omitempty"`
	PaymentSecret string           `json:"payment_client_secret,omitempty"`
}

func NewBookingView(b *Booking, now time.Time, viewer Role) BookingView {
	v := BookingView{Booking: *b, Phase: b.Phase(now), ViewerRole: viewer}
	if w, ok := b.Window(); ok {
		v.Window = &w
	}
	return v
}

// Business rules
const (
	MaxDurationHours  = 12
	MaxNoteLength     = 500
	MaxDeliveredPhoto = 500
)
