package domain

import "time"

type EditingStatus string

const (
	EditingRequested         EditingStatus = "requested"
	EditingAccepted          EditingStatus = "accepted"
	EditingInProgress        EditingStatus = "in_progress"
	EditingDelivered         EditingStatus = "delivered"
	EditingRevisionRequested EditingStatus = "revision_requested"
	EditingCompleted         EditingStatus = "completed"
	EditingDeclined          EditingStatus = "declined"
)

// Open requests block a new request on the same booking.
func (s EditingStatus) Open() bool {
	return s != EditingCompleted && s != EditingDeclined
}

// Billable requests have been accepted and captured, so they carry an
// earning.
func (s EditingStatus) Billable() bool {
	switch s {
	case EditingAccepted, EditingInProgress, EditingDelivered, EditingRevisionRequested, EditingCompleted:
		return true
	}
	return false
}

var editingTransitions = map[EditingStatus][]EditingStatus{
	EditingRequested:         {EditingAccepted, EditingDeclined},
	EditingAccepted:          {EditingInProgress, EditingDeclined},
	EditingInProgress:        {EditingDelivered},
	EditingRevisionRequested: {EditingDelivered},
	EditingDelivered:         {EditingCompleted, EditingRevisionRequested},
}

func CanTransitionEditing(from, to EditingStatus) bool {
	for _, s := range editingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PricingModel string

const (
	PricingFlat     PricingModel = "flat"
	PricingPerPhoto PricingModel = "per_photo"
)

type EditingRequest struct {
	ID              string        `json:"id"`
	BookingID       string        `json:"booking_id"`
	CustomerID      string        `json:"customer_id"`
	ProviderID      string        `json:"provider_id"`
	Status          EditingStatus `json:"status"`
	PricingModel    PricingModel  `json:"pricing_model"`
	Rate            int64         `json:"rate"`
	PhotoCount      int           `json:"photo_count"`
	BaseAmount      int64         `json:"base_amount"`
	ServiceFee      int64         `json:"service_fee"`
	TotalAmount     int64         `json:"total_amount"`
	Currency        string        `json:"currency"`
	Instructions    string        `json:"instructions,omitempty"`
	SourcePhotos    []string      `json:"source_photos"`
	EditedPhotos    []string      `json:"edited_photos"`
	RevisionCount   int           `json:"revision_count"`
	RevisionNotes   string        `json:"revision_notes,omitempty"`
	DeclineReason   string        `json:"decline_reason,omitempty"`
	PaymentIntentID string        `json:"-"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// OriginalsAvailable is false for older requests stored without source
// photos; callers show "not available" instead of failing.
func (e *EditingRequest) OriginalsAvailable() bool {
	return len(e.SourcePhotos) > 0
}

type CreateEditingReq struct {
	PricingModel PricingModel `json:"pricing_model"`
	Rate         int64        `json:"rate"`
	SourcePhotos []string     `json:"source_photos"`
	Instructions string       `json:"instructions"`
}

type DeliverEditsReq struct {
	EditedPhotos []string `json:"edited_photos"`
}

type RevisionReq struct {
	Notes string `json:"notes"`
}

type DeclineEditingReq struct {
	Reason string `json:"reason"`
}

type EditingView struct {
	EditingRequest
	OriginalsAvailable bool   `json:"originals_available"`
	PaymentSecret      string `json:"payment_client_secret,omitempty"`
}

func NewEditingView(e *EditingRequest) EditingView {
	return EditingView{EditingRequest: *e, OriginalsAvailable: e.OriginalsAvailable()}
}
