package domain

import "time"

type EarningStatus string

const (
	EarningHeld    EarningStatus = "held"
	EarningPending EarningStatus = "pending"
	EarningPaid    EarningStatus = "paid"
)

type EarningSource string

const (
	SourceSession EarningSource = "session"
	SourceEditing EarningSource = "editing"
)

type Earning struct {
	ID               string        `json:"id"`
	BookingID        string        `json:"booking_id"`
	EditingRequestID *string       `json:"editing_request_id,omitempty"`
	ProviderID       string        `json:"provider_id"`
	Source           EarningSource `json:"source"`
	Status           EarningStatus `json:"status"`
	Currency         string        `json:"currency"`
	GrossAmount      int64         `json:"gross_amount"`
	PlatformFee      int64         `json:"platform_fee"`
	NetAmount        int64         `json:"net_amount"`
	PayoutRef        string        `json:"payout_ref,omitempty"`
	AvailableAt      *time.Time    `json:"available_at,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewEarning splits gross into commission and net. net = gross - fee.
func NewEarning(source EarningSource, bookingID, providerID, currency string, gross, commissionPercent int64) *Earning {
	fee := PercentOf(gross, commissionPercent)
	return &Earning{
		BookingID:   bookingID,
		ProviderID:  providerID,
		Source:      source,
		Status:      EarningHeld,
		Currency:    currency,
		GrossAmount: gross,
		PlatformFee: fee,
		NetAmount:   gross - fee,
	}
}

type EarningsSummary struct {
	Earnings []Earning `json:"earnings"`
	Held     int64     `json:"held"`
	Pending  int64     `json:"pending"`
	Paid     int64     `json:"paid"`
}

type PayoutReq struct {
	PayoutRef string `json:"payout_ref"`
}
