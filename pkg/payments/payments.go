// Package payments is the boundary to the payment processor. The sessions
// service only ever authorizes, captures and releases; how money moves is the
// processor's business.
package payments

import "context"

type Authorization struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type AuthorizeRequest struct {
	Amount         int64 // minor units
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Gateway calls must be safe to repeat with the same idempotency key.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	Capture(ctx context.Context, intentID, idempotencyKey string) error
	// Release gives the money back: it voids an uncaptured authorization or
	// refunds a captured one. Releasing an already released intent is a no-op.
	Release(ctx context.Context, intentID, idempotencyKey string) error
}
