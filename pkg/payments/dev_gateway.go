package payments

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/diagnosis/lenslink/pkg/logger"
)

// DevGateway logs calls instead of talking to a processor. It is used when
// no Stripe key is configured so the stack runs locally.
type DevGateway struct {
	mu     sync.Mutex
	byKey  map[string]string
	states map[string]string
}

func NewDevGateway() *DevGateway {
	return &DevGateway{
		byKey:  make(map[string]string),
		states: make(map[string]string),
	}
}

func (d *DevGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byKey[req.IdempotencyKey]; ok {
		return &Authorization{IntentID: id}, nil
	}
	id := "pi_dev_" + uuid.NewString()
	d.byKey[req.IdempotencyKey] = id
	d.states[id] = "authorized"

	logger.InfoContext(ctx, "[DEV PAYMENTS] authorize", "intent_id", id, "amount", req.Amount, "currency", req.Currency)
	return &Authorization{IntentID: id, ClientSecret: id + "_secret"}, nil
}

func (d *DevGateway) Capture(ctx context.Context, intentID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.states[intentID] = "captured"
	logger.InfoContext(ctx, "[DEV PAYMENTS] capture", "intent_id", intentID)
	return nil
}

func (d *DevGateway) Release(ctx context.Context, intentID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior := d.states[intentID]
	d.states[intentID] = "released"
	logger.InfoContext(ctx, "[DEV PAYMENTS] release", "intent_id", intentID, "prior", prior)
	return nil
}

// State reports what the dev gateway last did with an intent.
func (d *DevGateway) State(intentID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[intentID]
}
