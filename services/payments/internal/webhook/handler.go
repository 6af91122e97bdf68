// Package webhook receives Stripe events and turns the ones the platform
// cares about into internal bus events.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/diagnosis/lenslink/internal/http/response"
	"github.com/diagnosis/lenslink/pkg/events"
	"github.com/diagnosis/lenslink/pkg/logger"
)

const (
	maxPayloadBytes = 65536
	transferCreated = "transfer.created"
	earningIDKey    = "earning_id"
)

type Handler struct {
	secret   string
	eventBus events.Publisher
}

func NewHandler(secret string, eventBus events.Publisher) *Handler {
	return &Handler{secret: secret, eventBus: eventBus}
}

// ServeHTTP verifies the Stripe signature and forwards payouts. Events that
// are not payouts for an earning are acknowledged and dropped. A failed
// publish answers 500 so Stripe retries; the ledger dedupes by transfer id.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		response.BadRequest(w, "Unreadable payload")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		logger.WarnContext(r.Context(), "Rejected webhook", "error", err)
		response.BadRequest(w, "Invalid signature")
		return
	}

	if string(event.Type) != transferCreated {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var tr stripe.Transfer
	if err := json.Unmarshal(event.Data.Raw, &tr); err != nil {
		response.BadRequest(w, "Malformed transfer")
		return
	}
	earningID := tr.Metadata[earningIDKey]
	if earningID == "" {
		logger.DebugContext(r.Context(), "Transfer without earning, ignoring", "transfer_id", tr.ID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	paidAt := time.Now().UTC()
	if tr.Created > 0 {
		paidAt = time.Unix(tr.Created, 0).UTC()
	}
	err = h.eventBus.Publish(r.Context(), events.PayoutCompleted, events.PayoutCompletedEvent{
		EarningID:  earningID,
		TransferID: tr.ID,
		Amount:     tr.Amount,
		Currency:   string(tr.Currency),
		PaidAt:     paidAt,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to publish payout", "transfer_id", tr.ID, "error", err)
		response.InternalError(w, "Failed to record payout")
		return
	}

	logger.InfoContext(r.Context(), "Payout forwarded", "transfer_id", tr.ID, "earning_id", earningID)
	w.WriteHeader(http.StatusNoContent)
}
