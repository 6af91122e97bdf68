package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/lenslink/internal/http/response"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

// ListEarnings returns the calling photographer's earnings with totals
func (h *Handlers) ListEarnings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var status *domain.EarningStatus
	switch v := domain.EarningStatus(r.URL.Query().Get("status")); v {
	case "":
	case domain.EarningHeld, domain.EarningPending, domain.EarningPaid:
		status = &v
	default:
		response.BadRequest(w, "Invalid status parameter")
		return
	}

	limit, offset := parsePagination(r)
	summary, err := h.ledgerService.ListEarnings(r.Context(), actor.UserID, status, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// MarkEarningPaid is the manual payout path for admins
func (h *Handlers) MarkEarningPaid(w http.ResponseWriter, r *http.Request) {
	var req domain.PayoutReq
	if !decode(w, r, &req) {
		return
	}
	if req.PayoutRef == "" {
		response.BadRequest(w, "payout_ref is required")
		return
	}

	earning, err := h.ledgerService.MarkPaid(r.Context(), chi.URLParam(r, "id"), req.PayoutRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, earning)
}
