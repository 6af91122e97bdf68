package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/lenslink/internal/http/response"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

func (h *Handlers) CreateEditingRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.CreateEditingReq
	if !decode(w, r, &req) {
		return
	}

	view, err := h.editingService.Create(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetEditingRequest returns the latest request for a booking
func (h *Handlers) GetEditingRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	view, err := h.editingService.GetLatest(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type editingStep func(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error)

func (h *Handlers) editingTransition(step editingStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r)
		if !ok {
			response.Unauthorized(w, "Authentication required")
			return
		}

		view, err := step(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *Handlers) AcceptEditing(w http.ResponseWriter, r *http.Request) {
	h.editingTransition(h.editingService.Accept)(w, r)
}

func (h *Handlers) StartEditing(w http.ResponseWriter, r *http.Request) {
	h.editingTransition(h.editingService.Start)(w, r)
}

func (h *Handlers) ApproveEditing(w http.ResponseWriter, r *http.Request) {
	h.editingTransition(h.editingService.Approve)(w, r)
}

func (h *Handlers) DeliverEdits(w http.ResponseWriter, r *http.Request) {
	var req domain.DeliverEditsReq
	if !decode(w, r, &req) {
		return
	}
	h.editingTransition(func(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error) {
		return h.editingService.Deliver(ctx, actor, id, req.EditedPhotos)
	})(w, r)
}

func (h *Handlers) RequestRevision(w http.ResponseWriter, r *http.Request) {
	var req domain.RevisionReq
	if !decode(w, r, &req) {
		return
	}
	h.editingTransition(func(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error) {
		return h.editingService.RequestRevision(ctx, actor, id, req.Notes)
	})(w, r)
}

func (h *Handlers) DeclineEditing(w http.ResponseWriter, r *http.Request) {
	var req domain.DeclineEditingReq
	if !decode(w, r, &req) {
		return
	}
	h.editingTransition(func(ctx context.Context, actor domain.Actor, id string) (*domain.EditingView, error) {
		return h.editingService.Decline(ctx, actor, id, req.Reason)
	})(w, r)
}
