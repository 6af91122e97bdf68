package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/lenslink/internal/http/response"
	"github.com/diagnosis/lenslink/pkg/auth"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
)

// CreateBooking handles a customer booking a photographer
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.CreateBookingReq
	if !decode(w, r, &req) {
		return
	}

	view, err := h.bookingService.CreateBooking(r.Context(), actor.UserID, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// ListBookings lists the caller's bookings from one side. The side defaults
// to the caller's account type and can be overridden with ?role=.
func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	role := domain.RoleCustomer
	if c := auth.FromContext(r.Context()); c.Role == auth.RolePhotographer {
		role = domain.RoleProvider
	}
	switch v := r.URL.Query().Get("role"); v {
	case "":
	case string(domain.RoleCustomer), string(domain.RoleProvider):
		role = domain.Role(v)
	default:
		response.BadRequest(w, "role must be customer or provider")
		return
	}

	var status *domain.BookingStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s, ok := domain.ParseBookingStatus(v)
		if !ok {
			response.BadRequest(w, "Invalid status parameter")
			return
		}
		status = &s
	}

	limit, offset := parsePagination(r)
	views, err := h.bookingService.ListBookings(r.Context(), actor, role, status, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": views,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	view, err := h.bookingService.GetBooking(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) GetPhase(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	phase, err := h.bookingService.GetPhase(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"booking_id": id, "phase": phase})
}

// RespondToBooking handles the photographer's accept or decline
func (h *Handlers) RespondToBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.RespondReq
	if !decode(w, r, &req) {
		return
	}

	view, err := h.bookingService.Respond(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.CancelReq
	if !decode(w, r, &req) {
		return
	}

	view, err := h.bookingService.Cancel(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) DeliverPhotos(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.DeliverPhotosReq
	if !decode(w, r, &req) {
		return
	}

	view, err := h.bookingService.DeliverPhotos(r.Context(), actor, chi.URLParam(r, "id"), req.PhotoURLs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) SetMeetingPoint(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.MeetingPointReq
	if !decode(w, r, &req) {
		return
	}

	mp, err := h.meetingService.Set(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meeting_point": mp})
}

// GetMeetingPoint answers 200 with a null point when none is set yet.
func (h *Handlers) GetMeetingPoint(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	mp, err := h.meetingService.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"meeting_point": mp})
}

func (h *Handlers) PublishLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	var req domain.PublishLocationReq
	if !decode(w, r, &req) {
		return
	}

	pos, err := h.locationService.Publish(r.Context(), actor, chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *Handlers) StopLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	if err := h.locationService.Stop(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetCounterpartyLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		response.Unauthorized(w, "Authentication required")
		return
	}

	cp, err := h.locationService.Counterparty(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}
