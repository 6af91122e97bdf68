package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/lenslink/internal/http/response"
	"github.com/diagnosis/lenslink/pkg/auth"
	"github.com/diagnosis/lenslink/services/sessions/internal/domain"
	"github.com/diagnosis/lenslink/services/sessions/internal/service"
)

// maxBodyBytes caps request bodies. Photo lists are the largest payloads.
const maxBodyBytes = 1 << 20

type Handlers struct {
	bookingService  service.BookingService
	meetingService  service.MeetingPointService
	locationService service.LocationService
	editingService  service.EditingService
	ledgerService   service.LedgerService
}

func New(
	bookingService service.BookingService,
	meetingService service.MeetingPointService,
	locationService service.LocationService,
	editingService service.EditingService,
	ledgerService service.LedgerService,
) *Handlers {
	return &Handlers{
		bookingService:  bookingService,
		meetingService:  meetingService,
		locationService: locationService,
		editingService:  editingService,
		ledgerService:   ledgerService,
	}
}

// Routes mounts the session API. Callers must already be authenticated;
// role gating here only narrows by account type, party checks live in the
// services. publishLimits wrap the location publish route.
func (h *Handlers) Routes(r chi.Router, publishLimits ...func(http.Handler) http.Handler) {
	customerOnly := auth.RequireRole(auth.RoleCustomer)
	photographerOnly := auth.RequireRole(auth.RolePhotographer)

	r.Route("/bookings", func(r chi.Router) {
		r.With(customerOnly).Post("/", h.CreateBooking)
		r.Get("/", h.ListBookings)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Get("/phase", h.GetPhase)
			r.With(photographerOnly).Post("/respond", h.RespondToBooking)
			r.Post("/cancel", h.CancelBooking)
			r.With(photographerOnly).Post("/deliver", h.DeliverPhotos)

			r.With(photographerOnly).Put("/meeting-point", h.SetMeetingPoint)
			r.Get("/meeting-point", h.GetMeetingPoint)

			r.With(publishLimits...).Put("/location", h.PublishLocation)
			r.Delete("/location", h.StopLocation)
			r.Get("/location/counterparty", h.GetCounterpartyLocation)

			r.With(customerOnly).Post("/editing", h.CreateEditingRequest)
			r.Get("/editing", h.GetEditingRequest)
		})
	})

	r.Route("/editing/{id}", func(r chi.Router) {
		r.With(photographerOnly).Post("/accept", h.AcceptEditing)
		r.With(photographerOnly).Post("/start", h.StartEditing)
		r.With(photographerOnly).Post("/deliver", h.DeliverEdits)
		r.With(photographerOnly).Post("/decline", h.DeclineEditing)
		r.With(customerOnly).Post("/approve", h.ApproveEditing)
		r.With(customerOnly).Post("/revision", h.RequestRevision)
	})

	r.With(photographerOnly).Get("/earnings", h.ListEarnings)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/admin/earnings/{id}/payout", h.MarkEarningPaid)
}

func actorFrom(r *http.Request) (domain.Actor, bool) {
	claims := auth.FromContext(r.Context())
	if claims == nil {
		return domain.Actor{}, false
	}
	return domain.Actor{UserID: claims.Sub, Admin: claims.Role == auth.RoleAdmin}, true
}

// decode reads an optional JSON body; an empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		response.WriteErrorWithDetails(w, http.StatusBadRequest, "Invalid JSON format", response.CodeInvalidInput, err.Error())
		return false
	}
	return true
}

// Helper functions for common response patterns
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response.WriteJSON(w, statusCode, data)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	response.FromError(w, r, err)
}

// Helper to parse pagination parameters
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
