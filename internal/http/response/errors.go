package response

import (
	"encoding/json"
	"net/http"

	"github.com/diagnosis/lenslink/pkg/apperr"
	"github.com/diagnosis/lenslink/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes data as a JSON body with the given status
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteErrorWithDetails writes a structured JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, message, code, details string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// Common error codes
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	CodePaymentFailed = "PAYMENT_FAILED"
	CodeUnavailable   = "TEMPORARILY_UNAVAILABLE"
	CodeInternalError = "INTERNAL_ERROR"
)

// FromError maps a service error to a response. Internal errors are logged
// and never leak their message.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	msg := err.Error()
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		BadRequest(w, msg)
	case apperr.KindNotFound:
		NotFound(w, msg)
	case apperr.KindPermissionDenied:
		Forbidden(w, msg)
	case apperr.KindConflict:
		Conflict(w, msg)
	case apperr.KindExternal:
		logger.WarnContext(r.Context(), "Payment collaborator failed", "error", err)
		WriteError(w, http.StatusBadGateway, msg, CodePaymentFailed)
	case apperr.KindTransient:
		logger.WarnContext(r.Context(), "Transient failure", "error", err)
		WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: msg, Code: CodeUnavailable, Retryable: true})
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		InternalError(w, "internal error")
	}
}

// Convenience functions for common errors
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message, CodeForbidden)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

// Conflict marks the response retryable: the caller lost a race and may
// reload and try again.
func Conflict(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: CodeConflict, Retryable: true})
}

func RateLimit(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: message, Code: CodeRateLimit, Retryable: true})
}
