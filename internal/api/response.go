package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"kabulog/pkg/cooldown"
	"kabulog/pkg/kabulog"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// RetryAfterSeconds is set on COOLDOWN responses.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

type errorMessageSetter interface {
	SetErrorMessage(message string)
}

// writeError writes a plain error with the given status.
func writeError(w http.ResponseWriter, status int, message string) {
	if setter, ok := w.(errorMessageSetter); ok {
		setter.SetErrorMessage(message)
	}
	writeJSON(w, status, ErrorResponse{Code: status, Message: message})
}

// writeErrorResponse maps a structured error to its HTTP status. Cooldown
// refusals become 429 with a Retry-After header.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	response := ErrorResponse{
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}

	var structured *kabulog.Error
	if errors.As(err, &structured) {
		response.ErrorCode = string(structured.Code)
		response.Message = structured.Message
		status = mapErrorCodeToHTTPStatus(structured.Code)
	}
	if status == http.StatusTooManyRequests {
		if remaining, ok := cooldown.RemainingFrom(err); ok {
			response.RetryAfterSeconds = int(math.Ceil(remaining.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(response.RetryAfterSeconds))
		}
	}
	response.Code = status

	if setter, ok := w.(errorMessageSetter); ok {
		setter.SetErrorMessage(err.Error())
	}
	writeJSON(w, status, response)
}

// mapErrorCodeToHTTPStatus maps business error codes to HTTP status codes.
func mapErrorCodeToHTTPStatus(code kabulog.ErrorCode) int {
	switch code {
	case kabulog.ErrCodeInvalidInput, kabulog.ErrCodeValidation, kabulog.ErrCodeUnsupported:
		return http.StatusBadRequest
	case kabulog.ErrCodeNotFound:
		return http.StatusNotFound
	case kabulog.ErrCodeDuplicate, kabulog.ErrCodeInUse, kabulog.ErrCodeConflict:
		return http.StatusConflict
	case kabulog.ErrCodeCooldown:
		return http.StatusTooManyRequests
	case kabulog.ErrCodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
