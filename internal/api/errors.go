package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

// MediaType is the content type of every JSON response.
const MediaType = "application/json; charset=utf-8"

// ErrorBody is the wire form of an APIError plus the request ID.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrorResponse wraps an error for JSON serialization.
type ErrorResponse struct {
	Error *ErrorBody `json:"error"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes err with the given status, echoing any X-Request-Id
// already set on the response.
func WriteError(w http.ResponseWriter, status int, err *core.APIError) {
	WriteJSON(w, status, ErrorResponse{Error: &ErrorBody{
		Code:      err.Code,
		Message:   err.Message,
		Details:   err.Details,
		RequestID: w.Header().Get("X-Request-Id"),
	}})
}

// HandleError maps an error to the appropriate HTTP status and writes it.
func HandleError(w http.ResponseWriter, err error) {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		WriteError(w, statusForCode(apiErr.Code), apiErr)
		return
	}
	WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
}

func statusForCode(code string) int {
	switch code {
	case core.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case core.ErrCodeValidationError:
		return http.StatusUnprocessableEntity
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
