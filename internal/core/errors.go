package core

import "fmt"

// Standard error codes used in API error responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeValidationError = "validation_error"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeInternalError   = "internal_error"
)

// APIError represents a structured error returned by the HTTP surface.
type APIError struct {
	Code      string         `json:"code,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func NewInvalidRequestError(message string, details map[string]any) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	}
}

func NewNotFoundError(resourceType, resourceID string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s '%s' not found.", resourceType, resourceID),
		Details: map[string]any{
			"resource_type": resourceType,
			"resource_id":   resourceID,
		},
	}
}

func NewConflictError(message string, details map[string]any) *APIError {
	return &APIError{
		Code:    ErrCodeConflict,
		Message: message,
		Details: details,
	}
}

func NewValidationError(message string, details map[string]any) *APIError {
	return &APIError{
		Code:    ErrCodeValidationError,
		Message: message,
		Details: details,
	}
}

// NewFieldValidationError reports a single invalid configuration or request
// field with what was expected and what arrived.
func NewFieldValidationError(field, expected string, received any) *APIError {
	return &APIError{
		Code:    ErrCodeValidationError,
		Message: fmt.Sprintf("invalid value for %s", field),
		Details: map[string]any{
			"field":    field,
			"expected": expected,
			"received": received,
		},
	}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

func NewInternalError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeInternalError,
		Message: message,
	}
}
