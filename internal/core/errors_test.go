package core

import "testing"

func TestAPIErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		wantCode string
	}{
		{"InvalidRequest", NewInvalidRequestError("bad input", nil), ErrCodeInvalidRequest},
		{"NotFound", NewNotFoundError("user", "123"), ErrCodeNotFound},
		{"Conflict", NewConflictError("already running", nil), ErrCodeConflict},
		{"Validation", NewValidationError("invalid field", nil), ErrCodeValidationError},
		{"FieldValidation", NewFieldValidationError("max_attempts", "integer >= 1", 0), ErrCodeValidationError},
		{"Unauthorized", NewUnauthorizedError("missing key"), ErrCodeUnauthorized},
		{"Internal", NewInternalError("something broke"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("got code %q, want %q", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestAPIErrorString(t *testing.T) {
	err := NewNotFoundError("user", "abc-123")
	if got := err.Error(); got != "[not_found] user 'abc-123' not found." {
		t.Errorf("Error() = %q, unexpected format", got)
	}
}

func TestFieldValidationErrorDetails(t *testing.T) {
	err := NewFieldValidationError("timeout", "duration > 0", "0s")
	if err.Details["field"] != "timeout" {
		t.Errorf("field = %v, want timeout", err.Details["field"])
	}
	if err.Details["expected"] != "duration > 0" {
		t.Errorf("expected = %v, want duration > 0", err.Details["expected"])
	}
	if err.Details["received"] != "0s" {
		t.Errorf("received = %v, want 0s", err.Details["received"])
	}
}
