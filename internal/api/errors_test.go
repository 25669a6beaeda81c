package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

func TestWriteJSON(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	tests := []struct {
		name       string
		status     int
		data       any
		wantStatus int
	}{
		{
			name:       "200 OK with struct body",
			status:     http.StatusOK,
			data:       payload{Name: "test", Count: 42},
			wantStatus: http.StatusOK,
		},
		{
			name:       "201 Created with map body",
			status:     http.StatusCreated,
			data:       map[string]string{"id": "abc-123"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "200 OK with slice body",
			status:     http.StatusOK,
			data:       []string{"a", "b", "c"},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			resp := w.Result()
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if ct := resp.Header.Get("Content-Type"); ct != MediaType {
				t.Errorf("Content-Type = %q, want %q", ct, MediaType)
			}
			var decoded any
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				t.Errorf("failed to decode response body as JSON: %v", err)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest,
		core.NewInvalidRequestError("missing required field", map[string]any{"field": "job"}))

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error == nil {
		t.Fatal("expected error field in response, got nil")
	}
	if errResp.Error.Code != core.ErrCodeInvalidRequest {
		t.Errorf("error.code = %q, want %q", errResp.Error.Code, core.ErrCodeInvalidRequest)
	}
	if errResp.Error.Details["field"] != "job" {
		t.Errorf("error.details = %v, want field=job", errResp.Error.Details)
	}
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-Id", "req-abc-123")

	WriteError(w, http.StatusInternalServerError,
		core.NewInternalError("something went wrong"))

	resp := w.Result()
	defer resp.Body.Close()

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.RequestID != "req-abc-123" {
		t.Errorf("error.request_id = %q, want %q", errResp.Error.RequestID, "req-abc-123")
	}
}

func TestHandleError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid request",
			err:        core.NewInvalidRequestError("bad body", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   core.ErrCodeInvalidRequest,
		},
		{
			name:       "validation error",
			err:        core.NewValidationError("bad value", nil),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   core.ErrCodeValidationError,
		},
		{
			name:       "not found",
			err:        core.NewNotFoundError("job", "ghost"),
			wantStatus: http.StatusNotFound,
			wantCode:   core.ErrCodeNotFound,
		},
		{
			name:       "conflict",
			err:        core.NewConflictError("already running", nil),
			wantStatus: http.StatusConflict,
			wantCode:   core.ErrCodeConflict,
		},
		{
			name:       "unauthorized",
			err:        core.NewUnauthorizedError("bad key"),
			wantStatus: http.StatusUnauthorized,
			wantCode:   core.ErrCodeUnauthorized,
		},
		{
			name:       "plain error",
			err:        errors.New("database down"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   core.ErrCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var errResp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp.Error.Code != tt.wantCode {
				t.Errorf("error.code = %q, want %q", errResp.Error.Code, tt.wantCode)
			}
		})
	}
}
