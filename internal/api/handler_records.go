package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/ingest"
	"github.com/healthpulse/pulse-jobs/internal/store"
)

const maxUploadSize = 10 << 20 // 10MB

// UserGetter checks that the target user exists.
type UserGetter interface {
	Get(ctx context.Context, id string) (*store.User, error)
}

// RecordStore reads and writes health records.
type RecordStore interface {
	Insert(ctx context.Context, rec *store.HealthRecord) error
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]store.HealthRecord, error)
}

// RecordsHandler ingests and lists health records. Uploads arrive either as
// JSON or as a PDF whose extracted text becomes one record.
type RecordsHandler struct {
	users   UserGetter
	records RecordStore
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(users UserGetter, records RecordStore) *RecordsHandler {
	return &RecordsHandler{users: users, records: records}
}

type recordInput struct {
	Kind       string     `json:"kind"`
	Body       string     `json:"body"`
	Source     string     `json:"source"`
	RecordedAt *time.Time `json:"recorded_at"`
}

type recordsRequest struct {
	Records []recordInput `json:"records"`
}

// Create handles POST /v1/users/{id}/records
func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.createFromPDF(w, r, user.ID)
		return
	}
	h.createFromJSON(w, r, user.ID)
}

func (h *RecordsHandler) createFromPDF(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("file is required", nil))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("unable to read file", nil))
		return
	}

	text, err := ingest.ExtractPDFText(data)
	if err != nil {
		HandleError(w, core.NewValidationError("extract pdf text: "+err.Error(),
			map[string]any{"filename": header.Filename}))
		return
	}

	kind := r.FormValue("kind")
	if kind == "" {
		kind = "document"
	}
	source := r.FormValue("source")
	if source == "" {
		source = "upload"
	}

	rec := &store.HealthRecord{
		UserID:     userID,
		Kind:       kind,
		Source:     source,
		Body:       text,
		RecordedAt: time.Now().UTC(),
	}
	if err := h.records.Insert(r.Context(), rec); err != nil {
		HandleError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"inserted":        1,
		"record_id":       rec.ID,
		"extracted_chars": len(text),
	})
}

func (h *RecordsHandler) createFromJSON(w http.ResponseWriter, r *http.Request, userID string) {
	var req recordsRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest,
			core.NewInvalidRequestError("invalid JSON in request body", nil))
		return
	}
	if len(req.Records) == 0 {
		WriteError(w, http.StatusBadRequest,
			core.NewInvalidRequestError("the 'records' field is required and must not be empty", nil))
		return
	}

	ids := make([]string, 0, len(req.Records))
	for i, in := range req.Records {
		if in.Kind == "" || in.Body == "" {
			HandleError(w, core.NewValidationError("record kind and body are required",
				map[string]any{"index": i}))
			return
		}
		recordedAt := time.Now().UTC()
		if in.RecordedAt != nil {
			recordedAt = in.RecordedAt.UTC()
		}
		source := in.Source
		if source == "" {
			source = "api"
		}

		rec := &store.HealthRecord{
			UserID:     userID,
			Kind:       in.Kind,
			Source:     source,
			Body:       in.Body,
			RecordedAt: recordedAt,
		}
		if err := h.records.Insert(r.Context(), rec); err != nil {
			HandleError(w, err)
			return
		}
		ids = append(ids, rec.ID)
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"inserted":   len(ids),
		"record_ids": ids,
	})
}

// List handles GET /v1/users/{id}/records
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if _, err := h.users.Get(r.Context(), userID); err != nil {
		HandleError(w, err)
		return
	}

	since := time.Now().AddDate(0, 0, -7)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest,
				core.NewFieldValidationError("since", "RFC 3339 timestamp", v))
			return
		}
		since = t
	}

	records, err := h.records.ListByUserSince(r.Context(), userID, since)
	if err != nil {
		HandleError(w, err)
		return
	}
	if records == nil {
		records = []store.HealthRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}
