package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/healthpulse/pulse-jobs/internal/store"
)

// DeadLetterArchive is the durable dead letter surface the handler reads.
type DeadLetterArchive interface {
	List(ctx context.Context, status string, limit, offset int) ([]store.DeadLetterRow, error)
	Count(ctx context.Context, status string) (int, error)
	Get(ctx context.Context, id string) (*store.DeadLetterRow, error)
	Delete(ctx context.Context, id string) error
}

// RedriveEnqueuer queues an archived entry for replay.
type RedriveEnqueuer interface {
	Enqueue(ctx context.Context, id string) error
}

// DeadLetterHandler handles archived dead letter HTTP endpoints.
type DeadLetterHandler struct {
	archive  DeadLetterArchive
	redriver RedriveEnqueuer
}

// NewDeadLetterHandler creates a DeadLetterHandler.
func NewDeadLetterHandler(archive DeadLetterArchive, redriver RedriveEnqueuer) *DeadLetterHandler {
	return &DeadLetterHandler{archive: archive, redriver: redriver}
}

// List handles GET /v1/dead-letters
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
			if limit > 1000 {
				limit = 1000
			}
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	status := r.URL.Query().Get("status")

	rows, err := h.archive.List(r.Context(), status, limit, offset)
	if err != nil {
		HandleError(w, err)
		return
	}
	total, err := h.archive.Count(r.Context(), status)
	if err != nil {
		HandleError(w, err)
		return
	}
	if rows == nil {
		rows = []store.DeadLetterRow{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"dead_letters": rows,
		"pagination": map[string]any{
			"total":    total,
			"limit":    limit,
			"offset":   offset,
			"has_more": offset+limit < total,
		},
	})
}

// Get handles GET /v1/dead-letters/{id}
func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	row, err := h.archive.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"dead_letter": row})
}

// Delete handles DELETE /v1/dead-letters/{id}
func (h *DeadLetterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.archive.Delete(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// Redrive handles POST /v1/dead-letters/{id}/redrive. The replay itself
// happens later on the drain loop.
func (h *DeadLetterHandler) Redrive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.redriver.Enqueue(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": id})
}
