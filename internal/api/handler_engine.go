package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/retry"
)

// Engine is the registry surface the engine endpoints read from.
type Engine interface {
	Metrics() retry.MetricsSnapshot
	Breakers() map[string]retry.BreakerSnapshot
	ResetBreaker(key string) bool
	DeadLetters() []retry.DeadLetterEntry
	ClearDeadLetters(ids ...string) int
}

// EngineHandler exposes the retry engine's live state: aggregated metrics,
// circuit breakers, and the in-memory dead letter queue.
type EngineHandler struct {
	engine Engine
}

// NewEngineHandler creates an EngineHandler over engine.
func NewEngineHandler(engine Engine) *EngineHandler {
	return &EngineHandler{engine: engine}
}

// Metrics handles GET /v1/engine/metrics
func (h *EngineHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.engine.Metrics())
}

// ListBreakers handles GET /v1/engine/breakers
func (h *EngineHandler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	breakers := h.engine.Breakers()
	WriteJSON(w, http.StatusOK, map[string]any{
		"breakers": breakers,
		"count":    len(breakers),
	})
}

// ResetBreaker handles POST /v1/engine/breakers/{key}/reset
func (h *EngineHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.engine.ResetBreaker(key) {
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("circuit breaker", key))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"reset": true, "operation_key": key})
}

// ListDeadLetters handles GET /v1/engine/dead-letters
func (h *EngineHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries := h.engine.DeadLetters()
	if entries == nil {
		entries = []retry.DeadLetterEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"dead_letters": entries,
		"count":        len(entries),
	})
}

// ClearDeadLetters handles DELETE /v1/engine/dead-letters. An optional
// JSON body {"ids": [...]} limits the clear to those entries.
func (h *EngineHandler) ClearDeadLetters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest,
				core.NewInvalidRequestError("invalid JSON in request body", nil))
			return
		}
	}
	removed := h.engine.ClearDeadLetters(req.IDs...)
	WriteJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
