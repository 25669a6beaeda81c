package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/healthpulse/pulse-jobs/internal/batch"
	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/jobs"
	"github.com/healthpulse/pulse-jobs/internal/queue"
	"github.com/healthpulse/pulse-jobs/internal/store"
)

// JobRunner is the registry surface the jobs endpoints drive.
type JobRunner interface {
	Jobs() []jobs.JobStatus
	Run(ctx context.Context, name string, userIDs []string, trigger string) (*batch.Summary, error)
}

// Enqueuer pushes job requests onto the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *queue.JobRequest) (string, error)
}

// RunSource lists persisted run summaries.
type RunSource interface {
	List(ctx context.Context, jobName string, limit int) ([]store.JobRun, error)
}

// JobsHandler handles job and run HTTP endpoints. A nil enqueuer makes
// every run synchronous.
type JobsHandler struct {
	runner   JobRunner
	enqueuer Enqueuer
	runs     RunSource
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(runner JobRunner, enqueuer Enqueuer, runs RunSource) *JobsHandler {
	return &JobsHandler{runner: runner, enqueuer: enqueuer, runs: runs}
}

// List handles GET /v1/jobs
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses := h.runner.Jobs()
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": statuses, "count": len(statuses)})
}

// runRequest is the body of POST /v1/jobs/{name}/run. Both fields are
// optional; an empty body queues a run over all active users.
type runRequest struct {
	UserIDs []string `json:"user_ids"`
	Sync    bool     `json:"sync"`
}

// Run handles POST /v1/jobs/{name}/run. Synchronous runs block until the
// batch finishes and return its summary; otherwise the request is queued.
// Without a queue the run always executes inline.
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := h.lookup(name)
	if !ok {
		WriteError(w, http.StatusNotFound, core.NewNotFoundError("job", name))
		return
	}
	if status.Disabled {
		HandleError(w, core.NewValidationError("job "+strconv.Quote(name)+" is disabled",
			map[string]any{"job": name}))
		return
	}

	var req runRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			WriteError(w, http.StatusBadRequest,
				core.NewInvalidRequestError("invalid JSON in request body", nil))
			return
		}
	}

	if req.Sync || h.enqueuer == nil {
		summary, err := h.runner.Run(r.Context(), name, req.UserIDs, jobs.TriggerAPI)
		if err != nil {
			HandleError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"run": summary})
		return
	}

	msgID, err := h.enqueuer.Enqueue(r.Context(), &queue.JobRequest{
		Job:         name,
		UserIDs:     req.UserIDs,
		RequestedBy: "api",
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"queued":     true,
		"job":        name,
		"message_id": msgID,
	})
}

// ListRuns handles GET /v1/runs
func (h *JobsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	rows, err := h.runs.List(r.Context(), r.URL.Query().Get("job"), limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	if rows == nil {
		rows = []store.JobRun{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": rows, "count": len(rows)})
}

func (h *JobsHandler) lookup(name string) (*jobs.JobStatus, bool) {
	for _, status := range h.runner.Jobs() {
		if status.Name == name {
			return &status, true
		}
	}
	return nil, false
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
