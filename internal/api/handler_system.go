package api

import (
	"context"
	"net/http"
	"time"
)

// Check probes one dependency for readiness.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// SystemHandler serves service identity, liveness, and readiness.
type SystemHandler struct {
	version string
	started time.Time
	checks  []Check
}

// NewSystemHandler creates a SystemHandler with the given readiness checks.
func NewSystemHandler(version string, checks ...Check) *SystemHandler {
	return &SystemHandler{version: version, started: time.Now(), checks: checks}
}

// Info handles GET /v1/info
func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":           "pulse-jobs",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"capabilities": []string{
			"insights", "digest", "retry", "circuit-breaker", "dead-letter",
			"redrive", "queue", "events", "cron",
		},
	})
}

// Healthz handles GET /healthz. It only confirms the process is serving;
// Readyz covers dependencies.
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": h.version})
}

// Readyz handles GET /readyz, probing each dependency with a short timeout.
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]string, len(h.checks))
	healthy := true
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.Probe(ctx)
		cancel()
		if err != nil {
			healthy = false
			results[c.Name] = err.Error()
			continue
		}
		results[c.Name] = "ok"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	WriteJSON(w, status, map[string]any{"status": state, "checks": results})
}
