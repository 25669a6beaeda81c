package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthpulse/pulse-jobs/internal/api"
	"github.com/healthpulse/pulse-jobs/internal/events"
)

// Deps carries everything the route table serves. Enqueuer may be nil (runs
// execute inline) and Broker may be nil (event streaming endpoints return
// 404).
type Deps struct {
	Version  string
	Runner   api.JobRunner
	Engine   api.Engine
	Enqueuer api.Enqueuer
	Archive  api.DeadLetterArchive
	Redriver api.RedriveEnqueuer
	Runs     api.RunSource
	Users    api.UserGetter
	Records  api.RecordStore
	Broker   *events.Broker
	Checks   []api.Check
}

// NewRouter creates and configures the HTTP router with all routes.
func NewRouter(deps Deps, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(api.RequestIDHeader)
	r.Use(api.Metrics)
	r.Use(api.RequestLogger(logger))
	r.Use(api.ValidateContentType)

	if cfg.APIKey != "" {
		r.Use(api.KeyAuth(cfg.APIKey, "/metrics", "/healthz", "/readyz"))
	}

	r.Handle("/metrics", promhttp.Handler())

	systemHandler := api.NewSystemHandler(deps.Version, deps.Checks...)
	engineHandler := api.NewEngineHandler(deps.Engine)
	jobsHandler := api.NewJobsHandler(deps.Runner, deps.Enqueuer, deps.Runs)
	deadLetterHandler := api.NewDeadLetterHandler(deps.Archive, deps.Redriver)
	recordsHandler := api.NewRecordsHandler(deps.Users, deps.Records)

	// System endpoints
	r.Get("/healthz", systemHandler.Healthz)
	r.Get("/readyz", systemHandler.Readyz)
	r.Get("/v1/info", systemHandler.Info)

	// Engine state endpoints
	r.Get("/v1/engine/metrics", engineHandler.Metrics)
	r.Get("/v1/engine/breakers", engineHandler.ListBreakers)
	r.Post("/v1/engine/breakers/{key}/reset", engineHandler.ResetBreaker)
	r.Get("/v1/engine/dead-letters", engineHandler.ListDeadLetters)
	r.Delete("/v1/engine/dead-letters", engineHandler.ClearDeadLetters)

	// Archived dead letter endpoints
	r.Get("/v1/dead-letters", deadLetterHandler.List)
	r.Get("/v1/dead-letters/{id}", deadLetterHandler.Get)
	r.Delete("/v1/dead-letters/{id}", deadLetterHandler.Delete)
	r.Post("/v1/dead-letters/{id}/redrive", deadLetterHandler.Redrive)

	// Job endpoints
	r.Get("/v1/jobs", jobsHandler.List)
	r.Post("/v1/jobs/{name}/run", jobsHandler.Run)
	r.Get("/v1/runs", jobsHandler.ListRuns)

	// Health record endpoints
	r.Post("/v1/users/{id}/records", recordsHandler.Create)
	r.Get("/v1/users/{id}/records", recordsHandler.List)

	// Event streaming
	if deps.Broker != nil {
		r.Handle("/v1/events", api.NewSSEHandler(deps.Broker))
		r.Handle("/v1/events/ws", api.NewWSHandler(deps.Broker, logger))
	}

	return r
}
