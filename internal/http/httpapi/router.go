package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"talksync/internal/http/handlers"
	"talksync/internal/infra"
	"talksync/internal/middleware"
)

// NewRouter wires the gateway surface: the immediate endpoint, the deferred
// task queue and health.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		}

		r.Post("/v1/generate", app.Generate)

		r.Route("/v1/tasks", func(r chi.Router) {
			r.Post("/", app.TasksCreate)
			r.Get("/{task_id}", app.TaskStatus)
			r.Get("/{task_id}/result", app.TaskResult)
		})
	})

	return r
}
