package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/handlers"
	"fitcoach-gateway/internal/metrics"
	"fitcoach-gateway/internal/middleware"
)

// Deps are the handlers and settings the router mounts.
type Deps struct {
	Logger         *zap.Logger
	Verifier       *auth.Verifier
	Assistant      *handlers.AssistantHandler
	Usage          *handlers.UsageHandler
	HealthChecks   map[string]handlers.Check
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func SetupRouter(r *chi.Mux, d Deps) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(d.Logger))
	r.Use(middleware.Recoverer())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(d.RequestTimeout))
		r.Use(middleware.MaxBodySize(d.MaxBodyBytes))
		r.Use(middleware.Authenticate(d.Verifier))

		r.Post("/assistant/{kind}", d.Assistant.Complete)
		r.Post("/assistant/{kind}/stream", d.Assistant.Stream)
		r.Get("/usage", d.Usage.Usage)
	})

	r.Get("/healthz", handlers.Health(d.HealthChecks))
	r.Handle("/metrics", metrics.Handler())
}
