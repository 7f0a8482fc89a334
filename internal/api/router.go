package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter creates the admin chi.Mux serving health and metrics endpoints.
func NewRouter(log zerolog.Logger, checks ...ReadinessCheck) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(checks...))
	r.Handle("/metrics", promhttp.Handler())

	return r
}
