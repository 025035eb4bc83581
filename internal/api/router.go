package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/probelab/trialbench/internal/api/middleware"
	"github.com/probelab/trialbench/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	LaunchRunHandler    http.HandlerFunc
	DomainTrialsHandler http.HandlerFunc
	TrialCellHandler    http.HandlerFunc
	AggregateHandler    http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes. Every endpoint here mutates state, so the whole
	// group requires the launch scope on top of a valid key.
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)
		r.Use(deps.Auth.RequireScope("launch"))

		r.Post("/api/v1/runs", orNotImplemented(deps.LaunchRunHandler))
		r.Post("/api/v1/domains/{domainID}/trials", orNotImplemented(deps.DomainTrialsHandler))
		r.Post("/api/v1/domains/{domainID}/trials/cell", orNotImplemented(deps.TrialCellHandler))
		r.Post("/api/v1/definitions/{definitionID}/aggregate", orNotImplemented(deps.AggregateHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
