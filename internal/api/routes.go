package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.Compress)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	// v1 API routes
	r.Route("/v1", func(r chi.Router) {
		// Workflow runs block until terminal, bounded by the proof wait
		// timeout; no request timeout here.
		r.Route("/wrapped-tokens", func(r chi.Router) {
			r.Post("/", h.CreateWrappedToken)
			r.Post("/resume", h.ResumeWrappedToken)
			r.With(m.Timeout(15 * time.Second)).
				Get("/{destChain}/{sourceChain}/{address}", h.GetWrappedToken)
		})

		// Supported chains
		r.Route("/chains", func(r chi.Router) {
			r.Use(m.Timeout(15 * time.Second))
			r.Get("/", h.ListChains)
			r.Get("/{id}", h.GetChain)
		})

		// Run history
		r.Route("/runs", func(r chi.Router) {
			r.Use(m.Timeout(15 * time.Second))
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})

		// Live updates
		r.Get("/ws", h.HandleWebSocket)
	})

	return r
}
