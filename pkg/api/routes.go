package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ethpandaops/reviewoor/pkg/config"
	"github.com/ethpandaops/reviewoor/pkg/correlation"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(s.correlationID)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	limits := s.cfg.Server.RateLimit

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Use(s.limit(limits.Enabled, limits.Auth))

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.With(s.requireAuth).Get("/me", s.handleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.limit(limits.Enabled, limits.Authenticated))

			r.Route("/analysis", func(r chi.Router) {
				r.With(s.limit(limits.Enabled, limits.Analyze)).
					Post("/analyze", s.handleAnalyze)

				r.Get("/runs", s.handleListRuns)
				r.Get("/runs/{id}", s.handleGetRun)
				r.Get("/runs/{id}/issues", s.handleListIssues)
				r.Get("/runs/{id}/raw", s.handleRawOutput)
				r.Get("/branches", s.handleBranches)
			})

			r.Route("/metrics", func(r chi.Router) {
				r.Get("/summary", s.handleMetricsSummary)
				r.Get("/instruments", s.handleInstruments)
			})
		})
	})

	return r
}

// limit returns the rate limiting middleware for tier, or a pass-through
// when rate limiting is disabled.
func (s *server) limit(
	enabled bool, tier config.RateLimitTier,
) func(http.Handler) http.Handler {
	if !enabled || tier.RequestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return s.rateLimitMiddleware(tier)
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", correlation.Header},
		ExposedHeaders:   []string{correlation.Header},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
