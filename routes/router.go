package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/froggu-tantei/apigateway/handlers"
	"github.com/froggu-tantei/apigateway/middleware"
)

// RegisterRoutes builds the chi router: core gateway endpoints, the
// account collaborator endpoints, and the metrics read/reset surface,
// wrapped in CORS/logging middleware and the ambient abuse-rate-limit
// guards (SPEC_FULL.md §6.5) on the account endpoints.
func RegisterRoutes(apiCfg *handlers.APIConfig, authLimiter, genericLimiter *middleware.RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.CorsMiddleware)
	r.Use(middleware.LoggingMiddleware)

	r.Get("/", apiCfg.RootHandler)
	r.Get("/v1/readiness", apiCfg.ReadinessHandler)
	r.Get("/v1/healthz", apiCfg.HealthzHandler)
	r.Get("/v1/err", apiCfg.ErrorHandler)

	// Account collaborator endpoints (spec.md §6.1's "auth/registration
	// are collaborators" carve-out): guarded by the ambient abuse-rate
	// limiter, not the core plan-based limiter.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware(authLimiter))
		r.Post("/register", apiCfg.SignupHandler)
		r.Post("/login", apiCfg.LoginHandler)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware(genericLimiter))
		r.Use(middleware.AuthMiddleware)
		r.Get("/me", apiCfg.GetMeHandler)
		r.Put("/user/plan/{plan}", apiCfg.SetPlanHandler)
	})

	// Core gateway pipeline (spec.md §4.6).
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Get("/request/{service}", apiCfg.RequestHandler)
	})

	// Metrics read/reset (spec.md §6.1, no auth required).
	r.Get("/metrics", apiCfg.MetricsHandler)
	r.Post("/metrics/clear", apiCfg.ClearMetricsHandler)

	return r
}
