package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rtolen/vairify-dev-sub001/internal/handlers"
	"github.com/rtolen/vairify-dev-sub001/internal/metrics"
	"github.com/rtolen/vairify-dev-sub001/internal/middleware"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
)

// routeDeps is everything newRouter mounts.
type routeDeps struct {
	escort    *handlers.EscortHandler
	guardians *handlers.GuardianHandler
	operator  *handlers.OperatorHandler
	health    *handlers.HealthHandler

	auth          middleware.TokenValidator
	apiLimiter    *middleware.RateLimiter
	disarmLimiter *middleware.RateLimiter

	allowedOrigins []string
	requestTimeout time.Duration
}

func newRouter(d routeDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(d.allowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(d.requestTimeout))

	r.Get("/health", d.health.Health)
	r.Get("/ready", d.health.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(d.auth))
		r.Use(d.apiLimiter.Limit("api"))

		r.Put("/codes", d.guardians.SetCodes)
		r.Post("/codes/verify", d.guardians.VerifyCodes)

		r.Route("/guardian-groups", func(r chi.Router) {
			r.Get("/", d.guardians.ListGroups)
			r.Post("/", d.guardians.CreateGroup)
			r.Put("/{id}", d.guardians.UpdateGroup)
			r.Delete("/{id}", d.guardians.DeleteGroup)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", d.escort.Activate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", d.escort.Get)
				r.Post("/check-in", d.escort.CheckIn)
				r.Post("/location", d.escort.Location)
				r.With(d.disarmLimiter.Limit("disarm")).Post("/disarm", d.escort.Disarm)
				r.Post("/panic", d.escort.Panic)
				r.Get("/events", d.escort.Events)
			})
		})

		r.Route("/operator", func(r chi.Router) {
			r.Use(middleware.RequireRole(services.RoleOperator))
			r.Get("/sessions", d.operator.Queue)
			r.Get("/sessions/{id}", d.operator.View)
			r.Post("/sessions/{id}/resolve", d.operator.Resolve)
			r.Post("/tokens/revoke", d.operator.RevokeToken)
		})
	})

	return r
}
