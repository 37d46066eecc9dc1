package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boomfest/boom-tickets/internal/observability"
	"github.com/boomfest/boom-tickets/internal/rateLimit"
)

// SetupRouter wires the public checkout API, operator login and the
// authenticated admin and door routes. rl may be nil.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/v1/tiers", h.ListTiers)
	r.With(
		RateLimitMiddleware(rl, "checkout", 20, time.Minute),
		IdempotencyKeyMiddleware(false),
	).Post("/v1/orders", h.CreateOrder)
	r.With(RateLimitMiddleware(rl, "login", 10, time.Minute)).Post("/v1/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.auth))

		r.Route("/v1/admin", func(r chi.Router) {
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/approve", h.ApproveOrder)
			r.Post("/orders/{id}/reject", h.RejectOrder)
			r.Get("/orders/{id}/ticket.png", h.TicketQR)
			r.Get("/stats", h.Stats)
			r.Post("/maintenance/reset", h.Reset)
		})

		r.Route("/v1/checkin", func(r chi.Router) {
			r.Use(RateLimitMiddleware(rl, "checkin", 600, time.Minute))
			r.Post("/validate", h.ValidateTicket)
			r.Post("/commit", h.CommitCheckin)
		})
	})

	return r
}
