/**
 * @description
 * This file sets up the HTTP router for the admission-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and rate limiting.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/esupa/admission-service/internal/app"
)

// RouterOptions carries the cross-cutting dependencies of the HTTP surface.
type RouterOptions struct {
	InternalAPIKey  string
	RateLimiter     *app.RedisRateLimiter
	RateLimitPerMin int
	RateLimitWindow time.Duration
}

// AdmissionRoutes creates and returns a new router for the admission service.
func AdmissionRoutes(h *AdmissionHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public endpoints. The availability endpoint gets polled heavily around event
	// opening, so it sits behind the Redis rate limiter.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(opts.RateLimiter, "event_state", opts.RateLimitPerMin, opts.RateLimitWindow))
		r.Get("/events/{slug}/state", h.EventStateHandler)
	})

	r.Post("/subscriptions/{id}/pay", h.BeginPaymentHandler)
	r.Post("/payments/deposit", h.DepositHandler)

	// Processor callbacks are unauthenticated by nature; the rate limiter keeps a
	// misbehaving caller from hammering the notification fetch.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(opts.RateLimiter, "processor_callback", opts.RateLimitPerMin, opts.RateLimitWindow))
		r.Post("/payments/processor/callback", h.ProcessorCallbackHandler)
	})

	// Server-to-server endpoints for staff tooling and operations.
	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))

		r.Post("/sweep", h.SweepHandler)
		r.Post("/transactions", h.ManualTransactionHandler)
		r.Post("/transactions/{id}/decision", h.DecideTransactionHandler)
		r.Get("/events/{id}/queue", h.QueueHandler)
	})

	return r
}
