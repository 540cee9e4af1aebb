// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routewatch/routewatch/internal/auth"
	"github.com/routewatch/routewatch/internal/middleware"
)

// NewRouter assembles the full HTTP surface: health probes, Prometheus
// metrics, the authenticated REST endpoints and the WebSocket upgrade.
func NewRouter(h *Handlers, verifier auth.Verifier, mw *Middleware) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(RequestID())
	r.Use(SecurityHeaders())

	// Health probes stay unauthenticated with a permissive limit so
	// orchestration probes never starve behind the API limiter.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimitHealth())
		r.With(middleware.Prometheus("/health/live")).Get("/health/live", h.HealthLive)
		r.With(middleware.Prometheus("/health/ready")).Get("/health/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.CORS())
		r.Use(mw.RateLimit())

		// The WebSocket endpoint authenticates in-band; bearer headers
		// are unavailable to browser WebSocket clients.
		r.With(middleware.Prometheus("/api/v1/ws")).Get("/ws", h.ServeWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(verifier))
			r.With(middleware.Prometheus("/api/v1/positions")).
				Post("/positions", h.ReportPosition)
			r.With(middleware.Prometheus("/api/v1/positions")).
				Get("/positions", h.ListPositions)
			r.With(middleware.Prometheus("/api/v1/positions/{vehicleID}")).
				Get("/positions/{vehicleID}", h.GetPosition)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown endpoint", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	return r
}
