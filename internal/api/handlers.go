// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package api exposes the REST and WebSocket surface over chi.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/routewatch/routewatch/internal/auth"
	"github.com/routewatch/routewatch/internal/ingest"
	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/session"
	"github.com/routewatch/routewatch/internal/store"
	ws "github.com/routewatch/routewatch/internal/websocket"
)

// maxReportBody bounds position report request bodies.
const maxReportBody = 64 * 1024

// ReadinessCheck is a named dependency probe for /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func() error
}

// Handlers implements the HTTP endpoints.
type Handlers struct {
	store    store.PositionStore
	gateway  *ingest.Gateway
	manager  *session.Manager
	verifier auth.Verifier
	checks   []ReadinessCheck
	upgrader websocket.Upgrader
}

// NewHandlers wires the endpoint handlers. allowedOrigins scopes the
// WebSocket origin check; an empty list or "*" allows any origin.
func NewHandlers(
	s store.PositionStore,
	gateway *ingest.Gateway,
	manager *session.Manager,
	verifier auth.Verifier,
	allowedOrigins []string,
	checks []ReadinessCheck,
) *Handlers {
	return &Handlers{
		store:    s,
		gateway:  gateway,
		manager:  manager,
		verifier: verifier,
		checks:   checks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowAll := len(origins) == 0
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// ReportPosition handles POST /api/v1/positions.
//
// Stale reports are not errors: the response carries accepted=false
// and the retained record, so replaying devices converge quietly.
func (h *Handlers) ReportPosition(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing identity", nil)
		return
	}

	var report ingest.Report
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBody)
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body", err)
		return
	}

	result, err := h.gateway.ReportPosition(r.Context(), identity, report)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnauthorized):
			respondError(w, http.StatusForbidden, "UNAUTHORIZED", "not authorized to report for this vehicle", nil)
		case errors.Is(err, ingest.ErrThrottled):
			respondError(w, http.StatusTooManyRequests, "THROTTLED", "report rate limit exceeded", nil)
		case errors.Is(err, ingest.ErrInvalidReport):
			respondError(w, http.StatusBadRequest, "INVALID_REPORT", err.Error(), nil)
		default:
			respondError(w, http.StatusInternalServerError, "REPORT_FAILED", "failed to process report", err)
		}
		return
	}

	respondSuccess(w, http.StatusOK, result, 1)
}

// GetPosition handles GET /api/v1/positions/{vehicleID}. Reads are
// scoped exactly like live subscriptions to the same vehicle.
func (h *Handlers) GetPosition(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing identity", nil)
		return
	}

	vehicleID := models.VehicleID(chi.URLParam(r, "vehicleID"))
	if vehicleID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_VEHICLE", "missing vehicle id", nil)
		return
	}

	if err := h.manager.Authorize(identity, models.VehicleTopic(vehicleID)); err != nil {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "not authorized for this vehicle", nil)
		return
	}

	rec, err := h.store.Get(r.Context(), vehicleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "no position stored for vehicle", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read position", err)
		return
	}

	respondSuccess(w, http.StatusOK, rec, 1)
}

// ListPositions handles GET /api/v1/positions?ids=a,b,c. Vehicles the
// caller may not observe are omitted from the result rather than
// failing the whole request.
func (h *Handlers) ListPositions(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing identity", nil)
		return
	}

	raw := r.URL.Query().Get("ids")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "INVALID_QUERY", "missing ids query parameter", nil)
		return
	}

	var ids []models.VehicleID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id := models.VehicleID(part)
		if err := h.manager.Authorize(identity, models.VehicleTopic(id)); err != nil {
			continue
		}
		ids = append(ids, id)
	}

	records, err := h.store.GetMany(r.Context(), ids)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read positions", err)
		return
	}
	if records == nil {
		records = []models.PositionRecord{}
	}

	respondSuccess(w, http.StatusOK, records, len(records))
}

// ServeWebSocket handles GET /api/v1/ws. The connection authenticates
// in-band with its first frame; see the websocket package.
func (h *Handlers) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.NewClient(conn, h.verifier, h.manager, h.gateway).Serve(r.Context())
}

// HealthLive handles GET /health/live.
func (h *Handlers) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, 0)
}

// HealthReady handles GET /health/ready, probing each registered
// dependency check.
func (h *Handlers) HealthReady(w http.ResponseWriter, _ *http.Request) {
	status := make(map[string]string, len(h.checks))
	healthy := true
	for _, check := range h.checks {
		if err := check.Check(); err != nil {
			status[check.Name] = err.Error()
			healthy = false
			continue
		}
		status[check.Name] = "ok"
	}

	if !healthy {
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Status: "error",
			Data:   status,
			Error: &models.APIError{
				Code:    "NOT_READY",
				Message: "one or more dependencies unavailable",
			},
		})
		return
	}
	respondSuccess(w, http.StatusOK, status, 0)
}
