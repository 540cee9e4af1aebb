// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package middleware holds router-agnostic HTTP middleware.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/routewatch/routewatch/internal/metrics"
)

// Prometheus instruments requests with latency, status and in-flight
// gauges. Endpoint labels use the route pattern, not the raw path, so
// per-vehicle URLs do not explode label cardinality.
func Prometheus(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.TrackActiveRequest(true)
			defer metrics.TrackActiveRequest(false)

			start := time.Now()
			wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			metrics.RecordAPIRequest(
				r.Method,
				endpoint,
				strconv.Itoa(wrapper.statusCode),
				time.Since(start),
			)
		})
	}
}

// statusResponseWriter captures the response status code.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
