// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package metrics provides Prometheus instrumentation for:
//   - Position report acceptance and rejection
//   - Fan-out deliveries and drops
//   - Connected sessions and active topics
//   - Fleet directory lookups
//   - API endpoint latency and throughput
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics. The result label is one of:
	// accepted, stale, unauthorized, invalid, throttled.
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewatch_reports_total",
			Help: "Total position reports by outcome",
		},
		[]string{"result"},
	)

	// Distribution metrics.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewatch_deliveries_total",
			Help: "Total position events delivered to sessions",
		},
		[]string{"topic_kind"},
	)

	DroppedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewatch_dropped_deliveries_total",
			Help: "Deliveries dropped because a session send buffer was full",
		},
	)

	DistributorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routewatch_distributor_queue_depth",
			Help: "Current number of events waiting for fan-out",
		},
	)

	// Session metrics.
	ConnectedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routewatch_connected_sessions",
			Help: "Current number of live WebSocket sessions",
		},
	)

	ActiveTopics = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routewatch_active_topics",
			Help: "Current number of topics with at least one subscriber",
		},
	)

	// Fleet directory metrics.
	FleetLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewatch_fleet_lookup_errors_total",
			Help: "Fleet directory lookups that failed or were rejected by the breaker",
		},
	)

	// API endpoint metrics.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routewatch_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routewatch_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "routewatch_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)

	// Event bridge metrics.
	BridgePublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewatch_bridge_publishes_total",
			Help: "Accepted position events published to the NATS bridge",
		},
	)

	BridgePublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routewatch_bridge_publish_errors_total",
			Help: "Failed NATS bridge publishes",
		},
	)
)

// RecordReport counts one ingest outcome.
func RecordReport(result string) {
	ReportsTotal.WithLabelValues(result).Inc()
}

// RecordAPIRequest records latency and outcome of one HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
