// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package events forwards accepted position updates to NATS so other
// campus systems (ETA calculation, trip history, notifications) can
// consume them without touching the live distribution path.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/fleet"
	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/models"
)

// positionEvent is the wire form published to NATS.
type positionEvent struct {
	Vehicle   string                `json:"vehicleId"`
	Route     string                `json:"routeId"`
	Institute string                `json:"instituteId"`
	Position  models.PositionRecord `json:"position"`
}

// Bridge publishes accepted updates to NATS. Implements
// distributor.BridgePublisher. Publishing is best-effort: a NATS
// outage is logged and counted but never blocks fan-out.
type Bridge struct {
	nc     *nats.Conn
	prefix string
}

// NewBridge connects to NATS. Connection retries are delegated to the
// client so a bridge outlives broker restarts.
func NewBridge(cfg config.NATSConfig) (*Bridge, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("routewatch-bridge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Bridge{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// PublishAccepted publishes one accepted update to
// <prefix>.<institute>.<vehicle>.
func (b *Bridge) PublishAccepted(info fleet.VehicleInfo, rec models.PositionRecord) {
	ev := positionEvent{
		Vehicle:   string(info.Vehicle),
		Route:     string(info.Route),
		Institute: string(info.Institute),
		Position:  rec,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.BridgePublishErrors.Inc()
		logging.Err(err).Msg("bridge event marshal failed")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", b.prefix, info.Institute, info.Vehicle)
	if err := b.nc.Publish(subject, data); err != nil {
		metrics.BridgePublishErrors.Inc()
		logging.Err(err).Str("subject", subject).Msg("bridge publish failed")
		return
	}
	metrics.BridgePublishes.Inc()
}

// Connected reports whether the NATS connection is up. Feeds readiness.
func (b *Bridge) Connected() bool {
	return b.nc.IsConnected()
}

// Close drains and closes the connection.
func (b *Bridge) Close() {
	if err := b.nc.Drain(); err != nil {
		logging.Err(err).Msg("nats drain failed")
	}
}
