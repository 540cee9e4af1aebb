// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package distributor fans accepted position updates out to sessions.
//
// A single goroutine drains the event queue and resolves each update's
// topics against the subscription registry, so every session observes
// one vehicle's updates in store acceptance order. Delivery to a
// session is fire-and-forget: a slow consumer loses events rather than
// stalling the fan-out of everyone else.
package distributor

import (
	"context"

	"github.com/routewatch/routewatch/internal/fleet"
	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/models"
)

// Event is one position update tagged with the topic that matched the
// receiving session's subscription.
type Event struct {
	Topic  models.Topic          `json:"topic"`
	Record models.PositionRecord `json:"position"`
}

// Sink receives events for one session. Deliver must not block.
type Sink interface {
	// Deliver hands an event to the session. Returns false when the
	// event was dropped because the session cannot keep up.
	Deliver(ev Event) bool
}

// SubscriptionIndex resolves a topic to its current audience.
type SubscriptionIndex interface {
	SessionsFor(topic models.Topic) []models.SessionID
}

// SinkResolver maps session ids to live sinks. Sessions that have
// disconnected resolve to nil and are skipped.
type SinkResolver interface {
	SinkFor(id models.SessionID) Sink
}

// BridgePublisher forwards accepted updates to an external bus.
type BridgePublisher interface {
	PublishAccepted(info fleet.VehicleInfo, rec models.PositionRecord)
}

const defaultQueueSize = 1024

// Distributor owns the fan-out loop.
type Distributor struct {
	directory fleet.Directory
	subs      SubscriptionIndex
	resolver  SinkResolver
	bridge    BridgePublisher

	queue chan models.PositionRecord
}

// New builds a distributor. bridge may be nil.
func New(directory fleet.Directory, subs SubscriptionIndex, resolver SinkResolver, bridge BridgePublisher) *Distributor {
	return &Distributor{
		directory: directory,
		subs:      subs,
		resolver:  resolver,
		bridge:    bridge,
		queue:     make(chan models.PositionRecord, defaultQueueSize),
	}
}

// PublishPosition enqueues an accepted update for fan-out. Implements
// ingest.Publisher. Blocks briefly if the queue is full; the queue is
// sized so this only happens when the fan-out loop is down.
func (d *Distributor) PublishPosition(rec models.PositionRecord) {
	d.queue <- rec
	metrics.DistributorQueueDepth.Set(float64(len(d.queue)))
}

// Serve drains the queue until ctx is canceled. Implements
// suture.Service.
//
// Shutdown takes priority over pending events so a canceled context
// never waits behind a deep queue.
func (d *Distributor) Serve(ctx context.Context) error {
	logging.Info().Str("component", "distributor").Msg("distributor started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().
				Str("component", "distributor").
				Int("queued", len(d.queue)).
				Msg("distributor stopped")
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			logging.Info().
				Str("component", "distributor").
				Int("queued", len(d.queue)).
				Msg("distributor stopped")
			return ctx.Err()
		case rec := <-d.queue:
			metrics.DistributorQueueDepth.Set(float64(len(d.queue)))
			d.fanOut(rec)
		}
	}
}

// fanOut delivers one update to every session subscribed to any of the
// update's topics.
//
// The topic set is the vehicle-exact topic, the vehicle's route topic
// and its institute broadcast topic. When the fleet directory cannot
// place the vehicle, delivery degrades to the vehicle-exact topic only;
// guessing a route or institute could leak positions across institutes.
//
// A session subscribed to several matching topics receives the event
// once, tagged with the first topic that matched.
func (d *Distributor) fanOut(rec models.PositionRecord) {
	topics := make([]models.Topic, 0, 3)
	topics = append(topics, models.VehicleTopic(rec.VehicleID))

	info, err := d.directory.Lookup(rec.VehicleID)
	if err != nil {
		logging.Debug().
			Err(err).
			Str("vehicle_id", string(rec.VehicleID)).
			Msg("fleet lookup failed, degrading to vehicle-exact delivery")
	} else {
		topics = append(topics,
			models.RouteTopic(info.Route),
			models.InstituteTopic(info.Institute),
		)
		if d.bridge != nil {
			d.bridge.PublishAccepted(info, rec)
		}
	}

	delivered := make(map[models.SessionID]struct{})
	for _, topic := range topics {
		for _, sessionID := range d.subs.SessionsFor(topic) {
			if _, seen := delivered[sessionID]; seen {
				continue
			}
			delivered[sessionID] = struct{}{}

			sink := d.resolver.SinkFor(sessionID)
			if sink == nil {
				continue
			}
			if sink.Deliver(Event{Topic: topic, Record: rec}) {
				metrics.DeliveriesTotal.WithLabelValues(string(topic.Kind())).Inc()
			} else {
				metrics.DroppedDeliveries.Inc()
			}
		}
	}
}
