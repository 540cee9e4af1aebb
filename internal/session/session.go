// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package session manages authenticated subscriber sessions.
//
// A session is one authenticated WebSocket connection with its topic
// subscriptions. The manager enforces role-based topic authorization,
// seeds every join with the current stored positions before live
// updates flow, and tears sessions down so that no delivery is
// attempted after disconnect.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/routewatch/routewatch/internal/distributor"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/models"
)

// eventBufferSize bounds the per-session delivery queue. A session
// that falls this far behind starts losing events; the store always
// has the latest position, so a reconnect or the next update heals
// the view.
const eventBufferSize = 64

// Session is one authenticated subscriber.
type Session struct {
	ID       models.SessionID
	Identity models.Identity

	// Events carries deliveries to the connection's write loop.
	// Closed exactly once when the session closes.
	Events chan distributor.Event

	mu      sync.Mutex
	closed  bool
	started time.Time

	// seeding holds topics whose initial snapshot is still being
	// assembled. Live deliveries for those topics are parked in
	// pending so the snapshot is observed before any live update.
	seeding map[models.Topic]struct{}
	pending []distributor.Event
}

func newSession(identity models.Identity) *Session {
	return &Session{
		ID:       models.SessionID(uuid.New().String()),
		Identity: identity,
		Events:   make(chan distributor.Event, eventBufferSize),
		started:  time.Now(),
		seeding:  make(map[models.Topic]struct{}),
	}
}

// Deliver hands a live event to the session. Implements
// distributor.Sink. Never blocks: events for a full buffer are
// dropped, events for a seeding topic are parked until the seed
// snapshot has been enqueued.
func (s *Session) Deliver(ev distributor.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, seeding := s.seeding[ev.Topic]; seeding {
		s.pending = append(s.pending, ev)
		return true
	}
	return s.enqueueLocked(ev)
}

// enqueueLocked pushes onto the events channel without blocking.
func (s *Session) enqueueLocked(ev distributor.Event) bool {
	select {
	case s.Events <- ev:
		return true
	default:
		return false
	}
}

// beginSeed marks topic as seeding so live deliveries are parked.
func (s *Session) beginSeed(topic models.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeding[topic] = struct{}{}
}

// completeSeed enqueues the snapshot for topic and then releases the
// parked live events that are strictly newer than their vehicle's
// snapshot record. Parked events for vehicles absent from the snapshot
// pass through unconditionally.
func (s *Session) completeSeed(topic models.Topic, snapshot []models.PositionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seeding, topic)
	if s.closed {
		s.pending = nil
		return
	}

	seedTimes := make(map[models.VehicleID]time.Time, len(snapshot))
	for _, rec := range snapshot {
		seedTimes[rec.VehicleID] = rec.ReportedAt
		if !s.enqueueLocked(distributor.Event{Topic: topic, Record: rec}) {
			metrics.DroppedDeliveries.Inc()
		}
	}

	var keep []distributor.Event
	for _, ev := range s.pending {
		if ev.Topic != topic {
			keep = append(keep, ev)
			continue
		}
		if seedAt, ok := seedTimes[ev.Record.VehicleID]; ok && !ev.Record.ReportedAt.After(seedAt) {
			continue
		}
		if !s.enqueueLocked(ev) {
			metrics.DroppedDeliveries.Inc()
		}
	}
	s.pending = keep
}

// abortSeed releases the seeding mark without enqueueing a snapshot.
// Parked events for the topic are discarded.
func (s *Session) abortSeed(topic models.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seeding, topic)
	var keep []distributor.Event
	for _, ev := range s.pending {
		if ev.Topic != topic {
			keep = append(keep, ev)
		}
	}
	s.pending = keep
}

// close marks the session closed and closes the events channel.
// Safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.Events)
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
