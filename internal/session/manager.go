// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/routewatch/routewatch/internal/distributor"
	"github.com/routewatch/routewatch/internal/fleet"
	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/registry"
	"github.com/routewatch/routewatch/internal/store"
)

var (
	// ErrForbiddenTopic is returned when the identity's role or scope
	// does not permit observing a topic.
	ErrForbiddenTopic = errors.New("not authorized for topic")

	// ErrSessionClosed is returned for operations on torn-down sessions.
	ErrSessionClosed = errors.New("session closed")
)

// Manager owns the session table and enforces join authorization.
// Implements distributor.SinkResolver.
type Manager struct {
	registry  *registry.Registry
	store     store.PositionStore
	directory fleet.Directory

	mu       sync.RWMutex
	sessions map[models.SessionID]*Session
}

// NewManager builds a session manager.
func NewManager(reg *registry.Registry, s store.PositionStore, directory fleet.Directory) *Manager {
	return &Manager{
		registry:  reg,
		store:     s,
		directory: directory,
		sessions:  make(map[models.SessionID]*Session),
	}
}

// Connect registers a new session for a verified identity and
// subscribes it to the identity's default topic set, seeded, before
// the session is handed back: a driver watches their own vehicles, a
// student their assigned vehicles and routes, an admin the institute
// broadcast. Clients can still join and leave further topics.
func (m *Manager) Connect(ctx context.Context, identity models.Identity) *Session {
	s := newSession(identity)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	metrics.ConnectedSessions.Inc()
	logging.Info().
		Str("session_id", string(s.ID)).
		Str("subject", identity.Subject).
		Str("role", string(identity.Role)).
		Msg("session connected")

	// A default the directory cannot place (stale assignment) is
	// skipped; the session still connects.
	for _, topic := range defaultTopics(identity) {
		if err := m.Join(ctx, s, topic); err != nil {
			logging.Ctx(ctx).Warn().
				Str("session_id", string(s.ID)).
				Str("topic", topic.String()).
				Err(err).
				Msg("default subscription skipped")
		}
	}
	return s
}

// defaultTopics is the topic set a role observes without explicit joins.
func defaultTopics(identity models.Identity) []models.Topic {
	switch identity.Role {
	case models.RoleAdmin:
		return []models.Topic{models.InstituteTopic(identity.InstituteID)}
	case models.RoleDriver:
		topics := make([]models.Topic, 0, len(identity.OwnedVehicleIDs))
		for _, v := range identity.OwnedVehicleIDs {
			topics = append(topics, models.VehicleTopic(v))
		}
		return topics
	case models.RoleStudent:
		topics := make([]models.Topic, 0, len(identity.AssignedVehicleIDs)+len(identity.AssignedRouteIDs))
		for _, v := range identity.AssignedVehicleIDs {
			topics = append(topics, models.VehicleTopic(v))
		}
		for _, r := range identity.AssignedRouteIDs {
			topics = append(topics, models.RouteTopic(r))
		}
		return topics
	}
	return nil
}

// SinkFor resolves a session id to its delivery sink. Implements
// distributor.SinkResolver. Returns nil for unknown sessions.
func (m *Manager) SinkFor(id models.SessionID) distributor.Sink {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return s
}

// Get returns the session with the given id, or nil.
func (m *Manager) Get(id models.SessionID) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Join subscribes s to topic after an authorization check, seeding the
// subscription with the current stored positions of the topic's
// vehicles. The seed is enqueued before any live update for the topic;
// live updates racing the seed are parked and released afterwards,
// minus those the seed already covers.
func (m *Manager) Join(ctx context.Context, s *Session, topic models.Topic) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	if topic.IsZero() {
		return models.ErrInvalidTopic
	}
	if err := m.authorize(s.Identity, topic); err != nil {
		logging.Ctx(ctx).Warn().
			Str("session_id", string(s.ID)).
			Str("subject", s.Identity.Subject).
			Str("topic", topic.String()).
			Msg("join refused")
		return err
	}

	vehicles, err := m.topicVehicles(topic)
	if err != nil {
		return fmt.Errorf("resolve topic vehicles: %w", err)
	}

	s.beginSeed(topic)
	m.registry.Subscribe(s.ID, topic)

	snapshot, err := m.store.GetMany(ctx, vehicles)
	if err != nil {
		// Join still stands; the subscriber starts from live updates.
		s.abortSeed(topic)
		logging.Ctx(ctx).Err(err).
			Str("topic", topic.String()).
			Msg("seed read failed, subscription continues unseeded")
		return nil
	}
	s.completeSeed(topic, snapshot)

	logging.Ctx(ctx).Debug().
		Str("session_id", string(s.ID)).
		Str("topic", topic.String()).
		Int("seeded", len(snapshot)).
		Msg("topic joined")
	return nil
}

// Leave unsubscribes s from topic. Idempotent.
func (m *Manager) Leave(s *Session, topic models.Topic) {
	m.registry.Unsubscribe(s.ID, topic)
}

// Close tears down a session: subscriptions are dropped before the
// events channel closes so the fan-out loop cannot deliver into a
// closed session.
func (m *Manager) Close(s *Session) {
	m.mu.Lock()
	_, present := m.sessions[s.ID]
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if !present {
		return
	}

	m.registry.DropSession(s.ID)
	s.close()
	metrics.ConnectedSessions.Dec()
	logging.Info().
		Str("session_id", string(s.ID)).
		Str("subject", s.Identity.Subject).
		Msg("session closed")
}

// Authorize reports whether identity may observe topic. Exposed for
// the HTTP read endpoints, which enforce the same scoping as joins.
func (m *Manager) Authorize(identity models.Identity, topic models.Topic) error {
	return m.authorize(identity, topic)
}

// authorize checks whether identity may observe topic.
//
// Scoping is strict: an unplaceable vehicle or route is refused rather
// than leaked across institutes.
func (m *Manager) authorize(identity models.Identity, topic models.Topic) error {
	switch topic.Kind() {
	case models.TopicKindInstitute:
		// Institute-wide fleet views are admin-only.
		inst, _ := topic.Institute()
		if identity.Role != models.RoleAdmin || identity.InstituteID != inst {
			return ErrForbiddenTopic
		}
		return nil

	case models.TopicKindVehicle:
		vehicle, _ := topic.Vehicle()
		switch identity.Role {
		case models.RoleAdmin:
			return m.requireVehicleInstitute(vehicle, identity.InstituteID)
		case models.RoleDriver:
			if identity.OwnsVehicle(vehicle) {
				return nil
			}
			return ErrForbiddenTopic
		case models.RoleStudent:
			if !identity.AssignedToVehicle(vehicle) {
				return ErrForbiddenTopic
			}
			return m.requireVehicleInstitute(vehicle, identity.InstituteID)
		}
		return ErrForbiddenTopic

	case models.TopicKindRoute:
		route, _ := topic.Route()
		switch identity.Role {
		case models.RoleAdmin:
			return m.requireRouteInstitute(route, identity.InstituteID)
		case models.RoleStudent:
			if !identity.AssignedToRoute(route) {
				return ErrForbiddenTopic
			}
			return m.requireRouteInstitute(route, identity.InstituteID)
		}
		return ErrForbiddenTopic
	}
	return ErrForbiddenTopic
}

func (m *Manager) requireVehicleInstitute(vehicle models.VehicleID, inst models.InstituteID) error {
	info, err := m.directory.Lookup(vehicle)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenTopic, vehicle)
	}
	if info.Institute != inst {
		return ErrForbiddenTopic
	}
	return nil
}

func (m *Manager) requireRouteInstitute(route models.RouteID, inst models.InstituteID) error {
	owner, err := m.directory.RouteInstitute(route)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenTopic, route)
	}
	if owner != inst {
		return ErrForbiddenTopic
	}
	return nil
}

// topicVehicles lists the vehicles whose stored positions seed a join.
func (m *Manager) topicVehicles(topic models.Topic) ([]models.VehicleID, error) {
	switch topic.Kind() {
	case models.TopicKindVehicle:
		vehicle, _ := topic.Vehicle()
		return []models.VehicleID{vehicle}, nil
	case models.TopicKindRoute:
		route, _ := topic.Route()
		return m.directory.VehiclesOnRoute(route)
	case models.TopicKindInstitute:
		inst, _ := topic.Institute()
		return m.directory.VehiclesOfInstitute(inst)
	}
	return nil, models.ErrInvalidTopic
}
