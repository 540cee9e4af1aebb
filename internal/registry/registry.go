// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package registry tracks which sessions are subscribed to which topics.
//
// The registry maintains both directions of the mapping so fan-out can
// resolve a topic's audience and disconnect cleanup can drop every
// subscription of one session in a single call.
package registry

import (
	"sync"

	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/models"
)

// Registry is the in-process subscription index. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byTopic   map[models.Topic]map[models.SessionID]struct{}
	bySession map[models.SessionID]map[models.Topic]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byTopic:   make(map[models.Topic]map[models.SessionID]struct{}),
		bySession: make(map[models.SessionID]map[models.Topic]struct{}),
	}
}

// Subscribe adds session to topic's audience. Idempotent.
func (r *Registry) Subscribe(session models.SessionID, topic models.Topic) {
	if topic.IsZero() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.byTopic[topic]
	if !ok {
		members = make(map[models.SessionID]struct{})
		r.byTopic[topic] = members
		metrics.ActiveTopics.Inc()
	}
	members[session] = struct{}{}

	topics, ok := r.bySession[session]
	if !ok {
		topics = make(map[models.Topic]struct{})
		r.bySession[session] = topics
	}
	topics[topic] = struct{}{}
}

// Unsubscribe removes session from topic's audience. Idempotent;
// unknown pairs are a no-op.
func (r *Registry) Unsubscribe(session models.SessionID, topic models.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(session, topic)
}

func (r *Registry) unsubscribeLocked(session models.SessionID, topic models.Topic) {
	if members, ok := r.byTopic[topic]; ok {
		delete(members, session)
		if len(members) == 0 {
			delete(r.byTopic, topic)
			metrics.ActiveTopics.Dec()
		}
	}
	if topics, ok := r.bySession[session]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(r.bySession, session)
		}
	}
}

// DropSession removes every subscription held by session.
func (r *Registry) DropSession(session models.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.bySession[session] {
		r.unsubscribeLocked(session, topic)
	}
}

// SessionsFor returns a snapshot of topic's current audience.
func (r *Registry) SessionsFor(topic models.Topic) []models.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.byTopic[topic]
	if !ok {
		return nil
	}
	sessions := make([]models.SessionID, 0, len(members))
	for id := range members {
		sessions = append(sessions, id)
	}
	return sessions
}

// TopicsOf returns a snapshot of the topics session is subscribed to.
func (r *Registry) TopicsOf(session models.SessionID) []models.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.bySession[session]
	if !ok {
		return nil
	}
	topics := make([]models.Topic, 0, len(subs))
	for topic := range subs {
		topics = append(topics, topic)
	}
	return topics
}

// Subscribed reports whether session is subscribed to topic.
func (r *Registry) Subscribed(session models.SessionID, topic models.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.bySession[session][topic]
	return ok
}

// TopicCount returns the number of topics with at least one subscriber.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic)
}
