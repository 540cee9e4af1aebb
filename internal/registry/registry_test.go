// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package registry

import (
	"sync"
	"testing"

	"github.com/routewatch/routewatch/internal/models"
)

func TestSubscribeAndResolve(t *testing.T) {
	r := New()
	topic := models.VehicleTopic("BUS101")

	r.Subscribe("s1", topic)
	r.Subscribe("s2", topic)
	r.Subscribe("s1", topic) // idempotent

	sessions := r.SessionsFor(topic)
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	if !r.Subscribed("s1", topic) || !r.Subscribed("s2", topic) {
		t.Error("both sessions should be subscribed")
	}
}

func TestUnsubscribeRemovesEmptyTopic(t *testing.T) {
	r := New()
	topic := models.RouteTopic("R12")

	r.Subscribe("s1", topic)
	if r.TopicCount() != 1 {
		t.Fatalf("TopicCount = %d, want 1", r.TopicCount())
	}

	r.Unsubscribe("s1", topic)
	if r.TopicCount() != 0 {
		t.Errorf("TopicCount = %d, want 0 after last unsubscribe", r.TopicCount())
	}
	if got := r.SessionsFor(topic); got != nil {
		t.Errorf("SessionsFor = %v, want nil", got)
	}

	// Unknown pair is a no-op.
	r.Unsubscribe("s1", topic)
	r.Unsubscribe("ghost", models.VehicleTopic("BUS999"))
}

func TestDropSession(t *testing.T) {
	r := New()
	vehicle := models.VehicleTopic("BUS101")
	route := models.RouteTopic("R12")
	broadcast := models.InstituteTopic("north-campus")

	r.Subscribe("s1", vehicle)
	r.Subscribe("s1", route)
	r.Subscribe("s1", broadcast)
	r.Subscribe("s2", route)

	r.DropSession("s1")

	if got := r.TopicsOf("s1"); got != nil {
		t.Errorf("TopicsOf(s1) = %v, want nil", got)
	}
	if got := r.SessionsFor(vehicle); got != nil {
		t.Errorf("vehicle topic should be empty, got %v", got)
	}
	// s2 keeps its route subscription.
	if got := r.SessionsFor(route); len(got) != 1 || got[0] != "s2" {
		t.Errorf("SessionsFor(route) = %v, want [s2]", got)
	}
	if r.TopicCount() != 1 {
		t.Errorf("TopicCount = %d, want 1", r.TopicCount())
	}
}

func TestZeroTopicIgnored(t *testing.T) {
	r := New()
	r.Subscribe("s1", models.Topic{})
	if r.TopicCount() != 0 {
		t.Error("zero topic must not be registered")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	topic := models.InstituteTopic("north-campus")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := models.SessionID(rune('a' + n))
			r.Subscribe(id, topic)
			r.SessionsFor(topic)
			r.TopicsOf(id)
			r.DropSession(id)
		}(i)
	}
	wg.Wait()

	if r.TopicCount() != 0 {
		t.Errorf("TopicCount = %d, want 0 after all drops", r.TopicCount())
	}
}
