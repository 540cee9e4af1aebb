// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package distributor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/fleet"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/registry"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	full   bool
}

func (s *recordingSink) Deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type mapResolver map[models.SessionID]*recordingSink

func (m mapResolver) SinkFor(id models.SessionID) Sink {
	if s, ok := m[id]; ok {
		return s
	}
	return nil
}

func testDirectory() fleet.Directory {
	return fleet.NewStaticDirectory([]config.VehicleEntry{
		{ID: "BUS101", Route: "R12", Institute: "north-campus"},
		{ID: "BUS201", Route: "R21", Institute: "south-campus"},
	})
}

func record(id models.VehicleID, reportedAt time.Time) models.PositionRecord {
	return models.PositionRecord{
		VehicleID:      id,
		Latitude:       12.9716,
		Longitude:      77.5946,
		ReportedAt:     reportedAt,
		MovementStatus: models.StatusMoving,
	}
}

func TestFanOutReachesAllTopicVariants(t *testing.T) {
	reg := registry.New()
	sinks := mapResolver{
		"vehicle-watcher":   {},
		"route-watcher":     {},
		"institute-watcher": {},
		"bystander":         {},
	}
	reg.Subscribe("vehicle-watcher", models.VehicleTopic("BUS101"))
	reg.Subscribe("route-watcher", models.RouteTopic("R12"))
	reg.Subscribe("institute-watcher", models.InstituteTopic("north-campus"))
	reg.Subscribe("bystander", models.VehicleTopic("BUS999"))

	d := New(testDirectory(), reg, sinks, nil)
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	d.fanOut(record("BUS101", now))

	for _, name := range []models.SessionID{"vehicle-watcher", "route-watcher", "institute-watcher"} {
		if got := len(sinks[name].events); got != 1 {
			t.Errorf("%s received %d events, want 1", name, got)
		}
	}
	if got := len(sinks["bystander"].events); got != 0 {
		t.Errorf("bystander received %d events, want 0", got)
	}

	// Topic tagging matches the subscription that selected the session.
	if ev := sinks["route-watcher"].events[0]; ev.Topic != models.RouteTopic("R12") {
		t.Errorf("route-watcher event topic = %v", ev.Topic)
	}
}

func TestFanOutNoCrossInstituteLeak(t *testing.T) {
	reg := registry.New()
	sinks := mapResolver{"south-admin": {}}
	reg.Subscribe("south-admin", models.InstituteTopic("south-campus"))

	d := New(testDirectory(), reg, sinks, nil)
	d.fanOut(record("BUS101", time.Now())) // north-campus vehicle

	if got := len(sinks["south-admin"].events); got != 0 {
		t.Errorf("south-campus admin received %d events for a north-campus vehicle", got)
	}
}

func TestFanOutDeduplicatesMultiTopicSessions(t *testing.T) {
	reg := registry.New()
	sinks := mapResolver{"eager": {}}
	reg.Subscribe("eager", models.VehicleTopic("BUS101"))
	reg.Subscribe("eager", models.RouteTopic("R12"))
	reg.Subscribe("eager", models.InstituteTopic("north-campus"))

	d := New(testDirectory(), reg, sinks, nil)
	d.fanOut(record("BUS101", time.Now()))

	if got := len(sinks["eager"].events); got != 1 {
		t.Fatalf("session with overlapping subscriptions received %d events, want 1", got)
	}
	if ev := sinks["eager"].events[0]; ev.Topic != models.VehicleTopic("BUS101") {
		t.Errorf("event tagged %v, want the vehicle-exact topic that matched first", ev.Topic)
	}
}

type unknownDirectory struct{}

func (unknownDirectory) Lookup(models.VehicleID) (fleet.VehicleInfo, error) {
	return fleet.VehicleInfo{}, fleet.ErrUnknownVehicle
}
func (unknownDirectory) RouteInstitute(models.RouteID) (models.InstituteID, error) {
	return "", fleet.ErrUnknownRoute
}
func (unknownDirectory) VehiclesOnRoute(models.RouteID) ([]models.VehicleID, error) {
	return nil, fleet.ErrUnknownRoute
}
func (unknownDirectory) VehiclesOfInstitute(models.InstituteID) ([]models.VehicleID, error) {
	return nil, nil
}

func TestFanOutDegradesWithoutFleetMetadata(t *testing.T) {
	reg := registry.New()
	sinks := mapResolver{"vehicle-watcher": {}, "route-watcher": {}}
	reg.Subscribe("vehicle-watcher", models.VehicleTopic("BUS101"))
	reg.Subscribe("route-watcher", models.RouteTopic("R12"))

	d := New(unknownDirectory{}, reg, sinks, nil)
	d.fanOut(record("BUS101", time.Now()))

	// Vehicle-exact subscribers still get the update.
	if got := len(sinks["vehicle-watcher"].events); got != 1 {
		t.Errorf("vehicle-watcher received %d events, want 1", got)
	}
	// Route delivery is suppressed rather than guessed.
	if got := len(sinks["route-watcher"].events); got != 0 {
		t.Errorf("route-watcher received %d events, want 0 without metadata", got)
	}
}

func TestFanOutSkipsDeadAndFullSinks(t *testing.T) {
	reg := registry.New()
	sinks := mapResolver{"full": {full: true}}
	reg.Subscribe("full", models.VehicleTopic("BUS101"))
	reg.Subscribe("gone", models.VehicleTopic("BUS101")) // no sink resolves

	d := New(testDirectory(), reg, sinks, nil)
	d.fanOut(record("BUS101", time.Now())) // must not panic or block
}

type captureBridge struct {
	infos []fleet.VehicleInfo
}

func (b *captureBridge) PublishAccepted(info fleet.VehicleInfo, _ models.PositionRecord) {
	b.infos = append(b.infos, info)
}

func TestFanOutFeedsBridgeOnlyWithMetadata(t *testing.T) {
	bridge := &captureBridge{}
	d := New(testDirectory(), registry.New(), mapResolver{}, bridge)
	d.fanOut(record("BUS101", time.Now()))
	if len(bridge.infos) != 1 || bridge.infos[0].Route != "R12" {
		t.Errorf("bridge publishes = %+v, want one entry for R12", bridge.infos)
	}

	bridge2 := &captureBridge{}
	d2 := New(unknownDirectory{}, registry.New(), mapResolver{}, bridge2)
	d2.fanOut(record("BUS101", time.Now()))
	if len(bridge2.infos) != 0 {
		t.Errorf("bridge must not be fed without fleet metadata, got %+v", bridge2.infos)
	}
}

func TestServeDrainsQueueAndStops(t *testing.T) {
	reg := registry.New()
	sink := &recordingSink{}
	sinks := mapResolver{"watcher": sink}
	reg.Subscribe("watcher", models.VehicleTopic("BUS101"))

	d := New(testDirectory(), reg, sinks, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		d.PublishPosition(record("BUS101", base.Add(time.Duration(i)*time.Second)))
	}

	deadline := time.After(2 * time.Second)
	for len(sink.snapshot()) < 5 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for deliveries, got %d", len(sink.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Per-vehicle ordering is preserved through the queue.
	events := sink.snapshot()
	for i := 1; i < len(events); i++ {
		if !events[i].Record.ReportedAt.After(events[i-1].Record.ReportedAt) {
			t.Errorf("events out of order at %d", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
