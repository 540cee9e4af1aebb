// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/store"
)

type capturePublisher struct {
	published []models.PositionRecord
}

func (p *capturePublisher) PublishPosition(rec models.PositionRecord) {
	p.published = append(p.published, rec)
}

func driverIdentity(vehicles ...models.VehicleID) models.Identity {
	return models.Identity{
		Subject:         "driver-1",
		Role:            models.RoleDriver,
		InstituteID:     "north-campus",
		OwnedVehicleIDs: vehicles,
	}
}

func ptr(f float64) *float64 { return &f }

func setupGateway(t *testing.T, cfg config.IngestConfig) (*Gateway, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	g := NewGateway(store.NewMemoryStore(), pub, cfg)
	return g, pub
}

func validReport(vehicle string, reportedAt time.Time) Report {
	return Report{
		VehicleID:  vehicle,
		Latitude:   ptr(12.9716),
		Longitude:  ptr(77.5946),
		Speed:      ptr(8.5),
		ReportedAt: reportedAt.Format(time.RFC3339Nano),
	}
}

func TestReportPositionAcceptAndPublish(t *testing.T) {
	g, pub := setupGateway(t, config.IngestConfig{MaxClockSkew: 5 * time.Second})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	res, err := g.ReportPosition(context.Background(), driverIdentity("BUS101"), validReport("BUS101", now))
	if err != nil {
		t.Fatalf("ReportPosition: %v", err)
	}
	if !res.Accepted {
		t.Fatal("fresh report should be accepted")
	}
	if res.Current.MovementStatus != models.StatusMoving {
		t.Errorf("MovementStatus = %q, want moving for speed > 0", res.Current.MovementStatus)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
}

func TestReportPositionStaleIsNotAnError(t *testing.T) {
	g, pub := setupGateway(t, config.IngestConfig{MaxClockSkew: 5 * time.Second})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()
	identity := driverIdentity("BUS101")

	if _, err := g.ReportPosition(ctx, identity, validReport("BUS101", now)); err != nil {
		t.Fatal(err)
	}

	// An older report arrives late over a flaky network.
	res, err := g.ReportPosition(ctx, identity, validReport("BUS101", now.Add(-10*time.Second)))
	if err != nil {
		t.Fatalf("stale report must not error: %v", err)
	}
	if res.Accepted {
		t.Error("stale report should not be accepted")
	}
	if !res.Current.ReportedAt.Equal(now) {
		t.Errorf("Current.ReportedAt = %v, want retained %v", res.Current.ReportedAt, now)
	}

	// Replay of the same report is idempotent.
	res, err = g.ReportPosition(ctx, identity, validReport("BUS101", now))
	if err != nil {
		t.Fatalf("replayed report must not error: %v", err)
	}
	if res.Accepted {
		t.Error("replayed report should not be accepted again")
	}

	// Only the first accept reached the distributor.
	if len(pub.published) != 1 {
		t.Errorf("published %d events, want 1", len(pub.published))
	}
}

func TestReportPositionAuthorization(t *testing.T) {
	g, pub := setupGateway(t, config.IngestConfig{})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	// Driver reporting for a vehicle they do not own.
	_, err := g.ReportPosition(ctx, driverIdentity("BUS101"), validReport("BUS999", now))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	// Students cannot report at all.
	student := models.Identity{Subject: "student-1", Role: models.RoleStudent, InstituteID: "north-campus"}
	_, err = g.ReportPosition(ctx, student, validReport("BUS101", now))
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized for student", err)
	}

	if len(pub.published) != 0 {
		t.Errorf("rejected reports must not be published, got %d", len(pub.published))
	}
}

func TestReportPositionValidation(t *testing.T) {
	g, _ := setupGateway(t, config.IngestConfig{})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()
	identity := driverIdentity("BUS101")

	tests := []struct {
		name   string
		mutate func(*Report)
	}{
		{"missing latitude", func(r *Report) { r.Latitude = nil }},
		{"latitude out of range", func(r *Report) { r.Latitude = ptr(91) }},
		{"longitude out of range", func(r *Report) { r.Longitude = ptr(-181) }},
		{"unparseable timestamp", func(r *Report) { r.ReportedAt = "yesterday" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validReport("BUS101", now)
			tt.mutate(&report)
			_, err := g.ReportPosition(ctx, identity, report)
			if !errors.Is(err, ErrInvalidReport) {
				t.Errorf("err = %v, want ErrInvalidReport", err)
			}
		})
	}
}

func TestReportPositionWithoutTimestampUsesReceiptTime(t *testing.T) {
	g, pub := setupGateway(t, config.IngestConfig{MaxClockSkew: 5 * time.Second})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	report := validReport("BUS101", now)
	report.ReportedAt = ""
	res, err := g.ReportPosition(context.Background(), driverIdentity("BUS101"), report)
	if err != nil {
		t.Fatalf("report without timestamp must be accepted: %v", err)
	}
	if !res.Accepted {
		t.Fatal("report without timestamp should be accepted")
	}
	if !res.Current.ReportedAt.Equal(now) {
		t.Errorf("ReportedAt = %v, want server receipt time %v", res.Current.ReportedAt, now)
	}
	if len(pub.published) != 1 {
		t.Errorf("published %d events, want 1", len(pub.published))
	}
}

func TestReportPositionClockSkewClamped(t *testing.T) {
	g, _ := setupGateway(t, config.IngestConfig{MaxClockSkew: 5 * time.Second})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	// A device clock running 2 minutes fast.
	res, err := g.ReportPosition(context.Background(), driverIdentity("BUS101"),
		validReport("BUS101", now.Add(2*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Current.ReportedAt.Equal(now) {
		t.Errorf("ReportedAt = %v, want clamped to server time %v", res.Current.ReportedAt, now)
	}

	// Within the skew allowance the device timestamp is kept.
	res, err = g.ReportPosition(context.Background(), driverIdentity("BUS102"),
		validReport("BUS102", now.Add(3*time.Second)))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Current.ReportedAt.Equal(now.Add(3 * time.Second)) {
		t.Errorf("ReportedAt = %v, want device timestamp kept", res.Current.ReportedAt)
	}
}

func TestReportPositionSpeedSemantics(t *testing.T) {
	g, _ := setupGateway(t, config.IngestConfig{})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()
	identity := driverIdentity("BUS101", "BUS102", "BUS103")

	// Zero speed means stopped.
	report := validReport("BUS101", now)
	report.Speed = ptr(0)
	res, err := g.ReportPosition(ctx, identity, report)
	if err != nil {
		t.Fatal(err)
	}
	if res.Current.MovementStatus != models.StatusStopped {
		t.Errorf("status = %q, want stopped", res.Current.MovementStatus)
	}

	// Negative speed readings are dropped, vehicle counts as moving.
	report = validReport("BUS102", now)
	report.Speed = ptr(-3)
	res, err = g.ReportPosition(ctx, identity, report)
	if err != nil {
		t.Fatal(err)
	}
	if res.Current.Speed != nil {
		t.Errorf("Speed = %v, want nil for negative reading", *res.Current.Speed)
	}
	if res.Current.MovementStatus != models.StatusMoving {
		t.Errorf("status = %q, want moving", res.Current.MovementStatus)
	}

	// Absent speed also counts as moving.
	report = validReport("BUS103", now)
	report.Speed = nil
	res, err = g.ReportPosition(ctx, identity, report)
	if err != nil {
		t.Fatal(err)
	}
	if res.Current.MovementStatus != models.StatusMoving {
		t.Errorf("status = %q, want moving", res.Current.MovementStatus)
	}
}

func TestReportPositionThrottling(t *testing.T) {
	g, _ := setupGateway(t, config.IngestConfig{
		MaxReportsPerSec: 1,
		ReportBurst:      2,
	})
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()
	identity := driverIdentity("BUS101")

	for i := 0; i < 2; i++ {
		if _, err := g.ReportPosition(ctx, identity, validReport("BUS101", now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}

	_, err := g.ReportPosition(ctx, identity, validReport("BUS101", now.Add(5*time.Second)))
	if !errors.Is(err, ErrThrottled) {
		t.Errorf("err = %v, want ErrThrottled after burst exhausted", err)
	}

	// A different driver has an independent budget.
	other := models.Identity{
		Subject: "driver-2", Role: models.RoleDriver,
		InstituteID: "north-campus", OwnedVehicleIDs: []models.VehicleID{"BUS102"},
	}
	if _, err := g.ReportPosition(ctx, other, validReport("BUS102", now)); err != nil {
		t.Errorf("other driver should not be throttled: %v", err)
	}
}
