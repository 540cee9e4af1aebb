// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/store"
)

// VehicleLister enumerates the vehicles the sweeper watches.
type VehicleLister interface {
	Vehicles() []models.VehicleID
}

// Sweeper marks vehicles offline when their last report is older than
// the grace period. Subscribers learn about the transition through the
// notify callback, which feeds the distributor.
type Sweeper struct {
	store    store.PositionStore
	vehicles VehicleLister
	grace    time.Duration
	interval time.Duration
	notify   func(models.PositionRecord)
	now      func() time.Time
}

// NewSweeper builds an offline sweeper. notify may be nil.
func NewSweeper(s store.PositionStore, vehicles VehicleLister, grace, interval time.Duration, notify func(models.PositionRecord)) *Sweeper {
	return &Sweeper{
		store:    s,
		vehicles: vehicles,
		grace:    grace,
		interval: interval,
		notify:   notify,
		now:      time.Now,
	}
}

// Serve runs the sweep loop until ctx is canceled. Implements
// suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	if s.grace <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().
		Dur("grace", s.grace).
		Dur("interval", s.interval).
		Msg("offline sweeper started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep makes one pass over the fleet.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.grace)

	for _, id := range s.vehicles.Vehicles() {
		rec, err := s.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logging.Err(err).Str("vehicle_id", string(id)).Msg("sweep read failed")
			continue
		}
		if rec.MovementStatus == models.StatusOffline || rec.ReportedAt.After(cutoff) {
			continue
		}

		if err := s.store.SetMovementStatus(ctx, id, models.StatusOffline); err != nil {
			logging.Err(err).Str("vehicle_id", string(id)).Msg("sweep status update failed")
			continue
		}
		logging.Info().
			Str("vehicle_id", string(id)).
			Time("last_report", rec.ReportedAt).
			Msg("vehicle marked offline")

		if s.notify != nil {
			rec.MovementStatus = models.StatusOffline
			s.notify(rec)
		}
	}
}
