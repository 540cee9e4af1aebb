// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package fleet

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/models"
)

// BreakerDirectory guards a Directory with a circuit breaker. When the
// backing directory keeps failing, lookups short-circuit and callers
// fall back to vehicle-exact delivery instead of queueing behind a
// dead dependency.
//
// Directory unknown-entry errors count as failures only when they come
// from an unhealthy backend; ErrUnknownVehicle and ErrUnknownRoute are
// definitive answers and pass through without tripping the breaker.
type BreakerDirectory struct {
	inner Directory
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerDirectory wraps inner with a circuit breaker.
func NewBreakerDirectory(inner Directory) *BreakerDirectory {
	settings := gobreaker.Settings{
		Name:        "fleet-directory",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("fleet directory breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Definitive "no such entry" answers are not backend failures.
			return err == nil || errors.Is(err, ErrUnknownVehicle) || errors.Is(err, ErrUnknownRoute)
		},
	}
	return &BreakerDirectory{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (d *BreakerDirectory) execute(fn func() (any, error)) (any, error) {
	res, err := d.cb.Execute(fn)
	if err != nil && !errors.Is(err, ErrUnknownVehicle) && !errors.Is(err, ErrUnknownRoute) {
		metrics.FleetLookupErrors.Inc()
	}
	return res, err
}

// Lookup returns the route and institute of a vehicle.
func (d *BreakerDirectory) Lookup(id models.VehicleID) (VehicleInfo, error) {
	res, err := d.execute(func() (any, error) {
		return d.inner.Lookup(id)
	})
	if err != nil {
		return VehicleInfo{}, err
	}
	return res.(VehicleInfo), nil
}

// RouteInstitute returns the institute operating a route.
func (d *BreakerDirectory) RouteInstitute(id models.RouteID) (models.InstituteID, error) {
	res, err := d.execute(func() (any, error) {
		return d.inner.RouteInstitute(id)
	})
	if err != nil {
		return "", err
	}
	return res.(models.InstituteID), nil
}

// VehiclesOnRoute lists the vehicles assigned to a route.
func (d *BreakerDirectory) VehiclesOnRoute(id models.RouteID) ([]models.VehicleID, error) {
	res, err := d.execute(func() (any, error) {
		return d.inner.VehiclesOnRoute(id)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.VehicleID), nil
}

// VehiclesOfInstitute lists every vehicle of an institute.
func (d *BreakerDirectory) VehiclesOfInstitute(id models.InstituteID) ([]models.VehicleID, error) {
	res, err := d.execute(func() (any, error) {
		return d.inner.VehiclesOfInstitute(id)
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.VehicleID), nil
}

// State returns the breaker state for readiness reporting.
func (d *BreakerDirectory) State() string {
	return d.cb.State().String()
}
