// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package fleet resolves vehicles to their route and institute.
//
// The directory is the metadata collaborator of the distribution core.
// Lookups can fail (unknown vehicle, remote directory down); callers
// degrade to vehicle-exact delivery instead of guessing.
package fleet

import (
	"errors"

	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/models"
)

// ErrUnknownVehicle is returned for vehicles the directory has no entry for.
var ErrUnknownVehicle = errors.New("unknown vehicle")

// ErrUnknownRoute is returned for routes the directory has no entry for.
var ErrUnknownRoute = errors.New("unknown route")

// VehicleInfo is a vehicle's placement in the fleet.
type VehicleInfo struct {
	Vehicle   models.VehicleID
	Route     models.RouteID
	Institute models.InstituteID
}

// Directory answers fleet membership questions.
type Directory interface {
	// Lookup returns the route and institute of a vehicle.
	Lookup(id models.VehicleID) (VehicleInfo, error)

	// RouteInstitute returns the institute operating a route.
	RouteInstitute(id models.RouteID) (models.InstituteID, error)

	// VehiclesOnRoute lists the vehicles assigned to a route.
	VehiclesOnRoute(id models.RouteID) ([]models.VehicleID, error)

	// VehiclesOfInstitute lists every vehicle of an institute.
	VehiclesOfInstitute(id models.InstituteID) ([]models.VehicleID, error)
}

// StaticDirectory is a Directory backed by configuration. Immutable
// after construction and safe for concurrent reads.
type StaticDirectory struct {
	byVehicle   map[models.VehicleID]VehicleInfo
	byRoute     map[models.RouteID][]models.VehicleID
	byInstitute map[models.InstituteID][]models.VehicleID
	routeOwner  map[models.RouteID]models.InstituteID
}

// NewStaticDirectory builds a directory from fleet configuration.
func NewStaticDirectory(entries []config.VehicleEntry) *StaticDirectory {
	d := &StaticDirectory{
		byVehicle:   make(map[models.VehicleID]VehicleInfo, len(entries)),
		byRoute:     make(map[models.RouteID][]models.VehicleID),
		byInstitute: make(map[models.InstituteID][]models.VehicleID),
		routeOwner:  make(map[models.RouteID]models.InstituteID),
	}
	for _, e := range entries {
		info := VehicleInfo{
			Vehicle:   models.VehicleID(e.ID),
			Route:     models.RouteID(e.Route),
			Institute: models.InstituteID(e.Institute),
		}
		d.byVehicle[info.Vehicle] = info
		d.byRoute[info.Route] = append(d.byRoute[info.Route], info.Vehicle)
		d.byInstitute[info.Institute] = append(d.byInstitute[info.Institute], info.Vehicle)
		d.routeOwner[info.Route] = info.Institute
	}
	return d
}

// Lookup returns the route and institute of a vehicle.
func (d *StaticDirectory) Lookup(id models.VehicleID) (VehicleInfo, error) {
	info, ok := d.byVehicle[id]
	if !ok {
		return VehicleInfo{}, ErrUnknownVehicle
	}
	return info, nil
}

// RouteInstitute returns the institute operating a route.
func (d *StaticDirectory) RouteInstitute(id models.RouteID) (models.InstituteID, error) {
	inst, ok := d.routeOwner[id]
	if !ok {
		return "", ErrUnknownRoute
	}
	return inst, nil
}

// VehiclesOnRoute lists the vehicles assigned to a route.
func (d *StaticDirectory) VehiclesOnRoute(id models.RouteID) ([]models.VehicleID, error) {
	vehicles, ok := d.byRoute[id]
	if !ok {
		return nil, ErrUnknownRoute
	}
	out := make([]models.VehicleID, len(vehicles))
	copy(out, vehicles)
	return out, nil
}

// VehiclesOfInstitute lists every vehicle of an institute.
func (d *StaticDirectory) VehiclesOfInstitute(id models.InstituteID) ([]models.VehicleID, error) {
	vehicles := d.byInstitute[id]
	out := make([]models.VehicleID, len(vehicles))
	copy(out, vehicles)
	return out, nil
}

// Vehicles returns every known vehicle. Used by the offline sweeper.
func (d *StaticDirectory) Vehicles() []models.VehicleID {
	out := make([]models.VehicleID, 0, len(d.byVehicle))
	for id := range d.byVehicle {
		out = append(out, id)
	}
	return out
}
