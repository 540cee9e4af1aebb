// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package models

// Role is the verified role of a caller.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDriver  Role = "driver"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDriver, RoleStudent:
		return true
	}
	return false
}

// Identity is the verified caller identity handed to the core by the
// identity collaborator. The core trusts it completely and performs no
// credential verification of its own.
type Identity struct {
	// Subject is the stable identifier of the authenticated principal.
	Subject string `json:"subject"`

	Role        Role        `json:"role"`
	InstituteID InstituteID `json:"institute_id"`

	// OwnedVehicleIDs are the vehicles a driver is authorized to publish for.
	OwnedVehicleIDs []VehicleID `json:"owned_vehicle_ids,omitempty"`

	// AssignedVehicleIDs and AssignedRouteIDs are the topics a student may
	// observe.
	AssignedVehicleIDs []VehicleID `json:"assigned_vehicle_ids,omitempty"`
	AssignedRouteIDs   []RouteID   `json:"assigned_route_ids,omitempty"`
}

// OwnsVehicle reports whether the identity may publish positions for v.
func (id Identity) OwnsVehicle(v VehicleID) bool {
	for _, owned := range id.OwnedVehicleIDs {
		if owned == v {
			return true
		}
	}
	return false
}

// AssignedToVehicle reports whether the identity is assigned to vehicle v.
func (id Identity) AssignedToVehicle(v VehicleID) bool {
	for _, a := range id.AssignedVehicleIDs {
		if a == v {
			return true
		}
	}
	return false
}

// AssignedToRoute reports whether the identity is assigned to route r.
func (id Identity) AssignedToRoute(r RouteID) bool {
	for _, a := range id.AssignedRouteIDs {
		if a == r {
			return true
		}
	}
	return false
}
