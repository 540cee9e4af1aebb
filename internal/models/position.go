// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package models defines the core data types shared across RouteWatch:
// position records, typed fan-out topics, caller identities, and the
// standard API response envelope.
package models

import "time"

// VehicleID is an opaque stable identifier for a vehicle, unique within an
// institute. Never reused across vehicles.
type VehicleID string

// RouteID identifies a route a vehicle is assigned to.
type RouteID string

// InstituteID identifies the institute that owns vehicles and routes.
type InstituteID string

// SessionID identifies one live, authenticated connection.
type SessionID string

// MovementStatus describes what a vehicle is doing as of its latest report.
type MovementStatus string

const (
	// StatusMoving indicates the vehicle reported a non-zero (or absent) speed.
	StatusMoving MovementStatus = "moving"

	// StatusStopped indicates the vehicle reported a speed of exactly zero.
	StatusStopped MovementStatus = "stopped"

	// StatusOffline marks a vehicle whose driver has stopped reporting.
	// Set by the fleet directory after its grace period, never by the core.
	// The record itself is retained so late viewers still see last-known
	// coordinates.
	StatusOffline MovementStatus = "offline"
)

// PositionRecord is the latest known position for one vehicle.
//
// Invariant: for a given VehicleID the stored record always reflects the
// highest ReportedAt seen. A record with an older ReportedAt must never
// overwrite it (last-writer-wins by logical time, not arrival order).
type PositionRecord struct {
	VehicleID VehicleID `json:"vehicle_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`

	// Speed in km/h. Nil when the producer did not report one.
	Speed *float64 `json:"speed,omitempty"`

	// ReportedAt is the producer timestamp, or the server receipt time when
	// the producer supplied none (or one too far in the future).
	ReportedAt time.Time `json:"reported_at"`

	MovementStatus MovementStatus `json:"movement_status"`
}

// Supersedes reports whether r is strictly newer than other by logical time.
// Equal timestamps are not strictly newer, which is what makes replayed
// reports idempotent at the store.
func (r PositionRecord) Supersedes(other PositionRecord) bool {
	return r.ReportedAt.After(other.ReportedAt)
}
