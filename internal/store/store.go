// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package store persists the latest known position per vehicle.
//
// The store keeps exactly one record per vehicle under last-writer-wins
// semantics ordered by the device-reported timestamp: an update is
// accepted only if its reportedAt is strictly newer than the stored
// record's. Replayed or reordered reports therefore converge to the
// same state regardless of arrival order.
package store

import (
	"context"
	"errors"

	"github.com/routewatch/routewatch/internal/models"
)

// ErrNotFound is returned when no position is stored for a vehicle.
var ErrNotFound = errors.New("position not found")

// UpsertResult reports the outcome of a conditional upsert.
type UpsertResult struct {
	// Accepted is true when the candidate superseded the stored record.
	Accepted bool

	// Current is the record stored after the operation. When the upsert
	// was rejected as stale this is the retained newer record.
	Current models.PositionRecord
}

// PositionStore is the keyed current-position store. Implementations
// must make each upsert an atomic compare-and-set on the vehicle's
// record so concurrent writers for the same vehicle serialize.
type PositionStore interface {
	// Upsert applies rec under last-writer-wins ordering.
	Upsert(ctx context.Context, rec models.PositionRecord) (UpsertResult, error)

	// Get returns the stored record for a vehicle or ErrNotFound.
	Get(ctx context.Context, id models.VehicleID) (models.PositionRecord, error)

	// GetMany returns the stored records for the given vehicles.
	// Vehicles with no record are omitted; order follows ids.
	GetMany(ctx context.Context, ids []models.VehicleID) ([]models.PositionRecord, error)

	// SetMovementStatus overwrites only the movement status of a stored
	// record, leaving coordinates and reportedAt untouched. Used by the
	// offline sweeper. Returns ErrNotFound for unknown vehicles.
	SetMovementStatus(ctx context.Context, id models.VehicleID, status models.MovementStatus) error

	// Close releases backend resources.
	Close() error
}
