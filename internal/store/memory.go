// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package store

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/routewatch/routewatch/internal/models"
)

// shardCount must be a power of two.
const shardCount = 64

type memoryShard struct {
	mu        sync.RWMutex
	positions map[models.VehicleID]models.PositionRecord
}

// MemoryStore is the in-process PositionStore. Records are sharded by
// vehicle id so writers for different vehicles never contend, while the
// per-shard mutex serializes the read-compare-write of each upsert.
type MemoryStore struct {
	shards [shardCount]*memoryShard
}

// NewMemoryStore returns an empty in-memory position store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &memoryShard{positions: make(map[models.VehicleID]models.PositionRecord)}
	}
	return s
}

func (s *MemoryStore) shardFor(id models.VehicleID) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()&(shardCount-1)]
}

// Upsert applies rec if it is strictly newer than the stored record.
func (s *MemoryStore) Upsert(_ context.Context, rec models.PositionRecord) (UpsertResult, error) {
	shard := s.shardFor(rec.VehicleID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, exists := shard.positions[rec.VehicleID]
	if exists && !rec.Supersedes(current) {
		return UpsertResult{Accepted: false, Current: current}, nil
	}

	shard.positions[rec.VehicleID] = rec
	return UpsertResult{Accepted: true, Current: rec}, nil
}

// Get returns the stored record for a vehicle.
func (s *MemoryStore) Get(_ context.Context, id models.VehicleID) (models.PositionRecord, error) {
	shard := s.shardFor(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	rec, ok := shard.positions[id]
	if !ok {
		return models.PositionRecord{}, ErrNotFound
	}
	return rec, nil
}

// GetMany returns stored records for ids, omitting unknown vehicles.
func (s *MemoryStore) GetMany(ctx context.Context, ids []models.VehicleID) ([]models.PositionRecord, error) {
	records := make([]models.PositionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// SetMovementStatus overwrites only the movement status of a record.
func (s *MemoryStore) SetMovementStatus(_ context.Context, id models.VehicleID, status models.MovementStatus) error {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.positions[id]
	if !ok {
		return ErrNotFound
	}
	rec.MovementStatus = status
	shard.positions[id] = rec
	return nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error { return nil }
