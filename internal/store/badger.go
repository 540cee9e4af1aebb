// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/routewatch/routewatch/internal/models"
)

// positionKeyPrefix namespaces position records in BadgerDB.
const positionKeyPrefix = "position:"

// BadgerStore is the durable PositionStore. Positions survive restarts,
// so admin views repopulate without waiting for fresh reports.
//
// Badger transactions alone do not serialize two read-compare-write
// upserts for the same vehicle (the loser fails with ErrConflict), so
// writes for a vehicle are additionally funneled through a striped
// mutex.
type BadgerStore struct {
	db    *badger.DB
	locks [shardCount]sync.Mutex
}

// NewBadgerStore opens (or creates) a Badger-backed position store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreWithDB wraps an already opened database, for callers
// that manage badger options themselves (in-memory databases in
// tests). Close closes the handle.
func NewBadgerStoreWithDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func positionKey(id models.VehicleID) []byte {
	return []byte(positionKeyPrefix + string(id))
}

func (s *BadgerStore) lockFor(id models.VehicleID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()&(shardCount-1)]
}

// Upsert applies rec if it is strictly newer than the stored record.
func (s *BadgerStore) Upsert(_ context.Context, rec models.PositionRecord) (UpsertResult, error) {
	lock := s.lockFor(rec.VehicleID)
	lock.Lock()
	defer lock.Unlock()

	var result UpsertResult
	err := s.db.Update(func(txn *badger.Txn) error {
		key := positionKey(rec.VehicleID)

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// First report for this vehicle.
		case err != nil:
			return fmt.Errorf("get position: %w", err)
		default:
			var current models.PositionRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return fmt.Errorf("decode position: %w", err)
			}
			if !rec.Supersedes(current) {
				result = UpsertResult{Accepted: false, Current: current}
				return nil
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set position: %w", err)
		}
		result = UpsertResult{Accepted: true, Current: rec}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// Get returns the stored record for a vehicle.
func (s *BadgerStore) Get(_ context.Context, id models.VehicleID) (models.PositionRecord, error) {
	var rec models.PositionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(positionKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get position: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return models.PositionRecord{}, err
	}
	return rec, nil
}

// GetMany returns stored records for ids, omitting unknown vehicles.
// All reads share one snapshot transaction.
func (s *BadgerStore) GetMany(_ context.Context, ids []models.VehicleID) ([]models.PositionRecord, error) {
	records := make([]models.PositionRecord, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(positionKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get position %s: %w", id, err)
			}
			var rec models.PositionRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode position %s: %w", id, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SetMovementStatus overwrites only the movement status of a record.
func (s *BadgerStore) SetMovementStatus(_ context.Context, id models.VehicleID, status models.MovementStatus) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		key := positionKey(id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get position: %w", err)
		}

		var rec models.PositionRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("decode position: %w", err)
		}

		rec.MovementStatus = status
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
