// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package store

import (
	"fmt"

	"github.com/routewatch/routewatch/internal/config"
)

// New builds a PositionStore from configuration.
func New(cfg config.StoreConfig) (PositionStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return NewBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
