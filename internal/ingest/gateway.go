// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package ingest accepts position reports from drivers.
//
// The gateway is the single write path into the position store: it
// authorizes the reporting driver, validates and normalizes the report,
// applies it under last-writer-wins ordering and hands accepted updates
// to the distributor. Stale and duplicate reports are acknowledged
// without error so devices on flaky networks can retry blindly.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/internal/validation"
)

var (
	// ErrUnauthorized is returned when the reporter does not own the vehicle.
	ErrUnauthorized = errors.New("not authorized to report for vehicle")

	// ErrInvalidReport is returned for malformed or out-of-range reports.
	ErrInvalidReport = errors.New("invalid position report")

	// ErrThrottled is returned when a driver exceeds the report rate limit.
	ErrThrottled = errors.New("report rate limit exceeded")
)

// Report is one inbound position report. Coordinates are pointers so
// a missing field is distinguishable from a legitimate zero value.
// ReportedAt is optional; a report without one is stamped with the
// server receipt time.
type Report struct {
	VehicleID  string   `json:"vehicleId" validate:"required"`
	Latitude   *float64 `json:"latitude" validate:"required,latitude"`
	Longitude  *float64 `json:"longitude" validate:"required,longitude"`
	Speed      *float64 `json:"speed,omitempty"`
	ReportedAt string   `json:"reportedAt,omitempty"`
}

// Result is the acknowledgment for a processed report.
type Result struct {
	// Accepted is false when the report was discarded as stale. The
	// request still succeeded; retries of old reports are expected.
	Accepted bool `json:"accepted"`

	// Current is the record stored after processing.
	Current models.PositionRecord `json:"current"`
}

// Publisher receives accepted position updates for fan-out.
type Publisher interface {
	PublishPosition(rec models.PositionRecord)
}

// lockStripes bounds per-vehicle lock memory; must be a power of two.
const lockStripes = 128

// Gateway validates, authorizes and applies position reports.
type Gateway struct {
	store store.PositionStore
	pub   Publisher

	maxSkew time.Duration

	// Per-driver rate limiting.
	reportRate rate.Limit
	burst      int
	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter

	// locks serialize upsert+publish per vehicle so the distributor
	// queue observes store acceptance order.
	locks [lockStripes]sync.Mutex

	now func() time.Time
}

// NewGateway builds an ingest gateway. pub may be nil in tests.
func NewGateway(s store.PositionStore, pub Publisher, cfg config.IngestConfig) *Gateway {
	g := &Gateway{
		store:    s,
		pub:      pub,
		maxSkew:  cfg.MaxClockSkew,
		burst:    cfg.ReportBurst,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	if cfg.MaxReportsPerSec > 0 {
		g.reportRate = rate.Limit(cfg.MaxReportsPerSec)
	}
	return g
}

func (g *Gateway) lockFor(id models.VehicleID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &g.locks[h.Sum32()&(lockStripes-1)]
}

// limiterFor returns the rate limiter for one driver subject.
func (g *Gateway) limiterFor(subject string) *rate.Limiter {
	g.limiterMu.Lock()
	defer g.limiterMu.Unlock()

	l, ok := g.limiters[subject]
	if !ok {
		l = rate.NewLimiter(g.reportRate, g.burst)
		g.limiters[subject] = l
	}
	return l
}

// ReportPosition processes one position report from identity.
//
// Outcomes:
//   - accepted: stored and fanned out
//   - stale (Accepted=false, nil error): older than the stored record
//   - ErrUnauthorized: identity does not own the vehicle
//   - ErrInvalidReport: malformed coordinates or timestamp
//   - ErrThrottled: driver exceeded the report rate
func (g *Gateway) ReportPosition(ctx context.Context, identity models.Identity, report Report) (Result, error) {
	if identity.Role != models.RoleDriver && identity.Role != models.RoleAdmin {
		metrics.RecordReport("unauthorized")
		return Result{}, fmt.Errorf("%w: role %s cannot report", ErrUnauthorized, identity.Role)
	}

	vehicleID := models.VehicleID(report.VehicleID)
	if identity.Role == models.RoleDriver && !identity.OwnsVehicle(vehicleID) {
		metrics.RecordReport("unauthorized")
		logging.Ctx(ctx).Warn().
			Str("subject", identity.Subject).
			Str("vehicle_id", report.VehicleID).
			Msg("report rejected: vehicle not owned by driver")
		return Result{}, fmt.Errorf("%w: %s", ErrUnauthorized, report.VehicleID)
	}

	if g.reportRate > 0 && !g.limiterFor(identity.Subject).Allow() {
		metrics.RecordReport("throttled")
		return Result{}, ErrThrottled
	}

	rec, err := g.normalize(report)
	if err != nil {
		metrics.RecordReport("invalid")
		return Result{}, err
	}

	lock := g.lockFor(rec.VehicleID)
	lock.Lock()
	defer lock.Unlock()

	res, err := g.store.Upsert(ctx, rec)
	if err != nil {
		return Result{}, fmt.Errorf("store upsert: %w", err)
	}
	if !res.Accepted {
		metrics.RecordReport("stale")
		return Result{Accepted: false, Current: res.Current}, nil
	}

	metrics.RecordReport("accepted")
	if g.pub != nil {
		g.pub.PublishPosition(res.Current)
	}
	return Result{Accepted: true, Current: res.Current}, nil
}

// normalize validates the report and converts it to a position record.
func (g *Gateway) normalize(report Report) (models.PositionRecord, error) {
	if verr := validation.ValidateStruct(&report); verr != nil {
		return models.PositionRecord{}, fmt.Errorf("%w: %s", ErrInvalidReport, verr.Error())
	}

	// Devices without a clock may omit reportedAt; the receipt time
	// then orders the report. Timestamps from fast clocks are clamped.
	now := g.now()
	reportedAt := now
	if report.ReportedAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, report.ReportedAt)
		if err != nil {
			return models.PositionRecord{}, fmt.Errorf("%w: reportedAt: %s", ErrInvalidReport, err)
		}
		reportedAt = parsed
		if reportedAt.After(now.Add(g.maxSkew)) {
			reportedAt = now
		}
	}

	rec := models.PositionRecord{
		VehicleID:  models.VehicleID(report.VehicleID),
		Latitude:   *report.Latitude,
		Longitude:  *report.Longitude,
		ReportedAt: reportedAt,
	}

	// Speed is advisory: negative or NaN readings are treated as absent.
	if report.Speed != nil {
		if s := *report.Speed; s >= 0 && !math.IsNaN(s) && !math.IsInf(s, 0) {
			rec.Speed = &s
		}
	}

	switch {
	case rec.Speed != nil && *rec.Speed == 0:
		rec.MovementStatus = models.StatusStopped
	default:
		rec.MovementStatus = models.StatusMoving
	}

	return rec, nil
}
