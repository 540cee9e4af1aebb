// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package main is the entry point for the RouteWatch server.
//
// RouteWatch tracks live vehicle positions for institute fleets and
// fans them out to role-scoped subscribers over WebSocket. Drivers
// report positions; admins and students observe them through vehicle,
// route and institute-wide topics.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered defaults, YAML file, environment
//  2. Position store: in-memory shards or BadgerDB persistence
//  3. Fleet directory: static vehicle mapping behind a circuit breaker
//  4. Session manager and subscription registry
//  5. Distributor: the single fan-out loop
//  6. Ingest gateway: validation, ordering and per-driver throttling
//  7. NATS bridge (optional): accepted positions to external consumers
//  8. HTTP server: REST API, WebSocket upgrade, health and metrics
//
// Long-lived components run under a suture supervision tree; a crash
// in the fan-out layer restarts that layer without dropping the HTTP
// listener.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config file, built-in
// defaults. See config.yaml.example.
//
// For JWT authentication (default):
//   - JWT_SECRET: 32+ character secret for token signing
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the listener
// stops accepting connections, in-flight requests get 10s to finish,
// the distributor drains, and the store closes last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/routewatch/routewatch/internal/api"
	"github.com/routewatch/routewatch/internal/auth"
	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/distributor"
	"github.com/routewatch/routewatch/internal/events"
	"github.com/routewatch/routewatch/internal/fleet"
	"github.com/routewatch/routewatch/internal/ingest"
	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/registry"
	"github.com/routewatch/routewatch/internal/session"
	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/internal/supervisor"
	"github.com/routewatch/routewatch/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("store_backend", cfg.Store.Backend).
		Str("auth_mode", cfg.Security.AuthMode).
		Int("vehicles", len(cfg.Fleet.Vehicles)).
		Msg("Starting RouteWatch")

	st, err := store.New(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize position store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing position store")
		}
	}()

	verifier, err := auth.NewVerifier(cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authentication")
	}
	if cfg.Security.AuthMode == "static" {
		logging.Warn().Msg("Static token authentication is for development only")
	}

	reg := registry.New()
	directory := fleet.NewStaticDirectory(cfg.Fleet.Vehicles)
	breaker := fleet.NewBreakerDirectory(directory)
	manager := session.NewManager(reg, st, breaker)

	var bridge *events.Bridge
	var bridgePub distributor.BridgePublisher
	if cfg.NATS.Enabled {
		bridge, err = events.NewBridge(cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize NATS bridge")
		}
		defer bridge.Close()
		bridgePub = bridge
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS bridge enabled")
	}

	dist := distributor.New(breaker, reg, manager, bridgePub)
	gateway := ingest.NewGateway(st, dist, cfg.Ingest)

	checks := []api.ReadinessCheck{
		{Name: "store", Check: storeProbe(st)},
		{Name: "fleet", Check: breakerProbe(breaker)},
	}
	if bridge != nil {
		checks = append(checks, api.ReadinessCheck{Name: "events", Check: bridgeProbe(bridge)})
	}

	handlers := api.NewHandlers(st, gateway, manager, verifier, cfg.Server.CORSOrigins, checks)
	mw := api.NewMiddleware(api.MiddlewareConfig{
		CORSOrigins:       cfg.Server.CORSOrigins,
		RateLimitRequests: cfg.Server.RateLimitReqs,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
		RateLimitDisabled: cfg.Server.RateLimitDisabled,
	})
	if cfg.Server.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handlers, verifier, mw),
		ReadHeaderTimeout: 10 * time.Second,
		// No blanket ReadTimeout/WriteTimeout: WebSocket connections
		// are long-lived and manage their own deadlines.
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddFanoutService(services.NewDistributorService(dist))
	if cfg.Fleet.OfflineGrace > 0 {
		sweeper := fleet.NewSweeper(
			st,
			directory,
			cfg.Fleet.OfflineGrace,
			cfg.Fleet.SweepInterval,
			dist.PublishPosition,
		)
		tree.AddFanoutService(services.NewSweeperService(sweeper))
		logging.Info().
			Dur("grace", cfg.Fleet.OfflineGrace).
			Dur("interval", cfg.Fleet.SweepInterval).
			Msg("Offline sweeper enabled")
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Server listening")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", fmt.Sprintf("%v", svc.Service)).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Shutdown complete")
}

// storeProbe reads a sentinel vehicle; ErrNotFound still proves the
// backend answers.
func storeProbe(st store.PositionStore) func() error {
	return func() error {
		_, err := st.Get(context.Background(), "readiness-probe")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}
}

func breakerProbe(breaker *fleet.BreakerDirectory) func() error {
	return func() error {
		if state := breaker.State(); state == "open" {
			return errors.New("fleet directory circuit breaker open")
		}
		return nil
	}
}

func bridgeProbe(bridge *events.Bridge) func() error {
	return func() error {
		if !bridge.Connected() {
			return errors.New("nats not connected")
		}
		return nil
	}
}
