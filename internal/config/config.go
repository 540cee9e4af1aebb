// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package config holds the application configuration loaded from defaults,
// an optional YAML file and environment variables.
//
// Loading order (Koanf v2): defaults, then config file, then environment
// variables. Config is immutable after Load and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Fleet    FleetConfig    `koanf:"fleet"`
	Security SecurityConfig `koanf:"security"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists allowed browser origins. "*" allows all.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// StoreConfig selects and configures the position store backend.
type StoreConfig struct {
	// Backend is "memory" or "badger".
	Backend string `koanf:"backend"`

	// Path is the on-disk directory for the badger backend.
	Path string `koanf:"path"`
}

// IngestConfig configures position report acceptance.
type IngestConfig struct {
	// MaxClockSkew is how far into the future a reported timestamp may
	// lie before it is clamped to server time.
	MaxClockSkew time.Duration `koanf:"max_clock_skew"`

	// MaxReportsPerSec and ReportBurst bound per-driver report rate.
	// MaxReportsPerSec <= 0 disables throttling.
	MaxReportsPerSec float64 `koanf:"max_reports_per_sec"`
	ReportBurst      int     `koanf:"report_burst"`
}

// VehicleEntry maps a vehicle to its route and institute.
type VehicleEntry struct {
	ID        string `koanf:"id"`
	Route     string `koanf:"route"`
	Institute string `koanf:"institute"`
}

// FleetConfig configures the fleet directory and the offline sweeper.
type FleetConfig struct {
	// OfflineGrace is how long a vehicle may stay silent before its
	// movement status is forced to offline. Zero disables the sweeper.
	OfflineGrace  time.Duration `koanf:"offline_grace"`
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// Vehicles is the static vehicle->route->institute mapping.
	Vehicles []VehicleEntry `koanf:"vehicles"`
}

// SecurityConfig configures authentication.
type SecurityConfig struct {
	// AuthMode is "jwt" or "static".
	AuthMode string `koanf:"auth_mode"`

	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// StaticTokens maps bearer tokens to identity files for the static
	// auth mode used in development and tests.
	StaticTokens map[string]string `koanf:"static_tokens"`
}

// NATSConfig configures the optional event bridge.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8443,
			Timeout:           30 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Store: StoreConfig{
			Backend: "memory",
			Path:    "/data/positions",
		},
		Ingest: IngestConfig{
			MaxClockSkew:     5 * time.Second,
			MaxReportsPerSec: 5,
			ReportBurst:      10,
		},
		Fleet: FleetConfig{
			OfflineGrace:  2 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Security: SecurityConfig{
			AuthMode:       "jwt",
			JWTSecret:      "",
			SessionTimeout: 24 * time.Hour,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "positions",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for internally inconsistent or
// unusable values. Called by Load after all layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}

	switch c.Store.Backend {
	case "memory":
	case "badger":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the badger backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory or badger, got %q", c.Store.Backend)
	}

	if c.Ingest.MaxClockSkew < 0 {
		return fmt.Errorf("ingest.max_clock_skew must not be negative, got %v", c.Ingest.MaxClockSkew)
	}
	if c.Ingest.MaxReportsPerSec > 0 && c.Ingest.ReportBurst < 1 {
		return fmt.Errorf("ingest.report_burst must be at least 1 when throttling is enabled")
	}

	if c.Fleet.OfflineGrace > 0 && c.Fleet.SweepInterval <= 0 {
		return fmt.Errorf("fleet.sweep_interval must be positive when fleet.offline_grace is set")
	}
	seen := make(map[string]struct{}, len(c.Fleet.Vehicles))
	for _, v := range c.Fleet.Vehicles {
		if v.ID == "" || v.Route == "" || v.Institute == "" {
			return fmt.Errorf("fleet.vehicles entries need id, route and institute: %+v", v)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("fleet.vehicles has duplicate id %q", v.ID)
		}
		seen[v.ID] = struct{}{}
	}

	switch c.Security.AuthMode {
	case "jwt":
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("security.jwt_secret is required when auth_mode is jwt")
		}
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 characters")
		}
	case "static":
		if len(c.Security.StaticTokens) == 0 {
			return fmt.Errorf("security.static_tokens is required when auth_mode is static")
		}
	default:
		return fmt.Errorf("security.auth_mode must be jwt or static, got %q", c.Security.AuthMode)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is true")
	}

	return nil
}

// Addr returns the server listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
