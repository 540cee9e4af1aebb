// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package auth verifies caller credentials and produces the trusted
// identity the distribution core operates on. The core itself never
// inspects credentials; everything downstream of Verify trusts the
// returned identity.
package auth

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/models"
)

// ErrInvalidToken is returned for unverifiable or expired credentials.
var ErrInvalidToken = errors.New("invalid token")

// Verifier turns a bearer token into a verified identity.
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// NewVerifier builds the verifier selected by configuration.
func NewVerifier(cfg config.SecurityConfig) (Verifier, error) {
	switch cfg.AuthMode {
	case "jwt":
		return NewJWTVerifier(cfg)
	case "static":
		return NewStaticVerifier(cfg.StaticTokens)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

// StaticVerifier resolves tokens from a fixed table. Intended for
// development and tests; identities are configured as JSON documents.
type StaticVerifier struct {
	identities map[string]models.Identity
}

// NewStaticVerifier parses the configured token table.
func NewStaticVerifier(tokens map[string]string) (*StaticVerifier, error) {
	identities := make(map[string]models.Identity, len(tokens))
	for token, doc := range tokens {
		var identity models.Identity
		if err := json.Unmarshal([]byte(doc), &identity); err != nil {
			return nil, fmt.Errorf("parse static identity: %w", err)
		}
		if !identity.Role.Valid() {
			return nil, fmt.Errorf("static identity %q has invalid role %q", identity.Subject, identity.Role)
		}
		identities[token] = identity
	}
	return &StaticVerifier{identities: identities}, nil
}

// Verify implements Verifier.
func (v *StaticVerifier) Verify(token string) (models.Identity, error) {
	identity, ok := v.identities[token]
	if !ok {
		return models.Identity{}, ErrInvalidToken
	}
	return identity, nil
}
