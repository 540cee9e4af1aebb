// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/models"
)

// Claims carries the identity payload inside a RouteWatch token.
type Claims struct {
	Role               string   `json:"role"`
	InstituteID        string   `json:"instituteId"`
	OwnedVehicleIDs    []string `json:"ownedVehicleIds,omitempty"`
	AssignedVehicleIDs []string `json:"assignedVehicleIds,omitempty"`
	AssignedRouteIDs   []string `json:"assignedRouteIds,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256-signed tokens issued by the institute's
// identity provider. Tokens are stateless; expiry is the only
// revocation mechanism.
type JWTVerifier struct {
	secret  []byte
	timeout time.Duration
}

// NewJWTVerifier builds a verifier from security configuration.
// The secret must be at least 32 characters; Config.Validate enforces
// this before we get here, but the check is repeated for direct
// constructor callers.
func NewJWTVerifier(cfg config.SecurityConfig) (*JWTVerifier, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &JWTVerifier{
		secret:  []byte(cfg.JWTSecret),
		timeout: cfg.SessionTimeout,
	}, nil
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(tokenString string) (models.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Pinning HMAC prevents algorithm confusion attacks.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	identity := models.Identity{
		Subject:     claims.Subject,
		Role:        models.Role(claims.Role),
		InstituteID: models.InstituteID(claims.InstituteID),
	}
	if !identity.Role.Valid() {
		return models.Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if identity.Subject == "" || identity.InstituteID == "" {
		return models.Identity{}, fmt.Errorf("%w: missing subject or institute", ErrInvalidToken)
	}

	for _, id := range claims.OwnedVehicleIDs {
		identity.OwnedVehicleIDs = append(identity.OwnedVehicleIDs, models.VehicleID(id))
	}
	for _, id := range claims.AssignedVehicleIDs {
		identity.AssignedVehicleIDs = append(identity.AssignedVehicleIDs, models.VehicleID(id))
	}
	for _, id := range claims.AssignedRouteIDs {
		identity.AssignedRouteIDs = append(identity.AssignedRouteIDs, models.RouteID(id))
	}
	return identity, nil
}

// GenerateToken signs a token for identity. Used by tests and
// provisioning tooling.
func (v *JWTVerifier) GenerateToken(identity models.Identity) (string, error) {
	claims := &Claims{
		Role:        string(identity.Role),
		InstituteID: string(identity.InstituteID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(v.timeout)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	for _, id := range identity.OwnedVehicleIDs {
		claims.OwnedVehicleIDs = append(claims.OwnedVehicleIDs, string(id))
	}
	for _, id := range identity.AssignedVehicleIDs {
		claims.AssignedVehicleIDs = append(claims.AssignedVehicleIDs, string(id))
	}
	for _, id := range identity.AssignedRouteIDs {
		claims.AssignedRouteIDs = append(claims.AssignedRouteIDs, string(id))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
