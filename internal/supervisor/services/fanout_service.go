// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package services

import (
	"context"
)

// ContextServer matches components whose Serve method already follows
// the suture.Service pattern: block until the context is canceled,
// then return ctx.Err().
//
// Satisfied by *distributor.Distributor and *fleet.Sweeper.
type ContextServer interface {
	Serve(ctx context.Context) error
}

// NamedService gives a ContextServer a stable name for supervisor
// logging. The delegate already implements the service contract, so
// this wrapper only adds the fmt.Stringer identity.
type NamedService struct {
	server ContextServer
	name   string
}

// NewDistributorService wraps the fan-out loop as a supervised service.
func NewDistributorService(server ContextServer) *NamedService {
	return &NamedService{server: server, name: "distributor"}
}

// NewSweeperService wraps the offline sweeper as a supervised service.
func NewSweeperService(server ContextServer) *NamedService {
	return &NamedService{server: server, name: "offline-sweeper"}
}

// Serve implements suture.Service.
func (s *NamedService) Serve(ctx context.Context) error {
	return s.server.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *NamedService) String() string {
	return s.name
}
