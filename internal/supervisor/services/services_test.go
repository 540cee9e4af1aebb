// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type stubServer struct {
	listenErr    error
	shutdownErr  error
	shutdownDone chan struct{}
	release      chan struct{}
}

func newStubServer() *stubServer {
	return &stubServer{
		shutdownDone: make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (s *stubServer) ListenAndServe() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-s.release
	return http.ErrServerClosed
}

func (s *stubServer) Shutdown(context.Context) error {
	close(s.shutdownDone)
	close(s.release)
	return s.shutdownErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newStubServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	select {
	case <-server.shutdownDone:
	default:
		t.Error("Shutdown was not called")
	}
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	server := newStubServer()
	server.listenErr = errors.New("address in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Errorf("Serve returned %v, want wrapped listen error", err)
	}
}

type stubContextServer struct {
	served chan struct{}
}

func (s *stubContextServer) Serve(ctx context.Context) error {
	close(s.served)
	<-ctx.Done()
	return ctx.Err()
}

func TestNamedServiceDelegates(t *testing.T) {
	inner := &stubContextServer{served: make(chan struct{})}
	svc := NewDistributorService(inner)
	if svc.String() != "distributor" {
		t.Errorf("name = %q", svc.String())
	}
	if NewSweeperService(inner).String() != "offline-sweeper" {
		t.Errorf("sweeper name = %q", NewSweeperService(inner).String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-inner.served:
	case <-time.After(time.Second):
		t.Fatal("delegate was not served")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}
}
