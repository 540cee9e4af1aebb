// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/routewatch/routewatch/internal/auth"
	"github.com/routewatch/routewatch/internal/config"
	"github.com/routewatch/routewatch/internal/distributor"
	"github.com/routewatch/routewatch/internal/fleet"
	"github.com/routewatch/routewatch/internal/ingest"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/registry"
	"github.com/routewatch/routewatch/internal/session"
	"github.com/routewatch/routewatch/internal/store"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type testEnv struct {
	server  *httptest.Server
	manager *session.Manager
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := registry.New()
	st := store.NewMemoryStore()
	dir := fleet.NewStaticDirectory([]config.VehicleEntry{
		{ID: "BUS101", Route: "R12", Institute: "north-campus"},
	})
	manager := session.NewManager(reg, st, dir)
	dist := distributor.New(dir, reg, manager, nil)
	gateway := ingest.NewGateway(st, dist, config.IngestConfig{MaxClockSkew: 5 * time.Second})

	verifier, err := auth.NewStaticVerifier(map[string]string{
		"driver-token": `{"subject":"driver-1","role":"driver","institute_id":"north-campus","owned_vehicle_ids":["BUS101"]}`,
		"admin-token":  `{"subject":"admin-1","role":"admin","institute_id":"north-campus"}`,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = dist.Serve(ctx) }()
	t.Cleanup(cancel)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(conn, verifier, manager, gateway).Serve(r.Context())
	}))
	t.Cleanup(server.Close)

	return &testEnv{server: server, manager: manager}
}

func dial(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) Frame {
	t.Helper()
	writeFrame(t, conn, Frame{Type: FrameAuth, Token: token})
	return readFrame(t, conn)
}

func TestAuthRejectsBadToken(t *testing.T) {
	env := setupEnv(t)
	conn := dial(t, env)

	frame := authenticate(t, conn, "bogus")
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "AUTH_FAILED" {
		t.Errorf("frame = %+v, want AUTH_FAILED error", frame)
	}
}

func TestAuthRequiresAuthFrameFirst(t *testing.T) {
	env := setupEnv(t)
	conn := dial(t, env)

	writeFrame(t, conn, Frame{Type: FramePing})
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "AUTH_REQUIRED" {
		t.Errorf("frame = %+v, want AUTH_REQUIRED error", frame)
	}
}

func TestWelcomeAndPing(t *testing.T) {
	env := setupEnv(t)
	conn := dial(t, env)

	welcome := authenticate(t, conn, "admin-token")
	if welcome.Type != FrameWelcome || welcome.Role != "admin" || welcome.SessionID == "" {
		t.Fatalf("welcome = %+v", welcome)
	}

	writeFrame(t, conn, Frame{Type: FramePing})
	if frame := readFrame(t, conn); frame.Type != FramePong {
		t.Errorf("frame = %+v, want pong", frame)
	}
}

func TestJoinReportDeliver(t *testing.T) {
	env := setupEnv(t)

	adminConn := dial(t, env)
	if f := authenticate(t, adminConn, "admin-token"); f.Type != FrameWelcome {
		t.Fatalf("admin welcome = %+v", f)
	}

	topic := models.InstituteTopic("north-campus")
	writeFrame(t, adminConn, Frame{Type: FrameJoin, Topic: &topic})
	if f := readFrame(t, adminConn); f.Type != FrameJoined {
		t.Fatalf("join response = %+v", f)
	}

	driverConn := dial(t, env)
	if f := authenticate(t, driverConn, "driver-token"); f.Type != FrameWelcome {
		t.Fatalf("driver welcome = %+v", f)
	}

	lat, lon, speed := 12.9716, 77.5946, 8.5
	writeFrame(t, driverConn, Frame{Type: FrameReport, Report: &ingest.Report{
		VehicleID:  "BUS101",
		Latitude:   &lat,
		Longitude:  &lon,
		Speed:      &speed,
		ReportedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})

	// The driver receives both the ack and, via the default
	// subscription to their own vehicle, the position echo; the order
	// is not fixed.
	var ack, echo Frame
	for i := 0; i < 2; i++ {
		switch f := readFrame(t, driverConn); f.Type {
		case FrameAck:
			ack = f
		case FramePosition:
			echo = f
		default:
			t.Fatalf("unexpected driver frame %+v", f)
		}
	}
	if ack.Result == nil || !ack.Result.Accepted {
		t.Fatalf("ack = %+v, want accepted ack", ack)
	}
	if echo.Position == nil || echo.Position.VehicleID != "BUS101" {
		t.Fatalf("echo = %+v, want own-vehicle position frame", echo)
	}

	position := readFrame(t, adminConn)
	if position.Type != FramePosition || position.Position == nil {
		t.Fatalf("position frame = %+v", position)
	}
	if position.Position.VehicleID != "BUS101" {
		t.Errorf("delivered vehicle = %q", position.Position.VehicleID)
	}
	if position.Topic == nil || *position.Topic != topic {
		t.Errorf("delivered topic = %v, want %v", position.Topic, topic)
	}
}

func TestJoinForbiddenTopic(t *testing.T) {
	env := setupEnv(t)
	conn := dial(t, env)
	if f := authenticate(t, conn, "driver-token"); f.Type != FrameWelcome {
		t.Fatalf("welcome = %+v", f)
	}

	// Drivers cannot watch institute broadcasts.
	topic := models.InstituteTopic("north-campus")
	writeFrame(t, conn, Frame{Type: FrameJoin, Topic: &topic})
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "FORBIDDEN_TOPIC" {
		t.Errorf("frame = %+v, want FORBIDDEN_TOPIC error", frame)
	}
}

func TestReportUnauthorizedVehicle(t *testing.T) {
	env := setupEnv(t)
	conn := dial(t, env)
	if f := authenticate(t, conn, "driver-token"); f.Type != FrameWelcome {
		t.Fatalf("welcome = %+v", f)
	}

	lat, lon := 12.0, 77.0
	writeFrame(t, conn, Frame{Type: FrameReport, Report: &ingest.Report{
		VehicleID:  "BUS999",
		Latitude:   &lat,
		Longitude:  &lon,
		ReportedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "UNAUTHORIZED" {
		t.Errorf("frame = %+v, want UNAUTHORIZED error", frame)
	}
}

func TestMalformedFrameKeepsSessionAlive(t *testing.T) {
	env := setupEnv(t)
	conn := dial(t, env)
	if f := authenticate(t, conn, "admin-token"); f.Type != FrameWelcome {
		t.Fatalf("welcome = %+v", f)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	frame := readFrame(t, conn)
	if frame.Type != FrameError || frame.Error == nil || frame.Error.Code != "MALFORMED_FRAME" {
		t.Fatalf("frame = %+v, want MALFORMED_FRAME error", frame)
	}

	// The connection must still work.
	writeFrame(t, conn, Frame{Type: FramePing})
	if frame := readFrame(t, conn); frame.Type != FramePong {
		t.Errorf("frame = %+v, want pong", frame)
	}
}

func TestDisconnectCleansUpSession(t *testing.T) {
	env := setupEnv(t)
	conn := dial(t, env)
	if f := authenticate(t, conn, "admin-token"); f.Type != FrameWelcome {
		t.Fatalf("welcome = %+v", f)
	}
	if env.manager.Count() != 1 {
		t.Fatalf("session count = %d, want 1", env.manager.Count())
	}

	_ = conn.Close()

	deadline := time.After(2 * time.Second)
	for env.manager.Count() != 0 {
		select {
		case <-deadline:
			t.Fatal("session not cleaned up after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
