// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

// Package websocket carries the live subscription protocol.
//
// A connection authenticates with its first frame, then joins and
// leaves topics and, for drivers, submits position reports. The server
// pushes position frames for every subscribed topic, seed snapshot
// first.
package websocket

import (
	"github.com/routewatch/routewatch/internal/ingest"
	"github.com/routewatch/routewatch/internal/models"
)

// Client-to-server frame types.
const (
	FrameAuth   = "auth"
	FrameJoin   = "join"
	FrameLeave  = "leave"
	FrameReport = "report"
	FramePing   = "ping"
)

// Server-to-client frame types.
const (
	FrameWelcome  = "welcome"
	FrameJoined   = "joined"
	FrameLeft     = "left"
	FramePosition = "position"
	FrameAck      = "ack"
	FrameError    = "error"
	FramePong     = "pong"
)

// Frame is one protocol message in either direction. Fields are
// populated per frame type; absent fields are omitted on the wire.
type Frame struct {
	Type string `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// join / leave / joined / left / position
	Topic *models.Topic `json:"topic,omitempty"`

	// report
	Report *ingest.Report `json:"report,omitempty"`

	// welcome
	SessionID string `json:"sessionId,omitempty"`
	Role      string `json:"role,omitempty"`

	// position
	Position *models.PositionRecord `json:"position,omitempty"`

	// ack
	Result *ingest.Result `json:"result,omitempty"`

	// error
	Error *models.APIError `json:"error,omitempty"`
}

func errorFrame(code, message string) Frame {
	return Frame{
		Type:  FrameError,
		Error: &models.APIError{Code: code, Message: message},
	}
}
