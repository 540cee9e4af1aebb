// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/routewatch/routewatch/internal/auth"
	"github.com/routewatch/routewatch/internal/ingest"
	"github.com/routewatch/routewatch/internal/logging"
	"github.com/routewatch/routewatch/internal/models"
	"github.com/routewatch/routewatch/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authWait       = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client bridges one WebSocket connection to a subscriber session.
type Client struct {
	conn     *websocket.Conn
	verifier auth.Verifier
	manager  *session.Manager
	gateway  *ingest.Gateway

	session   *session.Session
	send      chan Frame
	done      chan struct{}
	writeDone chan struct{}
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, verifier auth.Verifier, manager *session.Manager, gateway *ingest.Gateway) *Client {
	return &Client{
		conn:      conn,
		verifier:  verifier,
		manager:   manager,
		gateway:   gateway,
		send:      make(chan Frame, sendBufferSize),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// Serve runs the connection to completion: authenticate, then pump
// frames both ways until the peer disconnects or ctx is canceled.
func (c *Client) Serve(ctx context.Context) {
	go c.writePump()

	// The write pump owns the connection teardown: it flushes whatever
	// is queued (auth errors in particular), performs the close
	// handshake and closes the socket. Serve waits for that to finish
	// so no frame is lost to an early return.
	defer func() {
		close(c.done)
		<-c.writeDone
	}()

	// Server shutdown cancels ctx; closing the connection unblocks the
	// read loop.
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-c.done:
		}
	}()

	if !c.authenticate(ctx) {
		return
	}
	defer c.manager.Close(c.session)

	go c.forwardEvents()
	c.readPump(ctx)
}

// authenticate requires the first frame to be a valid auth frame.
func (c *Client) authenticate(ctx context.Context) bool {
	if err := c.conn.SetReadDeadline(time.Now().Add(authWait)); err != nil {
		return false
	}
	c.conn.SetReadLimit(maxMessageSize)

	var frame Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return false
	}
	if frame.Type != FrameAuth {
		c.enqueue(errorFrame("AUTH_REQUIRED", "first frame must be auth"))
		return false
	}

	identity, err := c.verifier.Verify(frame.Token)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket auth failed")
		c.enqueue(errorFrame("AUTH_FAILED", "invalid token"))
		return false
	}

	c.session = c.manager.Connect(ctx, identity)
	c.enqueue(Frame{
		Type:      FrameWelcome,
		SessionID: string(c.session.ID),
		Role:      string(identity.Role),
	})
	return true
}

// readPump handles inbound frames until the connection drops.
func (c *Client) readPump(ctx context.Context) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		// A frame that fails to parse gets an error frame; only read
		// errors end the session.
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(errorFrame("MALFORMED_FRAME", "could not parse frame"))
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameJoin:
		c.handleJoin(ctx, frame)
	case FrameLeave:
		c.handleLeave(frame)
	case FrameReport:
		c.handleReport(ctx, frame)
	case FramePing:
		c.enqueue(Frame{Type: FramePong})
	default:
		c.enqueue(errorFrame("UNKNOWN_FRAME", "unsupported frame type"))
	}
}

func (c *Client) handleJoin(ctx context.Context, frame Frame) {
	if frame.Topic == nil {
		c.enqueue(errorFrame("INVALID_TOPIC", "join requires a topic"))
		return
	}
	if err := c.manager.Join(ctx, c.session, *frame.Topic); err != nil {
		switch {
		case errors.Is(err, session.ErrForbiddenTopic):
			c.enqueue(errorFrame("FORBIDDEN_TOPIC", "not authorized for topic"))
		case errors.Is(err, models.ErrInvalidTopic):
			c.enqueue(errorFrame("INVALID_TOPIC", "malformed topic"))
		default:
			c.enqueue(errorFrame("JOIN_FAILED", "could not join topic"))
		}
		return
	}
	c.enqueue(Frame{Type: FrameJoined, Topic: frame.Topic})
}

func (c *Client) handleLeave(frame Frame) {
	if frame.Topic == nil {
		c.enqueue(errorFrame("INVALID_TOPIC", "leave requires a topic"))
		return
	}
	c.manager.Leave(c.session, *frame.Topic)
	c.enqueue(Frame{Type: FrameLeft, Topic: frame.Topic})
}

func (c *Client) handleReport(ctx context.Context, frame Frame) {
	if frame.Report == nil {
		c.enqueue(errorFrame("INVALID_REPORT", "report frame requires a report"))
		return
	}
	result, err := c.gateway.ReportPosition(ctx, c.session.Identity, *frame.Report)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnauthorized):
			c.enqueue(errorFrame("UNAUTHORIZED", "not authorized to report for vehicle"))
		case errors.Is(err, ingest.ErrThrottled):
			c.enqueue(errorFrame("THROTTLED", "report rate limit exceeded"))
		case errors.Is(err, ingest.ErrInvalidReport):
			c.enqueue(errorFrame("INVALID_REPORT", err.Error()))
		default:
			c.enqueue(errorFrame("REPORT_FAILED", "could not process report"))
		}
		return
	}
	c.enqueue(Frame{Type: FrameAck, Result: &result})
}

// forwardEvents turns session deliveries into position frames. Ends
// when the session closes its events channel.
func (c *Client) forwardEvents() {
	for ev := range c.session.Events {
		rec := ev.Record
		topic := ev.Topic
		c.enqueue(Frame{Type: FramePosition, Topic: &topic, Position: &rec})
	}
}

// enqueue pushes a frame to the write pump without blocking. Frames
// for a stalled connection are dropped; the read deadline will reap
// the connection shortly after.
func (c *Client) enqueue(frame Frame) {
	select {
	case c.send <- frame:
	default:
	}
}

// writePump owns all writes to the connection, including pings, and
// the connection teardown once done is signaled.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case <-c.done:
			// Flush queued frames (auth errors in particular) before
			// the close handshake.
			for {
				select {
				case frame := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(frame); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}

		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
