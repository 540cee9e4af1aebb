// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package models

import "time"

// APIResponse is the standardized envelope used by all HTTP endpoints.
type APIResponse struct {
	// Status is "success" or "error".
	Status string `json:"status"`

	// Data carries the endpoint-specific payload. Nil on error.
	Data interface{} `json:"data"`

	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata carries response metadata.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count,omitempty"`
}

// APIError is a machine-readable error with a stable code.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
