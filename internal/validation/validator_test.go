// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package validation

import (
	"strings"
	"testing"
)

type coordinateRequest struct {
	Latitude  *float64 `validate:"required,latitude"`
	Longitude *float64 `validate:"required,longitude"`
	Status    string   `validate:"omitempty,oneof=moving stopped offline"`
}

func ptr(f float64) *float64 { return &f }

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     coordinateRequest
		wantErr bool
		field   string
	}{
		{
			name: "valid coordinates",
			req:  coordinateRequest{Latitude: ptr(12.97), Longitude: ptr(77.59)},
		},
		{
			name: "valid with status",
			req:  coordinateRequest{Latitude: ptr(0), Longitude: ptr(0), Status: "moving"},
		},
		{
			name:    "missing latitude",
			req:     coordinateRequest{Longitude: ptr(77.59)},
			wantErr: true,
			field:   "Latitude",
		},
		{
			name:    "latitude out of range",
			req:     coordinateRequest{Latitude: ptr(91), Longitude: ptr(77.59)},
			wantErr: true,
			field:   "Latitude",
		},
		{
			name:    "longitude out of range",
			req:     coordinateRequest{Latitude: ptr(12.97), Longitude: ptr(-181)},
			wantErr: true,
			field:   "Longitude",
		},
		{
			name:    "unknown status",
			req:     coordinateRequest{Latitude: ptr(12.97), Longitude: ptr(77.59), Status: "parked"},
			wantErr: true,
			field:   "Status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected validation error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if got := err.Errors()[0].Field(); got != tt.field {
				t.Errorf("failed field = %q, want %q", got, tt.field)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	req := coordinateRequest{Latitude: ptr(91)}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "Latitude") {
		t.Errorf("message should name the failing field, got %q", apiErr.Message)
	}
	if !strings.Contains(apiErr.Message, "Longitude") {
		t.Errorf("message should include every failing field, got %q", apiErr.Message)
	}
}
