// RouteWatch - Role-Based Live Vehicle Tracking
// Copyright 2026 RouteWatch Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/routewatch/routewatch

package models

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// TopicKind discriminates the three interest-group variants.
type TopicKind string

const (
	// TopicKindVehicle scopes delivery to one exact vehicle.
	TopicKindVehicle TopicKind = "vehicle"

	// TopicKindRoute scopes delivery to all vehicles on a route.
	TopicKindRoute TopicKind = "route"

	// TopicKindInstitute is the institute-wide broadcast used by admin
	// fleet views.
	TopicKindInstitute TopicKind = "institute"
)

// ErrInvalidTopic is returned when a topic reference cannot be constructed.
var ErrInvalidTopic = errors.New("invalid topic")

// Topic is a named interest group for fan-out. Topics are validated at
// construction and carry structured ids; they are never parsed out of
// ad-hoc room-name strings at delivery time. The zero Topic is invalid.
//
// Topic is comparable and safe to use as a map key.
type Topic struct {
	kind TopicKind
	id   string
}

// VehicleTopic returns the exact-vehicle topic for id.
func VehicleTopic(id VehicleID) Topic {
	return Topic{kind: TopicKindVehicle, id: string(id)}
}

// RouteTopic returns the topic covering all vehicles on a route.
func RouteTopic(id RouteID) Topic {
	return Topic{kind: TopicKindRoute, id: string(id)}
}

// InstituteTopic returns the institute-wide broadcast topic.
func InstituteTopic(id InstituteID) Topic {
	return Topic{kind: TopicKindInstitute, id: string(id)}
}

// NewTopic validates kind and id and returns the corresponding topic.
// Used where topic references arrive over the wire (join/leave frames).
func NewTopic(kind TopicKind, id string) (Topic, error) {
	if id == "" {
		return Topic{}, fmt.Errorf("%w: empty id", ErrInvalidTopic)
	}
	switch kind {
	case TopicKindVehicle, TopicKindRoute, TopicKindInstitute:
		return Topic{kind: kind, id: id}, nil
	default:
		return Topic{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidTopic, kind)
	}
}

// Kind returns the topic's variant.
func (t Topic) Kind() TopicKind { return t.kind }

// ID returns the structured id carried by the topic.
func (t Topic) ID() string { return t.id }

// IsZero reports whether t is the invalid zero topic.
func (t Topic) IsZero() bool { return t.kind == "" }

// Vehicle returns the vehicle id for a vehicle topic.
func (t Topic) Vehicle() (VehicleID, bool) {
	if t.kind != TopicKindVehicle {
		return "", false
	}
	return VehicleID(t.id), true
}

// Route returns the route id for a route topic.
func (t Topic) Route() (RouteID, bool) {
	if t.kind != TopicKindRoute {
		return "", false
	}
	return RouteID(t.id), true
}

// Institute returns the institute id for a broadcast topic.
func (t Topic) Institute() (InstituteID, bool) {
	if t.kind != TopicKindInstitute {
		return "", false
	}
	return InstituteID(t.id), true
}

// String renders the topic for logs and metrics labels.
func (t Topic) String() string {
	if t.kind == TopicKindInstitute {
		return fmt.Sprintf("institute:%s:broadcast", t.id)
	}
	return fmt.Sprintf("%s:%s", t.kind, t.id)
}

// topicJSON is the wire form of a topic reference.
type topicJSON struct {
	Kind TopicKind `json:"kind"`
	ID   string    `json:"id"`
}

// MarshalJSON implements json.Marshaler.
func (t Topic) MarshalJSON() ([]byte, error) {
	return json.Marshal(topicJSON{Kind: t.kind, ID: t.id})
}

// UnmarshalJSON implements json.Unmarshaler, validating on decode.
func (t *Topic) UnmarshalJSON(data []byte) error {
	var ref topicJSON
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	parsed, err := NewTopic(ref.Kind, ref.ID)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
