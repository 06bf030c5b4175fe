// Package events decodes the flight telemetry stream into typed variants.
// Each message carries a "type" discriminator; consumers switch over the
// concrete types.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/model"
)

// Kind is the wire discriminator of an event.
type Kind string

const (
	KindStatusUpdate        Kind = "status_update"
	KindFlightStarted       Kind = "flight_started"
	KindPositionUpdate      Kind = "position_update"
	KindFlightPaused        Kind = "flight_paused"
	KindFlightResumed       Kind = "flight_resumed"
	KindFlightCompleted     Kind = "flight_completed"
	KindRestrictedZoneAlert Kind = "restricted_zone_alert"
)

// ErrUnknownKind is returned for a discriminator this package does not know.
var ErrUnknownKind = errors.New("unknown event type")

// Event is implemented by every variant in this package and nothing else.
type Event interface {
	Kind() Kind
	sealed()
}

// DronePosition is the nested position object some events carry.
type DronePosition struct {
	ApplicationID model.FlexID `json:"application_id,omitempty"`
	DroneID       model.FlexID `json:"drone_id,omitempty"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	Altitude      float64      `json:"altitude"`
	Speed         float64      `json:"speed"`
	Heading       float64      `json:"heading"`
	RouteProgress float64      `json:"route_progress"`
	Timestamp     time.Time    `json:"timestamp"`
}

// UnmarshalJSON rejects nested positions without both coordinates.
func (p *DronePosition) UnmarshalJSON(data []byte) error {
	if err := model.RequireCoordinates(data, "longitude"); err != nil {
		return err
	}
	type plain DronePosition
	return json.Unmarshal(data, (*plain)(p))
}

// RoutePoint is one waypoint of a planned route.
type RoutePoint struct {
	ID            model.FlexID `json:"id,omitempty"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	Altitude      float64      `json:"altitude"`
	PointOrder    int          `json:"point_order"`
	ApplicationID model.FlexID `json:"application_id,omitempty"`
}

// StatusUpdate reports a change of a flight application's status.
type StatusUpdate struct {
	ApplicationID   model.FlexID `json:"application_id"`
	Status          string       `json:"status"`
	Message         string       `json:"message,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// FlightStarted marks the beginning of a flight.
type FlightStarted struct {
	ApplicationID    model.FlexID   `json:"application_id"`
	DroneID          model.FlexID   `json:"drone_id"`
	PilotID          model.FlexID   `json:"pilot_id,omitempty"`
	Route            []RoutePoint   `json:"route,omitempty"`
	CurrentPosition  *DronePosition `json:"current_position,omitempty"`
	StartTime        time.Time      `json:"start_time"`
	EstimatedEndTime time.Time      `json:"estimated_end_time"`
}

// PositionUpdate is one telemetry sample.
type PositionUpdate struct {
	ApplicationID model.FlexID `json:"application_id,omitempty"`
	DroneID       model.FlexID `json:"drone_id"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	// Altitude, Speed and Heading are nil when the sample did not report
	// them.
	Altitude      *float64  `json:"altitude,omitempty"`
	Speed         *float64  `json:"speed,omitempty"`
	Heading       *float64  `json:"heading,omitempty"`
	RouteProgress float64   `json:"route_progress"`
	Timestamp     time.Time `json:"timestamp"`
}

// UnmarshalJSON rejects samples without both coordinates.
func (p *PositionUpdate) UnmarshalJSON(data []byte) error {
	if err := model.RequireCoordinates(data, "longitude"); err != nil {
		return err
	}
	type plain PositionUpdate
	return json.Unmarshal(data, (*plain)(p))
}

// FlightPaused marks a paused flight.
type FlightPaused struct {
	ApplicationID model.FlexID   `json:"application_id"`
	DroneID       model.FlexID   `json:"drone_id"`
	PausePosition *DronePosition `json:"pause_position,omitempty"`
	PauseTime     time.Time      `json:"pause_time"`
	PauseReason   string         `json:"pause_reason,omitempty"`
}

// FlightResumed marks a resumed flight.
type FlightResumed struct {
	ApplicationID  model.FlexID   `json:"application_id"`
	DroneID        model.FlexID   `json:"drone_id"`
	ResumePosition *DronePosition `json:"resume_position,omitempty"`
	ResumeTime     time.Time      `json:"resume_time"`
	ResumeReason   string         `json:"resume_reason,omitempty"`
}

// FlightCompleted marks the end of a flight.
type FlightCompleted struct {
	ApplicationID    model.FlexID   `json:"application_id"`
	DroneID          model.FlexID   `json:"drone_id"`
	FinalPosition    *DronePosition `json:"final_position,omitempty"`
	CompletionTime   time.Time      `json:"completion_time"`
	CompletionStatus string         `json:"completion_status"`
}

// RestrictedZoneAlert is an alert raised by the flight simulator rather
// than by this engine.
type RestrictedZoneAlert struct {
	ApplicationID model.FlexID   `json:"application_id"`
	DroneID       model.FlexID   `json:"drone_id"`
	ZoneID        model.FlexID   `json:"zone_id,omitempty"`
	ZoneName      string         `json:"zone_name"`
	ZoneLatitude  float64        `json:"zone_latitude"`
	ZoneLongitude float64        `json:"zone_longitude"`
	ZoneRadius    float64        `json:"zone_radius"`
	AlertLevel    string         `json:"alert_level"`
	Distance      float64        `json:"distance"`
	DronePosition *DronePosition `json:"drone_position,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

func (StatusUpdate) Kind() Kind        { return KindStatusUpdate }
func (FlightStarted) Kind() Kind       { return KindFlightStarted }
func (PositionUpdate) Kind() Kind      { return KindPositionUpdate }
func (FlightPaused) Kind() Kind        { return KindFlightPaused }
func (FlightResumed) Kind() Kind       { return KindFlightResumed }
func (FlightCompleted) Kind() Kind     { return KindFlightCompleted }
func (RestrictedZoneAlert) Kind() Kind { return KindRestrictedZoneAlert }

func (StatusUpdate) sealed()        {}
func (FlightStarted) sealed()       {}
func (PositionUpdate) sealed()      {}
func (FlightPaused) sealed()        {}
func (FlightResumed) sealed()       {}
func (FlightCompleted) sealed()     {}
func (RestrictedZoneAlert) sealed() {}

// Position converts the sample into the engine's position type.
func (p PositionUpdate) Position() model.Position {
	return model.Position{
		SubjectID: p.DroneID.String(),
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Altitude:  clonePtr(p.Altitude),
		Speed:     clonePtr(p.Speed),
		Heading:   clonePtr(p.Heading),
		Timestamp: p.Timestamp,
	}
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return model.Float64(*v)
}

// Zone returns the zone the alert refers to. Alerts without a zone id are
// keyed by zone name.
func (a RestrictedZoneAlert) Zone() model.Zone {
	id := a.ZoneID.String()
	if id == "" {
		id = a.ZoneName
	}
	return model.Zone{
		ID:           id,
		Name:         a.ZoneName,
		Center:       model.LatLon{Latitude: a.ZoneLatitude, Longitude: a.ZoneLongitude},
		RadiusMeters: a.ZoneRadius,
	}
}

// Decode parses one stream message into its concrete variant.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", core.ErrValidation, err)
	}

	var (
		ev  Event
		err error
	)
	switch head.Type {
	case KindStatusUpdate:
		ev, err = decodeAs[StatusUpdate](data)
	case KindFlightStarted:
		ev, err = decodeAs[FlightStarted](data)
	case KindPositionUpdate:
		var p PositionUpdate
		if p, err = decodeAs[PositionUpdate](data); err == nil && p.DroneID == "" {
			err = fmt.Errorf("%w: position_update without drone_id", core.ErrValidation)
		}
		ev = p
	case KindFlightPaused:
		ev, err = decodeAs[FlightPaused](data)
	case KindFlightResumed:
		ev, err = decodeAs[FlightResumed](data)
	case KindFlightCompleted:
		ev, err = decodeAs[FlightCompleted](data)
	case KindRestrictedZoneAlert:
		ev, err = decodeAs[RestrictedZoneAlert](data)
	case "":
		return nil, fmt.Errorf("%w: event has no type", core.ErrValidation)
	default:
		return nil, fmt.Errorf("%w: %w %q", core.ErrValidation, ErrUnknownKind, head.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeAs[T Event](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: decode %s: %w", core.ErrValidation, v.Kind(), err)
	}
	return v, nil
}

// Encode serializes ev with its "type" discriminator first.
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	kind, err := json.Marshal(ev.Kind())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(kind) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(kind)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
