// Package flightsim moves simulated drones along their approved routes and
// produces the flight events a live backend would emit for them.
package flightsim

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/internal/events"
	"github.com/skyguard/geofence/model"
)

const (
	// DefaultSpeedMS is the cruise speed used when a plan sets none.
	DefaultSpeedMS = 15.0
	// WaypointReachedMeters is how close a drone must get to a waypoint
	// before it turns toward the next one.
	WaypointReachedMeters = 10.0
)

// Completion statuses carried by FlightCompleted.
const (
	StatusCompleted      = "completed"
	StatusRestrictedZone = "restricted_zone"
	StatusShutdown       = "system_shutdown"
)

// DefaultBase is the launch site used when a plan carries no base.
var DefaultBase = events.RoutePoint{Latitude: 51.15545, Longitude: 71.41216}

// Plan describes one flight: where it starts and the waypoints it visits.
type Plan struct {
	ApplicationID model.FlexID        `json:"application_id"`
	DroneID       model.FlexID        `json:"drone_id"`
	PilotID       model.FlexID        `json:"pilot_id,omitempty"`
	Base          *events.RoutePoint  `json:"base,omitempty"`
	Route         []events.RoutePoint `json:"route"`
	SpeedMS       float64             `json:"speed_ms,omitempty"`
}

// Flight is the moving state of one planned flight. It is not safe for
// concurrent use.
type Flight struct {
	plan      Plan
	base      events.RoutePoint
	speed     float64
	pos       events.DronePosition
	next      int
	last      time.Time
	total     float64
	travelled float64
	done      bool
	status    string
}

// NewFlight validates plan and positions the drone at its base.
func NewFlight(plan Plan) (*Flight, error) {
	if strings.TrimSpace(plan.DroneID.String()) == "" {
		return nil, fmt.Errorf("%w: flight plan has no drone_id", core.ErrValidation)
	}
	if len(plan.Route) == 0 {
		return nil, fmt.Errorf("%w: flight plan for drone %s has no waypoints", core.ErrValidation, plan.DroneID)
	}
	speed := plan.SpeedMS
	if speed == 0 {
		speed = DefaultSpeedMS
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed < 0 {
		return nil, fmt.Errorf("%w: speed must be a positive number, got %v", core.ErrValidation, plan.SpeedMS)
	}

	base := DefaultBase
	if plan.Base != nil {
		base = *plan.Base
	}
	if err := core.ValidateLatLon(latLon(base)); err != nil {
		return nil, fmt.Errorf("base: %w", err)
	}

	total := 0.0
	prev := latLon(base)
	for i, wp := range plan.Route {
		if err := core.ValidateLatLon(latLon(wp)); err != nil {
			return nil, fmt.Errorf("waypoint %d: %w", i, err)
		}
		total += core.DistanceMeters(prev, latLon(wp))
		prev = latLon(wp)
	}

	return &Flight{
		plan:  plan,
		base:  base,
		speed: speed,
		total: total,
		pos: events.DronePosition{
			ApplicationID: plan.ApplicationID,
			DroneID:       plan.DroneID,
			Latitude:      base.Latitude,
			Longitude:     base.Longitude,
			Altitude:      base.Altitude,
		},
	}, nil
}

// DroneID returns the subject identifier of the flight.
func (f *Flight) DroneID() string { return f.plan.DroneID.String() }

// Done reports whether the flight has ended.
func (f *Flight) Done() bool { return f.done }

// Status returns the completion status, empty while the flight is active.
func (f *Flight) Status() string { return f.status }

// Position returns the current drone position.
func (f *Flight) Position() events.DronePosition { return f.pos }

// DistanceMeters is the length of the whole route from base.
func (f *Flight) DistanceMeters() float64 { return f.total }

// EstimatedDuration is the time the route takes at cruise speed.
func (f *Flight) EstimatedDuration() time.Duration {
	return time.Duration(f.total / f.speed * float64(time.Second))
}

// Start marks the flight as launched at now and returns the matching event.
func (f *Flight) Start(now time.Time) events.FlightStarted {
	f.last = now
	f.pos.Timestamp = now
	f.pos.Speed = f.speed

	route := make([]events.RoutePoint, 0, len(f.plan.Route)+1)
	route = append(route, f.base)
	for i, wp := range f.plan.Route {
		wp.PointOrder = i + 1
		route = append(route, wp)
	}
	current := f.pos
	return events.FlightStarted{
		ApplicationID:    f.plan.ApplicationID,
		DroneID:          f.plan.DroneID,
		PilotID:          f.plan.PilotID,
		Route:            route,
		CurrentPosition:  &current,
		StartTime:        now,
		EstimatedEndTime: now.Add(f.EstimatedDuration()),
	}
}

// Step moves the drone toward its current waypoint for the time elapsed
// since the previous step. It returns a PositionUpdate while the flight is
// under way, a FlightCompleted once the last waypoint is reached and nil
// after the flight has ended.
func (f *Flight) Step(now time.Time) events.Event {
	if f.done {
		return nil
	}
	dt := now.Sub(f.last)
	if dt < 0 {
		dt = 0
	}
	f.last = now

	// Distance left over after reaching a waypoint carries into the next leg.
	budget := f.speed * dt.Seconds()
	for f.next < len(f.plan.Route) {
		target := f.plan.Route[f.next]
		from := model.LatLon{Latitude: f.pos.Latitude, Longitude: f.pos.Longitude}
		remaining := core.DistanceMeters(from, latLon(target))
		if remaining > 0 {
			heading := geo.Bearing(orb.Point{from.Longitude, from.Latitude}, orb.Point{target.Longitude, target.Latitude})
			if heading < 0 {
				heading += 360
			}
			f.pos.Heading = heading
		}
		if budget >= remaining {
			f.pos.Latitude = target.Latitude
			f.pos.Longitude = target.Longitude
			f.pos.Altitude = target.Altitude
			f.travelled += remaining
			budget -= remaining
			f.next++
			continue
		}

		ratio := budget / remaining
		f.pos.Latitude += (target.Latitude - f.pos.Latitude) * ratio
		f.pos.Longitude += (target.Longitude - f.pos.Longitude) * ratio
		f.pos.Altitude += (target.Altitude - f.pos.Altitude) * ratio
		f.travelled += budget
		if core.DistanceMeters(latLon(target), model.LatLon{Latitude: f.pos.Latitude, Longitude: f.pos.Longitude}) < WaypointReachedMeters {
			f.next++
		}
		break
	}
	f.pos.Timestamp = now
	f.pos.Speed = f.speed
	f.pos.RouteProgress = f.progress()

	if f.next >= len(f.plan.Route) {
		f.pos.RouteProgress = 100
		return f.Stop(now, StatusCompleted)
	}

	return events.PositionUpdate{
		ApplicationID: f.plan.ApplicationID,
		DroneID:       f.plan.DroneID,
		Latitude:      f.pos.Latitude,
		Longitude:     f.pos.Longitude,
		Altitude:      model.Float64(f.pos.Altitude),
		Speed:         model.Float64(f.pos.Speed),
		Heading:       model.Float64(f.pos.Heading),
		RouteProgress: f.pos.RouteProgress,
		Timestamp:     now,
	}
}

// Stop ends the flight at its current position with the given status.
func (f *Flight) Stop(now time.Time, status string) events.FlightCompleted {
	f.done = true
	f.status = status
	if status != StatusCompleted {
		f.pos.Speed = 0
	}
	final := f.pos
	return events.FlightCompleted{
		ApplicationID:    f.plan.ApplicationID,
		DroneID:          f.plan.DroneID,
		FinalPosition:    &final,
		CompletionTime:   now,
		CompletionStatus: status,
	}
}

func (f *Flight) progress() float64 {
	if f.total <= 0 {
		return 100
	}
	return math.Min(100, math.Max(0, f.travelled/f.total*100))
}

func latLon(p events.RoutePoint) model.LatLon {
	return model.LatLon{Latitude: p.Latitude, Longitude: p.Longitude}
}
