package core

import (
	"fmt"
	"sort"

	"github.com/skyguard/geofence/model"
)

// RouteViolation describes where a route first enters a zone.
type RouteViolation struct {
	ZoneID   string `json:"zone_id"`
	ZoneName string `json:"zone_name"`
	// Leg is the index of the leg's first waypoint, or the waypoint index
	// itself when WaypointHit is set.
	Leg            int     `json:"leg"`
	WaypointHit    bool    `json:"waypoint_hit"`
	DistanceMeters float64 `json:"distance_meters"`
}

// RouteVerdict is the outcome of checking a route against a zone snapshot.
type RouteVerdict struct {
	Clear      bool             `json:"clear"`
	Violations []RouteViolation `json:"violations"`
}

// CheckRoute rejects a route when any waypoint lies inside a zone or any
// leg passes within a zone's radius. Zones are visited in ascending ID order
// and each zone is reported at most once, at its first offending leg.
func CheckRoute(route []model.LatLon, zones []model.Zone) (RouteVerdict, error) {
	if len(route) == 0 {
		return RouteVerdict{}, fmt.Errorf("%w: route needs at least one waypoint", ErrValidation)
	}
	for i, wp := range route {
		if err := ValidateLatLon(wp); err != nil {
			return RouteVerdict{}, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}

	verdict := RouteVerdict{Clear: true, Violations: []RouteViolation{}}
	for _, z := range sortedByID(zones) {
		if v, hit := firstViolation(route, z); hit {
			verdict.Clear = false
			verdict.Violations = append(verdict.Violations, v)
		}
	}
	return verdict, nil
}

func firstViolation(route []model.LatLon, z model.Zone) (RouteViolation, bool) {
	for i, wp := range route {
		if d := DistanceMeters(wp, z.Center); d <= z.RadiusMeters {
			return RouteViolation{ZoneID: z.ID, ZoneName: z.Name, Leg: i, WaypointHit: true, DistanceMeters: d}, true
		}
	}
	for i := 1; i < len(route); i++ {
		if d := SegmentDistanceMeters(z.Center, route[i-1], route[i]); d <= z.RadiusMeters {
			return RouteViolation{ZoneID: z.ID, ZoneName: z.Name, Leg: i - 1, DistanceMeters: d}, true
		}
	}
	return RouteViolation{}, false
}

func sortedByID(zones []model.Zone) []model.Zone {
	out := append([]model.Zone(nil), zones...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
