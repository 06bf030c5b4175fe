package core

import (
	"errors"
	"testing"

	"github.com/skyguard/geofence/model"
)

func TestCheckRoute_ClearRoute(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}
	route := []model.LatLon{northOf(astana, 500), northOf(astana, 1000)}

	v, err := CheckRoute(route, zones)
	if err != nil {
		t.Fatalf("CheckRoute error: %v", err)
	}
	if !v.Clear || len(v.Violations) != 0 {
		t.Fatalf("CheckRoute = %+v, want clear", v)
	}
}

func TestCheckRoute_LegCrossesZone(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}
	west := model.LatLon{Latitude: astana.Latitude, Longitude: astana.Longitude - 0.01}
	east := model.LatLon{Latitude: astana.Latitude, Longitude: astana.Longitude + 0.01}

	v, err := CheckRoute([]model.LatLon{west, east}, zones)
	if err != nil {
		t.Fatalf("CheckRoute error: %v", err)
	}
	if v.Clear || len(v.Violations) != 1 {
		t.Fatalf("CheckRoute = %+v, want one violation", v)
	}
	got := v.Violations[0]
	if got.ZoneID != "Z1" || got.Leg != 0 || got.WaypointHit {
		t.Fatalf("violation = %+v, want leg 0 of Z1", got)
	}
	if got.DistanceMeters > 1 {
		t.Fatalf("violation distance = %v, want ~0", got.DistanceMeters)
	}
}

func TestCheckRoute_WaypointInsideWins(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}
	route := []model.LatLon{northOf(astana, 1000), northOf(astana, 500), northOf(astana, 50)}

	v, err := CheckRoute(route, zones)
	if err != nil {
		t.Fatalf("CheckRoute error: %v", err)
	}
	if len(v.Violations) != 1 || !v.Violations[0].WaypointHit || v.Violations[0].Leg != 2 {
		t.Fatalf("violations = %+v, want waypoint 2", v.Violations)
	}
}

func TestCheckRoute_ViolationsSortedByZoneID(t *testing.T) {
	zones := []model.Zone{
		zoneAt("b", northOf(astana, 2000), 100),
		zoneAt("a", astana, 100),
	}
	route := []model.LatLon{northOf(astana, -500), northOf(astana, 3000)}

	v, err := CheckRoute(route, zones)
	if err != nil {
		t.Fatalf("CheckRoute error: %v", err)
	}
	if len(v.Violations) != 2 || v.Violations[0].ZoneID != "a" || v.Violations[1].ZoneID != "b" {
		t.Fatalf("violations = %+v, want a then b", v.Violations)
	}
}

func TestCheckRoute_SingleWaypoint(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}
	v, err := CheckRoute([]model.LatLon{astana}, zones)
	if err != nil {
		t.Fatalf("CheckRoute error: %v", err)
	}
	if v.Clear {
		t.Fatalf("single waypoint at the center should violate")
	}
}

func TestCheckRoute_Validation(t *testing.T) {
	if _, err := CheckRoute(nil, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty route error = %v, want ErrValidation", err)
	}
	bad := []model.LatLon{astana, {Latitude: 95, Longitude: 0}}
	if _, err := CheckRoute(bad, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad waypoint error = %v, want ErrValidation", err)
	}
}
