package core

import (
	"fmt"
	"math"

	"github.com/skyguard/geofence/model"
)

// EarthRadiusMeters is the mean Earth radius used for every great-circle
// calculation in the engine.
const EarthRadiusMeters = 6371000.0

const degToRad = math.Pi / 180.0

// DistanceMeters returns the haversine great-circle distance between two
// coordinates. The result is symmetric in its arguments.
func DistanceMeters(a, b model.LatLon) float64 {
	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad
	deltaLat := (b.Latitude - a.Latitude) * degToRad
	deltaLon := (b.Longitude - a.Longitude) * degToRad

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	// Rounding can push h a hair outside [0, 1] for antipodal points.
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// SegmentDistanceMeters returns the distance from p to the closest point of
// the segment a-b. The closest point is found in a local equirectangular
// projection centred on the segment, which is accurate for the short legs
// drone routes are made of; the final distance is haversine.
func SegmentDistanceMeters(p, a, b model.LatLon) float64 {
	cosLat := math.Cos((a.Latitude + b.Latitude) / 2 * degToRad)

	px, py := (p.Longitude-a.Longitude)*cosLat, p.Latitude-a.Latitude
	dx, dy := (b.Longitude-a.Longitude)*cosLat, b.Latitude-a.Latitude

	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return DistanceMeters(p, a)
	}

	t := (px*dx + py*dy) / lenSq
	switch {
	case t < 0:
		t = 0
	case t > 1:
		t = 1
	}

	closest := model.LatLon{
		Latitude:  a.Latitude + t*(b.Latitude-a.Latitude),
		Longitude: a.Longitude + t*(b.Longitude-a.Longitude),
	}
	return DistanceMeters(p, closest)
}

// ValidateLatLon rejects non-finite or out-of-range coordinates.
func ValidateLatLon(c model.LatLon) error {
	if !isFinite(c.Latitude) || !isFinite(c.Longitude) {
		return fmt.Errorf("%w: coordinates must be finite, got (%v, %v)", ErrValidation, c.Latitude, c.Longitude)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrValidation, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrValidation, c.Longitude)
	}
	return nil
}

// ValidatePosition checks the horizontal part of a position.
func ValidatePosition(p model.Position) error {
	if err := ValidateLatLon(p.LatLon()); err != nil {
		return fmt.Errorf("position for subject %q: %w", p.SubjectID, err)
	}
	return nil
}

// ValidateZone enforces the structural invariants of a zone.
func ValidateZone(z model.Zone) error {
	if z.ID == "" {
		return fmt.Errorf("%w: zone id is required", ErrValidation)
	}
	if err := ValidateLatLon(z.Center); err != nil {
		return fmt.Errorf("zone %q center: %w", z.ID, err)
	}
	if !isFinite(z.RadiusMeters) || z.RadiusMeters < 0 {
		return fmt.Errorf("%w: zone %q radius must be a finite non-negative number, got %v", ErrValidation, z.ID, z.RadiusMeters)
	}
	if z.AltitudeCeiling != nil && !isFinite(*z.AltitudeCeiling) {
		return fmt.Errorf("%w: zone %q altitude ceiling must be finite", ErrValidation, z.ID)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
