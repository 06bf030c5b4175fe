package model

import "time"

// LatLon is a WGS-84 coordinate in degrees.
type LatLon struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Zone is a circular ground-projected no-fly region. Zones are immutable
// once they are part of a snapshot.
type Zone struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Center       LatLon  `json:"center"`
	RadiusMeters float64 `json:"radius_meters"`

	// AltitudeCeiling is optional (metres). Nil means the zone applies at
	// every altitude.
	AltitudeCeiling *float64 `json:"altitude_ceiling,omitempty"`
}

// CandidateSubject identifies a planning-time point that has no drone
// attached to it.
const CandidateSubject = "candidate"

// Position is a single point observation for a subject.
type Position struct {
	SubjectID string    `json:"subject_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LatLon returns the horizontal part of the observation.
func (p Position) LatLon() LatLon {
	return LatLon{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Float64 returns a pointer to v. Handy for the optional fields above.
func Float64(v float64) *float64 { return &v }
