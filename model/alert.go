package model

import "time"

// Severity grades how close a subject is to a zone.
type Severity string

const (
	SeverityApproaching Severity = "approaching"
	SeverityInside      Severity = "inside"
)

// Rank orders severities so escalation can be detected. Unknown
// severities rank below every built-in one.
func (s Severity) Rank() int {
	switch s {
	case SeverityApproaching:
		return 1
	case SeverityInside:
		return 2
	default:
		return 0
	}
}

// ZoneHit is a zone that contains the queried point together with the
// exact distance from the point to the zone centre.
type ZoneHit struct {
	Zone           Zone    `json:"zone"`
	DistanceMeters float64 `json:"distance_meters"`
}

// ClassificationResult is the output of one containment evaluation.
// IntersectedZones is always ordered by ascending zone ID.
type ClassificationResult struct {
	Position         Position  `json:"position"`
	HasIntersection  bool      `json:"has_intersection"`
	IntersectedZones []ZoneHit `json:"intersected_zones"`
}

// ZoneIDs returns the IDs of the intersected zones in result order.
func (r ClassificationResult) ZoneIDs() []string {
	ids := make([]string, 0, len(r.IntersectedZones))
	for _, hit := range r.IntersectedZones {
		ids = append(ids, hit.Zone.ID)
	}
	return ids
}

// ProximityEntry is one graduated (zone, severity) observation.
type ProximityEntry struct {
	ZoneID         string   `json:"zone_id"`
	ZoneName       string   `json:"zone_name"`
	DistanceMeters float64  `json:"distance_meters"`
	RadiusMeters   float64  `json:"radius_meters"`
	Severity       Severity `json:"severity"`
}

// ProximityAlert is a user-facing warning that passed the debouncer.
type ProximityAlert struct {
	ID             string    `json:"id"`
	SubjectID      string    `json:"subject_id"`
	ZoneID         string    `json:"zone_id"`
	ZoneName       string    `json:"zone_name"`
	Severity       Severity  `json:"severity"`
	DistanceMeters float64   `json:"distance_meters"`
	Timestamp      time.Time `json:"timestamp"`
}
