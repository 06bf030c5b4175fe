package core

import (
	"fmt"
	"sort"

	"github.com/skyguard/geofence/model"
)

// Classifier evaluates positions against a zone snapshot. The zero value
// is the baseline classifier: altitude is ignored and containment is purely
// horizontal.
type Classifier struct {
	// HonorAltitudeCeiling makes a zone inapplicable to a position flying
	// above the zone's ceiling. Both the position altitude and the ceiling
	// must be present for the gate to apply.
	HonorAltitudeCeiling bool
}

// Classify runs the baseline classifier.
func Classify(pos model.Position, zones []model.Zone) (model.ClassificationResult, error) {
	return Classifier{}.Classify(pos, zones)
}

// Proximity runs the baseline classifier in graduated mode.
func Proximity(pos model.Position, zones []model.Zone, bufferMeters float64) ([]model.ProximityEntry, error) {
	return Classifier{}.Proximity(pos, zones, bufferMeters)
}

// Classify reports every zone whose radius contains pos. The boundary counts
// as inside. An empty zone set yields an empty, non-intersecting result.
func (c Classifier) Classify(pos model.Position, zones []model.Zone) (model.ClassificationResult, error) {
	if err := ValidatePosition(pos); err != nil {
		return model.ClassificationResult{}, err
	}

	res := model.ClassificationResult{
		Position:         pos,
		IntersectedZones: []model.ZoneHit{},
	}
	point := pos.LatLon()
	for _, z := range zones {
		if !c.applies(pos, z) {
			continue
		}
		d := DistanceMeters(point, z.Center)
		if d <= z.RadiusMeters {
			res.IntersectedZones = append(res.IntersectedZones, model.ZoneHit{Zone: z, DistanceMeters: d})
		}
	}

	sort.SliceStable(res.IntersectedZones, func(i, j int) bool {
		return res.IntersectedZones[i].Zone.ID < res.IntersectedZones[j].Zone.ID
	})
	res.HasIntersection = len(res.IntersectedZones) > 0
	return res, nil
}

// Proximity grades every zone: inside when the distance is within the
// radius, approaching when it is within radius+bufferMeters. Zones further
// away are omitted. Entries are ordered by ascending zone ID.
func (c Classifier) Proximity(pos model.Position, zones []model.Zone, bufferMeters float64) ([]model.ProximityEntry, error) {
	if !isFinite(bufferMeters) || bufferMeters < 0 {
		return nil, fmt.Errorf("%w: proximity buffer must be a finite non-negative number, got %v", ErrValidation, bufferMeters)
	}
	if err := ValidatePosition(pos); err != nil {
		return nil, err
	}

	entries := make([]model.ProximityEntry, 0)
	point := pos.LatLon()
	for _, z := range zones {
		if !c.applies(pos, z) {
			continue
		}
		d := DistanceMeters(point, z.Center)

		var sev model.Severity
		switch {
		case d <= z.RadiusMeters:
			sev = model.SeverityInside
		case d <= z.RadiusMeters+bufferMeters:
			sev = model.SeverityApproaching
		default:
			continue
		}
		entries = append(entries, model.ProximityEntry{
			ZoneID:         z.ID,
			ZoneName:       z.Name,
			DistanceMeters: d,
			RadiusMeters:   z.RadiusMeters,
			Severity:       sev,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ZoneID < entries[j].ZoneID })
	return entries, nil
}

// applicable returns the zones that apply to pos, reusing zones when the
// altitude gate is off.
func (c Classifier) applicable(pos model.Position, zones []model.Zone) []model.Zone {
	if !c.HonorAltitudeCeiling {
		return zones
	}
	out := make([]model.Zone, 0, len(zones))
	for _, z := range zones {
		if c.applies(pos, z) {
			out = append(out, z)
		}
	}
	return out
}

func (c Classifier) applies(pos model.Position, z model.Zone) bool {
	if !c.HonorAltitudeCeiling || pos.Altitude == nil || z.AltitudeCeiling == nil {
		return true
	}
	return *pos.Altitude <= *z.AltitudeCeiling
}
