package core

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/skyguard/geofence/model"
)

var astana = model.LatLon{Latitude: 51.1500, Longitude: 71.4100}

func zoneAt(id string, c model.LatLon, radius float64) model.Zone {
	return model.Zone{ID: id, Name: "zone " + id, Center: c, RadiusMeters: radius}
}

func posAt(c model.LatLon) model.Position {
	return model.Position{SubjectID: model.CandidateSubject, Latitude: c.Latitude, Longitude: c.Longitude}
}

func TestClassify_ExactCenterIsInside(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}

	res, err := Classify(posAt(astana), zones)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if !res.HasIntersection {
		t.Fatalf("HasIntersection = false, want true")
	}
	if len(res.IntersectedZones) != 1 || res.IntersectedZones[0].DistanceMeters > 1e-9 {
		t.Fatalf("IntersectedZones = %+v, want Z1 at ~0 m", res.IntersectedZones)
	}
}

func TestClassify_EastShiftedOutside(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}
	p := model.LatLon{Latitude: astana.Latitude, Longitude: astana.Longitude + 0.0029}

	res, err := Classify(posAt(p), zones)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if res.HasIntersection {
		t.Fatalf("HasIntersection = true for a point ~200 m away, want false")
	}
	if len(res.IntersectedZones) != 0 {
		t.Fatalf("IntersectedZones = %+v, want empty", res.IntersectedZones)
	}
}

func TestClassify_NoZones(t *testing.T) {
	res, err := Classify(posAt(astana), nil)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if res.HasIntersection || res.IntersectedZones == nil || len(res.IntersectedZones) != 0 {
		t.Fatalf("Classify(no zones) = %+v, want non-nil empty result", res)
	}
}

func TestClassify_BoundaryCountsAsInside(t *testing.T) {
	p := northOf(astana, 100)
	// Use the computed distance as the radius so the point sits exactly on
	// the boundary regardless of rounding.
	radius := DistanceMeters(p, astana)

	res, err := Classify(posAt(p), []model.Zone{zoneAt("Z1", astana, radius)})
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if !res.HasIntersection {
		t.Fatalf("point at exactly radius classified outside")
	}
}

func TestClassify_PointZoneOnlyMatchesExactCoordinate(t *testing.T) {
	zones := []model.Zone{zoneAt("P", astana, 0)}

	res, err := Classify(posAt(astana), zones)
	if err != nil || !res.HasIntersection {
		t.Fatalf("exact match on point zone: res=%+v err=%v", res, err)
	}
	res, err = Classify(posAt(northOf(astana, 0.5)), zones)
	if err != nil || res.HasIntersection {
		t.Fatalf("near miss on point zone: res=%+v err=%v", res, err)
	}
}

func TestClassify_OverlappingZonesSortedByID(t *testing.T) {
	z2 := zoneAt("Z2", northOf(astana, 200), 500)
	z1 := zoneAt("Z1", astana, 100)
	p := northOf(astana, 50)

	res, err := Classify(posAt(p), []model.Zone{z2, z1})
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if diff := cmp.Diff([]string{"Z1", "Z2"}, res.ZoneIDs()); diff != "" {
		t.Fatalf("zone order mismatch (-want +got):\n%s", diff)
	}
	if d := res.IntersectedZones[0].DistanceMeters; math.Abs(d-50) > 1e-6 {
		t.Fatalf("Z1 distance = %v, want 50", d)
	}
	if d := res.IntersectedZones[1].DistanceMeters; math.Abs(d-150) > 1e-6 {
		t.Fatalf("Z2 distance = %v, want 150", d)
	}
}

func TestClassify_MatchesBruteForce(t *testing.T) {
	var zones []model.Zone
	ids := []string{"k", "c", "a", "x", "m", "b"}
	for i, id := range ids {
		c := model.LatLon{Latitude: astana.Latitude + float64(i)*0.001, Longitude: astana.Longitude - float64(i)*0.0015}
		zones = append(zones, zoneAt(id, c, 80+float64(i)*40))
	}

	for i := 0; i < 40; i++ {
		p := model.LatLon{Latitude: astana.Latitude + float64(i)*0.0002, Longitude: astana.Longitude - float64(i)*0.0002}
		res, err := Classify(posAt(p), zones)
		if err != nil {
			t.Fatalf("Classify error: %v", err)
		}

		var want []string
		for _, z := range sortedByID(zones) {
			if DistanceMeters(p, z.Center) <= z.RadiusMeters {
				want = append(want, z.ID)
			}
		}
		if res.HasIntersection != (len(want) > 0) {
			t.Fatalf("sample %d: HasIntersection = %v, want %v", i, res.HasIntersection, len(want) > 0)
		}
		if diff := cmp.Diff(want, res.ZoneIDs(), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("sample %d: zones mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestClassify_RejectsNonFinitePosition(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}
	for _, p := range []model.Position{
		{Latitude: math.NaN(), Longitude: 71.41},
		{Latitude: 51.15, Longitude: math.Inf(-1)},
	} {
		if _, err := Classify(p, zones); !errors.Is(err, ErrValidation) {
			t.Fatalf("Classify(%+v) error = %v, want ErrValidation", p, err)
		}
	}
}

func TestClassifier_AltitudeCeiling(t *testing.T) {
	zone := zoneAt("Z1", astana, 100)
	zone.AltitudeCeiling = model.Float64(120)

	high := posAt(astana)
	high.Altitude = model.Float64(150)

	baseline, err := Classify(high, []model.Zone{zone})
	if err != nil || !baseline.HasIntersection {
		t.Fatalf("baseline classifier should ignore altitude: res=%+v err=%v", baseline, err)
	}

	gated, err := Classifier{HonorAltitudeCeiling: true}.Classify(high, []model.Zone{zone})
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if gated.HasIntersection {
		t.Fatalf("position above ceiling should not intersect when gating is enabled")
	}

	low := posAt(astana)
	low.Altitude = model.Float64(100)
	gated, err = Classifier{HonorAltitudeCeiling: true}.Classify(low, []model.Zone{zone})
	if err != nil || !gated.HasIntersection {
		t.Fatalf("position below ceiling should intersect: res=%+v err=%v", gated, err)
	}
}

func TestProximity_Graduated(t *testing.T) {
	zones := []model.Zone{zoneAt("Z1", astana, 100)}

	cases := []struct {
		dist float64
		want model.Severity
	}{
		{dist: 120, want: model.SeverityApproaching},
		{dist: 80, want: model.SeverityInside},
		{dist: 200, want: ""},
	}
	for _, tc := range cases {
		entries, err := Proximity(posAt(northOf(astana, tc.dist)), zones, 50)
		if err != nil {
			t.Fatalf("Proximity(%v m) error: %v", tc.dist, err)
		}
		if tc.want == "" {
			if len(entries) != 0 {
				t.Fatalf("Proximity(%v m) = %+v, want no entries", tc.dist, entries)
			}
			continue
		}
		if len(entries) != 1 || entries[0].Severity != tc.want {
			t.Fatalf("Proximity(%v m) = %+v, want severity %s", tc.dist, entries, tc.want)
		}
		if math.Abs(entries[0].DistanceMeters-tc.dist) > 1e-6 {
			t.Fatalf("Proximity(%v m) distance = %v", tc.dist, entries[0].DistanceMeters)
		}
	}
}

func TestProximity_OrderedAndValidated(t *testing.T) {
	zones := []model.Zone{
		zoneAt("b", astana, 100),
		zoneAt("a", northOf(astana, 130), 100),
	}
	entries, err := Proximity(posAt(astana), zones, 50)
	if err != nil {
		t.Fatalf("Proximity error: %v", err)
	}
	want := []model.ProximityEntry{
		{ZoneID: "a", ZoneName: "zone a", DistanceMeters: entries[0].DistanceMeters, RadiusMeters: 100, Severity: model.SeverityApproaching},
		{ZoneID: "b", ZoneName: "zone b", DistanceMeters: 0, RadiusMeters: 100, Severity: model.SeverityInside},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("Proximity mismatch (-want +got):\n%s", diff)
	}

	if _, err := Proximity(posAt(astana), zones, -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative buffer error = %v, want ErrValidation", err)
	}
	if _, err := Proximity(posAt(astana), zones, math.NaN()); !errors.Is(err, ErrValidation) {
		t.Fatalf("NaN buffer error = %v, want ErrValidation", err)
	}
}
