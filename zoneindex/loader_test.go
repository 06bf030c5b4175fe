package zoneindex

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/model"
)

func TestDecodeWireZones_BackendArray(t *testing.T) {
	payload := `[
		{"restrictedZone_id": 7, "zone_name": "Airport", "latitude": 51.15, "longtitude": 71.41, "radius": 100, "altitude": 120},
		{"restrictedZone_id": "Z2", "zone_name": "Stadium", "latitude": 51.2, "longitude": 71.5, "radius": 250}
	]`

	zones, err := DecodeWireZones(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("DecodeWireZones error: %v", err)
	}
	want := []model.Zone{
		{ID: "7", Name: "Airport", Center: model.LatLon{Latitude: 51.15, Longitude: 71.41}, RadiusMeters: 100, AltitudeCeiling: model.Float64(120)},
		{ID: "Z2", Name: "Stadium", Center: model.LatLon{Latitude: 51.2, Longitude: 71.5}, RadiusMeters: 250},
	}
	if diff := cmp.Diff(want, zones); diff != "" {
		t.Fatalf("zones mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeWireZones_Envelopes(t *testing.T) {
	for _, payload := range []string{
		`{"zones": [{"restrictedZone_id": 1, "latitude": 1, "longtitude": 2, "radius": 3}]}`,
		`{"restricted_zones": [{"restrictedZone_id": 1, "latitude": 1, "longtitude": 2, "radius": 3}]}`,
	} {
		zones, err := DecodeWireZones(strings.NewReader(payload))
		if err != nil {
			t.Fatalf("DecodeWireZones(%s) error: %v", payload, err)
		}
		if len(zones) != 1 || zones[0].ID != "1" || zones[0].Center.Longitude != 2 {
			t.Fatalf("DecodeWireZones(%s) = %+v", payload, zones)
		}
	}
}

func TestDecodeWireZones_MisspelledKeyWins(t *testing.T) {
	payload := `[{"restrictedZone_id": 1, "latitude": 1, "longtitude": 2, "longitude": 99, "radius": 3}]`
	zones, err := DecodeWireZones(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("DecodeWireZones error: %v", err)
	}
	if zones[0].Center.Longitude != 2 {
		t.Fatalf("longitude = %v, want 2 from longtitude", zones[0].Center.Longitude)
	}
}

func TestDecodeWireZones_Invalid(t *testing.T) {
	for _, payload := range []string{
		`"nope"`,
		`[{"restrictedZone_id": 1, "latitude": 1, "longtitude": 2}]`,
		`[{"latitude": 1, "longtitude": 2, "radius": 3}]`,
		`[{"restrictedZone_id": 1, "longtitude": 2, "radius": 3}]`,
		`[{"restrictedZone_id": {}, "latitude": 1, "longtitude": 2, "radius": 3}]`,
	} {
		if _, err := DecodeWireZones(strings.NewReader(payload)); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("DecodeWireZones(%s) error = %v, want ErrValidation", payload, err)
		}
	}
}

func TestToWire_RoundTripsThroughZone(t *testing.T) {
	z := model.Zone{ID: "Z1", Name: "n", Center: model.LatLon{Latitude: 1, Longitude: 2}, RadiusMeters: 3, AltitudeCeiling: model.Float64(4)}
	back, err := ToWire(z).Zone()
	if err != nil {
		t.Fatalf("Zone() error: %v", err)
	}
	if diff := cmp.Diff(z, back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "Z1",
     "geometry": {"type": "Point", "coordinates": [71.41, 51.15]},
     "properties": {"zone_name": "Airport", "radius": 100, "altitude": 150}},
    {"type": "Feature",
     "geometry": {"type": "Point", "coordinates": [71.5, 51.2]},
     "properties": {"restrictedZone_id": 9, "name": "Stadium", "radius": 40}}
  ]
}`

func TestDecodeGeoJSONZones(t *testing.T) {
	zones, err := DecodeGeoJSONZones(strings.NewReader(sampleGeoJSON))
	if err != nil {
		t.Fatalf("DecodeGeoJSONZones error: %v", err)
	}
	want := []model.Zone{
		{ID: "Z1", Name: "Airport", Center: model.LatLon{Latitude: 51.15, Longitude: 71.41}, RadiusMeters: 100, AltitudeCeiling: model.Float64(150)},
		{ID: "9", Name: "Stadium", Center: model.LatLon{Latitude: 51.2, Longitude: 71.5}, RadiusMeters: 40},
	}
	if diff := cmp.Diff(want, zones); diff != "" {
		t.Fatalf("zones mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeGeoJSONZones_Invalid(t *testing.T) {
	cases := map[string]string{
		"polygon":   `{"type":"FeatureCollection","features":[{"type":"Feature","id":"a","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"radius":1}}]}`,
		"no radius": `{"type":"FeatureCollection","features":[{"type":"Feature","id":"a","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}]}`,
		"no id":     `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"radius":1}}]}`,
		"garbage":   `not json`,
	}
	for name, payload := range cases {
		if _, err := DecodeGeoJSONZones(strings.NewReader(payload)); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("%s: error = %v, want ErrValidation", name, err)
		}
	}
}

func TestLoadFile_DispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()

	geoPath := filepath.Join(dir, "zones.geojson")
	if err := os.WriteFile(geoPath, []byte(sampleGeoJSON), 0o600); err != nil {
		t.Fatalf("write geojson: %v", err)
	}
	jsonPath := filepath.Join(dir, "zones.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"restrictedZone_id":1,"latitude":1,"longtitude":2,"radius":3}]`), 0o600); err != nil {
		t.Fatalf("write json: %v", err)
	}

	zones, err := LoadFile(geoPath)
	if err != nil || len(zones) != 2 {
		t.Fatalf("LoadFile(geojson) = %d zones, %v", len(zones), err)
	}
	zones, err = LoadFile(jsonPath)
	if err != nil || len(zones) != 1 {
		t.Fatalf("LoadFile(json) = %d zones, %v", len(zones), err)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.json")); err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadFile(missing) error = %v, want not-exist", err)
	}
}
