package zoneindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/model"
)

// WireZone is a restricted zone as the backend serializes it. The backend
// spells the longitude key "longtitude"; a correctly spelled "longitude" is
// accepted when the misspelled key is absent.
type WireZone struct {
	ID         model.FlexID `json:"restrictedZone_id"`
	Name       string       `json:"zone_name"`
	Latitude   *float64     `json:"latitude"`
	Longtitude *float64     `json:"longtitude"`
	Longitude  *float64     `json:"longitude,omitempty"`
	Radius     *float64     `json:"radius"`
	Altitude   *float64     `json:"altitude,omitempty"`
}

// Zone normalizes the wire form into the engine's zone type. The backend's
// altitude becomes the zone's altitude ceiling.
func (w WireZone) Zone() (model.Zone, error) {
	id := strings.TrimSpace(w.ID.String())
	if id == "" {
		return model.Zone{}, fmt.Errorf("%w: restrictedZone_id is required", core.ErrValidation)
	}
	lon := w.Longtitude
	if lon == nil {
		lon = w.Longitude
	}
	switch {
	case w.Latitude == nil:
		return model.Zone{}, fmt.Errorf("%w: zone %q: latitude is required", core.ErrValidation, id)
	case lon == nil:
		return model.Zone{}, fmt.Errorf("%w: zone %q: longtitude is required", core.ErrValidation, id)
	case w.Radius == nil:
		return model.Zone{}, fmt.Errorf("%w: zone %q: radius is required", core.ErrValidation, id)
	}

	z := model.Zone{
		ID:           id,
		Name:         w.Name,
		Center:       model.LatLon{Latitude: *w.Latitude, Longitude: *lon},
		RadiusMeters: *w.Radius,
	}
	if w.Altitude != nil {
		z.AltitudeCeiling = model.Float64(*w.Altitude)
	}
	return z, nil
}

// ToWire is the inverse of WireZone.Zone.
func ToWire(z model.Zone) WireZone {
	w := WireZone{
		ID:         model.FlexID(z.ID),
		Name:       z.Name,
		Latitude:   model.Float64(z.Center.Latitude),
		Longtitude: model.Float64(z.Center.Longitude),
		Radius:     model.Float64(z.RadiusMeters),
	}
	if z.AltitudeCeiling != nil {
		w.Altitude = model.Float64(*z.AltitudeCeiling)
	}
	return w
}

// DecodeWireZones reads backend zone DTOs. The payload is either a bare
// array or an object with a "zones" or "restricted_zones" array.
func DecodeWireZones(r io.Reader) ([]model.Zone, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read zones: %w", err)
	}
	data = bytes.TrimSpace(data)

	var wire []WireZone
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("%w: decode zones: %v", core.ErrValidation, err)
		}
	case len(data) > 0 && data[0] == '{':
		var envelope struct {
			Zones           []WireZone `json:"zones"`
			RestrictedZones []WireZone `json:"restricted_zones"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("%w: decode zones: %v", core.ErrValidation, err)
		}
		wire = envelope.Zones
		if wire == nil {
			wire = envelope.RestrictedZones
		}
	default:
		return nil, fmt.Errorf("%w: zones payload must be a JSON array or object", core.ErrValidation)
	}

	zones := make([]model.Zone, 0, len(wire))
	for i, w := range wire {
		z, err := w.Zone()
		if err != nil {
			return nil, fmt.Errorf("zone %d: %w", i, err)
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// DecodeGeoJSONZones reads a FeatureCollection of Point features. Each
// feature needs a numeric "radius" property in metres; the ID comes from the
// feature id or the "id"/"restrictedZone_id" property and the name from
// "zone_name" or "name". An optional "altitude" sets the ceiling.
func DecodeGeoJSONZones(r io.Reader) ([]model.Zone, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read zones: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode feature collection: %v", core.ErrValidation, err)
	}

	zones := make([]model.Zone, 0, len(fc.Features))
	for i, f := range fc.Features {
		z, err := featureZone(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		zones = append(zones, z)
	}
	return zones, nil
}

func featureZone(f *geojson.Feature) (model.Zone, error) {
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		return model.Zone{}, fmt.Errorf("%w: geometry must be a Point, got %T", core.ErrValidation, f.Geometry)
	}

	id := featureID(f)
	if id == "" {
		return model.Zone{}, fmt.Errorf("%w: feature has no id", core.ErrValidation)
	}

	radius, ok := numberProp(f.Properties, "radius")
	if !ok {
		return model.Zone{}, fmt.Errorf("%w: zone %q: numeric radius property is required", core.ErrValidation, id)
	}

	name := f.Properties.MustString("zone_name", "")
	if name == "" {
		name = f.Properties.MustString("name", "")
	}

	z := model.Zone{
		ID:           id,
		Name:         name,
		Center:       model.LatLon{Latitude: pt.Lat(), Longitude: pt.Lon()},
		RadiusMeters: radius,
	}
	if alt, ok := numberProp(f.Properties, "altitude"); ok {
		z.AltitudeCeiling = model.Float64(alt)
	}
	return z, nil
}

func featureID(f *geojson.Feature) string {
	for _, v := range []interface{}{f.ID, f.Properties["id"], f.Properties["restrictedZone_id"]} {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return fmt.Sprintf("%v", id)
		case json.Number:
			return id.String()
		}
	}
	return ""
}

func numberProp(p geojson.Properties, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// LoadFile reads a zone file, choosing the decoder from its extension:
// ".geojson" files are feature collections, anything else is the backend
// JSON form.
func LoadFile(path string) ([]model.Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".geojson") {
		return DecodeGeoJSONZones(f)
	}
	return DecodeWireZones(f)
}
