package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingCoordinate is returned when a payload omits latitude or
// longitude, or sends them as null.
var ErrMissingCoordinate = errors.New("latitude and longitude are required")

// RequireCoordinates checks that the JSON object in data carries both
// coordinate keys. lonKey names the longitude key, which some backend
// payloads spell "longtitude".
func RequireCoordinates(data []byte, lonKey string) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	for _, k := range []string{"latitude", lonKey} {
		if v, ok := keys[k]; !ok || string(v) == "null" {
			return fmt.Errorf("%w: missing %q", ErrMissingCoordinate, k)
		}
	}
	return nil
}

// UnmarshalJSON rejects objects without both coordinates.
func (c *LatLon) UnmarshalJSON(data []byte) error {
	if err := RequireCoordinates(data, "longitude"); err != nil {
		return err
	}
	type plain LatLon
	return json.Unmarshal(data, (*plain)(c))
}

// UnmarshalJSON rejects observations without both coordinates.
func (p *Position) UnmarshalJSON(data []byte) error {
	if err := RequireCoordinates(data, "longitude"); err != nil {
		return err
	}
	type plain Position
	return json.Unmarshal(data, (*plain)(p))
}
