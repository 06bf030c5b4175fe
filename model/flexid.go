package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexID is an identifier that arrives on the wire either as a JSON number
// or as a string. It is always carried as a string inside the engine.
type FlexID string

// UnmarshalJSON accepts 42, "42" and "Z1".
func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string { return string(id) }
