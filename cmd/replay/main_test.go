package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skyguard/geofence/internal/flightsim"
	"github.com/skyguard/geofence/internal/logging"
)

const zonesJSON = `[{"restrictedZone_id": "Z1", "zone_name": "Airport", "latitude": 51.158148, "longtitude": 71.41216, "radius": 100}]`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseOptions(t *testing.T) {
	o, err := parseOptions([]string{
		"-zones", "z.json", "-flights", "f.json",
		"-start", "2025-03-01T12:00:00Z", "-inside-interval", "20s",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	if !o.start.Equal(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", o.start)
	}
	if o.policy.DefaultInterval != 30*time.Second {
		t.Fatalf("DefaultInterval = %v, want 30s", o.policy.DefaultInterval)
	}

	bad := [][]string{
		{"-flights", "f.json"},
		{"-zones", "z.json", "-flights", "f.json", "-tick", "0s"},
		{"-zones", "z.json", "-flights", "f.json", "-buffer", "-5"},
		{"-zones", "z.json", "-flights", "f.json", "-start", "yesterday"},
	}
	for _, args := range bad {
		if _, err := parseOptions(args, io.Discard); err == nil {
			t.Fatalf("parseOptions(%v) error = nil, want error", args)
		}
	}
}

func TestRun_StopsFlightInZone(t *testing.T) {
	dir := t.TempDir()
	flights := `[
		{"application_id": 3, "drone_id": 7, "route": [{"latitude": 51.1645, "longitude": 71.41216}]},
		{"drone_id": "8", "route": [{"latitude": 51.1540, "longitude": 71.41216}]}
	]`
	o, err := parseOptions([]string{
		"-zones", writeFile(t, dir, "zones.json", zonesJSON),
		"-flights", writeFile(t, dir, "flights.json", flights),
		"-start", "2025-03-01T12:00:00Z",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}

	var logs, stdout bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Format: "json", Output: &logs})
	if err := run(context.Background(), o, log, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}

	var outcomes []flightsim.Outcome
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		var out flightsim.Outcome
		if err := json.Unmarshal(sc.Bytes(), &out); err != nil {
			t.Fatalf("decode outcome %q: %v", sc.Text(), err)
		}
		outcomes = append(outcomes, out)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", outcomes)
	}
	if outcomes[0].DroneID != "7" || outcomes[0].Status != flightsim.StatusRestrictedZone || outcomes[0].ZoneID != "Z1" {
		t.Fatalf("outcome[0] = %+v, want drone 7 stopped in Z1", outcomes[0])
	}
	if outcomes[1].DroneID != "8" || outcomes[1].Status != flightsim.StatusCompleted {
		t.Fatalf("outcome[1] = %+v, want drone 8 completed", outcomes[1])
	}
	if !strings.Contains(logs.String(), "proximity_alert") {
		t.Fatalf("logs missing proximity_alert:\n%s", logs.String())
	}
}

func TestRun_BadFlights(t *testing.T) {
	dir := t.TempDir()
	zones := writeFile(t, dir, "zones.json", zonesJSON)
	cases := map[string]string{
		"empty":     `[]`,
		"malformed": `{"drone_id": 7`,
		"invalid":   `[{"drone_id": 7, "route": []}]`,
	}
	for name, body := range cases {
		o, err := parseOptions([]string{"-zones", zones, "-flights", writeFile(t, dir, name+".json", body)}, io.Discard)
		if err != nil {
			t.Fatalf("%s: parseOptions: %v", name, err)
		}
		if err := run(context.Background(), o, logging.Noop(), io.Discard); err == nil {
			t.Fatalf("%s: run error = nil, want error", name)
		}
	}
}
