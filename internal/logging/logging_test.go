package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestNew_JSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Debug(context.Background(), "dropped")
	log.With(String("component", "tracker")).Info(context.Background(), "alert emitted",
		String("zone_id", "Z1"), Float64("distance_m", 12.5), Bool("escalation", true), Err(errors.New("boom")))

	recs := decodeLines(t, &buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec["msg"] != "alert emitted" || rec["component"] != "tracker" || rec["zone_id"] != "Z1" {
		t.Fatalf("record = %v", rec)
	}
	if rec["distance_m"] != 12.5 || rec["escalation"] != true || rec["error"] != "boom" {
		t.Fatalf("record = %v", rec)
	}
}

func TestRequestIDIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf})

	ctx, id := EnsureRequestID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRequestID returned empty id")
	}
	again, sameID := EnsureRequestID(ctx)
	if sameID != id || RequestIDFromContext(again) != id {
		t.Fatalf("EnsureRequestID replaced an existing id: %q vs %q", sameID, id)
	}

	log.Warn(ctx, "slow client dropped")
	recs := decodeLines(t, &buf)
	if len(recs) != 1 || recs[0]["request_id"] != id {
		t.Fatalf("records = %v, want request_id %q", recs, id)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	if _, ok := FromContext(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("FromContext without logger or fallback should be Noop")
	}
	stored := New(Config{Output: &bytes.Buffer{}})
	ctx := ContextWithLogger(context.Background(), stored)
	if got := FromContext(ctx, Noop()); got != stored {
		t.Fatalf("FromContext did not return the stored logger")
	}
}
