package main

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/skyguard/geofence/internal/alert"
	"github.com/skyguard/geofence/internal/tracker"
	"github.com/skyguard/geofence/model"
)

// Config holds the daemon settings. Every flag defaults to the matching
// GEOFENCE_* environment variable.
type Config struct {
	HTTPAddr         string
	GRPCAddr         string
	ZonesPath        string
	BufferMeters     float64
	ApproachInterval time.Duration
	InsideInterval   time.Duration
	EvictAfter       time.Duration
	SweepInterval    time.Duration
	HonorCeiling     bool
	BaseLatitude     float64
	BaseLongitude    float64
	LogLevel         string
	LogFormat        string
}

// Policy returns the debounce policy described by the config.
func (c Config) Policy() alert.Policy {
	def := c.ApproachInterval
	if c.InsideInterval > def {
		def = c.InsideInterval
	}
	return alert.Policy{
		Intervals: map[model.Severity]time.Duration{
			model.SeverityApproaching: c.ApproachInterval,
			model.SeverityInside:      c.InsideInterval,
		},
		DefaultInterval: def,
		IdleEviction:    c.EvictAfter,
	}
}

// Base returns the launch site used for flight request checks.
func (c Config) Base() model.LatLon {
	return model.LatLon{Latitude: c.BaseLatitude, Longitude: c.BaseLongitude}
}

// parseConfig reads flags from args, falling back to getenv for defaults.
func parseConfig(args []string, getenv func(string) string) (Config, error) {
	env := envDefaults{getenv: getenv}
	fs := flag.NewFlagSet("geofenced", flag.ContinueOnError)

	var cfg Config
	fs.StringVar(&cfg.HTTPAddr, "http-addr", env.str("GEOFENCE_HTTP_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", env.str("GEOFENCE_GRPC_ADDR", ":50051"), "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.ZonesPath, "zones", env.str("GEOFENCE_ZONES", ""), "initial zones file (.json or .geojson)")
	fs.Float64Var(&cfg.BufferMeters, "buffer", env.float("GEOFENCE_BUFFER_METERS", tracker.DefaultBufferMeters), "proximity buffer in metres")
	fs.DurationVar(&cfg.ApproachInterval, "approach-interval", env.duration("GEOFENCE_APPROACH_INTERVAL", alert.DefaultApproachingInterval), "re-alert interval for approaching")
	fs.DurationVar(&cfg.InsideInterval, "inside-interval", env.duration("GEOFENCE_INSIDE_INTERVAL", alert.DefaultInsideInterval), "re-alert interval for inside")
	fs.DurationVar(&cfg.EvictAfter, "evict-after", env.duration("GEOFENCE_EVICT_AFTER", alert.DefaultIdleEviction), "drop debounce state unseen for this long (0 disables)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", env.duration("GEOFENCE_SWEEP_INTERVAL", time.Minute), "how often idle debounce state is swept")
	fs.BoolVar(&cfg.HonorCeiling, "honor-ceiling", env.boolean("GEOFENCE_HONOR_CEILING", false), "ignore zones whose altitude ceiling is below the subject")
	fs.Float64Var(&cfg.BaseLatitude, "base-lat", env.float("GEOFENCE_BASE_LATITUDE", 51.15545), "launch site latitude for flight request checks")
	fs.Float64Var(&cfg.BaseLongitude, "base-lon", env.float("GEOFENCE_BASE_LONGITUDE", 71.41216), "launch site longitude for flight request checks")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", env.str("LOG_FORMAT", "text"), "log format: text or json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if env.err != nil {
		return Config{}, env.err
	}
	if cfg.HTTPAddr == "" {
		return Config{}, fmt.Errorf("http-addr must not be empty")
	}
	if cfg.BufferMeters < 0 {
		return Config{}, fmt.Errorf("buffer must not be negative, got %v", cfg.BufferMeters)
	}
	if err := cfg.Policy().Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envDefaults reads typed defaults from the environment and remembers the
// first malformed value.
type envDefaults struct {
	getenv func(string) string
	err    error
}

func (e *envDefaults) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envDefaults) float(key string, def float64) float64 {
	raw := e.getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envDefaults) duration(key string, def time.Duration) time.Duration {
	raw := e.getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envDefaults) boolean(key string, def bool) bool {
	raw := e.getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envDefaults) fail(key, raw string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s=%q: %w", key, raw, err)
	}
}
