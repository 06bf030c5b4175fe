package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skyguard/geofence/internal/alert"
	"github.com/skyguard/geofence/internal/flightsim"
	"github.com/skyguard/geofence/internal/logging"
	"github.com/skyguard/geofence/internal/tracker"
	"github.com/skyguard/geofence/model"
	"github.com/skyguard/geofence/timectrl"
	"github.com/skyguard/geofence/zoneindex"
)

type options struct {
	zonesPath   string
	flightsPath string
	start       time.Time
	tick        time.Duration
	duration    time.Duration
	realTime    bool
	buffer      float64
	policy      alert.Policy
	keepFlying  bool
	logLevel    string
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		o        options
		start    string
		approach time.Duration
		inside   time.Duration
	)
	fs.StringVar(&o.zonesPath, "zones", "", "zones file (.json or .geojson)")
	fs.StringVar(&o.flightsPath, "flights", "", "JSON array of flight plans")
	fs.StringVar(&start, "start", "", "simulated start time, RFC 3339 (default now)")
	fs.DurationVar(&o.tick, "tick", time.Second, "simulated time per step")
	fs.DurationVar(&o.duration, "duration", 30*time.Minute, "maximum simulated duration (0 runs until every flight ends)")
	fs.BoolVar(&o.realTime, "real-time", false, "pace steps on the wall clock")
	fs.Float64Var(&o.buffer, "buffer", tracker.DefaultBufferMeters, "proximity buffer in metres")
	fs.DurationVar(&approach, "approach-interval", alert.DefaultApproachingInterval, "re-alert interval for approaching")
	fs.DurationVar(&inside, "inside-interval", alert.DefaultInsideInterval, "re-alert interval for inside")
	fs.BoolVar(&o.keepFlying, "keep-flying", false, "do not stop flights that enter a zone")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.zonesPath == "" || o.flightsPath == "" {
		return options{}, errors.New("-zones and -flights are required")
	}
	if o.tick <= 0 {
		return options{}, fmt.Errorf("tick must be positive, got %v", o.tick)
	}
	if o.buffer < 0 {
		return options{}, fmt.Errorf("buffer must not be negative, got %v", o.buffer)
	}

	o.start = time.Now().UTC()
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return options{}, fmt.Errorf("start: %w", err)
		}
		o.start = t
	}

	def := max(approach, inside)
	o.policy = alert.Policy{
		Intervals: map[model.Severity]time.Duration{
			model.SeverityApproaching: approach,
			model.SeverityInside:      inside,
		},
		DefaultInterval: def,
		IdleEviction:    max(alert.DefaultIdleEviction, def),
	}
	if err := o.policy.Validate(); err != nil {
		return options{}, err
	}
	return o, nil
}

func loadPlans(path string) ([]flightsim.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flights: %w", err)
	}
	defer f.Close()

	var plans []flightsim.Plan
	if err := json.NewDecoder(f).Decode(&plans); err != nil {
		return nil, fmt.Errorf("decode flights: %w", err)
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%s: no flights", path)
	}
	return plans, nil
}

// run replays the flights in o against the zones in o and writes one JSON
// outcome per line to stdout.
func run(ctx context.Context, o options, log logging.Logger, stdout io.Writer) error {
	zones, err := zoneindex.LoadFile(o.zonesPath)
	if err != nil {
		return err
	}
	index := zoneindex.New()
	if err := index.Load(zones); err != nil {
		return err
	}

	plans, err := loadPlans(o.flightsPath)
	if err != nil {
		return err
	}

	mode := timectrl.Accelerated
	if o.realTime {
		mode = timectrl.RealTime
	}
	clock := timectrl.NewTimeController(o.start, o.tick, mode)

	debouncer, err := alert.NewDebouncer(o.policy, alert.NewMemoryLedger())
	if err != nil {
		return err
	}
	sink := tracker.SinkFunc(func(ctx context.Context, n tracker.Notice) error {
		log.Info(ctx, string(n.Type),
			logging.String("subject_id", n.SubjectID),
			logging.String("zone_id", n.ZoneID),
			logging.String("severity", string(n.Severity)),
			logging.Float64("distance_m", n.DistanceMeters),
			logging.String("at", n.Timestamp.Format(time.RFC3339)),
		)
		return nil
	})
	trk, err := tracker.New(index, debouncer, sink, clock,
		tracker.WithBuffer(o.buffer),
		tracker.WithLogger(log),
	)
	if err != nil {
		return err
	}

	opts := []flightsim.ReplayOption{flightsim.WithReplayLogger(log)}
	if o.keepFlying {
		opts = append(opts, flightsim.WithoutRestrictedZoneStop())
	}
	replay := flightsim.NewReplay(clock, trk, opts...)
	for i, plan := range plans {
		f, err := flightsim.NewFlight(plan)
		if err != nil {
			return fmt.Errorf("flight %d: %w", i, err)
		}
		replay.Add(f)
	}

	outcomes, runErr := replay.Run(ctx, o.duration)
	enc := json.NewEncoder(stdout)
	for _, out := range outcomes {
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return runErr
}

func main() {
	_ = godotenv.Load()

	o, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: o.logLevel, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, log, os.Stdout); err != nil {
		log.Error(ctx, "replay failed", logging.Err(err))
		os.Exit(1)
	}
}
