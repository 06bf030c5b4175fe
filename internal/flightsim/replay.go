package flightsim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skyguard/geofence/internal/events"
	"github.com/skyguard/geofence/internal/logging"
	"github.com/skyguard/geofence/model"
	"github.com/skyguard/geofence/timectrl"
)

// ErrAlreadyRun is returned by a second call to Replay.Run.
var ErrAlreadyRun = errors.New("replay already run")

// Handler consumes flight events and reports the pairs currently alerting
// for a subject. *tracker.Tracker satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev events.Event) error
	Active(subjectID string) []model.ProximityEntry
}

// Outcome summarises how one flight ended.
type Outcome struct {
	ApplicationID string               `json:"application_id"`
	DroneID       string               `json:"drone_id"`
	Status        string               `json:"status"`
	ZoneID        string               `json:"zone_id,omitempty"`
	Steps         int                  `json:"steps"`
	FinalPosition events.DronePosition `json:"final_position"`
	EndTime       time.Time            `json:"end_time"`
}

// ReplayOption configures a Replay.
type ReplayOption func(*Replay)

// WithReplayLogger sets the replay logger.
func WithReplayLogger(log logging.Logger) ReplayOption {
	return func(r *Replay) {
		if log != nil {
			r.log = log
		}
	}
}

// WithoutRestrictedZoneStop keeps flights going after an inside alert.
func WithoutRestrictedZoneStop() ReplayOption {
	return func(r *Replay) { r.stopOnInside = false }
}

// Replay feeds simulated flights through a Handler on simulated time.
type Replay struct {
	clock        *timectrl.TimeController
	handler      Handler
	log          logging.Logger
	stopOnInside bool

	mu       sync.Mutex
	flights  []*Flight
	steps    map[*Flight]int
	outcomes map[*Flight]Outcome
	errs     []error
	ran      bool
}

// NewReplay builds a replay driven by clock.
func NewReplay(clock *timectrl.TimeController, handler Handler, opts ...ReplayOption) *Replay {
	r := &Replay{
		clock:        clock,
		handler:      handler,
		log:          logging.Noop(),
		stopOnInside: true,
		steps:        make(map[*Flight]int),
		outcomes:     make(map[*Flight]Outcome),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add queues a flight. Flights added after Run starts are ignored.
func (r *Replay) Add(f *Flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ran {
		r.flights = append(r.flights, f)
	}
}

// Run launches every queued flight at the clock's start time and advances
// the clock until all flights have ended or maxDuration of simulated time
// has elapsed (no limit when maxDuration is zero). Flights still airborne
// when the run stops, or when ctx is cancelled, are completed with
// StatusShutdown. Outcomes are returned in the order flights were added;
// handler errors are logged and joined into the returned error.
func (r *Replay) Run(ctx context.Context, maxDuration time.Duration) ([]Outcome, error) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	r.ran = true
	flights := append([]*Flight(nil), r.flights...)
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := r.clock.StartTime
	for _, f := range flights {
		ev := f.Start(start)
		r.log.Info(runCtx, "flight started",
			logging.String("drone_id", f.DroneID()),
			logging.Float64("distance_m", f.DistanceMeters()),
			logging.Duration("estimated_duration", f.EstimatedDuration()),
		)
		r.handle(runCtx, ev)
	}
	if r.active(flights) == 0 {
		return r.collect(flights), r.err()
	}

	r.clock.AddListener(func(now time.Time) {
		if runCtx.Err() != nil {
			return
		}
		if r.step(runCtx, flights, now) == 0 {
			cancel()
		}
	})
	<-r.clock.Start(runCtx, maxDuration)

	// Flights cut short still get a completion so the handler can release
	// their alert state.
	shutdownCtx := context.WithoutCancel(ctx)
	now := r.clock.Now()
	for _, f := range flights {
		if f.Done() {
			continue
		}
		r.finish(shutdownCtx, f, f.Stop(now, StatusShutdown), "")
	}
	return r.collect(flights), r.err()
}

// step advances every active flight once and returns how many are still
// active.
func (r *Replay) step(ctx context.Context, flights []*Flight, now time.Time) int {
	for _, f := range flights {
		if f.Done() {
			continue
		}
		r.mu.Lock()
		r.steps[f]++
		r.mu.Unlock()

		switch ev := f.Step(now).(type) {
		case events.FlightCompleted:
			r.finish(ctx, f, ev, "")
		case events.PositionUpdate:
			r.handle(ctx, ev)
			if !r.stopOnInside {
				continue
			}
			if zone, ok := insideZone(r.handler.Active(f.DroneID())); ok {
				r.log.Warn(ctx, "drone entered restricted zone, stopping flight",
					logging.String("drone_id", f.DroneID()),
					logging.String("zone_id", zone.ZoneID),
					logging.String("zone_name", zone.ZoneName),
					logging.Float64("distance_m", zone.DistanceMeters),
				)
				r.finish(ctx, f, f.Stop(now, StatusRestrictedZone), zone.ZoneID)
			}
		}
	}
	return r.active(flights)
}

func (r *Replay) finish(ctx context.Context, f *Flight, ev events.FlightCompleted, zoneID string) {
	r.handle(ctx, ev)
	r.log.Info(ctx, "flight ended",
		logging.String("drone_id", f.DroneID()),
		logging.String("status", ev.CompletionStatus),
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[f] = Outcome{
		ApplicationID: ev.ApplicationID.String(),
		DroneID:       f.DroneID(),
		Status:        ev.CompletionStatus,
		ZoneID:        zoneID,
		Steps:         r.steps[f],
		FinalPosition: *ev.FinalPosition,
		EndTime:       ev.CompletionTime,
	}
}

func (r *Replay) handle(ctx context.Context, ev events.Event) {
	if err := r.handler.Handle(ctx, ev); err != nil {
		r.log.Warn(ctx, "event rejected",
			logging.String("type", string(ev.Kind())),
			logging.Err(err),
		)
		r.mu.Lock()
		r.errs = append(r.errs, fmt.Errorf("%s: %w", ev.Kind(), err))
		r.mu.Unlock()
	}
}

func (r *Replay) active(flights []*Flight) int {
	n := 0
	for _, f := range flights {
		if !f.Done() {
			n++
		}
	}
	return n
}

func (r *Replay) collect(flights []*Flight) []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, 0, len(flights))
	for _, f := range flights {
		out = append(out, r.outcomes[f])
	}
	return out
}

func (r *Replay) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}

func insideZone(entries []model.ProximityEntry) (model.ProximityEntry, bool) {
	for _, e := range entries {
		if e.Severity == model.SeverityInside {
			return e, true
		}
	}
	return model.ProximityEntry{}, false
}
