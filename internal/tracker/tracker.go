// Package tracker is the tracking-time caller of the geofence engine: it
// classifies telemetry against the zone index, debounces the results and
// keeps the per-subject "currently alerting" set the debouncer leaves to its
// caller.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/internal/alert"
	"github.com/skyguard/geofence/internal/events"
	"github.com/skyguard/geofence/internal/logging"
	"github.com/skyguard/geofence/internal/observability"
	"github.com/skyguard/geofence/model"
	"github.com/skyguard/geofence/timectrl"
)

// DefaultBufferMeters is the approach distance beyond a zone's radius.
const DefaultBufferMeters = 50.0

// ZoneSource answers proximity queries against the current zone snapshot.
type ZoneSource interface {
	Proximity(pos model.Position, bufferMeters float64) ([]model.ProximityEntry, error)
}

// MetricsRecorder receives tracker measurements.
type MetricsRecorder interface {
	ObserveClassification(mode string, intersected bool)
	AlertCleared()
	ObserveLedger(entries, evicted int)
}

// FlightState is the lifecycle state of a tracked subject.
type FlightState string

const (
	StateUnknown FlightState = "unknown"
	StateActive  FlightState = "active"
	StatePaused  FlightState = "paused"
)

// SubjectStatus is a snapshot of one tracked subject.
type SubjectStatus struct {
	SubjectID     string                 `json:"subject_id"`
	ApplicationID string                 `json:"application_id,omitempty"`
	State         FlightState            `json:"state"`
	Alerting      []model.ProximityEntry `json:"alerting"`
	LastPosition  *model.Position        `json:"last_position,omitempty"`
	LastSeen      time.Time              `json:"last_seen"`
}

// Observation is the result of feeding one position to the tracker.
type Observation struct {
	Position  model.Position         `json:"position"`
	Proximity []model.ProximityEntry `json:"proximity"`
	Alerts    []model.ProximityAlert `json:"alerts"`
	Cleared   []string               `json:"cleared"`
}

type subjectState struct {
	applicationID string
	state         FlightState
	alerting      map[string]model.ProximityEntry
	lastPosition  *model.Position
	lastSeen      time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBuffer sets the proximity buffer in metres.
func WithBuffer(meters float64) Option {
	return func(t *Tracker) { t.buffer = meters }
}

// WithLogger sets the tracker's logger.
func WithLogger(log logging.Logger) Option {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithIDGenerator overrides how alert IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// Tracker is safe for concurrent use.
type Tracker struct {
	zones     ZoneSource
	debouncer *alert.Debouncer
	sink      Sink
	clock     timectrl.Clock
	log       logging.Logger
	metrics   MetricsRecorder
	buffer    float64
	newID     func() string
	tracer    trace.Tracer

	mu       sync.Mutex
	subjects map[string]*subjectState
}

// New builds a tracker. sink may be nil, in which case notices are dropped;
// clock defaults to the wall clock.
func New(zones ZoneSource, debouncer *alert.Debouncer, sink Sink, clock timectrl.Clock, opts ...Option) (*Tracker, error) {
	if zones == nil {
		return nil, errors.New("tracker: zone source is required")
	}
	if debouncer == nil {
		return nil, errors.New("tracker: debouncer is required")
	}
	if clock == nil {
		clock = timectrl.RealClock{}
	}
	t := &Tracker{
		zones:     zones,
		debouncer: debouncer,
		sink:      sink,
		clock:     clock,
		log:       logging.Noop(),
		buffer:    DefaultBufferMeters,
		newID:     uuid.NewString,
		tracer:    observability.Tracer(),
		subjects:  make(map[string]*subjectState),
	}
	for _, opt := range opts {
		opt(t)
	}
	if math.IsNaN(t.buffer) || math.IsInf(t.buffer, 0) || t.buffer < 0 {
		return nil, fmt.Errorf("%w: buffer must be a finite non-negative number, got %v", core.ErrValidation, t.buffer)
	}
	return t, nil
}

// Buffer returns the proximity buffer in metres.
func (t *Tracker) Buffer() float64 { return t.buffer }

// Observe classifies pos, debounces every proximity entry and publishes the
// resulting alerts, plus a clear notice for each pair of the subject that
// was alerting before and is absent now.
func (t *Tracker) Observe(ctx context.Context, pos model.Position) (Observation, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.Observe", trace.WithAttributes(
		attribute.String("geofence.subject_id", pos.SubjectID),
	))
	defer span.End()

	if strings.TrimSpace(pos.SubjectID) == "" {
		err := fmt.Errorf("%w: position has no subject", core.ErrValidation)
		span.SetStatus(codes.Error, err.Error())
		return Observation{}, err
	}
	entries, err := t.zones.Proximity(pos, t.buffer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Observation{}, err
	}
	now := t.clock.Now()

	obs := Observation{
		Position:  pos,
		Proximity: entries,
		Alerts:    []model.ProximityAlert{},
		Cleared:   []string{},
	}
	var notices []Notice
	inside := false

	t.mu.Lock()
	st := t.subjectLocked(pos.SubjectID)
	p := pos
	st.lastPosition = &p
	st.lastSeen = now

	current := make(map[string]model.ProximityEntry, len(entries))
	for _, e := range entries {
		current[e.ZoneID] = e
		if e.Severity == model.SeverityInside {
			inside = true
		}
		decision := t.debouncer.Decide(pos.SubjectID, e.ZoneID, e.Severity, now)
		if !decision.Emit {
			continue
		}
		a := model.ProximityAlert{
			ID:             t.newID(),
			SubjectID:      pos.SubjectID,
			ZoneID:         e.ZoneID,
			ZoneName:       e.ZoneName,
			Severity:       e.Severity,
			DistanceMeters: e.DistanceMeters,
			Timestamp:      now,
		}
		obs.Alerts = append(obs.Alerts, a)
		notices = append(notices, Notice{Type: NoticeAlert, ProximityAlert: a, Source: SourceEngine, Reason: decision.Reason})
	}
	for _, zoneID := range sortedKeys(st.alerting) {
		if _, still := current[zoneID]; still {
			continue
		}
		prev := st.alerting[zoneID]
		obs.Cleared = append(obs.Cleared, zoneID)
		notices = append(notices, t.clearNotice(pos.SubjectID, prev, now))
	}
	st.alerting = current
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.ObserveClassification("proximity", inside)
		for range obs.Cleared {
			t.metrics.AlertCleared()
		}
	}
	span.SetAttributes(
		attribute.Int("geofence.proximity_entries", len(entries)),
		attribute.Int("geofence.alerts", len(obs.Alerts)),
		attribute.Int("geofence.cleared", len(obs.Cleared)),
	)
	t.publish(ctx, notices)
	return obs, nil
}

// Forget clears every alerting pair of the subject, publishes the clear
// notices and drops the subject. It returns the cleared zone IDs.
func (t *Tracker) Forget(ctx context.Context, subjectID string) []string {
	now := t.clock.Now()

	t.mu.Lock()
	st, ok := t.subjects[subjectID]
	if !ok {
		t.mu.Unlock()
		return []string{}
	}
	cleared := sortedKeys(st.alerting)
	notices := make([]Notice, 0, len(cleared))
	for _, zoneID := range cleared {
		notices = append(notices, t.clearNotice(subjectID, st.alerting[zoneID], now))
	}
	delete(t.subjects, subjectID)
	t.mu.Unlock()

	if t.metrics != nil {
		for range cleared {
			t.metrics.AlertCleared()
		}
	}
	t.publish(ctx, notices)
	return cleared
}

// Handle dispatches one stream event.
func (t *Tracker) Handle(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.StatusUpdate:
		t.log.Info(ctx, "flight application status changed",
			logging.String("application_id", e.ApplicationID.String()),
			logging.String("status", e.Status),
		)
		return nil
	case events.FlightStarted:
		t.setState(e.DroneID.String(), e.ApplicationID.String(), StateActive)
		if e.CurrentPosition != nil {
			_, err := t.Observe(ctx, dronePosition(e.DroneID, *e.CurrentPosition))
			return err
		}
		return nil
	case events.PositionUpdate:
		_, err := t.Observe(ctx, e.Position())
		return err
	case events.FlightPaused:
		t.setState(e.DroneID.String(), e.ApplicationID.String(), StatePaused)
		t.log.Info(ctx, "flight paused",
			logging.String("drone_id", e.DroneID.String()),
			logging.String("reason", e.PauseReason),
		)
		return nil
	case events.FlightResumed:
		t.setState(e.DroneID.String(), e.ApplicationID.String(), StateActive)
		return nil
	case events.FlightCompleted:
		cleared := t.Forget(ctx, e.DroneID.String())
		t.log.Info(ctx, "flight completed",
			logging.String("drone_id", e.DroneID.String()),
			logging.String("completion_status", e.CompletionStatus),
			logging.Int("cleared", len(cleared)),
		)
		return nil
	case events.RestrictedZoneAlert:
		return t.handleBackendAlert(ctx, e)
	default:
		return fmt.Errorf("%w: unhandled event %T", core.ErrValidation, ev)
	}
}

// SeverityFromAlertLevel maps the backend's alert levels onto engine
// severities. Unrecognized levels pass through lower-cased as extension
// severities.
func SeverityFromAlertLevel(level string) model.Severity {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DANGER":
		return model.SeverityInside
	case "WARNING":
		return model.SeverityApproaching
	default:
		return model.Severity(strings.ToLower(strings.TrimSpace(level)))
	}
}

func (t *Tracker) handleBackendAlert(ctx context.Context, e events.RestrictedZoneAlert) error {
	subject := e.DroneID.String()
	if subject == "" {
		return fmt.Errorf("%w: restricted_zone_alert without drone_id", core.ErrValidation)
	}
	zone := e.Zone()
	if zone.ID == "" {
		return fmt.Errorf("%w: restricted_zone_alert without zone", core.ErrValidation)
	}
	sev := SeverityFromAlertLevel(e.AlertLevel)
	now := t.clock.Now()

	decision := t.debouncer.Decide(subject, zone.ID, sev, now)
	if !decision.Emit {
		return nil
	}
	t.publish(ctx, []Notice{{
		Type: NoticeAlert,
		ProximityAlert: model.ProximityAlert{
			ID:             t.newID(),
			SubjectID:      subject,
			ZoneID:         zone.ID,
			ZoneName:       zone.Name,
			Severity:       sev,
			DistanceMeters: e.Distance,
			Timestamp:      now,
		},
		Source: SourceBackend,
		Reason: decision.Reason,
	}})
	return nil
}

// Status returns the tracked state of one subject.
func (t *Tracker) Status(subjectID string) (SubjectStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.subjects[subjectID]
	if !ok {
		return SubjectStatus{}, fmt.Errorf("%w: subject %q is not tracked", core.ErrNotFound, subjectID)
	}
	return st.status(subjectID), nil
}

// Active returns the pairs of subjectID that are currently alerting,
// ordered by zone ID.
func (t *Tracker) Active(subjectID string) []model.ProximityEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.subjects[subjectID]
	if !ok {
		return []model.ProximityEntry{}
	}
	return st.status(subjectID).Alerting
}

// Subjects returns every tracked subject ordered by ID.
func (t *Tracker) Subjects() []SubjectStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.subjects))
	for id := range t.subjects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]SubjectStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.subjects[id].status(id))
	}
	return out
}

// Sweep evicts idle debounce entries and drops subjects that have no
// alerting pairs and have not been seen within the eviction window.
func (t *Tracker) Sweep(ctx context.Context) int {
	now := t.clock.Now()
	evicted := t.debouncer.Evict(now)

	if idle := t.debouncer.Policy().IdleEviction; idle > 0 {
		t.mu.Lock()
		for id, st := range t.subjects {
			if len(st.alerting) == 0 && now.Sub(st.lastSeen) > idle {
				delete(t.subjects, id)
			}
		}
		t.mu.Unlock()
	}

	if t.metrics != nil {
		t.metrics.ObserveLedger(t.debouncer.Len(), evicted)
	}
	if evicted > 0 {
		t.log.Debug(ctx, "evicted idle debounce entries", logging.Int("evicted", evicted))
	}
	return evicted
}

// RunSweeper calls Sweep every interval on the tracker's clock until ctx is
// done.
func (t *Tracker) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.clock.After(every):
			t.Sweep(ctx)
		}
	}
}

func (t *Tracker) subjectLocked(id string) *subjectState {
	st, ok := t.subjects[id]
	if !ok {
		st = &subjectState{state: StateUnknown, alerting: map[string]model.ProximityEntry{}}
		t.subjects[id] = st
	}
	return st
}

func (t *Tracker) setState(subjectID, applicationID string, state FlightState) {
	if subjectID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.subjectLocked(subjectID)
	st.state = state
	st.lastSeen = t.clock.Now()
	if applicationID != "" {
		st.applicationID = applicationID
	}
}

func (t *Tracker) clearNotice(subjectID string, prev model.ProximityEntry, now time.Time) Notice {
	return Notice{
		Type: NoticeClear,
		ProximityAlert: model.ProximityAlert{
			ID:             t.newID(),
			SubjectID:      subjectID,
			ZoneID:         prev.ZoneID,
			ZoneName:       prev.ZoneName,
			Severity:       prev.Severity,
			DistanceMeters: prev.DistanceMeters,
			Timestamp:      now,
		},
		Source: SourceEngine,
	}
}

// publish never fails the caller; sink errors are logged.
func (t *Tracker) publish(ctx context.Context, notices []Notice) {
	if t.sink == nil {
		return
	}
	for _, n := range notices {
		if err := t.sink.Publish(ctx, n); err != nil {
			t.log.Warn(ctx, "publish notice failed",
				logging.String("type", string(n.Type)),
				logging.String("subject_id", n.SubjectID),
				logging.String("zone_id", n.ZoneID),
				logging.Err(err),
			)
		}
	}
}

func (st *subjectState) status(id string) SubjectStatus {
	s := SubjectStatus{
		SubjectID:     id,
		ApplicationID: st.applicationID,
		State:         st.state,
		Alerting:      make([]model.ProximityEntry, 0, len(st.alerting)),
		LastSeen:      st.lastSeen,
	}
	for _, zoneID := range sortedKeys(st.alerting) {
		s.Alerting = append(s.Alerting, st.alerting[zoneID])
	}
	if st.lastPosition != nil {
		p := *st.lastPosition
		s.LastPosition = &p
	}
	return s
}

func dronePosition(droneID model.FlexID, p events.DronePosition) model.Position {
	return model.Position{
		SubjectID: droneID.String(),
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Altitude:  model.Float64(p.Altitude),
		Speed:     model.Float64(p.Speed),
		Heading:   model.Float64(p.Heading),
		Timestamp: p.Timestamp,
	}
}

func sortedKeys(m map[string]model.ProximityEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
