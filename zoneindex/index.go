// Package zoneindex holds the current snapshot of restricted zones and
// answers point-in-zone and distance queries against it.
package zoneindex

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/model"
)

// EventType indicates what kind of change happened in the index.
type EventType int

const (
	// EventZonesLoaded fires after a snapshot has been swapped in.
	EventZonesLoaded EventType = iota
)

// Event is delivered to subscribers after a change.
type Event struct {
	Type      EventType
	Version   uint64
	ZoneCount int
}

// Snapshot is a consistent view of the index at one version.
type Snapshot struct {
	Version uint64       `json:"version"`
	Zones   []model.Zone `json:"zones"`
}

// boundPadding widens every bounding box so that the prefilter never
// drops a zone the exact haversine test would keep. orb sizes bounds with
// the equatorial radius, which is slightly larger than the mean radius used
// for classification.
const (
	boundScale  = 1.01
	boundMargin = 1.0
)

type zoneEntry struct {
	pos  int
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *zoneEntry) Bounds() rtreego.Rect { return e.rect }

// Option configures an Index.
type Option func(*Index)

// WithClassifier sets the classifier used by Classify and Proximity.
func WithClassifier(c core.Classifier) Option {
	return func(idx *Index) { idx.classifier = c }
}

// Index is an in-memory, thread-safe zone store. Readers always observe a
// whole snapshot: Load either replaces everything or changes nothing.
type Index struct {
	mu sync.RWMutex

	classifier core.Classifier
	version    uint64
	zones      []model.Zone // sorted by ID
	byID       map[string]int
	tree       *rtreego.Rtree
	// unbounded holds zones whose box cannot be expressed without wrapping
	// the antimeridian; they are always candidates.
	unbounded []int

	subs    map[int]func(Event)
	nextSub int
}

// New constructs an empty index at version 0.
func New(opts ...Option) *Index {
	idx := &Index{
		byID: make(map[string]int),
		tree: rtreego.NewTree(2, 25, 50),
		subs: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Load atomically replaces the zone snapshot. On any validation failure the
// previous snapshot stays in effect and an error wrapping core.ErrValidation
// is returned.
func (idx *Index) Load(zones []model.Zone) error {
	next := make([]model.Zone, 0, len(zones))
	byID := make(map[string]int, len(zones))
	for i, z := range zones {
		if err := core.ValidateZone(z); err != nil {
			return fmt.Errorf("zone %d: %w", i, err)
		}
		if _, dup := byID[z.ID]; dup {
			return fmt.Errorf("%w: duplicate zone id %q", core.ErrValidation, z.ID)
		}
		byID[z.ID] = i
		next = append(next, cloneZone(z))
	}
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	for i, z := range next {
		byID[z.ID] = i
	}

	tree := rtreego.NewTree(2, 25, 50)
	var unbounded []int
	for i, z := range next {
		rect, ok := boundsAround(z.Center, z.RadiusMeters)
		if !ok {
			unbounded = append(unbounded, i)
			continue
		}
		tree.Insert(&zoneEntry{pos: i, rect: rect})
	}

	idx.mu.Lock()
	idx.zones = next
	idx.byID = byID
	idx.tree = tree
	idx.unbounded = unbounded
	idx.version++
	event := Event{Type: EventZonesLoaded, Version: idx.version, ZoneCount: len(next)}
	subs := make([]func(Event), 0, len(idx.subs))
	for _, fn := range idx.subs {
		subs = append(subs, fn)
	}
	idx.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
	return nil
}

// AllZones returns a copy of the current snapshot sorted by zone ID.
func (idx *Index) AllZones() []model.Zone {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneZones(idx.zones)
}

// Version returns the number of successful loads so far.
func (idx *Index) Version() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.version
}

// Snapshot returns the current version together with its zones.
func (idx *Index) Snapshot() Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Snapshot{Version: idx.version, Zones: cloneZones(idx.zones)}
}

// Zone returns the zone with the given ID.
func (idx *Index) Zone(id string) (model.Zone, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	i, ok := idx.byID[id]
	if !ok {
		return model.Zone{}, fmt.Errorf("%w: zone %q", core.ErrNotFound, id)
	}
	return cloneZone(idx.zones[i]), nil
}

// DistanceTo returns the great-circle distance from pos to the centre of
// the named zone.
func (idx *Index) DistanceTo(pos model.Position, zoneID string) (float64, error) {
	if err := core.ValidatePosition(pos); err != nil {
		return 0, err
	}
	z, err := idx.Zone(zoneID)
	if err != nil {
		return 0, err
	}
	return core.DistanceMeters(pos.LatLon(), z.Center), nil
}

// Candidates returns, sorted by ID, the zones whose padded bounding box
// lies within bufferMeters of pos. Every zone the classifier would report
// for the same buffer is included.
func (idx *Index) Candidates(pos model.Position, bufferMeters float64) ([]model.Zone, error) {
	if err := core.ValidatePosition(pos); err != nil {
		return nil, err
	}
	if math.IsNaN(bufferMeters) || math.IsInf(bufferMeters, 0) || bufferMeters < 0 {
		return nil, fmt.Errorf("%w: buffer must be a finite non-negative number, got %v", core.ErrValidation, bufferMeters)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	query, ok := boundsAround(pos.LatLon(), bufferMeters)
	if !ok {
		return cloneZones(idx.zones), nil
	}

	hits := idx.tree.SearchIntersect(query)
	positions := make([]int, 0, len(hits)+len(idx.unbounded))
	for _, h := range hits {
		positions = append(positions, h.(*zoneEntry).pos)
	}
	positions = append(positions, idx.unbounded...)
	sort.Ints(positions)

	out := make([]model.Zone, 0, len(positions))
	for _, i := range positions {
		out = append(out, cloneZone(idx.zones[i]))
	}
	return out, nil
}

// Classifier returns the classifier the index was configured with.
func (idx *Index) Classifier() core.Classifier { return idx.classifier }

// Classify runs containment classification of pos against the current
// snapshot.
func (idx *Index) Classify(pos model.Position) (model.ClassificationResult, error) {
	zones, err := idx.Candidates(pos, 0)
	if err != nil {
		return model.ClassificationResult{}, err
	}
	return idx.classifier.Classify(pos, zones)
}

// Proximity runs graduated classification of pos against the current
// snapshot.
func (idx *Index) Proximity(pos model.Position, bufferMeters float64) ([]model.ProximityEntry, error) {
	zones, err := idx.Candidates(pos, bufferMeters)
	if err != nil {
		return nil, err
	}
	return idx.classifier.Proximity(pos, zones, bufferMeters)
}

// Subscribe registers a callback for index events. It returns an
// unsubscribe function. Callbacks run outside the index lock.
func (idx *Index) Subscribe(fn func(Event)) (unsubscribe func()) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id := idx.nextSub
	idx.nextSub++
	idx.subs[id] = fn

	return func() {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		delete(idx.subs, id)
	}
}

// boundsAround returns an R-tree rectangle in (lon, lat) degrees that covers
// the disk of the given radius. ok is false when the disk touches a pole or
// crosses the antimeridian.
func boundsAround(center model.LatLon, radius float64) (rtreego.Rect, bool) {
	b := geo.NewBoundAroundPoint(orb.Point{center.Longitude, center.Latitude}, radius*boundScale+boundMargin)
	for _, v := range []float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return rtreego.Rect{}, false
		}
	}
	width := b.Max.Lon() - b.Min.Lon()
	height := b.Max.Lat() - b.Min.Lat()
	if width <= 0 || height <= 0 || width >= 360 {
		return rtreego.Rect{}, false
	}
	rect, err := rtreego.NewRect(rtreego.Point{b.Min.Lon(), b.Min.Lat()}, []float64{width, height})
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}

func cloneZone(z model.Zone) model.Zone {
	if z.AltitudeCeiling != nil {
		z.AltitudeCeiling = model.Float64(*z.AltitudeCeiling)
	}
	return z
}

func cloneZones(zones []model.Zone) []model.Zone {
	out := make([]model.Zone, len(zones))
	for i, z := range zones {
		out[i] = cloneZone(z)
	}
	return out
}
