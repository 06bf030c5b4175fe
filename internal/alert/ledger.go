package alert

import (
	"sync"
	"time"

	"github.com/skyguard/geofence/model"
)

// LedgerKey identifies one debounced alert stream.
type LedgerKey struct {
	SubjectID string
	ZoneID    string
	Severity  model.Severity
}

// LedgerEntry records when a key last produced an alert and when it was
// last observed at all.
type LedgerEntry struct {
	LastEmitted time.Time
	LastSeen    time.Time
}

// Ledger stores debounce state. Implementations need not be safe for
// concurrent use; the Debouncer serializes all access.
type Ledger interface {
	// Get returns the entry for key.
	Get(key LedgerKey) (LedgerEntry, bool)
	// Put creates or overwrites the entry for key.
	Put(key LedgerKey, entry LedgerEntry)
	// LastEmitted returns the severity most recently emitted for the
	// (subject, zone) pair across all severities.
	LastEmitted(subjectID, zoneID string) (model.Severity, bool)
	// EvictUnseenSince removes entries whose LastSeen is before cutoff and
	// returns how many were removed.
	EvictUnseenSince(cutoff time.Time) int
	// Len returns the number of entries.
	Len() int
}

type pairKey struct {
	subjectID string
	zoneID    string
}

// MemoryLedger is the in-process Ledger. Its state does not survive a
// restart.
type MemoryLedger struct {
	mu    sync.Mutex
	pairs map[pairKey]map[model.Severity]LedgerEntry
	size  int
}

// NewMemoryLedger constructs an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{pairs: make(map[pairKey]map[model.Severity]LedgerEntry)}
}

// Get implements Ledger.
func (l *MemoryLedger) Get(key LedgerKey) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.pairs[pairKey{key.SubjectID, key.ZoneID}][key.Severity]
	return e, ok
}

// Put implements Ledger.
func (l *MemoryLedger) Put(key LedgerKey, entry LedgerEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pk := pairKey{key.SubjectID, key.ZoneID}
	bySev, ok := l.pairs[pk]
	if !ok {
		bySev = make(map[model.Severity]LedgerEntry, 2)
		l.pairs[pk] = bySev
	}
	if _, exists := bySev[key.Severity]; !exists {
		l.size++
	}
	bySev[key.Severity] = entry
}

// LastEmitted implements Ledger. Simultaneous emissions resolve to the
// higher-ranked severity.
func (l *MemoryLedger) LastEmitted(subjectID, zoneID string) (model.Severity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		best  model.Severity
		at    time.Time
		found bool
	)
	for sev, e := range l.pairs[pairKey{subjectID, zoneID}] {
		if !found || e.LastEmitted.After(at) || (e.LastEmitted.Equal(at) && sev.Rank() > best.Rank()) {
			best, at, found = sev, e.LastEmitted, true
		}
	}
	return best, found
}

// EvictUnseenSince implements Ledger.
func (l *MemoryLedger) EvictUnseenSince(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for pk, bySev := range l.pairs {
		for sev, e := range bySev {
			if e.LastSeen.Before(cutoff) {
				delete(bySev, sev)
				evicted++
			}
		}
		if len(bySev) == 0 {
			delete(l.pairs, pk)
		}
	}
	l.size -= evicted
	return evicted
}

// Len implements Ledger.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
