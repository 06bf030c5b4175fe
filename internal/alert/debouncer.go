package alert

import (
	"sync"
	"time"

	"github.com/skyguard/geofence/model"
)

// Reason explains a debounce decision.
type Reason string

const (
	ReasonFirstContact    Reason = "first_contact"
	ReasonIntervalElapsed Reason = "interval_elapsed"
	ReasonEscalation      Reason = "escalation"
	ReasonSuppressed      Reason = "suppressed"
)

// Decision is the outcome of one ShouldEmit call.
type Decision struct {
	Emit   bool
	Reason Reason
}

// Recorder receives debounce outcomes, typically for metrics.
type Recorder interface {
	AlertEmitted(severity string)
	AlertSuppressed(severity string)
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithRecorder attaches a recorder notified of every decision.
func WithRecorder(r Recorder) Option {
	return func(d *Debouncer) { d.recorder = r }
}

// Debouncer decides whether a proximity observation should surface as a
// user-visible alert. It only ever raises alerts; detecting that a pair has
// stopped alerting is the caller's job.
type Debouncer struct {
	mu       sync.Mutex
	policy   Policy
	ledger   Ledger
	recorder Recorder
}

// NewDebouncer validates policy and returns a debouncer backed by ledger.
// A nil ledger gets a fresh MemoryLedger.
func NewDebouncer(policy Policy, ledger Ledger, opts ...Option) (*Debouncer, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	d := &Debouncer{policy: policy, ledger: ledger}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Policy returns the policy the debouncer was built with.
func (d *Debouncer) Policy() Policy { return d.policy }

// ShouldEmit reports whether an alert for (subjectID, zoneID, sev) at now
// should be raised, recording the emission when it should.
func (d *Debouncer) ShouldEmit(subjectID, zoneID string, sev model.Severity, now time.Time) bool {
	return d.Decide(subjectID, zoneID, sev, now).Emit
}

// Decide is ShouldEmit with the reason attached.
func (d *Debouncer) Decide(subjectID, zoneID string, sev model.Severity, now time.Time) Decision {
	key := LedgerKey{SubjectID: subjectID, ZoneID: zoneID, Severity: sev}

	d.mu.Lock()
	decision := d.decideLocked(key, now)
	if decision.Emit {
		d.ledger.Put(key, LedgerEntry{LastEmitted: now, LastSeen: now})
	} else if entry, ok := d.ledger.Get(key); ok && now.After(entry.LastSeen) {
		entry.LastSeen = now
		d.ledger.Put(key, entry)
	}
	d.mu.Unlock()

	if d.recorder != nil {
		if decision.Emit {
			d.recorder.AlertEmitted(string(sev))
		} else {
			d.recorder.AlertSuppressed(string(sev))
		}
	}
	return decision
}

func (d *Debouncer) decideLocked(key LedgerKey, now time.Time) Decision {
	if prev, ok := d.ledger.LastEmitted(key.SubjectID, key.ZoneID); ok && prev.Rank() < key.Severity.Rank() {
		return Decision{Emit: true, Reason: ReasonEscalation}
	}
	entry, ok := d.ledger.Get(key)
	if !ok {
		return Decision{Emit: true, Reason: ReasonFirstContact}
	}
	if now.Sub(entry.LastEmitted) > d.policy.Interval(key.Severity) {
		return Decision{Emit: true, Reason: ReasonIntervalElapsed}
	}
	return Decision{Emit: false, Reason: ReasonSuppressed}
}

// Evict drops ledger entries unseen for longer than the policy's idle
// window and returns how many were dropped.
func (d *Debouncer) Evict(now time.Time) int {
	if d.policy.IdleEviction <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.EvictUnseenSince(now.Add(-d.policy.IdleEviction))
}

// Len returns the number of ledger entries.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ledger.Len()
}
