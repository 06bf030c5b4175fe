// Package alert rate-limits user-facing proximity alerts per subject, zone
// and severity.
package alert

import (
	"fmt"
	"time"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/model"
)

// Baseline re-alert intervals. Inside re-alerts faster because it is the
// higher severity.
const (
	DefaultApproachingInterval = 30 * time.Second
	DefaultInsideInterval      = 10 * time.Second
	DefaultIdleEviction        = 5 * time.Minute
)

// Policy holds the debouncer's tunables.
type Policy struct {
	// Intervals is the minimum time between two emissions of the same
	// (subject, zone, severity) key.
	Intervals map[model.Severity]time.Duration
	// DefaultInterval applies to severities missing from Intervals.
	DefaultInterval time.Duration
	// IdleEviction drops ledger entries unseen for longer than this. Zero
	// disables eviction.
	IdleEviction time.Duration
}

// DefaultPolicy returns the baseline policy.
func DefaultPolicy() Policy {
	return Policy{
		Intervals: map[model.Severity]time.Duration{
			model.SeverityApproaching: DefaultApproachingInterval,
			model.SeverityInside:      DefaultInsideInterval,
		},
		DefaultInterval: DefaultApproachingInterval,
		IdleEviction:    DefaultIdleEviction,
	}
}

// Interval returns the re-alert interval for sev.
func (p Policy) Interval(sev model.Severity) time.Duration {
	if d, ok := p.Intervals[sev]; ok {
		return d
	}
	return p.DefaultInterval
}

// MaxInterval returns the longest interval the policy can apply.
func (p Policy) MaxInterval() time.Duration {
	longest := p.DefaultInterval
	for _, d := range p.Intervals {
		if d > longest {
			longest = d
		}
	}
	return longest
}

// Validate rejects negative durations and an eviction window shorter than
// the longest interval. An entry evicted under a valid policy has been
// unseen for longer than any interval, so its next observation would have
// been emitted anyway.
func (p Policy) Validate() error {
	for sev, d := range p.Intervals {
		if d < 0 {
			return fmt.Errorf("%w: interval for %q must not be negative, got %s", core.ErrValidation, sev, d)
		}
	}
	if p.DefaultInterval < 0 {
		return fmt.Errorf("%w: default interval must not be negative, got %s", core.ErrValidation, p.DefaultInterval)
	}
	if p.IdleEviction < 0 {
		return fmt.Errorf("%w: idle eviction must not be negative, got %s", core.ErrValidation, p.IdleEviction)
	}
	if p.IdleEviction > 0 && p.IdleEviction < p.MaxInterval() {
		return fmt.Errorf("%w: idle eviction %s is shorter than the longest interval %s",
			core.ErrValidation, p.IdleEviction, p.MaxInterval())
	}
	return nil
}
