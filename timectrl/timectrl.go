// Package timectrl supplies the clocks the geofence host reads "now" from:
// the wall clock in production and a controllable simulated clock for
// replays and tests.
package timectrl

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the time source threaded into debouncing and alert stamping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the clock's time once d has
	// elapsed on that clock.
	After(d time.Duration) <-chan time.Time
}

// RealClock implements Clock with the time package.
type RealClock struct{}

// Now returns the wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// After waits on the wall clock.
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Mode describes how the TimeController advances simulated time.
type Mode int

const (
	// RealTime advances one Tick per wall-clock Tick.
	RealTime Mode = iota
	// Accelerated advances by Tick as fast as the loop can run.
	Accelerated
)

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// TimeController drives simulated time and notifies registered listeners.
// It implements Clock; timers created with After fire when simulated time
// reaches their deadline, however it gets there.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
	waiters     []waiter
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulated time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// After returns a channel that receives the simulated time once d has
// elapsed in simulated time. A non-positive d fires immediately.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	tc.mu.Lock()
	defer tc.mu.Unlock()
	if d <= 0 {
		ch <- tc.currentTime
		return ch
	}
	tc.waiters = append(tc.waiters, waiter{deadline: tc.currentTime.Add(d), ch: ch})
	return ch
}

// SetTime moves simulated time to t without notifying listeners. Timers
// whose deadline is at or before t fire.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
	tc.fireDue(t)
}

// Advance moves simulated time forward by d, fires due timers and notifies
// listeners with the new time.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	tc.fireDue(now)
	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// AddListener registers a callback invoked on every advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start resets simulated time to StartTime and advances it by Tick until
// duration has elapsed (forever when duration is zero) or ctx is done. It
// returns a channel that is closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.SetTime(tc.StartTime)

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += tc.Tick {
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}
			tc.Advance(tc.Tick)
		}
	}()
	return done
}

func (tc *TimeController) fireDue(now time.Time) {
	tc.mu.Lock()
	var due []waiter
	pending := tc.waiters[:0]
	for _, w := range tc.waiters {
		if !w.deadline.After(now) {
			due = append(due, w)
		} else {
			pending = append(pending, w)
		}
	}
	tc.waiters = pending
	tc.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		w.ch <- now
	}
}
