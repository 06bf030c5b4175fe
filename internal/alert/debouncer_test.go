package alert

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/model"
)

var t0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newDebouncer(t *testing.T, opts ...Option) *Debouncer {
	t.Helper()
	d, err := NewDebouncer(DefaultPolicy(), nil, opts...)
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}
	return d
}

type countingRecorder struct {
	mu         sync.Mutex
	emitted    map[string]int
	suppressed map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{emitted: map[string]int{}, suppressed: map[string]int{}}
}

func (r *countingRecorder) AlertEmitted(sev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted[sev]++
}

func (r *countingRecorder) AlertSuppressed(sev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressed[sev]++
}

func TestShouldEmit_Idempotent(t *testing.T) {
	d := newDebouncer(t)

	if !d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0) {
		t.Fatalf("first contact suppressed")
	}
	if d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0) {
		t.Fatalf("second call with the same key and now emitted")
	}
}

func TestShouldEmit_ApproachingInterval(t *testing.T) {
	d := newDebouncer(t)

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{5 * time.Second, false},
		{30 * time.Second, false}, // must exceed, not equal
		{31 * time.Second, true},
		{40 * time.Second, false},
	}
	for _, s := range steps {
		if got := d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0.Add(s.offset)); got != s.want {
			t.Fatalf("ShouldEmit at +%s = %v, want %v", s.offset, got, s.want)
		}
	}
}

func TestShouldEmit_InsideReAlertsFaster(t *testing.T) {
	d := newDebouncer(t)

	if !d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0) {
		t.Fatalf("first inside suppressed")
	}
	if d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0.Add(10*time.Second)) {
		t.Fatalf("inside re-alerted at exactly the interval")
	}
	if !d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0.Add(11*time.Second)) {
		t.Fatalf("inside not re-alerted after 11s")
	}
}

func TestShouldEmit_EscalationBypassesInterval(t *testing.T) {
	d := newDebouncer(t)

	if !d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0) {
		t.Fatalf("approaching first contact suppressed")
	}
	decision := d.Decide("drone-1", "Z1", model.SeverityInside, t0.Add(2*time.Second))
	if !decision.Emit || decision.Reason != ReasonEscalation {
		t.Fatalf("Decide(inside after approaching) = %+v, want escalation emit", decision)
	}
	if d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0.Add(3*time.Second)) {
		t.Fatalf("repeat inside within interval emitted")
	}
}

func TestShouldEmit_EscalationAfterSuppressedInside(t *testing.T) {
	d := newDebouncer(t)

	// An inside alert exists before the approaching one: the pair's last
	// emitted severity is approaching, so the next inside escalates.
	d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0)
	d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0.Add(time.Second))
	if !d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0.Add(2*time.Second)) {
		t.Fatalf("inside after a later approaching emission was not treated as escalation")
	}
}

func TestShouldEmit_DeescalationUsesInterval(t *testing.T) {
	d := newDebouncer(t)

	d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0)
	d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0.Add(time.Second))
	if d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0.Add(5*time.Second)) {
		t.Fatalf("approaching within its interval after inside emitted")
	}
}

func TestShouldEmit_KeysAreIndependent(t *testing.T) {
	d := newDebouncer(t)

	if !d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0) {
		t.Fatalf("drone-1/Z1 suppressed")
	}
	if !d.ShouldEmit("drone-2", "Z1", model.SeverityApproaching, t0) {
		t.Fatalf("drone-2/Z1 suppressed by drone-1")
	}
	if !d.ShouldEmit("drone-1", "Z2", model.SeverityApproaching, t0) {
		t.Fatalf("drone-1/Z2 suppressed by Z1")
	}
}

func TestShouldEmit_UnknownSeverityUsesDefaultInterval(t *testing.T) {
	d := newDebouncer(t)
	custom := model.Severity("advisory")

	if !d.ShouldEmit("drone-1", "Z1", custom, t0) {
		t.Fatalf("first advisory suppressed")
	}
	if d.ShouldEmit("drone-1", "Z1", custom, t0.Add(DefaultApproachingInterval)) {
		t.Fatalf("advisory re-alerted at exactly the default interval")
	}
	if !d.ShouldEmit("drone-1", "Z1", custom, t0.Add(DefaultApproachingInterval+time.Second)) {
		t.Fatalf("advisory not re-alerted after the default interval")
	}
}

func TestEvict_DropsIdleEntriesOnly(t *testing.T) {
	d := newDebouncer(t)

	d.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, t0)
	d.ShouldEmit("drone-2", "Z1", model.SeverityApproaching, t0)
	// drone-2 keeps being observed; suppressed calls refresh LastSeen.
	d.ShouldEmit("drone-2", "Z1", model.SeverityApproaching, t0.Add(4*time.Minute))

	if n := d.Evict(t0.Add(5 * time.Minute)); n != 0 {
		t.Fatalf("Evict at exactly the window removed %d entries, want 0", n)
	}
	if n := d.Evict(t0.Add(5*time.Minute + time.Second)); n != 1 {
		t.Fatalf("Evict removed %d entries, want 1", n)
	}
	if got := d.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestEvict_NeverCausesSpuriousEmit(t *testing.T) {
	policy := DefaultPolicy()
	withEviction, err := NewDebouncer(policy, nil)
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}
	policy.IdleEviction = 0
	withoutEviction, err := NewDebouncer(policy, nil)
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}

	// Sparse observation schedule with long gaps.
	offsets := []time.Duration{0, 3 * time.Second, 6 * time.Minute, 6*time.Minute + 20*time.Second, 12 * time.Minute, 20 * time.Minute}
	for _, off := range offsets {
		now := t0.Add(off)
		withEviction.Evict(now)
		a := withEviction.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, now)
		b := withoutEviction.ShouldEmit("drone-1", "Z1", model.SeverityApproaching, now)
		if a != b {
			t.Fatalf("at +%s eviction changed the decision: %v vs %v", off, a, b)
		}
	}
}

func TestDebouncer_RecorderAndConcurrency(t *testing.T) {
	rec := newCountingRecorder()
	d := newDebouncer(t, WithRecorder(rec))

	var wg sync.WaitGroup
	var mu sync.Mutex
	emitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.ShouldEmit("drone-1", "Z1", model.SeverityInside, t0) {
				mu.Lock()
				emitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if emitted != 1 {
		t.Fatalf("concurrent callers emitted %d alerts, want 1", emitted)
	}
	if rec.emitted["inside"] != 1 || rec.suppressed["inside"] != 49 {
		t.Fatalf("recorder = %+v / %+v, want 1 emitted and 49 suppressed", rec.emitted, rec.suppressed)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() = %v", err)
	}

	short := DefaultPolicy()
	short.IdleEviction = 20 * time.Second
	if _, err := NewDebouncer(short, nil); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("eviction shorter than interval: error = %v, want ErrValidation", err)
	}

	negative := DefaultPolicy()
	negative.Intervals[model.SeverityInside] = -time.Second
	if err := negative.Validate(); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("negative interval: error = %v, want ErrValidation", err)
	}

	disabled := DefaultPolicy()
	disabled.IdleEviction = 0
	if err := disabled.Validate(); err != nil {
		t.Fatalf("disabled eviction: error = %v", err)
	}
}
