package alert

import (
	"testing"
	"time"

	"github.com/skyguard/geofence/model"
)

func TestMemoryLedger_PutGetLen(t *testing.T) {
	l := NewMemoryLedger()
	key := LedgerKey{SubjectID: "d", ZoneID: "z", Severity: model.SeverityInside}

	if _, ok := l.Get(key); ok {
		t.Fatalf("Get on empty ledger found an entry")
	}
	l.Put(key, LedgerEntry{LastEmitted: t0, LastSeen: t0})
	l.Put(key, LedgerEntry{LastEmitted: t0.Add(time.Second), LastSeen: t0.Add(time.Second)})

	got, ok := l.Get(key)
	if !ok || !got.LastEmitted.Equal(t0.Add(time.Second)) {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after overwrite", l.Len())
	}
}

func TestMemoryLedger_LastEmitted(t *testing.T) {
	l := NewMemoryLedger()
	put := func(sev model.Severity, at time.Time) {
		l.Put(LedgerKey{SubjectID: "d", ZoneID: "z", Severity: sev}, LedgerEntry{LastEmitted: at, LastSeen: at})
	}

	if _, ok := l.LastEmitted("d", "z"); ok {
		t.Fatalf("LastEmitted on empty ledger reported a severity")
	}
	put(model.SeverityInside, t0)
	put(model.SeverityApproaching, t0.Add(time.Second))
	if sev, _ := l.LastEmitted("d", "z"); sev != model.SeverityApproaching {
		t.Fatalf("LastEmitted = %q, want approaching", sev)
	}
	put(model.SeverityInside, t0.Add(time.Second))
	if sev, _ := l.LastEmitted("d", "z"); sev != model.SeverityInside {
		t.Fatalf("LastEmitted tie = %q, want inside", sev)
	}
}

func TestMemoryLedger_EvictUnseenSince(t *testing.T) {
	l := NewMemoryLedger()
	l.Put(LedgerKey{"a", "z", model.SeverityInside}, LedgerEntry{LastEmitted: t0, LastSeen: t0})
	l.Put(LedgerKey{"a", "z", model.SeverityApproaching}, LedgerEntry{LastEmitted: t0, LastSeen: t0.Add(time.Minute)})
	l.Put(LedgerKey{"b", "z", model.SeverityInside}, LedgerEntry{LastEmitted: t0, LastSeen: t0})

	if n := l.EvictUnseenSince(t0.Add(time.Second)); n != 2 {
		t.Fatalf("EvictUnseenSince removed %d, want 2", n)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	if _, ok := l.LastEmitted("b", "z"); ok {
		t.Fatalf("evicted pair still reports a severity")
	}
}
