package logstore

import (
	"testing"
	"time"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/geo"
	"github.com/dobrevit/geoblock-core/pkg/validate"
)

func result(ip, code string, outcome validate.Outcome) *validate.Result {
	res := &validate.Result{Result: geo.Result{IP: ip, Code: code}}
	res.SetOutcome(outcome)
	return res
}

func TestMemoryLogAppendAndSearch(t *testing.T) {
	l := NewMemoryLog(10)
	s := config.DefaultSettings()

	l.Append("login", result("1.2.3.4", "FR", validate.OutcomeBlocked), s, true)
	l.Append("public", result("8.8.8.8", "US", validate.OutcomePassed), s, false)
	l.Append("login", result("1.2.3.4", "FR", validate.OutcomeLimited), s, true)

	if l.Count() != 3 {
		t.Fatalf("expected 3 records, got %d", l.Count())
	}

	recent := l.Recent(2)
	if len(recent) != 2 || recent[0].Result != "limited" {
		t.Errorf("unexpected recent records: %+v", recent)
	}

	hits := l.Search("1.2.3.4")
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Result != "limited" || hits[1].Result != "blocked" {
		t.Errorf("search must return newest first: %+v", hits)
	}
}

func TestMemoryLogBounded(t *testing.T) {
	l := NewMemoryLog(5)
	s := config.DefaultSettings()
	for i := 0; i < 20; i++ {
		l.Append("login", result("1.2.3.4", "FR", validate.OutcomeBlocked), s, true)
	}
	if l.Count() != 5 {
		t.Errorf("log must cap at 5 records, got %d", l.Count())
	}
}

func TestMemoryLogOnlyBlocked(t *testing.T) {
	l := NewMemoryLog(10)
	l.OnlyBlocked = true
	s := config.DefaultSettings()

	l.Append("public", result("8.8.8.8", "US", validate.OutcomePassed), s, false)
	l.Append("login", result("1.2.3.4", "FR", validate.OutcomeBlocked), s, true)
	if l.Count() != 1 {
		t.Errorf("passed requests must be skipped, got %d records", l.Count())
	}
}

func TestMemoryLogGC(t *testing.T) {
	l := NewMemoryLog(10)
	s := config.DefaultSettings()
	l.Append("login", result("1.2.3.4", "FR", validate.OutcomeBlocked), s, true)

	// Age the record artificially.
	l.records[0].Time = time.Now().Add(-48 * time.Hour).Unix()
	l.Append("login", result("8.8.8.8", "US", validate.OutcomePassed), s, false)

	if dropped := l.GC(24 * time.Hour); dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
	if l.Count() != 1 {
		t.Errorf("expected 1 surviving record, got %d", l.Count())
	}
}

func TestStats(t *testing.T) {
	st := NewStats()
	s := config.DefaultSettings()

	st.Record("login", result("1.2.3.4", "FR", validate.OutcomeBlocked), s)
	st.Record("login", result("1.2.3.4", "FR", validate.OutcomeLimited), s)

	withProv := result("5.6.7.8", "CN", validate.OutcomeBlocked)
	withProv.Provider = "Maxmind"
	withProv.Elapsed = 0.02
	st.Record("public", withProv, s)

	sum := st.Snapshot()
	if sum.Blocked != 3 {
		t.Errorf("expected 3 blocked, got %d", sum.Blocked)
	}
	if sum.ByHook["login"] != 2 || sum.ByCode["FR"] != 2 || sum.ByType["limited"] != 1 {
		t.Errorf("unexpected aggregates: %+v", sum)
	}
	if sum.Providers["Maxmind"].Calls != 1 || sum.Providers["Maxmind"].Elapsed != 0.02 {
		t.Errorf("provider aggregates missing: %+v", sum.Providers)
	}

	st.Reset()
	if st.Snapshot().Blocked != 0 {
		t.Error("reset must clear counters")
	}
}
