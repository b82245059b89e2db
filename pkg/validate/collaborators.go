package validate

import "github.com/dobrevit/geoblock-core/config"

// LogStore receives every validation outcome, pass or block. Writes are
// best-effort: a failing log store never affects the decision.
type LogStore interface {
	Append(hook string, res *Result, s *config.Settings, blocked bool)
}

// StatsRecorder aggregates blocked anonymous requests per hook and country.
type StatsRecorder interface {
	Record(hook string, res *Result, s *config.Settings)
}

// NopLogStore drops everything.
type NopLogStore struct{}

func (NopLogStore) Append(string, *Result, *config.Settings, bool) {}

// NopStatsRecorder drops everything.
type NopStatsRecorder struct{}

func (NopStatsRecorder) Record(string, *Result, *config.Settings) {}
