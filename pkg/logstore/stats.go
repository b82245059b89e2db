package logstore

import (
	"sync"
	"time"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/validate"
)

// Stats aggregates blocked anonymous requests per hook, country and
// provider, mirroring what the audit log holds in detail.
type Stats struct {
	mu sync.RWMutex

	blocked   int
	byHook    map[string]int
	byCode    map[string]int
	byType    map[string]int
	providers map[string]ProviderStat
	since     int64
}

// ProviderStat counts lookups attributed to one geolocation provider among
// the blocked requests, with their summed resolution time in seconds.
type ProviderStat struct {
	Calls   int     `json:"calls"`
	Elapsed float64 `json:"elapsed"`
}

// NewStats creates an empty aggregate.
func NewStats() *Stats {
	return &Stats{
		byHook:    make(map[string]int),
		byCode:    make(map[string]int),
		byType:    make(map[string]int),
		providers: make(map[string]ProviderStat),
		since:     time.Now().Unix(),
	}
}

// Record implements validate.StatsRecorder.
func (st *Stats) Record(hook string, res *validate.Result, s *config.Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.blocked++
	st.byHook[hook]++
	st.byCode[res.Code]++
	st.byType[string(res.Outcome())]++
	if res.Provider != "" {
		p := st.providers[res.Provider]
		p.Calls++
		p.Elapsed += res.Elapsed
		st.providers[res.Provider] = p
	}
}

// Summary is a point-in-time copy of the aggregate.
type Summary struct {
	Since     int64                   `json:"since"`
	Blocked   int                     `json:"blocked"`
	ByHook    map[string]int          `json:"by_hook"`
	ByCode    map[string]int          `json:"by_code"`
	ByType    map[string]int          `json:"by_type"`
	Providers map[string]ProviderStat `json:"providers"`
}

// Snapshot returns a copy of the current counters.
func (st *Stats) Snapshot() Summary {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sum := Summary{
		Since:     st.since,
		Blocked:   st.blocked,
		ByHook:    make(map[string]int, len(st.byHook)),
		ByCode:    make(map[string]int, len(st.byCode)),
		ByType:    make(map[string]int, len(st.byType)),
		Providers: make(map[string]ProviderStat, len(st.providers)),
	}
	for k, v := range st.byHook {
		sum.ByHook[k] = v
	}
	for k, v := range st.byCode {
		sum.ByCode[k] = v
	}
	for k, v := range st.byType {
		sum.ByType[k] = v
	}
	for k, v := range st.providers {
		sum.Providers[k] = v
	}
	return sum
}

// Reset clears all counters.
func (st *Stats) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.blocked = 0
	st.byHook = make(map[string]int)
	st.byCode = make(map[string]int)
	st.byType = make(map[string]int)
	st.providers = make(map[string]ProviderStat)
	st.since = time.Now().Unix()
}
