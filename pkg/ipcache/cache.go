// Package ipcache persists the last known validation result per IP address.
// The cache doubles as a fast-path geolocation source and as the counter
// store for failed-login throttling and bot-behavior detection.
package ipcache

import (
	"time"
)

// Entry is one cached row, keyed by the raw IP address. Concurrent writers
// for the same IP race benignly: the entry is a coarse, recomputable
// snapshot and last write wins.
type Entry struct {
	Time  int64  `json:"time"` // unix seconds of last update
	Hook  string `json:"hook"`
	IP    string `json:"ip"`
	ASN   string `json:"asn"`
	Code  string `json:"code"`
	City  string `json:"city"`
	State string `json:"state"`
	Auth  int    `json:"auth"`
	Fail  int    `json:"fail"` // failed-login counter
	Reqs  int    `json:"reqs"` // request counter (statistics)
	Last  int64  `json:"last"` // unix seconds of last public-hook view
	View  int    `json:"view"` // page views within the behavior window
	Host  string `json:"host"` // reverse-resolved hostname, "" if unknown
}

// Store is the persistent cache behind the pipeline. Implementations provide
// insert-or-update-by-key semantics; no further locking is required.
type Store interface {
	Get(ip string) (*Entry, error)
	Upsert(e *Entry) error
	Delete(ip string) error
	Clear() error

	// GC removes entries older than the given age and returns how many
	// were dropped. Backends with native expiry may return 0.
	GC(olderThan time.Duration) (int, error)

	Count() (int, error)
	Close() error
}

// KeepFail marks an update that must not touch the failure counter.
const KeepFail = -1

// UpdateParams controls how Update folds a validation result into the store.
type UpdateParams struct {
	Hook string
	Now  int64

	// Fail is the new failure count, or KeepFail to preserve the stored
	// counter. The counter only moves through the failure limiter; it is
	// reset by entry deletion or expiry, never by a passing validation.
	Fail int

	// BehaviorWindow is the public-hook gap (seconds) beyond which the
	// view counter resets to 1.
	BehaviorWindow int64

	SaveStats bool // count reqs
	CountUp   bool // false for re-validations that must not double count
	Hold      bool // persist to the store
}

// Snapshot is the per-request subset of a validation result worth caching.
type Snapshot struct {
	IP    string
	ASN   string
	Code  string
	City  string
	State string
	Host  string
	Auth  int
}

// Update folds a snapshot into the cache and returns the resulting entry.
// The entry is not persisted while caching is off, and never while an
// authenticated user resolves to an unknown country (that combination only
// occurs mid database install and would poison the cache).
func Update(s Store, r Snapshot, p UpdateParams) *Entry {
	prev, _ := s.Get(r.IP)

	fail, reqs, last, view := 0, 1, p.Now, 1
	if prev != nil {
		fail = prev.Fail
		reqs = prev.Reqs
		if p.CountUp {
			reqs++
		}
		last = prev.Last
		view = prev.View

		if p.Hook == "public" {
			if p.Now-last > p.BehaviorWindow {
				view = 1
			} else {
				view++
			}
			last = p.Now
		}
	}
	if p.Fail != KeepFail {
		fail = p.Fail
	}
	if !p.SaveStats {
		reqs = 0
	}

	host := ""
	if r.Host != "" && r.Host != r.IP {
		host = r.Host
	}

	e := &Entry{
		Time:  p.Now,
		Hook:  p.Hook,
		IP:    r.IP,
		ASN:   r.ASN,
		Code:  r.Code,
		City:  r.City,
		State: r.State,
		Auth:  r.Auth,
		Fail:  fail,
		Reqs:  reqs,
		Last:  last,
		View:  view,
		Host:  host,
	}

	if p.Hold && !(r.Auth > 0 && r.Code == "ZZ") {
		s.Upsert(e)
	}
	return e
}
