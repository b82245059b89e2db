package geo

import (
	"time"

	"github.com/dobrevit/geoblock-core/pkg/ipcache"
)

// CacheProvider answers lookups from the persistent IP cache without any
// I/O. It sits first in the chain so a warm entry short-circuits the remote
// providers entirely.
type CacheProvider struct {
	store ipcache.Store
	ttl   time.Duration
}

// NewCacheProvider wraps a cache store as a provider. Entries older than
// ttl are treated as misses even before the garbage collector drops them.
func NewCacheProvider(store ipcache.Store, ttl time.Duration) *CacheProvider {
	return &CacheProvider{store: store, ttl: ttl}
}

func (p *CacheProvider) Name() string { return "Cache" }

// Supports claims every feature: the chain copies city/state/ASN from this
// provider exactly when the cached entry carried them, so no stale field
// can appear that the original resolving provider did not produce.
func (p *CacheProvider) Supports(feature string) bool { return true }

func (p *CacheProvider) Lookup(ip string, args LookupArgs) Location {
	e, err := p.store.Get(ip)
	if err != nil {
		return Location{Err: "Cache: " + err.Error()}
	}
	if e == nil || e.Code == "" {
		return Location{Err: "Cache: not in the cache"}
	}
	if p.ttl > 0 && time.Now().Unix()-e.Time > int64(p.ttl/time.Second) {
		return Location{Err: "Cache: entry expired"}
	}
	return Location{
		CountryCode: e.Code,
		City:        e.City,
		State:       e.State,
		ASN:         e.ASN,
	}
}
