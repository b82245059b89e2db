// Package geo resolves the country, ASN and place of an IP address through a
// prioritized chain of geolocation providers.
package geo

import (
	"regexp"
	"strings"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/ipcache"
)

// Provider feature flags.
const (
	FeatureIPv4  = "ipv4"
	FeatureIPv6  = "ipv6"
	FeatureASN   = "asn"
	FeatureCity  = "city"
	FeatureState = "state"
)

// Location is a single provider's answer for one IP. Providers never fail
// hard: network and parse errors come back in Err so the chain can move on
// to the next provider.
type Location struct {
	CountryCode string
	CountryName string
	City        string
	State       string
	ASN         string
	Err         string
}

// LookupArgs tunes a single lookup call.
type LookupArgs struct {
	// ASNOnly requests a second, ASN-focused lookup after a provider
	// already supplied the country.
	ASNOnly bool
}

// Provider is one geolocation source, remote or local.
type Provider interface {
	Name() string
	Supports(feature string) bool
	Lookup(ip string, args LookupArgs) Location
}

// Descriptor is the static metadata a provider registers under. New builds
// an instance from the configured API key and geo settings.
type Descriptor struct {
	Name     string
	Supports []string
	NeedsKey bool
	Local    bool
	New      func(apiKey string, cfg config.GeoConfig) (Provider, error)
}

// registry keeps descriptors in registration order so the chain is
// deterministic for a given configuration.
var registry []Descriptor

// Register adds a provider descriptor. Called from init in provider files.
func Register(d Descriptor) {
	registry = append(registry, d)
}

// Descriptors returns all registered descriptors in registration order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// ValidProviders instantiates the providers enabled in settings, in
// registration order. The cache pseudo-provider goes first whenever result
// caching is on, so a warm cache answers without network I/O. A provider
// that requires an API key is skipped when the key is empty; construction
// failures (e.g. a missing database file) skip the provider as well and are
// reported to the caller.
func ValidProviders(s *config.Settings, store ipcache.Store) ([]Provider, []error) {
	var providers []Provider
	var errs []error

	if s.Cache.Hold && store != nil {
		providers = append(providers, NewCacheProvider(store, s.Cache.Time))
	}

	for _, d := range registry {
		key, enabled := s.Providers[d.Name]
		if !enabled {
			continue
		}
		if d.NeedsKey && key == "" {
			continue
		}
		p, err := d.New(key, s.Geo)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		providers = append(providers, p)
	}
	return providers, errs
}

var countryRe = regexp.MustCompile(`^[A-Z]{2}`)

// TakeCountry extracts a two-letter country code from a raw provider field,
// or returns "" when none is present. Values like "US, California" and
// lowercase codes normalize; garbage does not pass.
func TakeCountry(raw string) string {
	if m := countryRe.FindString(strings.ToUpper(strings.TrimSpace(raw))); m != "" {
		return m
	}
	return ""
}

var asnRe = regexp.MustCompile(`^AS\d+`)

// ParseASN extracts a canonical "AS<number>" from strings such as
// "AS15169 Google LLC" or a bare number.
func ParseASN(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	upper := strings.ToUpper(raw)
	if m := asnRe.FindString(upper); m != "" {
		return m
	}
	if isDigits(raw) {
		return "AS" + raw
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func supportsSet(features []string) map[string]bool {
	m := make(map[string]bool, len(features))
	for _, f := range features {
		m[f] = true
	}
	return m
}
