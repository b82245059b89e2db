package geo

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// Result is the chain's answer for one IP, ready for rule matching.
type Result struct {
	IP       string
	ASN      string
	Code     string // ISO alpha-2, or "XX" (private) / "ZZ" (unknown)
	City     string
	State    string
	Provider string
	Elapsed  float64 // seconds spent resolving
	Err      string
}

// Country code sentinels.
const (
	CodePrivate = "XX" // private/loopback/reserved source address
	CodeUnknown = "ZZ" // no provider could resolve the IP
)

// Chain resolves IPs through an ordered provider list: first provider with
// a usable country code wins.
type Chain struct {
	Providers []Provider
	UseASN    bool
}

// Resolve walks the chain for one IP.
//
// Private, loopback and reserved addresses short-circuit to "XX" without
// touching any provider, as does an empty chain. Provider errors are
// swallowed and the next provider is tried; when nobody answers, the result
// is "ZZ". City and state are copied only from providers that declare the
// capability, and a missing ASN triggers one follow-up ASN-only lookup
// against the accepting provider when enrichment is enabled.
func (c *Chain) Resolve(ip string) Result {
	addr := net.ParseIP(ip)
	if addr == nil || isPrivate(addr) || len(c.Providers) == 0 {
		return Result{IP: ip, Code: CodePrivate, Provider: "Private"}
	}

	start := time.Now()
	for _, p := range c.Providers {
		loc := p.Lookup(ip, LookupArgs{})
		code := TakeCountry(loc.CountryCode)
		if loc.Err != "" || code == "" {
			lookupsTotal.WithLabelValues(p.Name(), "miss").Inc()
			if loc.Err != "" {
				log.WithFields(log.Fields{
					"provider": p.Name(),
					"ip":       ip,
					"error":    loc.Err,
				}).Debug("Geolocation provider failed, trying next")
			}
			continue
		}

		res := Result{
			IP:       ip,
			Code:     code,
			ASN:      ParseASN(loc.ASN),
			Provider: p.Name(),
		}
		if p.Supports(FeatureCity) {
			res.City = loc.City
		}
		if p.Supports(FeatureState) {
			res.State = loc.State
		}
		if c.UseASN && res.ASN == "" && p.Supports(FeatureASN) {
			enrich := p.Lookup(ip, LookupArgs{ASNOnly: true})
			if enrich.Err == "" {
				res.ASN = ParseASN(enrich.ASN)
			}
		}

		res.Elapsed = time.Since(start).Seconds()
		lookupsTotal.WithLabelValues(p.Name(), "hit").Inc()
		lookupDuration.WithLabelValues(p.Name()).Observe(res.Elapsed)
		return res
	}

	return Result{
		IP:      ip,
		Code:    CodeUnknown,
		Elapsed: time.Since(start).Seconds(),
		Err:     "unknown",
	}
}

func isPrivate(addr net.IP) bool {
	return addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}
