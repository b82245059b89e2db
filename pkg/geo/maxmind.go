package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/dobrevit/geoblock-core/config"
)

// MaxmindProvider reads local GeoLite2/GeoIP2 databases. No network I/O,
// no API key; the ASN database is optional.
type MaxmindProvider struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewMaxmindProvider opens the configured databases. The city database is
// required; the ASN database is opened when configured.
func NewMaxmindProvider(cfg config.GeoConfig) (*MaxmindProvider, error) {
	if cfg.MaxmindCityDB == "" {
		return nil, fmt.Errorf("maxmind: no city database configured")
	}
	city, err := geoip2.Open(cfg.MaxmindCityDB)
	if err != nil {
		return nil, fmt.Errorf("maxmind: open city database: %w", err)
	}

	p := &MaxmindProvider{city: city}
	if cfg.MaxmindASNDB != "" {
		asn, err := geoip2.Open(cfg.MaxmindASNDB)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("maxmind: open ASN database: %w", err)
		}
		p.asn = asn
	}
	return p, nil
}

func (p *MaxmindProvider) Name() string { return "Maxmind" }

func (p *MaxmindProvider) Supports(feature string) bool {
	switch feature {
	case FeatureIPv4, FeatureIPv6, FeatureCity, FeatureState:
		return true
	case FeatureASN:
		return p.asn != nil
	}
	return false
}

func (p *MaxmindProvider) Lookup(ip string, args LookupArgs) Location {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Location{Err: fmt.Sprintf("maxmind: invalid IP %q", ip)}
	}

	var loc Location
	if args.ASNOnly {
		loc.ASN = p.lookupASN(addr)
		if loc.ASN == "" {
			loc.Err = "maxmind: no ASN record"
		}
		return loc
	}

	rec, err := p.city.City(addr)
	if err != nil {
		return Location{Err: fmt.Sprintf("maxmind: %v", err)}
	}
	loc.CountryCode = rec.Country.IsoCode
	loc.CountryName = rec.Country.Names["en"]
	loc.City = rec.City.Names["en"]
	if len(rec.Subdivisions) > 0 {
		loc.State = rec.Subdivisions[0].Names["en"]
	}
	loc.ASN = p.lookupASN(addr)
	if loc.CountryCode == "" {
		loc.Err = "maxmind: no country record"
	}
	return loc
}

func (p *MaxmindProvider) lookupASN(addr net.IP) string {
	if p.asn == nil {
		return ""
	}
	rec, err := p.asn.ASN(addr)
	if err != nil || rec.AutonomousSystemNumber == 0 {
		return ""
	}
	return fmt.Sprintf("AS%d", rec.AutonomousSystemNumber)
}

// Close releases the database handles.
func (p *MaxmindProvider) Close() error {
	if p.asn != nil {
		p.asn.Close()
	}
	return p.city.Close()
}

func init() {
	Register(Descriptor{
		Name:     "Maxmind",
		Supports: []string{FeatureIPv4, FeatureIPv6, FeatureASN, FeatureCity, FeatureState},
		NeedsKey: false,
		Local:    true,
		New: func(_ string, cfg config.GeoConfig) (Provider, error) {
			return NewMaxmindProvider(cfg)
		},
	})
}
