package geo

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dobrevit/geoblock-core/config"
)

// transform maps canonical field names (countryCode, cityName, stateName,
// asn) to the JSON keys a specific API uses.
type transform map[string]string

// remoteProvider is the shared engine behind the HTTP-API providers. The
// URL template carries %API_IP% and %API_KEY% placeholders. Raw responses
// are memoized per (ip, template) for process lifetime, so re-validations
// within one request cycle never hit the network twice.
type remoteProvider struct {
	name      string
	supports  map[string]bool
	template  string
	fields    transform
	client    *http.Client
	userAgent string

	memo sync.Map // "ip|template" -> Location
}

func newRemoteProvider(name string, features []string, template, apiKey string, cfg config.GeoConfig, fields transform) *remoteProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &remoteProvider{
		name:      name,
		supports:  supportsSet(features),
		template:  strings.ReplaceAll(template, "%API_KEY%", apiKey),
		fields:    fields,
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.RequestUA,
	}
}

func (p *remoteProvider) Name() string { return p.name }

func (p *remoteProvider) Supports(feature string) bool { return p.supports[feature] }

func (p *remoteProvider) Lookup(ip string, args LookupArgs) Location {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Location{Err: fmt.Sprintf("%s: invalid IP %q", p.name, ip)}
	}
	if v4 := addr.To4() != nil; (v4 && !p.supports[FeatureIPv4]) || (!v4 && !p.supports[FeatureIPv6]) {
		return Location{Err: fmt.Sprintf("%s: unsupported address family for %s", p.name, ip)}
	}

	key := ip + "|" + p.template
	if v, ok := p.memo.Load(key); ok {
		return v.(Location)
	}

	loc := p.fetch(strings.ReplaceAll(p.template, "%API_IP%", ip))
	p.memo.Store(key, loc)
	return loc
}

func (p *remoteProvider) fetch(url string) Location {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return Location{Err: fmt.Sprintf("%s: %v", p.name, err)}
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{Err: fmt.Sprintf("%s: %v", p.name, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{Err: fmt.Sprintf("%s: HTTP %d", p.name, resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Location{Err: fmt.Sprintf("%s: %v", p.name, err)}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Location{Err: fmt.Sprintf("%s: invalid response: %v", p.name, err)}
	}

	loc := Location{
		CountryCode: p.field(raw, "countryCode"),
		CountryName: p.field(raw, "countryName"),
		City:        p.field(raw, "cityName"),
		State:       p.field(raw, "stateName"),
		ASN:         ParseASN(p.field(raw, "asn")),
	}
	if loc.CountryCode == "" {
		loc.Err = fmt.Sprintf("%s: no country in response", p.name)
	}
	return loc
}

func (p *remoteProvider) field(raw map[string]any, canonical string) string {
	key, ok := p.fields[canonical]
	if !ok {
		return ""
	}
	// Nested keys ("a.b") step into sub-objects.
	for {
		head, rest, nested := strings.Cut(key, ".")
		if !nested {
			break
		}
		sub, ok := raw[head].(map[string]any)
		if !ok {
			return ""
		}
		raw, key = sub, rest
	}
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", v), ".")
	default:
		return ""
	}
}

func init() {
	Register(Descriptor{
		Name:     "ipinfo.io",
		Supports: []string{FeatureIPv4, FeatureIPv6, FeatureASN, FeatureCity, FeatureState},
		NeedsKey: false,
		New: func(apiKey string, cfg config.GeoConfig) (Provider, error) {
			return newRemoteProvider("ipinfo.io",
				[]string{FeatureIPv4, FeatureIPv6, FeatureASN, FeatureCity, FeatureState},
				"https://ipinfo.io/%API_IP%?token=%API_KEY%", apiKey, cfg, transform{
					"countryCode": "country",
					"countryName": "country",
					"cityName":    "city",
					"stateName":   "region",
					"asn":         "org",
				}), nil
		},
	})

	Register(Descriptor{
		Name:     "ipapi",
		Supports: []string{FeatureIPv4, FeatureIPv6, FeatureCity, FeatureState},
		NeedsKey: true,
		New: func(apiKey string, cfg config.GeoConfig) (Provider, error) {
			return newRemoteProvider("ipapi",
				[]string{FeatureIPv4, FeatureIPv6, FeatureCity, FeatureState},
				"http://api.ipapi.com/%API_IP%?access_key=%API_KEY%", apiKey, cfg, transform{
					"countryCode": "country_code",
					"countryName": "country_name",
					"cityName":    "city",
					"stateName":   "region_name",
				}), nil
		},
	})

	Register(Descriptor{
		Name:     "ipstack",
		Supports: []string{FeatureIPv4, FeatureIPv6, FeatureCity, FeatureState},
		NeedsKey: true,
		New: func(apiKey string, cfg config.GeoConfig) (Provider, error) {
			return newRemoteProvider("ipstack",
				[]string{FeatureIPv4, FeatureIPv6, FeatureCity, FeatureState},
				"http://api.ipstack.com/%API_IP%?access_key=%API_KEY%&output=json", apiKey, cfg, transform{
					"countryCode": "country_code",
					"countryName": "country_name",
					"cityName":    "city",
					"stateName":   "region_name",
				}), nil
		},
	})

	Register(Descriptor{
		Name:     "ipdata",
		Supports: []string{FeatureIPv4, FeatureIPv6, FeatureASN, FeatureCity, FeatureState},
		NeedsKey: true,
		New: func(apiKey string, cfg config.GeoConfig) (Provider, error) {
			return newRemoteProvider("ipdata",
				[]string{FeatureIPv4, FeatureIPv6, FeatureASN, FeatureCity, FeatureState},
				"https://api.ipdata.co/%API_IP%?api-key=%API_KEY%", apiKey, cfg, transform{
					"countryCode": "country_code",
					"countryName": "country_name",
					"cityName":    "city",
					"stateName":   "region",
					"asn":         "asn.asn",
				}), nil
		},
	})
}
