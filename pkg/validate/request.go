package validate

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dobrevit/geoblock-core/pkg/rules"
)

// Request is the pipeline's view of one incoming HTTP request.
type Request struct {
	HTTP *http.Request

	Hook   string // comment, login, admin, ajax, xmlrpc, plugins, themes, public
	Auth   int    // authenticated user ID, 0 for anonymous
	Action string // login hook: login, register, resetpass, lostpassword, logout

	// Form holds decoded form-body values for the signature check. The
	// caller parses them so the pipeline never consumes the request body.
	Form url.Values

	// Uploads lists filenames of multipart uploads carried by the request.
	Uploads []string
	// Caps lists the authenticated user's capabilities, for upload checks.
	Caps []string

	// Multicall marks an XML-RPC body invoking system.multicall.
	Multicall bool

	// Enforce registers the auth-bypass stage; re-validations that only
	// refresh the cache leave it off.
	Enforce bool
}

// UserAgent returns the request's user-agent header, "" without a request.
func (q *Request) UserAgent() string {
	if q.HTTP == nil {
		return ""
	}
	return q.HTTP.UserAgent()
}

// QueryValue returns the named query parameter, falling back to the
// "X-<name>" request header.
func (q *Request) QueryValue(name string) string {
	if q.HTTP == nil {
		return ""
	}
	if v := q.HTTP.URL.Query().Get(name); v != "" {
		return v
	}
	return q.HTTP.Header.Get("X-" + name)
}

// RetrieveIPs collects the candidate client addresses for a request: the
// transport peer plus any addresses from the configured proxy headers.
// Header-derived addresses are prepended as found, so the entry from the
// last header position ends up first and the peer address last. Duplicates,
// unparsable entries and private or reserved header addresses are dropped.
func RetrieveIPs(r *http.Request, proxyHeaders string) []string {
	var ips []string
	if r != nil && r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if net.ParseIP(host) != nil {
			ips = append(ips, host)
		}
	}

	if r == nil || proxyHeaders == "" {
		return ips
	}

	seen := make(map[string]bool, len(ips))
	for _, ip := range ips {
		seen[ip] = true
	}

	for _, header := range rules.MultiSplit(proxyHeaders) {
		for _, raw := range strings.Split(r.Header.Get(header), ",") {
			ip := strings.TrimSpace(raw)
			parsed := net.ParseIP(ip)
			if parsed == nil || seen[ip] || reservedIP(parsed) {
				continue
			}
			seen[ip] = true
			ips = append([]string{ip}, ips...)
		}
	}
	return ips
}

// reservedIP reports addresses that can never name a real client behind a
// proxy. A spoofed header entry from these ranges would otherwise shadow
// the routable candidates.
func reservedIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
