// Package dnslkup resolves client IPs back to hostnames for user-agent
// qualification on the public hook.
package dnslkup

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"
)

// Resolver turns an IP address into a hostname. Implementations return the
// IP itself when no name can be found, so callers can compare the two to
// detect an unresolved address.
type Resolver interface {
	Hostname(ip string) string
}

// NetResolver resolves through the system stack and memoizes per process,
// so one request triggers at most one PTR query per IP.
type NetResolver struct {
	Timeout time.Duration

	cache sync.Map // ip -> hostname
}

// NewNetResolver creates a resolver with the given per-lookup timeout.
func NewNetResolver(timeout time.Duration) *NetResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NetResolver{Timeout: timeout}
}

func (r *NetResolver) Hostname(ip string) string {
	if v, ok := r.cache.Load(ip); ok {
		return v.(string)
	}

	host := ip
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err == nil && len(names) > 0 {
		host = strings.TrimSuffix(names[0], ".")
	}

	r.cache.Store(ip, host)
	return host
}

// StaticResolver serves lookups from a fixed map. Used in tests and when
// reverse lookups are disabled.
type StaticResolver map[string]string

func (r StaticResolver) Hostname(ip string) string {
	if host, ok := r[ip]; ok {
		return host
	}
	return ip
}
