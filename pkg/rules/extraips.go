package rules

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// MatchExtraIPs reports whether the IP or its ASN matches any entry of the
// extra list. Entries are comma or newline separated and are either a bare
// IP, an IP with CIDR prefix ("203.0.113.0/24", "2001:db8::/32") or an AS
// number ("AS1234"). Prefix lengths are clamped to the address family;
// malformed entries never match.
func MatchExtraIPs(list, ip, asn string) bool {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	v4 := addr.To4() != nil

	for _, entry := range MultiSplit(list) {
		if asn != "" && strings.EqualFold(entry, asn) {
			return true
		}
		network, err := parseCIDR(entry, v4)
		if err != nil {
			continue
		}
		if network.Contains(addr) {
			return true
		}
	}
	return false
}

func parseCIDR(entry string, v4 bool) (*net.IPNet, error) {
	max := 128
	if v4 {
		max = 32
	}

	host, prefix, found := strings.Cut(entry, "/")
	bits := max
	if found {
		n, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			n = 0
		}
		if n > max {
			n = max
		}
		bits = n
	}

	addr := net.ParseIP(host)
	if addr == nil {
		return nil, fmt.Errorf("not an IP: %s", host)
	}
	if v4 != (addr.To4() != nil) {
		return nil, fmt.Errorf("address family mismatch: %s", host)
	}

	mask := net.CIDRMask(bits, max)
	return &net.IPNet{IP: addr.Mask(mask), Mask: mask}, nil
}
