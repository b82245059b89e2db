package validate

import (
	"strings"

	"github.com/dobrevit/geoblock-core/pkg/rules"
)

// uaContext is the request data a user-agent rule can qualify on. Hostname
// is lazy so reverse DNS only happens when a rule actually needs it.
type uaContext struct {
	UA       string
	Referer  string
	IP       string
	Country  string
	ASN      string
	Feed     bool
	Hostname func() string
}

// evalUAList applies user-agent qualification rules and returns the verdict
// of the first rule whose name and qualifier both match, or "" when no rule
// applies. Entries are comma or newline separated:
//
//	"Name:qualifier"  pass
//	"Name#qualifier"  block
//
// Name "*" matches every user agent, otherwise substring match. Qualifiers:
// "*" (always), a two-letter country code, "AS<n>", an IP or CIDR, "FEED",
// "HOST" (address reverse-resolves), "HOST=substr", "REF=substr". A leading
// "!" negates the qualifier.
func evalUAList(list string, ctx uaContext) Outcome {
	for _, entry := range rules.MultiSplit(list) {
		name, qualifier, verdict := splitUAEntry(entry)
		if name == "" {
			continue
		}
		if name != "*" && !strings.Contains(ctx.UA, name) {
			continue
		}

		negate := strings.HasPrefix(qualifier, "!")
		if negate {
			qualifier = qualifier[1:]
		}
		if matchQualifier(qualifier, ctx) != negate {
			return verdict
		}
	}
	return ""
}

func splitUAEntry(entry string) (name, qualifier string, verdict Outcome) {
	// The first ':' or '#' separates name from qualifier and carries the
	// verdict. A '#' earlier than ':' means block.
	colon := strings.Index(entry, ":")
	hash := strings.Index(entry, "#")
	switch {
	case colon < 0 && hash < 0:
		return "", "", ""
	case hash < 0 || (colon >= 0 && colon < hash):
		return entry[:colon], entry[colon+1:], OutcomePassUA
	default:
		return entry[:hash], entry[hash+1:], OutcomeBlockUA
	}
}

func matchQualifier(q string, ctx uaContext) bool {
	switch {
	case q == "*":
		return true
	case q == "FEED":
		return ctx.Feed
	case q == "HOST":
		host := ctx.Hostname()
		return host != "" && host != ctx.IP
	case strings.HasPrefix(q, "HOST="):
		return strings.Contains(ctx.Hostname(), q[len("HOST="):])
	case strings.HasPrefix(q, "REF="):
		return strings.Contains(ctx.Referer, q[len("REF="):])
	case len(q) == 2:
		return strings.EqualFold(q, ctx.Country)
	default:
		return rules.MatchExtraIPs(q, ctx.IP, ctx.ASN)
	}
}
