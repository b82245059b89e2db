// Package validate is the request validation pipeline: given a hook and the
// candidate client IPs it decides pass or block from geolocation, extra IP
// lists, failure counters and the per-hook heuristics.
package validate

import (
	"strings"

	"github.com/dobrevit/geoblock-core/pkg/geo"
)

// Outcome is the pipeline verdict. Anything not prefixed "pass" blocks.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"  // explicitly allowed
	OutcomeBlocked Outcome = "blocked" // country rule
	OutcomeExtra   Outcome = "extra"   // extra IP/ASN blacklist
	OutcomeLimited Outcome = "limited" // failed-login threshold exceeded
	OutcomeFailed  Outcome = "failed"  // recorded login failure
	OutcomeUpload  Outcome = "upload"  // forbidden upload
	OutcomeBadSig  Outcome = "badsig"  // malicious query signature
	OutcomePassUA  Outcome = "passUA"  // user-agent pass rule
	OutcomeBlockUA Outcome = "blockUA" // user-agent block rule
	OutcomeBadBot  Outcome = "badbot"  // bad-behavior rate
	OutcomeClosed  Outcome = "closed"  // XML-RPC completely closed
	OutcomeZEP     Outcome = "wp-zep"  // zero-day exploit prevention (bad nonce)
	OutcomeMulti   Outcome = "multi"   // XML-RPC system.multicall
)

// Blocked reports whether the outcome denies the request.
func (o Outcome) Blocked() bool {
	return o != "" && !strings.HasPrefix(string(o), "pass")
}

// Result carries one candidate IP through the stage chain. The outcome
// field is write-once: the first stage to decide wins and later stages
// cannot overwrite it.
type Result struct {
	geo.Result

	Hook string
	Host string // reverse-resolved hostname, filled on demand
	Auth int    // authenticated user ID, 0 for anonymous

	outcome Outcome
}

// SetOutcome records the verdict unless one is already present. It reports
// whether this call was the writer.
func (r *Result) SetOutcome(o Outcome) bool {
	if r.outcome != "" || o == "" {
		return false
	}
	r.outcome = o
	return true
}

// Outcome returns the verdict, or "" while undecided.
func (r *Result) Outcome() Outcome { return r.outcome }

// Decided reports whether any stage has produced a verdict.
func (r *Result) Decided() bool { return r.outcome != "" }

// Blocked reports whether the final verdict denies the request. An
// undecided result does not block.
func (r *Result) Blocked() bool { return r.outcome.Blocked() }
