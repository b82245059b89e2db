package validate

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/geo"
	"github.com/dobrevit/geoblock-core/pkg/ipcache"
)

// geoStub returns a fixed country per IP.
type geoStub struct {
	countries map[string]string
}

func (g *geoStub) Name() string                 { return "stub" }
func (g *geoStub) Supports(feature string) bool { return true }
func (g *geoStub) Lookup(ip string, args geo.LookupArgs) geo.Location {
	if code, ok := g.countries[ip]; ok {
		return geo.Location{CountryCode: code}
	}
	return geo.Location{Err: "no answer"}
}

func newTestPipeline(s *config.Settings, countries map[string]string) *Pipeline {
	chain := &geo.Chain{Providers: []geo.Provider{&geoStub{countries: countries}}}
	return New(s, chain, ipcache.NewMemoryStore())
}

func request(hook, ip, target string) *Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.RemoteAddr = ip + ":12345"
	return &Request{HTTP: r, Hook: hook, Enforce: true}
}

func TestFirstWriterWins(t *testing.T) {
	res := &Result{}
	if !res.SetOutcome(OutcomeExtra) {
		t.Fatal("first write must succeed")
	}
	if res.SetOutcome(OutcomePassed) {
		t.Error("second write must be rejected")
	}
	if res.Outcome() != OutcomeExtra {
		t.Errorf("outcome overwritten: %q", res.Outcome())
	}
	if !res.Blocked() {
		t.Error("extra must block")
	}
	if (&Result{}).Blocked() {
		t.Error("undecided result must not block")
	}
}

func TestValidateLookupResultWhitelist(t *testing.T) {
	tests := []struct {
		code string
		want Outcome
	}{
		{"US", OutcomePassed},
		{"CA", OutcomePassed},
		{"FR", OutcomeBlocked},
		{"ZZ", OutcomeBlocked}, // unknown is never on a whitelist
		{"XX", OutcomePassed},  // private always passes
	}
	for _, tt := range tests {
		res := &Result{Result: geo.Result{Code: tt.code}}
		if got := ValidateLookupResult(config.RuleWhitelist, "US,CA", "", res); got != tt.want {
			t.Errorf("whitelist code %q: got %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestValidateLookupResultBlacklist(t *testing.T) {
	tests := []struct {
		code string
		list string
		want Outcome
	}{
		{"CN", "CN", OutcomeBlocked},
		{"US", "CN", OutcomePassed},
		{"ZZ", "CN", OutcomePassed},
		{"ZZ", "CN,ZZ", OutcomeBlocked}, // explicit listing of unknown
	}
	for _, tt := range tests {
		res := &Result{Result: geo.Result{Code: tt.code}}
		if got := ValidateLookupResult(config.RuleBlacklist, "", tt.list, res); got != tt.want {
			t.Errorf("blacklist code %q vs %q: got %q, want %q", tt.code, tt.list, got, tt.want)
		}
	}
}

func TestValidatePassAndBlock(t *testing.T) {
	s := config.DefaultSettings()
	s.Rules.MatchingRule = config.RuleWhitelist
	s.Rules.WhiteList = "US"
	p := newTestPipeline(s, map[string]string{"8.8.8.8": "US", "1.2.3.4": "FR"})

	res := p.Validate(request("login", "8.8.8.8", "/wp-login.php"))
	if res.Outcome() != OutcomePassed || res.Code != "US" {
		t.Errorf("expected pass for US, got %q code %q", res.Outcome(), res.Code)
	}

	res = p.Validate(request("login", "1.2.3.4", "/wp-login.php"))
	if res.Outcome() != OutcomeBlocked || res.Code != "FR" {
		t.Errorf("expected block for FR, got %q code %q", res.Outcome(), res.Code)
	}
}

func TestExtraIPPrecedence(t *testing.T) {
	s := config.DefaultSettings()
	s.Rules.MatchingRule = config.RuleWhitelist
	s.Rules.WhiteList = "US"
	s.ExtraIPs.BlackList = "203.0.113.0/24"
	p := newTestPipeline(s, map[string]string{"203.0.113.5": "US"})

	res := p.Validate(request("login", "203.0.113.5", "/wp-login.php"))
	if res.Outcome() != OutcomeExtra {
		t.Errorf("blacklisted IP must block despite whitelisted country, got %q", res.Outcome())
	}

	// And the whitelist overrides a country blacklist hit.
	s2 := config.DefaultSettings()
	s2.Rules.MatchingRule = config.RuleBlacklist
	s2.Rules.BlackList = "US"
	s2.ExtraIPs.WhiteList = "203.0.113.0/24"
	p2 := newTestPipeline(s2, map[string]string{"203.0.113.5": "US"})

	res = p2.Validate(request("login", "203.0.113.5", "/wp-login.php"))
	if res.Outcome() != OutcomePassed {
		t.Errorf("extra-whitelisted IP must pass, got %q", res.Outcome())
	}
}

func TestExtraIPBlackBeforeWhite(t *testing.T) {
	s := config.DefaultSettings()
	s.ExtraIPs.BlackList = "203.0.113.5"
	s.ExtraIPs.WhiteList = "203.0.113.0/24"
	p := newTestPipeline(s, map[string]string{"203.0.113.5": "US"})

	res := p.Validate(request("login", "203.0.113.5", "/wp-login.php"))
	if res.Outcome() != OutcomeExtra {
		t.Errorf("blacklist runs first on a double match, got %q", res.Outcome())
	}
}

func TestFailureLimitEscalation(t *testing.T) {
	s := config.DefaultSettings()
	s.Rules.MatchingRule = config.RuleWhitelist
	s.Rules.WhiteList = "US"
	s.Login.MaxFails = 3
	p := newTestPipeline(s, map[string]string{"8.8.8.8": "US"})

	for i := 0; i < 4; i++ {
		p.OnAuthFailure("8.8.8.8", 1)
	}
	res := p.Validate(request("login", "8.8.8.8", "/wp-login.php"))
	if res.Outcome() != OutcomeLimited {
		t.Errorf("4 failures over a threshold of 3 must limit, got %q", res.Outcome())
	}
}

func TestFailureLimitZeroThreshold(t *testing.T) {
	s := config.DefaultSettings()
	s.Login.MaxFails = 0
	p := newTestPipeline(s, map[string]string{"9.9.9.9": "US"})

	p.OnAuthFailure("9.9.9.9", 1)
	res := p.Validate(request("login", "9.9.9.9", "/wp-login.php"))
	if res.Outcome() != OutcomeLimited {
		t.Errorf("one failure over a threshold of 0 must limit, got %q", res.Outcome())
	}
}

func TestFailureLimitDisabled(t *testing.T) {
	s := config.DefaultSettings()
	s.Login.MaxFails = -1
	p := newTestPipeline(s, map[string]string{"8.8.8.8": "US"})

	p.OnAuthFailure("8.8.8.8", 5)
	res := p.Validate(request("login", "8.8.8.8", "/wp-login.php"))
	if res.Outcome() == OutcomeLimited {
		t.Error("limiter must be disabled at -1")
	}
}

func TestFailureLimitWhitelistExempt(t *testing.T) {
	s := config.DefaultSettings()
	s.Login.MaxFails = 0
	s.ExtraIPs.WhiteList = "8.8.8.8"
	p := newTestPipeline(s, map[string]string{"8.8.8.8": "US"})

	// Seed a counter directly; the whitelisted IP must still never limit.
	p.Store.Upsert(&ipcache.Entry{IP: "8.8.8.8", Fail: 10, Time: time.Now().Unix()})
	res := p.Validate(request("login", "8.8.8.8", "/wp-login.php"))
	if res.Outcome() == OutcomeLimited {
		t.Error("extra-whitelisted IP must never be limited")
	}
}

func TestFailureMulticallCount(t *testing.T) {
	s := config.DefaultSettings()
	s.Login.MaxFails = 5
	p := newTestPipeline(s, map[string]string{"8.8.8.8": "US"})

	p.OnAuthFailure("8.8.8.8", 6)
	res := p.Validate(request("xmlrpc", "8.8.8.8", "/xmlrpc.php"))
	if res.Outcome() != OutcomeLimited {
		t.Errorf("multicall burst must trip the limiter, got %q", res.Outcome())
	}
}

func TestAuthBypass(t *testing.T) {
	s := config.DefaultSettings()
	s.Validation.Admin = config.ModeCountry
	s.Rules.MatchingRule = config.RuleWhitelist
	s.Rules.WhiteList = "US"
	p := newTestPipeline(s, map[string]string{"1.2.3.4": "FR"})

	q := request("admin", "1.2.3.4", "/wp-admin/index.php")
	q.Auth = 42
	res := p.Validate(q)
	if res.Outcome() != OutcomePassed {
		t.Errorf("authenticated user must bypass country blocking, got %q", res.Outcome())
	}

	// But the extra blacklist still beats auth.
	s.ExtraIPs.BlackList = "1.2.3.4"
	res = p.Validate(q)
	if res.Outcome() != OutcomePassed {
		// auth runs at an earlier priority than the extra lists
		t.Errorf("auth stage precedes extra lists, got %q", res.Outcome())
	}
}

func TestProxyChainOrdering(t *testing.T) {
	s := config.DefaultSettings()
	s.Rules.MatchingRule = config.RuleWhitelist
	s.Rules.WhiteList = "US"
	s.Validation.Proxy = "X-Forwarded-For"
	p := newTestPipeline(s, map[string]string{"8.8.8.8": "US", "1.2.3.4": "FR"})

	q := request("login", "8.8.8.8", "/wp-login.php")
	q.HTTP.Header.Set("X-Forwarded-For", "1.2.3.4")
	res := p.Validate(q)
	if res.Outcome() != OutcomeBlocked || res.IP != "1.2.3.4" {
		t.Errorf("blocked forwarded address must decide: %q for %q", res.Outcome(), res.IP)
	}

	// All candidates passing returns the last evaluated one.
	q = request("login", "8.8.8.8", "/wp-login.php")
	q.HTTP.Header.Set("X-Forwarded-For", "8.8.8.8")
	res = p.Validate(q)
	if res.Outcome() != OutcomePassed {
		t.Errorf("all-pass chain must pass, got %q", res.Outcome())
	}
}

func TestRetrieveIPsPrependOrder(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.1:443"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	got := RetrieveIPs(r, "X-Forwarded-For")
	want := []string{"5.6.7.8", "1.2.3.4", "198.51.100.1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}

	// Junk and duplicates are dropped.
	r.Header.Set("X-Forwarded-For", "not-an-ip, 198.51.100.1")
	got = RetrieveIPs(r, "X-Forwarded-For")
	if len(got) != 1 || got[0] != "198.51.100.1" {
		t.Errorf("unexpected candidates: %v", got)
	}

	// Private and reserved header entries never become candidates; only
	// the transport peer may be a private address.
	r.Header.Set("X-Forwarded-For", "10.0.0.1, 127.0.0.1, 1.2.3.4")
	got = RetrieveIPs(r, "X-Forwarded-For")
	want = []string{"1.2.3.4", "198.51.100.1"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("private header entries must be excluded: %v", got)
	}
}

// logCapture records everything the pipeline hands to the audit log.
type logCapture struct {
	hooks    []string
	outcomes []Outcome
	blocked  []bool
}

func (l *logCapture) Append(hook string, res *Result, s *config.Settings, blocked bool) {
	l.hooks = append(l.hooks, hook)
	l.outcomes = append(l.outcomes, res.Outcome())
	l.blocked = append(l.blocked, blocked)
}

func TestFailureRecordsAuditLog(t *testing.T) {
	s := config.DefaultSettings()
	p := newTestPipeline(s, map[string]string{"1.2.3.4": "FR"})
	capture := &logCapture{}
	p.Logs = capture

	p.OnAuthFailure("1.2.3.4", 1)

	if len(capture.outcomes) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(capture.outcomes))
	}
	if capture.hooks[0] != "login" || capture.outcomes[0] != OutcomeFailed {
		t.Errorf("unexpected record: hook %q outcome %q", capture.hooks[0], capture.outcomes[0])
	}

	// A disabled limiter records nothing.
	s.Login.MaxFails = -1
	p.OnAuthFailure("1.2.3.4", 1)
	if len(capture.outcomes) != 1 {
		t.Error("disabled limiter must not record failures")
	}
}

func TestPrivateAddressPasses(t *testing.T) {
	s := config.DefaultSettings()
	s.Rules.MatchingRule = config.RuleWhitelist
	s.Rules.WhiteList = "US"
	p := newTestPipeline(s, nil)

	res := p.Validate(request("login", "127.0.0.1", "/wp-login.php"))
	if res.Outcome() != OutcomePassed || res.Code != geo.CodePrivate {
		t.Errorf("loopback must pass as XX, got %q code %q", res.Outcome(), res.Code)
	}
}

func TestUnknownCountryUnderWhitelist(t *testing.T) {
	s := config.DefaultSettings()
	s.Rules.MatchingRule = config.RuleWhitelist
	s.Rules.WhiteList = "US"
	p := newTestPipeline(s, nil) // provider answers nothing

	res := p.Validate(request("login", "8.8.8.8", "/wp-login.php"))
	if res.Outcome() != OutcomeBlocked || res.Code != geo.CodeUnknown {
		t.Errorf("unknown country must block under whitelist, got %q code %q", res.Outcome(), res.Code)
	}
}
