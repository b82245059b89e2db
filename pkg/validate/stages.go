package validate

import (
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/geo"
	"github.com/dobrevit/geoblock-core/pkg/rules"
)

// stage is one filter in the chain. Stages run in ascending priority and
// write their verdict through Result.SetOutcome, so the first writer wins
// whatever runs after it.
type stage struct {
	name     string
	priority int
	check    func(q *Request, s *config.Settings, res *Result)
}

// Stage priorities. Registration order breaks ties, which matters for the
// extra IP lists: the blacklist must run before the whitelist.
const (
	prioTarget    = 2
	prioClosed    = 3
	prioZEP       = 4
	prioUpload    = 5
	prioSignature = 5
	prioAuth      = 6
	prioExtraIPs  = 7
	prioFail      = 8
	prioUA        = 9
	prioBehavior  = 9
	prioCountry   = 10
)

// buildStages assembles the filter chain for one request from the per-hook
// validation settings.
func (p *Pipeline) buildStages(q *Request, s *config.Settings) []stage {
	var st []stage
	add := func(name string, prio int, check func(q *Request, s *config.Settings, res *Result)) {
		st = append(st, stage{name: name, priority: prio, check: check})
	}

	mode, country := hookMode(q, s)
	excepted := isExcepted(q, s)

	if q.Hook == "xmlrpc" {
		if s.Validation.XMLRPC == config.ModeClosed {
			add("closed", prioClosed, checkClosed)
		} else if q.Multicall {
			add("multicall", prioClosed, checkMulticall)
		}
	}

	if q.Hook == "public" && s.Public.TargetRule {
		add("target", prioTarget, checkTarget)
	}

	if mode&config.ModeZEP != 0 && !excepted {
		add("nonce", prioZEP, p.checkNonce)
	}

	if s.Validation.Mimetype > 0 && len(q.Uploads) > 0 {
		add("upload", prioUpload, checkUpload)
	}
	if len(s.Signatures) > 0 && q.Hook != "xmlrpc" {
		add("signature", prioSignature, checkSignature)
	}

	if q.Enforce {
		add("auth", prioAuth, checkAuth)
	}

	add("ips-black", prioExtraIPs, checkIPsBlack)
	add("ips-white", prioExtraIPs, checkIPsWhite)

	if (q.Hook == "login" || q.Hook == "xmlrpc") && s.Cache.Hold && s.Login.MaxFails >= 0 {
		add("fail", prioFail, p.checkFail)
	}

	if q.Hook == "public" {
		if s.Public.UAList != "" {
			add("ua", prioUA, p.checkUA)
		}
		if s.Public.Behavior {
			add("behavior", prioBehavior, p.checkBehavior)
		}
	}

	if country && !excepted {
		add("country", prioCountry, checkCountry)
	}

	sort.SliceStable(st, func(i, j int) bool { return st[i].priority < st[j].priority })
	return st
}

// hookMode returns the hook's validation bitmask and whether country
// matching applies.
func hookMode(q *Request, s *config.Settings) (mode int, country bool) {
	v := s.Validation
	switch q.Hook {
	case "comment":
		mode = v.Comment
	case "login":
		mode = v.Login
		action := q.Action
		if action == "" {
			action = "login"
		}
		if mode != config.ModeBypass && !s.Login.Actions[action] {
			mode = config.ModeBypass
		}
	case "xmlrpc":
		mode = v.XMLRPC
	case "admin":
		mode = v.Admin
	case "ajax":
		mode = v.Ajax
	case "plugins":
		mode = v.Plugins
	case "themes":
		mode = v.Themes
	case "public":
		mode = v.Public
	}
	return mode, mode&config.ModeCountry != 0
}

// isExcepted reports whether the request's admin action or page is on the
// hook's exception list.
func isExcepted(q *Request, s *config.Settings) bool {
	list := s.Exception[q.Hook]
	if len(list) == 0 || q.HTTP == nil {
		return false
	}
	query := q.HTTP.URL.Query()
	for _, name := range list {
		if query.Get("action") == name || query.Get("page") == name {
			return true
		}
	}
	return false
}

func checkClosed(q *Request, s *config.Settings, res *Result) {
	res.SetOutcome(OutcomeClosed)
}

func checkMulticall(q *Request, s *config.Settings, res *Result) {
	res.SetOutcome(OutcomeMulti)
}

// checkTarget passes public requests outside the configured target pages,
// leaving only listed paths subject to the later stages.
func checkTarget(q *Request, s *config.Settings, res *Result) {
	if q.HTTP == nil {
		return
	}
	path := q.HTTP.URL.Path
	for _, page := range s.Public.TargetPages {
		if page != "" && strings.Contains(path, page) {
			return
		}
	}
	res.SetOutcome(OutcomePassed)
}

// checkNonce settles the request either way: a private address or a valid
// token passes immediately, everything else is denied. Later stages never
// see a ZEP-validated request.
func (p *Pipeline) checkNonce(q *Request, s *config.Settings, res *Result) {
	if res.Code == geo.CodePrivate || VerifyNonce(s.Server.AuthKey, res.IP, q.QueryValue(NonceQueryKey)) {
		res.SetOutcome(OutcomePassed)
		return
	}
	res.SetOutcome(OutcomeZEP)
}

// checkUpload validates upload filenames against the extension lists and
// requires one of the configured capabilities when set.
func checkUpload(q *Request, s *config.Settings, res *Result) {
	if len(s.Mimetype.Capability) > 0 && !holdsAny(q.Caps, s.Mimetype.Capability) {
		res.SetOutcome(OutcomeUpload)
		return
	}
	for _, name := range q.Uploads {
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		switch s.Validation.Mimetype {
		case 1:
			if _, ok := s.Mimetype.WhiteList[ext]; !ok {
				res.SetOutcome(OutcomeUpload)
				return
			}
		case 2:
			for _, bad := range s.Mimetype.BlackList {
				if strings.EqualFold(bad, ext) {
					res.SetOutcome(OutcomeUpload)
					return
				}
			}
		}
	}
}

func holdsAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// checkSignature scores malicious fragments found in the request path,
// query and form body. Entries are "fragment" or "fragment:score"; scores
// accumulate and anything above 1.0 blocks. Fragments made of only word
// characters must match on word boundaries, so "eval" never fires inside
// "medieval".
func checkSignature(q *Request, s *config.Settings, res *Result) {
	if q.HTTP == nil {
		return
	}
	targets := signatureTargets(q)

	total := 0.0
	for _, sig := range s.Signatures {
		frag, score := splitSignature(sig)
		if frag == "" || !matchSignature(frag, targets) {
			continue
		}
		total += score
		if total > 0.99 {
			res.SetOutcome(OutcomeBadSig)
			return
		}
	}
}

func signatureTargets(q *Request) []string {
	raw := q.HTTP.URL.Path + "?" + q.HTTP.URL.RawQuery
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	targets := []string{strings.ToLower(raw)}
	for _, vals := range q.Form {
		for _, v := range vals {
			targets = append(targets, strings.ToLower(v))
		}
	}
	return targets
}

func matchSignature(frag string, targets []string) bool {
	word := isWordOnly(frag)
	for _, t := range targets {
		if word {
			if containsWord(t, frag) {
				return true
			}
		} else if strings.Contains(t, frag) {
			return true
		}
	}
	return false
}

func isWordOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) {
			return false
		}
	}
	return s != ""
}

func isWordByte(c byte) bool {
	return c == '_' ||
		('0' <= c && c <= '9') ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z')
}

func containsWord(s, frag string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], frag)
		if j < 0 {
			return false
		}
		j += i
		before := j == 0 || !isWordByte(s[j-1])
		after := j+len(frag) >= len(s) || !isWordByte(s[j+len(frag)])
		if before && after {
			return true
		}
		i = j + 1
	}
}

func splitSignature(sig string) (string, float64) {
	frag, scoreStr, found := strings.Cut(sig, ":")
	frag = strings.ToLower(strings.TrimSpace(frag))
	score := 1.0
	if found {
		if v, err := strconv.ParseFloat(strings.TrimSpace(scoreStr), 64); err == nil {
			score = v
		}
	}
	return frag, score
}

// checkAuth passes authenticated users: auth trumps geography on every
// hook that registers it.
func checkAuth(q *Request, s *config.Settings, res *Result) {
	if res.Auth != 0 {
		res.SetOutcome(OutcomePassed)
	}
}

func checkIPsBlack(q *Request, s *config.Settings, res *Result) {
	if rules.MatchExtraIPs(s.ExtraIPs.BlackList, res.IP, res.ASN) {
		res.SetOutcome(OutcomeExtra)
	}
}

func checkIPsWhite(q *Request, s *config.Settings, res *Result) {
	if rules.MatchExtraIPs(s.ExtraIPs.WhiteList, res.IP, res.ASN) {
		res.SetOutcome(OutcomePassed)
	}
}

// checkFail blocks an IP whose recorded failed-login count exceeds the
// threshold. Extra-whitelisted IPs are never limited.
func (p *Pipeline) checkFail(q *Request, s *config.Settings, res *Result) {
	if rules.MatchExtraIPs(s.ExtraIPs.WhiteList, res.IP, res.ASN) {
		return
	}
	entry, err := p.Store.Get(res.IP)
	if err != nil || entry == nil {
		return
	}
	max := s.Login.MaxFails
	if max < 0 {
		max = 0
	}
	if entry.Fail > max {
		res.SetOutcome(OutcomeLimited)
	}
}

func (p *Pipeline) checkUA(q *Request, s *config.Settings, res *Result) {
	referer := ""
	feed := false
	if q.HTTP != nil {
		referer = q.HTTP.Referer()
		feed = q.HTTP.URL.Query().Has("feed") || strings.Contains(q.HTTP.URL.Path, "/feed")
	}
	outcome := evalUAList(s.Public.UAList, uaContext{
		UA:      q.UserAgent(),
		Referer: referer,
		IP:      res.IP,
		Country: res.Code,
		ASN:     res.ASN,
		Feed:    feed,
		Hostname: func() string {
			return p.hostname(res)
		},
	})
	res.SetOutcome(outcome)
}

// checkBehavior blocks clients paging faster than a human: the cached view
// counter reached the threshold within the behavior window.
func (p *Pipeline) checkBehavior(q *Request, s *config.Settings, res *Result) {
	entry, err := p.Store.Get(res.IP)
	if err != nil || entry == nil {
		return
	}
	window := int64(s.Public.BehaviorTime.Seconds())
	if entry.View >= s.Public.BehaviorView && p.now()-entry.Last <= window {
		res.SetOutcome(OutcomeBadBot)
	}
}

// checkCountry is the fallback list match for requests no earlier stage
// decided on.
func checkCountry(q *Request, s *config.Settings, res *Result) {
	rule, white, black := s.Rules.MatchingRule, s.Rules.WhiteList, s.Rules.BlackList
	if q.Hook == "public" && s.Public.MatchingRule != config.RuleUnconfigured {
		rule, white, black = s.Public.MatchingRule, s.Public.WhiteList, s.Public.BlackList
	}
	res.SetOutcome(ValidateLookupResult(rule, white, black, res))
}

// ValidateLookupResult evaluates a resolved location against a matching
// rule. Private addresses always pass; an unknown country blocks under a
// whitelist (not listed) and passes under a blacklist unless the blacklist
// names ZZ explicitly.
func ValidateLookupResult(rule int, whiteList, blackList string, res *Result) Outcome {
	if res.Code == geo.CodePrivate {
		return OutcomePassed
	}
	place := rules.Place{Code: res.Code, City: res.City, State: res.State}
	switch rule {
	case config.RuleWhitelist:
		if rules.MatchList(whiteList, place) {
			return OutcomePassed
		}
		return OutcomeBlocked
	case config.RuleBlacklist:
		if rules.MatchList(blackList, place) {
			return OutcomeBlocked
		}
		return OutcomePassed
	default:
		return OutcomePassed
	}
}

// hostname resolves and caches the reverse DNS name on the result.
func (p *Pipeline) hostname(res *Result) string {
	if res.Host != "" {
		return res.Host
	}
	if p.Resolver == nil {
		res.Host = res.IP
		return res.Host
	}
	res.Host = p.Resolver.Hostname(res.IP)
	return res.Host
}
