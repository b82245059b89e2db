package validate

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dobrevit/geoblock-core/config"
	"github.com/dobrevit/geoblock-core/pkg/dnslkup"
	"github.com/dobrevit/geoblock-core/pkg/geo"
	"github.com/dobrevit/geoblock-core/pkg/ipcache"
)

// Pipeline wires the provider chain, the IP cache and the collaborators
// into the per-request decision. It is safe for concurrent use; per-request
// state lives in Request and Result.
type Pipeline struct {
	Settings *config.Settings
	Chain    *geo.Chain
	Store    ipcache.Store
	Resolver dnslkup.Resolver
	Logs     LogStore
	Stats    StatsRecorder

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// New assembles a pipeline with the default collaborators.
func New(s *config.Settings, chain *geo.Chain, store ipcache.Store) *Pipeline {
	return &Pipeline{
		Settings: s,
		Chain:    chain,
		Store:    store,
		Logs:     NopLogStore{},
		Stats:    NopStatsRecorder{},
	}
}

func (p *Pipeline) now() int64 {
	if p.Now != nil {
		return p.Now().Unix()
	}
	return time.Now().Unix()
}

// Validate runs the full decision for a request: every candidate IP through
// the stage chain, stopping at the first blocked one. The outcome is folded
// into the cache and handed to the log store; blocked anonymous requests
// also reach the statistics recorder. Sending the blocking response is the
// caller's job.
func (p *Pipeline) Validate(q *Request) *Result {
	s := p.Settings
	stages := p.buildStages(q, s)

	ips := RetrieveIPs(q.HTTP, s.Validation.Proxy)
	if len(ips) == 0 {
		ips = []string{""}
	}

	var res *Result
	for _, ip := range ips {
		res = p.evaluate(ip, q, s, stages)
		if res.Blocked() {
			break
		}
	}

	p.finish(q, s, res)
	return res
}

// evaluate resolves one candidate IP and runs it through the stages. A
// result no stage claimed is passed.
func (p *Pipeline) evaluate(ip string, q *Request, s *config.Settings, stages []stage) *Result {
	res := &Result{
		Result: p.Chain.Resolve(ip),
		Hook:   q.Hook,
		Auth:   q.Auth,
	}
	for _, st := range stages {
		if res.Decided() {
			break
		}
		st.check(q, s, res)
	}
	res.SetOutcome(OutcomePassed)
	return res
}

func (p *Pipeline) finish(q *Request, s *config.Settings, res *Result) {
	blocked := res.Blocked()

	if q.Hook == "public" && s.Public.DNSLookup {
		p.hostname(res)
	}

	ipcache.Update(p.Store, ipcache.Snapshot{
		IP:    res.IP,
		ASN:   res.ASN,
		Code:  res.Code,
		City:  res.City,
		State: res.State,
		Host:  res.Host,
		Auth:  res.Auth,
	}, ipcache.UpdateParams{
		Hook:           q.Hook,
		Now:            p.now(),
		Fail:           ipcache.KeepFail,
		BehaviorWindow: int64(s.Public.BehaviorTime.Seconds()),
		SaveStats:      s.SaveStatistics,
		CountUp:        true,
		Hold:           s.Cache.Hold,
	})

	p.Logs.Append(q.Hook, res, s, blocked)
	if blocked && res.Auth == 0 {
		p.Stats.Record(q.Hook, res, s)
	}

	validationsTotal.WithLabelValues(q.Hook, string(res.Outcome())).Inc()
	if blocked {
		blockedTotal.WithLabelValues(q.Hook, res.Code).Inc()
		log.WithFields(log.Fields{
			"hook":     q.Hook,
			"ip":       res.IP,
			"code":     res.Code,
			"asn":      res.ASN,
			"result":   res.Outcome(),
			"provider": res.Provider,
		}).Info("Request blocked")
	}
}
