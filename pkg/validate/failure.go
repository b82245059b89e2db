package validate

import (
	log "github.com/sirupsen/logrus"

	"github.com/dobrevit/geoblock-core/pkg/geo"
	"github.com/dobrevit/geoblock-core/pkg/ipcache"
	"github.com/dobrevit/geoblock-core/pkg/rules"
)

// OnAuthFailure records failed login attempts against an IP. count is
// normally 1; an XML-RPC system.multicall body counts once per embedded
// call. The raised counter takes effect on the next validation of that IP,
// where the failure stage compares it to the threshold. A MaxFails of -1
// disables recording entirely, and extra-whitelisted IPs are never counted
// up since the limit can never apply to them.
func (p *Pipeline) OnAuthFailure(ip string, count int) {
	s := p.Settings
	if s.Login.MaxFails < 0 || count < 1 {
		return
	}

	prev, err := p.Store.Get(ip)
	if err != nil {
		log.WithFields(log.Fields{"ip": ip, "error": err}).Warn("Failure counter read failed")
		return
	}

	snap := ipcache.Snapshot{IP: ip}
	fail := count
	if prev != nil {
		fail = prev.Fail + count
		snap.ASN = prev.ASN
		snap.Code = prev.Code
		snap.City = prev.City
		snap.State = prev.State
		snap.Host = prev.Host
	} else {
		snap.Code = p.Chain.Resolve(ip).Code
	}

	if rules.MatchExtraIPs(s.ExtraIPs.WhiteList, ip, snap.ASN) {
		return
	}

	ipcache.Update(p.Store, snap, ipcache.UpdateParams{
		Hook:      "login",
		Now:       p.now(),
		Fail:      fail,
		SaveStats: s.SaveStatistics,
		Hold:      s.Cache.Hold,
	})

	// The failure itself is audited, not just the eventual limit.
	res := &Result{
		Result: geo.Result{
			IP:   ip,
			ASN:  snap.ASN,
			Code: snap.Code,
		},
		Hook: "login",
		Host: snap.Host,
	}
	res.SetOutcome(OutcomeFailed)
	p.Logs.Append("login", res, s, true)
	p.Stats.Record("login", res, s)

	log.WithFields(log.Fields{"ip": ip, "fail": fail}).Debug("Login failure recorded")
}
