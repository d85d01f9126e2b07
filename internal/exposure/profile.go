package exposure

import (
	"math"
	"sort"
	"time"

	"github.com/dgnsrekt/gexbot-engine/internal/data"
	"github.com/dgnsrekt/gexbot-engine/internal/greeks"
)

// HedgeExposure is the open-interest-weighted gamma, vanna and charm of one side.
type HedgeExposure struct {
	Gamma float64 `json:"gamma"`
	Vanna float64 `json:"vanna"`
	Charm float64 `json:"charm"`
}

func (h *HedgeExposure) add(gamma, vanna, charm float64) {
	h.Gamma += gamma
	h.Vanna += vanna
	h.Charm += charm
}

// StrikeStats is the per-strike hedging profile.
type StrikeStats struct {
	Strike       float64       `json:"strike"`
	OpenInterest uint64        `json:"open_interest"`
	CallExposure HedgeExposure `json:"call_exposure"`
	PutExposure  HedgeExposure `json:"put_exposure"`
}

// StrikeProfile groups contracts by strike and sums OI-weighted gamma, vanna
// and charm per side, sorted by strike. Gamma is the vendor value when
// reported, otherwise recomputed. Vanna and charm are recomputed at spot when
// spot > 0, otherwise taken from the vendor greeks. Non-finite terms count as 0.
func (a *Aggregator) StrikeProfile(contracts []data.Contract, spot float64, now time.Time) []StrikeStats {
	local := now.In(a.location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.location)

	byStrike := make(map[string]*StrikeStats)
	for i := range contracts {
		c := &contracts[i]
		if !greeks.Finite(c.Strike) {
			continue
		}

		var gamma, vanna, charm float64
		if c.Greeks != nil {
			gamma, vanna, charm = c.Greeks.Gamma, c.Greeks.Vanna, c.Greeks.Charm
		}

		if exp, err := c.Expiration(a.location); err == nil && spot > 0 {
			years := math.Round(exp.Sub(today).Hours()/24) / greeks.DaysPerYear
			sigma := c.MidIV()
			if c.Greeks == nil {
				gamma = greeks.Gamma(sigma, years, 0, spot, c.Strike)
			}
			vanna = greeks.Vanna(sigma, years, 0, spot, c.Strike)
			charm = greeks.Charm(sigma, years, 0, spot, c.Strike)
		}

		oi := float64(c.OpenInterest)
		gamma, vanna, charm = finiteOrZero(oi*gamma), finiteOrZero(oi*vanna), finiteOrZero(oi*charm)

		key := PriceKey(c.Strike)
		stats, ok := byStrike[key]
		if !ok {
			stats = &StrikeStats{Strike: c.Strike}
			byStrike[key] = stats
		}
		stats.OpenInterest += c.OpenInterest
		if c.Side == data.Put {
			stats.PutExposure.add(gamma, vanna, charm)
		} else {
			stats.CallExposure.add(gamma, vanna, charm)
		}
	}

	profile := make([]StrikeStats, 0, len(byStrike))
	for _, stats := range byStrike {
		profile = append(profile, *stats)
	}
	sort.Slice(profile, func(i, j int) bool {
		return profile[i].Strike < profile[j].Strike
	})
	return profile
}

func finiteOrZero(x float64) float64 {
	if !greeks.Finite(x) {
		return 0
	}
	return x
}
