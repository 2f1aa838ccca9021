package optimization

import (
	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/versions"
)

// Metric thresholds the adjustment rules test against.
const (
	acceptableWinRate = 45.0 // win rate at or above this is "working"
	weakRewardRisk    = 1.5  // reward:risk below this is worth widening
	strongRewardRisk  = 2.0  // reward:risk at or above this can afford looser stops
	highDrawdownPct   = 15.0 // drawdown above this calls for tighter stops
	lowTradeCount     = 100  // below this, entry-increasing rules may fire
)

// effect is a rule's heuristic estimate of how the adjusted parameter would
// move the key metrics: win rate in percentage points, the others in
// percent of their current value. Drawdown is expressed as a reduction, so
// positive means less drawdown.
type effect struct {
	winRatePP            float64
	profitPct            float64
	rewardRiskPct        float64
	drawdownReductionPct float64
}

// rule is one heuristic adjustment: when applies holds, scale param by
// factor. Factors stay within the default max-delta safeguard (20%) so a
// single rule can never propose an out-of-bounds change on its own.
type rule struct {
	name    string
	param   string
	factor  float64
	effect  effect
	applies func(m metrics.Metrics) bool
}

// ruleSet is evaluated in declaration order, which makes the composed
// proposal deterministic for identical metrics.
var ruleSet = []rule{
	{
		name:   "widen_take_profit",
		param:  "take_profit_multiplier",
		factor: 1.15,
		effect: effect{winRatePP: 0, profitPct: 20, rewardRiskPct: 45, drawdownReductionPct: 10},
		applies: func(m metrics.Metrics) bool {
			return m.WinRate >= acceptableWinRate && m.RewardRisk > 0 && m.RewardRisk < weakRewardRisk
		},
	},
	{
		name:   "relax_confidence_floor",
		param:  "confidence_floor",
		factor: 0.90,
		effect: effect{winRatePP: -1, profitPct: 12, rewardRiskPct: 0, drawdownReductionPct: 0},
		applies: func(m metrics.Metrics) bool {
			return m.WinRate < acceptableWinRate && m.TradeCount < lowTradeCount
		},
	},
	{
		name:   "tighten_stop",
		param:  "stop_loss_multiplier",
		factor: 0.85,
		effect: effect{winRatePP: -2, profitPct: 5, rewardRiskPct: 10, drawdownReductionPct: 30},
		applies: func(m metrics.Metrics) bool {
			return m.DrawdownPct > highDrawdownPct
		},
	},
	{
		name:   "loosen_stop_for_entries",
		param:  "stop_loss_multiplier",
		factor: 1.10,
		effect: effect{winRatePP: 4, profitPct: 10, rewardRiskPct: -10, drawdownReductionPct: -10},
		applies: func(m metrics.Metrics) bool {
			return m.RewardRisk >= strongRewardRisk && m.TradeCount < lowTradeCount
		},
	},
}

// Proposal is the composed outcome of all fired rules.
type Proposal struct {
	// Fired lists the rule names that contributed, in evaluation order.
	Fired []string
	// Params is the adjusted parameter map.
	Params versions.Params
	// Net is the summed effect of all fired rules.
	Net effect
}

// applyRules evaluates the rule set against the metrics and composes the
// fired rules into one proposal. Rules targeting a parameter absent from
// the current map are skipped: the engine never invents parameters the
// indicator does not declare. Returns nil when nothing fired.
func applyRules(m metrics.Metrics, current versions.Params) *Proposal {
	var p *Proposal
	for _, r := range ruleSet {
		if !r.applies(m) {
			continue
		}
		if _, ok := current[r.param]; !ok {
			continue
		}

		if p == nil {
			p = &Proposal{Params: current.Clone()}
		}
		// Factors compose multiplicatively when multiple rules touch the
		// same parameter.
		p.Params[r.param] *= r.factor
		p.Fired = append(p.Fired, r.name)
		p.Net.winRatePP += r.effect.winRatePP
		p.Net.profitPct += r.effect.profitPct
		p.Net.rewardRiskPct += r.effect.rewardRiskPct
		p.Net.drawdownReductionPct += r.effect.drawdownReductionPct
	}
	return p
}
