package optimization

import "github.com/quantpilot/governor/internal/metrics"

// estimate projects the current metrics through a proposal's net effect.
// Simple heuristic scaling: win rate shifts by percentage points, the other
// metrics by percent of their current value.
func estimate(current metrics.Metrics, net effect) metrics.Metrics {
	expected := current

	expected.WinRate = clampPct(current.WinRate + net.winRatePP)
	expected.TotalProfit = current.TotalProfit * (1 + net.profitPct/100)
	expected.ProfitPct = clampAbsPct(current.ProfitPct * (1 + net.profitPct/100))
	expected.RewardRisk = nonNegative(current.RewardRisk * (1 + net.rewardRiskPct/100))
	expected.MaxDrawdown = nonNegative(current.MaxDrawdown * (1 - net.drawdownReductionPct/100))
	expected.DrawdownPct = nonNegative(current.DrawdownPct * (1 - net.drawdownReductionPct/100))

	return expected
}

// score computes the weighted improvement components from a proposal's net
// effect. The deltas are the effect values themselves, so identical inputs
// always produce the identical score.
func score(net effect) Components {
	return Components{
		WinRate:    weightWinRate * net.winRatePP,
		Profit:     weightProfit * net.profitPct,
		RewardRisk: weightRewardRisk * net.rewardRiskPct,
		Drawdown:   weightDrawdown * net.drawdownReductionPct,
	}
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampAbsPct(v float64) float64 {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
