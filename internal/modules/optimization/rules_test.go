package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/versions"
)

func TestApplyRules_WidenTakeProfit(t *testing.T) {
	m := metrics.Metrics{TradeCount: 100, WinRate: 47.0, RewardRisk: 1.3, DrawdownPct: 8.0}
	current := versions.Params{"take_profit_multiplier": 3.0, "stop_loss_multiplier": 2.0}

	p := applyRules(m, current)
	require.NotNil(t, p)
	assert.Equal(t, []string{"widen_take_profit"}, p.Fired)
	assert.InDelta(t, 3.45, p.Params["take_profit_multiplier"], 1e-9)
	assert.Equal(t, 2.0, p.Params["stop_loss_multiplier"], "untouched parameters are carried unchanged")
}

func TestApplyRules_NoRuleFires(t *testing.T) {
	// Healthy metrics: good win rate, strong reward:risk, plenty of trades,
	// low drawdown.
	m := metrics.Metrics{TradeCount: 300, WinRate: 58.0, RewardRisk: 1.8, DrawdownPct: 6.0}
	p := applyRules(m, versions.Params{"take_profit_multiplier": 3.0})
	assert.Nil(t, p)
}

func TestApplyRules_SkipsAbsentParameter(t *testing.T) {
	m := metrics.Metrics{TradeCount: 100, WinRate: 47.0, RewardRisk: 1.3, DrawdownPct: 8.0}

	// widen_take_profit would fire, but the indicator has no take-profit
	// parameter to widen.
	p := applyRules(m, versions.Params{"stop_loss_multiplier": 2.0})
	assert.Nil(t, p)
}

func TestApplyRules_ComposesOnSameParameter(t *testing.T) {
	// High drawdown plus strong reward:risk on a thin trade set: both stop
	// rules fire and compose multiplicatively.
	m := metrics.Metrics{TradeCount: 40, WinRate: 50.0, RewardRisk: 2.5, DrawdownPct: 20.0}
	current := versions.Params{"stop_loss_multiplier": 2.0}

	p := applyRules(m, current)
	require.NotNil(t, p)
	assert.Equal(t, []string{"tighten_stop", "loosen_stop_for_entries"}, p.Fired)
	assert.InDelta(t, 2.0*0.85*1.10, p.Params["stop_loss_multiplier"], 1e-9)
	assert.InDelta(t, 2.0, p.Net.winRatePP, 1e-9, "effects sum across fired rules")
}

func TestApplyRules_InputNotMutated(t *testing.T) {
	m := metrics.Metrics{TradeCount: 100, WinRate: 47.0, RewardRisk: 1.3, DrawdownPct: 8.0}
	current := versions.Params{"take_profit_multiplier": 3.0}

	_ = applyRules(m, current)
	assert.Equal(t, 3.0, current["take_profit_multiplier"])
}

func TestScore_WeightedComponents(t *testing.T) {
	comps := score(effect{winRatePP: 5, profitPct: 20, rewardRiskPct: 30, drawdownReductionPct: 20})

	assert.InDelta(t, 2.0, comps.WinRate, 1e-9)
	assert.InDelta(t, 6.0, comps.Profit, 1e-9)
	assert.InDelta(t, 6.0, comps.RewardRisk, 1e-9)
	assert.InDelta(t, 2.0, comps.Drawdown, 1e-9)
	assert.InDelta(t, 16.0, comps.Total(), 1e-9)
}

func TestEstimate_ScalesMetrics(t *testing.T) {
	current := metrics.Metrics{
		WinRate:     50.0,
		TotalProfit: 1000.0,
		ProfitPct:   10.0,
		RewardRisk:  1.5,
		MaxDrawdown: 200.0,
		DrawdownPct: 12.0,
	}

	expected := estimate(current, effect{winRatePP: -2, profitPct: 10, rewardRiskPct: 20, drawdownReductionPct: 25})

	assert.InDelta(t, 48.0, expected.WinRate, 1e-9)
	assert.InDelta(t, 1100.0, expected.TotalProfit, 1e-9)
	assert.InDelta(t, 1.8, expected.RewardRisk, 1e-9)
	assert.InDelta(t, 150.0, expected.MaxDrawdown, 1e-9)
	assert.InDelta(t, 9.0, expected.DrawdownPct, 1e-9)
}

func TestCheckSafeguards_AllFailuresListed(t *testing.T) {
	cfg := testConfig()

	current := versions.Params{"take_profit_multiplier": 3.0}
	proposed := versions.Params{"take_profit_multiplier": 4.0} // +33%

	passed, failures := checkSafeguards(40.0, 20, 10, current, proposed, cfg)

	assert.False(t, passed)
	require.Len(t, failures, 4, "every gate is reported, not just the first")
	assert.Contains(t, failures[0], "quality")
	assert.Contains(t, failures[1], "trade count")
	assert.Contains(t, failures[2], "lookback")
	assert.Contains(t, failures[3], "take_profit_multiplier")
}

func TestCheckSafeguards_DeltaWithinBound(t *testing.T) {
	cfg := testConfig()

	current := versions.Params{"take_profit_multiplier": 3.0, "stop_loss_multiplier": 2.0}
	proposed := versions.Params{"take_profit_multiplier": 3.45, "stop_loss_multiplier": 2.0}

	passed, failures := checkSafeguards(100.0, 120, 60, current, proposed, cfg)

	assert.True(t, passed)
	assert.Empty(t, failures)
}
