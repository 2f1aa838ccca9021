package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/thresholds"
)

func TestEvaluate_FirstEvaluationHealthy(t *testing.T) {
	cfg := thresholds.Defaults("test")

	m := metrics.Metrics{TradeCount: 80, WinRate: 55.0, ProfitPct: 8.0, DrawdownPct: 10.0}
	d := Evaluate(nil, m, 120.0, cfg)

	assert.Equal(t, domain.StatusActive, d.Status)
	assert.False(t, d.Changed, "first evaluation of an active symbol is not a transition")
	assert.Equal(t, 1, d.ConsecutiveProfitDays)
	assert.Equal(t, 0, d.ConsecutiveLossDays)
}

func TestEvaluate_WinRateBelowFloorDisables(t *testing.T) {
	cfg := thresholds.Defaults("test")

	// 220 trades over the window with a 28% win rate
	m := metrics.Metrics{TradeCount: 220, WinRate: 28.2, ProfitPct: 2.0, DrawdownPct: 12.0}
	prior := &Snapshot{Status: domain.StatusActive}

	d := Evaluate(prior, m, -30.0, cfg)

	assert.Equal(t, domain.StatusDisabled, d.Status)
	assert.True(t, d.Changed)
	assert.Contains(t, d.Reason, "win rate")
	assert.Contains(t, d.Reason, "28.2")
}

func TestEvaluate_InsufficientTradesKeepsPriorStatus(t *testing.T) {
	cfg := thresholds.Defaults("test")
	cfg.DisableMinTrades = 50

	// 40 trades is below the 50-trade minimum, so even terrible metrics
	// cannot move the status.
	m := metrics.Metrics{TradeCount: 40, WinRate: 10.0, ProfitPct: -50.0, DrawdownPct: 80.0}
	prior := &Snapshot{Status: domain.StatusWatch, ConsecutiveLossDays: 2}

	d := Evaluate(prior, m, -10.0, cfg)

	assert.Equal(t, domain.StatusWatch, d.Status)
	assert.False(t, d.Changed)
	assert.Contains(t, d.Reason, "insufficient trades")
	assert.Equal(t, 3, d.ConsecutiveLossDays, "counters still update on a kept status")
}

func TestEvaluate_WatchBandWinRate(t *testing.T) {
	cfg := thresholds.Defaults("test")

	m := metrics.Metrics{TradeCount: 60, WinRate: 40.0, ProfitPct: 5.0, DrawdownPct: 8.0}
	prior := &Snapshot{Status: domain.StatusActive}

	d := Evaluate(prior, m, 15.0, cfg)

	assert.Equal(t, domain.StatusWatch, d.Status)
	assert.True(t, d.Changed)
	assert.Contains(t, d.Reason, "watch")
}

func TestEvaluate_DisableBeatsWatch(t *testing.T) {
	cfg := thresholds.Defaults("test")

	// P/L sits inside the watch band while win rate breaches the disable
	// floor. Disable wins.
	m := metrics.Metrics{TradeCount: 60, WinRate: 30.0, ProfitPct: -5.0, DrawdownPct: 8.0}
	d := Evaluate(&Snapshot{Status: domain.StatusWatch}, m, 0, cfg)

	assert.Equal(t, domain.StatusDisabled, d.Status)
	assert.Contains(t, d.Reason, "win rate")
}

func TestEvaluate_ConsecutiveLossDaysDisable(t *testing.T) {
	cfg := thresholds.Defaults("test")
	require.Equal(t, 5, cfg.DisableLossDays)

	m := metrics.Metrics{TradeCount: 60, WinRate: 50.0, ProfitPct: 3.0, DrawdownPct: 5.0}

	prior := &Snapshot{Status: domain.StatusActive, ConsecutiveLossDays: 4}
	d := Evaluate(prior, m, -25.0, cfg)

	assert.Equal(t, 5, d.ConsecutiveLossDays)
	assert.Equal(t, domain.StatusDisabled, d.Status)
	assert.Contains(t, d.Reason, "consecutive losing days")
}

func TestEvaluate_ProfitDayResetsLossStreak(t *testing.T) {
	cfg := thresholds.Defaults("test")

	m := metrics.Metrics{TradeCount: 60, WinRate: 55.0, ProfitPct: 6.0, DrawdownPct: 5.0}
	prior := &Snapshot{Status: domain.StatusActive, ConsecutiveLossDays: 4, ConsecutiveProfitDays: 0}

	d := Evaluate(prior, m, 50.0, cfg)

	assert.Equal(t, 0, d.ConsecutiveLossDays)
	assert.Equal(t, 1, d.ConsecutiveProfitDays)
	assert.Equal(t, domain.StatusActive, d.Status)
}

func TestEvaluate_FlatDayLeavesCountersUntouched(t *testing.T) {
	cfg := thresholds.Defaults("test")

	m := metrics.Metrics{TradeCount: 60, WinRate: 55.0, ProfitPct: 6.0, DrawdownPct: 5.0}
	prior := &Snapshot{Status: domain.StatusActive, ConsecutiveLossDays: 3, ConsecutiveProfitDays: 0}

	d := Evaluate(prior, m, 0, cfg)

	assert.Equal(t, 3, d.ConsecutiveLossDays)
	assert.Equal(t, 0, d.ConsecutiveProfitDays)
}

func TestEvaluate_DisabledStaysDisabledWithoutReviewerAction(t *testing.T) {
	cfg := thresholds.Defaults("test")

	// Recovered metrics alone never reactivate. The reviewer-driven
	// shadow-gate path is the only way back to active.
	m := metrics.Metrics{TradeCount: 80, WinRate: 60.0, ProfitPct: 10.0, DrawdownPct: 4.0}
	prior := &Snapshot{Status: domain.StatusDisabled}

	d := Evaluate(prior, m, 10.0, cfg)
	assert.Equal(t, domain.StatusDisabled, d.Status)
	assert.False(t, d.Changed)
	assert.Contains(t, d.Reason, "shadow-gate review")
}

func TestEvaluate_DisabledInWatchBandStaysDisabled(t *testing.T) {
	cfg := thresholds.Defaults("test")

	// Watch-band metrics on a disabled symbol must not downgrade the clamp
	// to watch either.
	m := metrics.Metrics{TradeCount: 60, WinRate: 40.0, ProfitPct: 5.0, DrawdownPct: 8.0}
	prior := &Snapshot{Status: domain.StatusDisabled}

	d := Evaluate(prior, m, 5.0, cfg)
	assert.Equal(t, domain.StatusDisabled, d.Status)
	assert.False(t, d.Changed)
}

func TestShadowGate_AllConditionsMet(t *testing.T) {
	cfg := thresholds.Defaults("test")

	e := ShadowGate(ShadowStats{
		Trades:         105,
		WinRate:        72.0,
		Profit:         340.0,
		ProfitableDays: 12,
	}, cfg)

	assert.True(t, e.Eligible)
	assert.Empty(t, e.Failures)
}

func TestShadowGate_StrictAnd(t *testing.T) {
	cfg := thresholds.Defaults("test")

	tests := []struct {
		name  string
		stats ShadowStats
		want  string
	}{
		{
			name:  "too few trades",
			stats: ShadowStats{Trades: 99, WinRate: 72.0, Profit: 100.0, ProfitableDays: 12},
			want:  "shadow trades",
		},
		{
			name:  "win rate below minimum",
			stats: ShadowStats{Trades: 120, WinRate: 54.9, Profit: 100.0, ProfitableDays: 12},
			want:  "win rate",
		},
		{
			name:  "not enough profitable days",
			stats: ShadowStats{Trades: 120, WinRate: 72.0, Profit: 100.0, ProfitableDays: 9},
			want:  "profitable shadow days",
		},
		{
			name:  "zero profit",
			stats: ShadowStats{Trades: 120, WinRate: 72.0, Profit: 0, ProfitableDays: 12},
			want:  "not positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ShadowGate(tt.stats, cfg)
			assert.False(t, e.Eligible)
			require.Len(t, e.Failures, 1)
			assert.Contains(t, e.Failures[0], tt.want)
		})
	}
}

func TestShadowGate_ReportsEveryFailure(t *testing.T) {
	cfg := thresholds.Defaults("test")

	e := ShadowGate(ShadowStats{Trades: 5, WinRate: 20.0, Profit: -50.0, ProfitableDays: 1}, cfg)

	assert.False(t, e.Eligible)
	assert.Len(t, e.Failures, 4)
}
