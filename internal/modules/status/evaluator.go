package status

import (
	"fmt"
	"strings"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/thresholds"
)

// Evaluate runs the daily status transition for one key.
//
// prior is the previous day's snapshot (nil for a key never evaluated;
// treated as active with zero counters). windowMetrics covers the rolling
// evaluation window; dayProfit is the summed P/L of just the evaluation
// day, which drives the consecutive-day counters.
//
// The transition rules run in fixed priority order:
//  1. too few trades in the window: keep the prior status
//  2. any disable condition: disabled
//  3. a disabled symbol stays disabled; the shadow-gated review path is
//     the only way back to active
//  4. watch-band membership: watch
//  5. otherwise: active
func Evaluate(prior *Snapshot, windowMetrics metrics.Metrics, dayProfit float64, cfg thresholds.Config) Decision {
	priorStatus := domain.StatusActive
	profitDays, lossDays := 0, 0
	if prior != nil {
		priorStatus = prior.Status
		profitDays = prior.ConsecutiveProfitDays
		lossDays = prior.ConsecutiveLossDays
	}

	// Counters update every cycle regardless of the transition outcome.
	// A flat day (exactly zero P/L) leaves both counters untouched.
	switch {
	case dayProfit > 0:
		profitDays++
		lossDays = 0
	case dayProfit < 0:
		lossDays++
		profitDays = 0
	}

	d := Decision{
		ConsecutiveProfitDays: profitDays,
		ConsecutiveLossDays:   lossDays,
	}

	// Insufficient evidence is not grounds for a downgrade (or an upgrade).
	if windowMetrics.TradeCount < cfg.DisableMinTrades {
		d.Status = priorStatus
		d.Reason = fmt.Sprintf("insufficient trades for evaluation (%d < %d), keeping %s",
			windowMetrics.TradeCount, cfg.DisableMinTrades, priorStatus)
		return d
	}

	if reasons := disableReasons(windowMetrics, lossDays, cfg); len(reasons) > 0 {
		d.Status = domain.StatusDisabled
		d.Reason = "disabled: " + strings.Join(reasons, "; ")
		d.Changed = priorStatus != domain.StatusDisabled
		return d
	}

	// Recovered window metrics never re-enable a disabled symbol on their
	// own. Reactivation requires the shadow gate plus a reviewer.
	if priorStatus == domain.StatusDisabled {
		d.Status = domain.StatusDisabled
		d.Reason = "disabled: reactivation requires shadow-gate review"
		return d
	}

	if reason, inBand := watchReason(windowMetrics, cfg); inBand {
		d.Status = domain.StatusWatch
		d.Reason = "watch: " + reason
		d.Changed = priorStatus != domain.StatusWatch
		return d
	}

	d.Status = domain.StatusActive
	d.Reason = "performance within healthy bounds"
	d.Changed = priorStatus != domain.StatusActive
	return d
}

// disableReasons returns one human-readable reason per breached disable
// threshold, empty when none are breached.
func disableReasons(m metrics.Metrics, lossDays int, cfg thresholds.Config) []string {
	var reasons []string
	if m.WinRate < cfg.DisableWinRate {
		reasons = append(reasons, fmt.Sprintf("win rate %.1f%% below floor %.1f%%", m.WinRate, cfg.DisableWinRate))
	}
	if m.ProfitPct < cfg.DisableLossPct {
		reasons = append(reasons, fmt.Sprintf("P/L %.1f%% below loss floor %.1f%%", m.ProfitPct, cfg.DisableLossPct))
	}
	if m.DrawdownPct > cfg.DisableDrawdownPct {
		reasons = append(reasons, fmt.Sprintf("drawdown %.1f%% above ceiling %.1f%%", m.DrawdownPct, cfg.DisableDrawdownPct))
	}
	if lossDays >= cfg.DisableLossDays {
		reasons = append(reasons, fmt.Sprintf("%d consecutive losing days (threshold %d)", lossDays, cfg.DisableLossDays))
	}
	return reasons
}

// watchReason reports watch-band membership: win rate inside the configured
// watch range, or P/L percent inside its range.
func watchReason(m metrics.Metrics, cfg thresholds.Config) (string, bool) {
	if m.WinRate >= cfg.WatchWinRateLow && m.WinRate <= cfg.WatchWinRateHigh {
		return fmt.Sprintf("win rate %.1f%% inside watch range [%.1f%%, %.1f%%]",
			m.WinRate, cfg.WatchWinRateLow, cfg.WatchWinRateHigh), true
	}
	if m.ProfitPct >= cfg.WatchProfitLow && m.ProfitPct <= cfg.WatchProfitHigh {
		return fmt.Sprintf("P/L %.1f%% inside watch range [%.1f%%, %.1f%%]",
			m.ProfitPct, cfg.WatchProfitLow, cfg.WatchProfitHigh), true
	}
	return "", false
}
