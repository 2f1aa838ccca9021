package status

import (
	"fmt"

	"github.com/quantpilot/governor/internal/modules/thresholds"
)

// ShadowGate decides re-enable eligibility for a disabled symbol from its
// shadow-trade performance. Every condition must hold - a strict AND with
// no partial credit, because reactivating a previously loss-making symbol
// on weak evidence risks repeating the failure.
//
// Eligibility is reported only; the actual transition is performed by a
// reviewer through the review API.
func ShadowGate(stats ShadowStats, cfg thresholds.Config) Eligibility {
	var failures []string

	if stats.Trades < cfg.ShadowMinTrades {
		failures = append(failures, fmt.Sprintf("shadow trades %d below minimum %d",
			stats.Trades, cfg.ShadowMinTrades))
	}
	if stats.WinRate < cfg.ShadowMinWinRate {
		failures = append(failures, fmt.Sprintf("shadow win rate %.1f%% below minimum %.1f%%",
			stats.WinRate, cfg.ShadowMinWinRate))
	}
	if stats.ProfitableDays < cfg.ShadowMinProfitDays {
		failures = append(failures, fmt.Sprintf("consecutive profitable shadow days %d below minimum %d",
			stats.ProfitableDays, cfg.ShadowMinProfitDays))
	}
	if stats.Profit <= 0 {
		failures = append(failures, fmt.Sprintf("cumulative shadow profit %.2f not positive", stats.Profit))
	}

	return Eligibility{
		Eligible: len(failures) == 0,
		Failures: failures,
	}
}
