// Package thresholds provides the per-account threshold configuration
// consumed read-only by the status state machine and optimization engine.
package thresholds

// Config holds the numeric thresholds for one account. All rate values are
// percentages (0-100), delta fractions are 0-1.
type Config struct {
	Account string `json:"account"`

	// Status machine: disable conditions
	DisableMinTrades   int     `json:"disable_min_trades"`   // below this, the evaluation keeps the prior status
	DisableWinRate     float64 `json:"disable_win_rate"`     // win rate floor, percent
	DisableLossPct     float64 `json:"disable_loss_pct"`     // P/L percent floor (negative)
	DisableDrawdownPct float64 `json:"disable_drawdown_pct"` // drawdown percent ceiling
	DisableLossDays    int     `json:"disable_loss_days"`    // consecutive losing days threshold

	// Status machine: watch band
	WatchWinRateLow  float64 `json:"watch_win_rate_low"`
	WatchWinRateHigh float64 `json:"watch_win_rate_high"`
	WatchProfitLow   float64 `json:"watch_profit_low"`
	WatchProfitHigh  float64 `json:"watch_profit_high"`

	// Shadow-trade reactivation gate
	ShadowMinTrades     int     `json:"shadow_min_trades"`
	ShadowMinWinRate    float64 `json:"shadow_min_win_rate"`
	ShadowMinProfitDays int     `json:"shadow_min_profit_days"`

	// Optimization safeguards
	OptMinTrades       int     `json:"opt_min_trades"`
	OptMinDays         int     `json:"opt_min_days"`
	OptMinQuality      float64 `json:"opt_min_quality"`
	OptMaxParamDelta   float64 `json:"opt_max_param_delta"`  // max fractional change per parameter
	OptMinImprovement  float64 `json:"opt_min_improvement"`  // minimum improvement score to recommend adjust
	OptCriticalWinRate float64 `json:"opt_critical_win_rate"` // below this, recommend disable
}

// Defaults returns the threshold configuration used when an account has no
// stored row. The numbers are conservative: a symbol has to earn its way
// back after being disabled.
func Defaults(account string) Config {
	return Config{
		Account:             account,
		DisableMinTrades:    10,
		DisableWinRate:      35.0,
		DisableLossPct:      -10.0,
		DisableDrawdownPct:  25.0,
		DisableLossDays:     5,
		WatchWinRateLow:     35.0,
		WatchWinRateHigh:    45.0,
		WatchProfitLow:      -10.0,
		WatchProfitHigh:     0.0,
		ShadowMinTrades:     100,
		ShadowMinWinRate:    55.0,
		ShadowMinProfitDays: 10,
		OptMinTrades:        50,
		OptMinDays:          30,
		OptMinQuality:       60.0,
		OptMaxParamDelta:    0.20,
		OptMinImprovement:   5.0,
		OptCriticalWinRate:  30.0,
	}
}
