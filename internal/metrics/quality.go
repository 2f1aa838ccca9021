package metrics

import "github.com/quantpilot/governor/internal/domain"

// Data-quality penalties. The score starts at 100 and each shortfall
// subtracts a fixed amount; the result is clamped to [0, 100].
const (
	penaltyLowTradeCount   = 30 // fewer trades than the configured minimum
	penaltyShortLookback   = 20 // window shorter than the configured minimum days
	penaltySparseTrades    = 15 // fewer than 1.0 trades per day
	penaltySingleDirection = 15 // only buys or only sells present
)

// QualityReport rates a trade set's evaluation-worthiness.
type QualityReport struct {
	Score        float64  `json:"score"` // 0-100
	TradeCount   int      `json:"trade_count"`
	LookbackDays int      `json:"lookback_days"`
	Issues       []string `json:"issues,omitempty"`
}

// Quality scores a trade set against the configured minimums. It gates both
// the status decision and the optimization decision; a low score is not an
// error, it just means the evidence is weak.
func Quality(trades []domain.Trade, lookbackDays, minTrades, minDays int) QualityReport {
	report := QualityReport{
		Score:        100,
		TradeCount:   len(trades),
		LookbackDays: lookbackDays,
	}

	if len(trades) < minTrades {
		report.Score -= penaltyLowTradeCount
		report.Issues = append(report.Issues, "trade count below minimum")
	}

	if lookbackDays < minDays {
		report.Score -= penaltyShortLookback
		report.Issues = append(report.Issues, "lookback window below minimum days")
	}

	if lookbackDays > 0 && float64(len(trades))/float64(lookbackDays) < 1.0 {
		report.Score -= penaltySparseTrades
		report.Issues = append(report.Issues, "fewer than one trade per day")
	}

	if singleDirection(trades) {
		report.Score -= penaltySingleDirection
		report.Issues = append(report.Issues, "only one trade direction present")
	}

	if report.Score < 0 {
		report.Score = 0
	}

	return report
}

// singleDirection reports whether a non-empty trade set contains only buys
// or only sells.
func singleDirection(trades []domain.Trade) bool {
	if len(trades) == 0 {
		return false
	}
	var hasBuy, hasSell bool
	for _, t := range trades {
		switch t.Direction {
		case domain.DirectionBuy:
			hasBuy = true
		case domain.DirectionSell:
			hasSell = true
		}
	}
	return hasBuy != hasSell
}
