// Package metrics turns closed trade records into standardized performance
// metrics. All functions are pure and deterministic: identical input slices
// produce identical output, including tie ordering.
package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/quantpilot/governor/internal/domain"
)

// ProfitFactorSentinel is reported when gross loss is zero but gross win is
// positive. A finite sentinel keeps downstream arithmetic (improvement
// deltas, JSON encoding) well-defined.
const ProfitFactorSentinel = 9999.0

// Metrics is the standardized performance record for a set of closed trades.
type Metrics struct {
	TradeCount   int     `json:"trade_count"`
	WinCount     int     `json:"win_count"`
	LossCount    int     `json:"loss_count"`
	WinRate      float64 `json:"win_rate"`      // percent, 0-100
	TotalProfit  float64 `json:"total_profit"`  // account currency
	ProfitPct    float64 `json:"profit_pct"`    // net P/L as percent of gross traded P/L
	AvgWin       float64 `json:"avg_win"`       // mean winning trade, positive
	AvgLoss      float64 `json:"avg_loss"`      // mean losing trade magnitude, positive
	ProfitFactor float64 `json:"profit_factor"` // gross win / gross loss
	RewardRisk   float64 `json:"reward_risk"`   // avg win / avg loss
	MaxDrawdown  float64 `json:"max_drawdown"`  // largest peak-to-trough drop of cumulative P/L
	DrawdownPct  float64 `json:"drawdown_pct"`  // drawdown as percent of gross traded P/L
	DailyStdDev  float64 `json:"daily_std_dev"` // dispersion of per-day P/L
}

// Calculate computes metrics for a set of closed trades.
//
// Trades are processed in chronological entry-time order. Ties keep the
// caller's ordering (stable sort), so the cumulative P/L sequence - and
// therefore the drawdown - is reproducible for identical input.
func Calculate(trades []domain.Trade) Metrics {
	m := Metrics{TradeCount: len(trades)}
	if len(trades) == 0 {
		return m
	}

	ordered := make([]domain.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EntryTime.Before(ordered[j].EntryTime)
	})

	var wins, losses []float64
	var grossWin, grossLoss float64
	for _, t := range ordered {
		m.TotalProfit += t.Profit
		if t.Profit > 0 {
			wins = append(wins, t.Profit)
			grossWin += t.Profit
		} else if t.Profit < 0 {
			losses = append(losses, -t.Profit)
			grossLoss += -t.Profit
		}
	}

	m.WinCount = len(wins)
	m.LossCount = len(losses)
	m.WinRate = 100 * float64(m.WinCount) / float64(m.TradeCount)

	if len(wins) > 0 {
		m.AvgWin = stat.Mean(wins, nil)
	}
	if len(losses) > 0 {
		m.AvgLoss = stat.Mean(losses, nil)
	}

	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		m.ProfitFactor = ProfitFactorSentinel
	}

	if m.AvgLoss > 0 {
		m.RewardRisk = m.AvgWin / m.AvgLoss
	}

	m.MaxDrawdown = maxDrawdown(ordered)

	// Percent metrics are normalized by gross traded P/L. The core never
	// sees account balance, so this is the only balance-free base that is
	// stable across keys.
	grossTotal := grossWin + grossLoss
	if grossTotal > 0 {
		m.ProfitPct = 100 * m.TotalProfit / grossTotal
		m.DrawdownPct = 100 * m.MaxDrawdown / grossTotal
	}

	m.DailyStdDev = dailyStdDev(ordered)

	return m
}

// maxDrawdown returns the largest peak-to-trough drop of the cumulative
// P/L sequence taken in chronological order. Always >= 0.
func maxDrawdown(ordered []domain.Trade) float64 {
	var cumulative, peak, maxDD float64
	for _, t := range ordered {
		cumulative += t.Profit
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// dailyStdDev aggregates P/L per calendar day (UTC, by exit time) and
// returns the standard deviation across days. Zero for fewer than two days.
func dailyStdDev(ordered []domain.Trade) float64 {
	byDay := make(map[string]float64)
	var days []string
	for _, t := range ordered {
		day := t.ExitTime.UTC().Format("2006-01-02")
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] += t.Profit
	}
	if len(days) < 2 {
		return 0
	}
	sort.Strings(days)
	profits := make([]float64, len(days))
	for i, day := range days {
		profits[i] = byDay[day]
	}
	return stat.StdDev(profits, nil)
}

// ConsecutiveProfitableDays returns the length of the trailing run of
// profitable trading days: P/L is summed per calendar day (UTC, by exit
// time), then days are counted back from the most recent one until a day
// nets zero or negative. Calendar days without any trades do not break
// the run.
func ConsecutiveProfitableDays(trades []domain.Trade) int {
	byDay := make(map[string]float64)
	var days []string
	for _, t := range trades {
		day := t.ExitTime.UTC().Format("2006-01-02")
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] += t.Profit
	}
	sort.Strings(days)

	streak := 0
	for i := len(days) - 1; i >= 0; i-- {
		if byDay[days[i]] <= 0 {
			break
		}
		streak++
	}
	return streak
}

// LookbackDays returns the whole number of days covered by the trade set,
// from first entry to last exit. Zero for an empty set.
func LookbackDays(trades []domain.Trade) int {
	if len(trades) == 0 {
		return 0
	}
	first := trades[0].EntryTime
	last := trades[0].ExitTime
	for _, t := range trades {
		if t.EntryTime.Before(first) {
			first = t.EntryTime
		}
		if t.ExitTime.After(last) {
			last = t.ExitTime
		}
	}
	days := int(last.Sub(first) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return days
}
