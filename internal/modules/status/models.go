// Package status implements the per-symbol trading status state machine:
// active / watch / disabled, computed once per calendar day from rolling
// trade performance, with anti-flapping day counters and the shadow-trade
// reactivation gate for disabled symbols.
package status

import (
	"time"

	"github.com/quantpilot/governor/internal/domain"
)

// Snapshot is one performance_snapshots row: the metrics computed on one
// evaluation day for one (account, symbol), the resulting status, and the
// running day counters. Rows are historical records and are never deleted.
type Snapshot struct {
	ID       int64  `json:"id"`
	Account  string `json:"account"`
	Symbol   string `json:"symbol"`
	EvalDate string `json:"eval_date"` // YYYY-MM-DD

	TradeCount   int     `json:"trade_count"`
	WinRate      float64 `json:"win_rate"`
	TotalProfit  float64 `json:"total_profit"`
	ProfitPct    float64 `json:"profit_pct"`
	DrawdownPct  float64 `json:"drawdown_pct"`
	ProfitFactor float64 `json:"profit_factor"`

	Status          domain.SymbolStatus `json:"status"`
	PreviousStatus  domain.SymbolStatus `json:"previous_status,omitempty"`
	StatusReason    string              `json:"status_reason"`
	StatusChangedAt *time.Time          `json:"status_changed_at,omitempty"`

	ConsecutiveProfitDays int `json:"consecutive_profit_days"`
	ConsecutiveLossDays   int `json:"consecutive_loss_days"`

	// Shadow counters, populated only while disabled
	ShadowTrades         int     `json:"shadow_trades"`
	ShadowWinRate        float64 `json:"shadow_win_rate"`
	ShadowProfit         float64 `json:"shadow_profit"`
	ShadowProfitableDays int     `json:"shadow_profitable_days"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the outcome of one day's evaluation for a key.
type Decision struct {
	Status                domain.SymbolStatus
	Reason                string
	Changed               bool
	ConsecutiveProfitDays int
	ConsecutiveLossDays   int
}

// ShadowStats summarizes shadow-trade performance over the evaluation
// window of a disabled symbol. ProfitableDays is the trailing streak of
// consecutive profitable shadow days, not a total.
type ShadowStats struct {
	Trades         int
	WinRate        float64
	Profit         float64
	ProfitableDays int
}

// Eligibility is the shadow-gate verdict for re-enabling a disabled symbol.
// Eligible is true only when every gate condition holds; Failures lists the
// conditions that did not.
type Eligibility struct {
	Eligible bool     `json:"eligible"`
	Failures []string `json:"failures,omitempty"`
}
