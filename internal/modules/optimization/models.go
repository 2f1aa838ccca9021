// Package optimization implements the periodic parameter optimization
// engine: heuristic adjustment rules over performance metrics, expected
// improvement scoring, hard safeguards, and the persisted run record that
// feeds the review workflow. The engine never mutates a live parameter
// version; it only proposes.
package optimization

import (
	"time"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/versions"
)

// Improvement score weights. Heuristic constants carried over from the
// tuned production values; kept as named constants rather than config
// because changing them invalidates historical score comparability.
const (
	weightWinRate    = 0.4 // per percentage point of win-rate change
	weightProfit     = 0.3 // per percent of total P/L change
	weightRewardRisk = 0.2 // per percent of reward:risk change
	weightDrawdown   = 0.1 // per percent of drawdown reduction
)

// Confidence cutoffs on the improvement score for adjust recommendations.
const (
	confidenceHighScore   = 15.0
	confidenceMediumScore = 10.0
)

// Components breaks the improvement score into its weighted contributions.
type Components struct {
	WinRate    float64 `json:"win_rate"`
	Profit     float64 `json:"profit"`
	RewardRisk float64 `json:"reward_risk"`
	Drawdown   float64 `json:"drawdown"`
}

// Total returns the improvement score.
func (c Components) Total() float64 {
	return c.WinRate + c.Profit + c.RewardRisk + c.Drawdown
}

// Run is one optimization_runs row: everything the engine knew and decided
// for one key on one run date.
type Run struct {
	ID      string     `json:"id"`
	RunDate string     `json:"run_date"` // YYYY-MM-DD
	Key     domain.Key `json:"key"`

	QualityScore     float64         `json:"quality_score"`
	CurrentVersionID int64           `json:"current_version_id"`
	CurrentParams    versions.Params `json:"current_params"`
	CurrentMetrics   metrics.Metrics `json:"current_metrics"`

	// ProposedParams and ExpectedMetrics are nil when the recommendation
	// is keep or disable: there is nothing to apply.
	ProposedParams  versions.Params  `json:"proposed_params,omitempty"`
	ExpectedMetrics *metrics.Metrics `json:"expected_metrics,omitempty"`

	ImprovementScore float64    `json:"improvement_score"`
	Components       Components `json:"improvement_components"`

	SafeguardsPassed  bool     `json:"safeguards_passed"`
	SafeguardFailures []string `json:"safeguard_failures,omitempty"`

	Recommendation domain.Recommendation `json:"recommendation"`
	Confidence     domain.Confidence     `json:"confidence"`
	Status         domain.RunStatus      `json:"status"`
	Reason         string                `json:"reason"`

	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	AppliedAt  *time.Time `json:"applied_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Appliable reports whether the run carries a parameter change that the
// review workflow could apply.
func (r *Run) Appliable() bool {
	return r.Recommendation == domain.RecommendAdjust && len(r.ProposedParams) > 0
}
