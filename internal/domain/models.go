// Package domain contains the shared domain types for the governor core.
// The domain layer is pure: no infrastructure dependencies.
package domain

import (
	"fmt"
	"time"
)

// Key identifies the scope of all versioning and status tracking:
// one strategy indicator trading one symbol on one timeframe.
type Key struct {
	Indicator string `json:"indicator"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// String returns the canonical "indicator/symbol/timeframe" form used in
// logs and error messages.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Indicator, k.Symbol, k.Timeframe)
}

// Validate checks that all three components are present.
func (k Key) Validate() error {
	if k.Indicator == "" || k.Symbol == "" || k.Timeframe == "" {
		return fmt.Errorf("incomplete key %q: indicator, symbol and timeframe are all required", k)
	}
	return nil
}

// TradeDirection is the side of a closed trade.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "buy"
	DirectionSell TradeDirection = "sell"
)

// Trade is one closed trade record as delivered by the trade history
// provider. Shadow trades use the same shape; they are distinguished by
// which provider method returned them.
type Trade struct {
	Symbol    string
	Direction TradeDirection
	Profit    float64
	EntryTime time.Time
	ExitTime  time.Time
}

// SymbolStatus is the per-symbol trading permission state.
type SymbolStatus string

const (
	StatusActive   SymbolStatus = "active"
	StatusWatch    SymbolStatus = "watch"
	StatusDisabled SymbolStatus = "disabled"
)

// Valid reports whether s is one of the three known states.
func (s SymbolStatus) Valid() bool {
	switch s {
	case StatusActive, StatusWatch, StatusDisabled:
		return true
	}
	return false
}

// VersionStatus is the lifecycle state of a ParameterVersion row.
type VersionStatus string

const (
	VersionProposed VersionStatus = "proposed"
	VersionActive   VersionStatus = "active"
	VersionArchived VersionStatus = "archived"
)

// ChangeType classifies a version flip in the audit trail.
type ChangeType string

const (
	ChangeManual           ChangeType = "manual"
	ChangeAutoOptimization ChangeType = "auto_optimization"
	ChangeRollback         ChangeType = "rollback"
)

// Recommendation is the outcome of an optimization run.
type Recommendation string

const (
	RecommendKeep    Recommendation = "keep"
	RecommendAdjust  Recommendation = "adjust"
	RecommendDisable Recommendation = "disable"
)

// Confidence is the tier attached to a recommendation.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// RunStatus is the review lifecycle state of an OptimizationRun.
type RunStatus string

const (
	RunPendingReview RunStatus = "pending_review"
	RunApproved      RunStatus = "approved"
	RunRejected      RunStatus = "rejected"
	RunApplied       RunStatus = "applied"
)
