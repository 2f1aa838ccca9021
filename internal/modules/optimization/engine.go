package optimization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/events"
	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/thresholds"
	"github.com/quantpilot/governor/internal/modules/versions"
	"github.com/quantpilot/governor/internal/scheduler"
)

// Engine runs the periodic optimization pass. It reads the active version
// and trade history per key, proposes bounded parameter adjustments, and
// persists the result for human review. It never flips a version itself.
type Engine struct {
	runs       *Repository
	store      *versions.Store
	thresholds *thresholds.Repository
	history    domain.TradeHistoryProvider
	emitter    *events.Emitter
	log        zerolog.Logger

	workers      int
	lookbackDays int
}

// NewEngine creates the optimization engine.
func NewEngine(
	runs *Repository,
	store *versions.Store,
	thresholdRepo *thresholds.Repository,
	history domain.TradeHistoryProvider,
	emitter *events.Emitter,
	workers int,
	lookbackDays int,
	log zerolog.Logger,
) *Engine {
	if lookbackDays <= 0 {
		lookbackDays = 90
	}
	return &Engine{
		runs:         runs,
		store:        store,
		thresholds:   thresholdRepo,
		history:      history,
		emitter:      emitter,
		workers:      workers,
		lookbackDays: lookbackDays,
		log:          log.With().Str("service", "optimization").Logger(),
	}
}

// RunMonthly optimizes every key with an active version for the account.
// Keys are independent: a key without an active version, or one whose
// evaluation fails, is reported in the summary without affecting siblings.
func (e *Engine) RunMonthly(ctx context.Context, account string, day time.Time) (scheduler.BatchSummary, error) {
	cfg, err := e.thresholds.Get(account)
	if err != nil {
		return scheduler.BatchSummary{}, err
	}

	keys, err := e.store.ActiveKeys()
	if err != nil {
		return scheduler.BatchSummary{}, fmt.Errorf("failed to list keys for optimization: %w", err)
	}

	e.log.Info().
		Str("account", account).
		Str("run_date", day.UTC().Format("2006-01-02")).
		Int("keys", len(keys)).
		Msg("Starting optimization pass")

	summary := scheduler.FanOut(ctx, e.workers, keys, func(k domain.Key) error {
		_, err := e.OptimizeKey(account, k, day, cfg)
		return err
	})

	for _, kr := range summary.Errors {
		e.log.Error().Err(kr.Err).Str("key", kr.Key.String()).Msg("Key optimization failed")
	}
	e.log.Info().
		Int("ok", summary.OK).
		Int("failed", summary.Failed).
		Msg("Optimization pass finished")

	return summary, nil
}

// OptimizeKey runs the full optimization pipeline for one key and persists
// the resulting run. The output is deterministic for an unchanged trade
// set and active version.
func (e *Engine) OptimizeKey(account string, key domain.Key, day time.Time, cfg thresholds.Config) (*Run, error) {
	active, err := e.store.Active(key)
	if err != nil {
		return nil, err
	}

	to := day.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -e.lookbackDays)

	trades, err := e.history.ClosedTrades(account, key, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for %s: %w", key, err)
	}

	lookback := metrics.LookbackDays(trades)
	quality := metrics.Quality(trades, lookback, cfg.OptMinTrades, cfg.OptMinDays)
	m := metrics.Calculate(trades)

	run := &Run{
		RunDate:          day.UTC().Format("2006-01-02"),
		Key:              key,
		QualityScore:     quality.Score,
		CurrentVersionID: active.ID,
		CurrentParams:    active.Params,
		CurrentMetrics:   m,
		Status:           domain.RunPendingReview,
	}

	proposal := applyRules(m, active.Params)
	if proposal == nil {
		// Nothing to tune. A normal, frequent outcome.
		run.Recommendation = domain.RecommendKeep
		run.Confidence = domain.ConfidenceLow
		run.SafeguardsPassed = true
		run.Reason = "no adjustment rule fired"
		return e.finish(run, active)
	}

	comps := score(proposal.Net)
	expected := estimate(m, proposal.Net)
	run.ImprovementScore = comps.Total()
	run.Components = comps

	passed, failures := checkSafeguards(quality.Score, m.TradeCount, lookback,
		active.Params, proposal.Params, cfg)
	run.SafeguardsPassed = passed
	run.SafeguardFailures = failures

	switch {
	case !passed:
		run.Recommendation = domain.RecommendKeep
		run.Confidence = domain.ConfidenceLow
		run.Reason = "safeguards failed: " + strings.Join(failures, "; ")
	case run.ImprovementScore < cfg.OptMinImprovement:
		run.Recommendation = domain.RecommendKeep
		run.Confidence = domain.ConfidenceMedium
		run.Reason = fmt.Sprintf("improvement score %.1f below minimum %.1f",
			run.ImprovementScore, cfg.OptMinImprovement)
	case m.WinRate < cfg.OptCriticalWinRate:
		run.Recommendation = domain.RecommendDisable
		run.Confidence = domain.ConfidenceHigh
		run.Reason = fmt.Sprintf("win rate %.1f%% below critical floor %.1f%%",
			m.WinRate, cfg.OptCriticalWinRate)
	default:
		run.Recommendation = domain.RecommendAdjust
		run.Confidence = adjustConfidence(run.ImprovementScore)
		run.ProposedParams = proposal.Params
		run.ExpectedMetrics = &expected
		run.Reason = "rules fired: " + strings.Join(proposal.Fired, ", ")
	}

	return e.finish(run, active)
}

// finish persists the run and emits the review notification.
func (e *Engine) finish(run *Run, active *versions.ParameterVersion) (*Run, error) {
	if err := e.runs.Save(run); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("key", run.Key.String()).
		Str("recommendation", string(run.Recommendation)).
		Str("confidence", string(run.Confidence)).
		Float64("score", run.ImprovementScore).
		Msg("Optimization run recorded")

	if run.Recommendation != domain.RecommendKeep {
		e.emitter.Emit(events.Event{
			Type:      events.OptimizationProposed,
			Symbol:    run.Key.Symbol,
			Timeframe: run.Key.Timeframe,
			OldValue:  fmt.Sprintf("v%d", active.Version),
			NewValue:  string(run.Recommendation),
			Reason:    run.Reason,
			Metrics: map[string]float64{
				"improvement_score": run.ImprovementScore,
				"quality_score":     run.QualityScore,
				"win_rate":          run.CurrentMetrics.WinRate,
			},
		})
	}

	return run, nil
}

// adjustConfidence maps the improvement score to a confidence tier.
func adjustConfidence(score float64) domain.Confidence {
	switch {
	case score >= confidenceHighScore:
		return domain.ConfidenceHigh
	case score >= confidenceMediumScore:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
