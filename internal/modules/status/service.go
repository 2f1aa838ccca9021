package status

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/events"
	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/thresholds"
	"github.com/quantpilot/governor/internal/scheduler"
)

// KeyLister supplies the key universe the daily batch fans out over.
// Implemented by the parameter version store.
type KeyLister interface {
	ActiveKeys() ([]domain.Key, error)
}

// Service runs the daily status evaluation batch.
type Service struct {
	snapshots  *Repository
	thresholds *thresholds.Repository
	keys       KeyLister
	history    domain.TradeHistoryProvider
	emitter    *events.Emitter
	log        zerolog.Logger

	workers      int
	lookbackDays int
}

// NewService creates the status evaluation service.
func NewService(
	snapshots *Repository,
	thresholdRepo *thresholds.Repository,
	keys KeyLister,
	history domain.TradeHistoryProvider,
	emitter *events.Emitter,
	workers int,
	lookbackDays int,
	log zerolog.Logger,
) *Service {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Service{
		snapshots:    snapshots,
		thresholds:   thresholdRepo,
		keys:         keys,
		history:      history,
		emitter:      emitter,
		workers:      workers,
		lookbackDays: lookbackDays,
		log:          log.With().Str("service", "status").Logger(),
	}
}

// RunDaily evaluates every governed symbol for the given account and
// calendar day. Symbols are processed in parallel; one symbol's failure
// never aborts the others.
func (s *Service) RunDaily(ctx context.Context, account string, day time.Time) (scheduler.BatchSummary, error) {
	cfg, err := s.thresholds.Get(account)
	if err != nil {
		return scheduler.BatchSummary{}, err
	}

	keys, err := s.keys.ActiveKeys()
	if err != nil {
		return scheduler.BatchSummary{}, fmt.Errorf("failed to list keys for daily evaluation: %w", err)
	}

	// Status tracking is per symbol: collapse keys that share a symbol.
	seen := make(map[string]bool)
	var symbols []domain.Key
	for _, k := range keys {
		if !seen[k.Symbol] {
			seen[k.Symbol] = true
			symbols = append(symbols, domain.Key{Symbol: k.Symbol})
		}
	}

	s.log.Info().
		Str("account", account).
		Str("day", day.UTC().Format("2006-01-02")).
		Int("symbols", len(symbols)).
		Msg("Starting daily status evaluation")

	summary := scheduler.FanOut(ctx, s.workers, symbols, func(k domain.Key) error {
		return s.evaluateSymbol(account, k.Symbol, day, cfg)
	})

	for _, e := range summary.Errors {
		s.log.Error().Err(e.Err).Str("symbol", e.Key.Symbol).Msg("Symbol evaluation failed")
	}
	s.log.Info().
		Int("ok", summary.OK).
		Int("failed", summary.Failed).
		Msg("Daily status evaluation finished")

	return summary, nil
}

// evaluateSymbol runs one symbol's daily evaluation and persists the
// resulting snapshot.
func (s *Service) evaluateSymbol(account, symbol string, day time.Time, cfg thresholds.Config) error {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.AddDate(0, 0, 1)
	windowStart := dayEnd.AddDate(0, 0, -s.lookbackDays)
	dateStr := dayStart.Format("2006-01-02")

	// Empty indicator/timeframe means "all keys for the symbol": status is
	// a symbol-level decision.
	symbolKey := domain.Key{Symbol: symbol}

	windowTrades, err := s.history.ClosedTrades(account, symbolKey, windowStart, dayEnd)
	if err != nil {
		return fmt.Errorf("failed to load trades for %s: %w", symbol, err)
	}

	// Window membership is by exit time, so every trade that closed on the
	// evaluation day is present regardless of when it was opened.
	var dayProfit float64
	for _, t := range windowTrades {
		if !t.ExitTime.Before(dayStart) && t.ExitTime.Before(dayEnd) {
			dayProfit += t.Profit
		}
	}

	prior, err := s.snapshots.Latest(account, symbol, dateStr)
	if err != nil {
		return err
	}

	m := metrics.Calculate(windowTrades)
	decision := Evaluate(prior, m, dayProfit, cfg)

	snap := &Snapshot{
		Account:               account,
		Symbol:                symbol,
		EvalDate:              dateStr,
		TradeCount:            m.TradeCount,
		WinRate:               m.WinRate,
		TotalProfit:           m.TotalProfit,
		ProfitPct:             m.ProfitPct,
		DrawdownPct:           m.DrawdownPct,
		ProfitFactor:          m.ProfitFactor,
		Status:                decision.Status,
		StatusReason:          decision.Reason,
		ConsecutiveProfitDays: decision.ConsecutiveProfitDays,
		ConsecutiveLossDays:   decision.ConsecutiveLossDays,
	}
	if prior != nil {
		snap.PreviousStatus = prior.Status
		snap.StatusChangedAt = prior.StatusChangedAt
	}
	if decision.Changed {
		now := time.Now().UTC()
		snap.StatusChangedAt = &now
	}

	// While disabled, track shadow performance so the reactivation gate
	// has something to evaluate.
	if decision.Status == domain.StatusDisabled {
		stats, err := s.shadowStats(account, symbol, windowStart, dayEnd)
		if err != nil {
			return err
		}
		snap.ShadowTrades = stats.Trades
		snap.ShadowWinRate = stats.WinRate
		snap.ShadowProfit = stats.Profit
		snap.ShadowProfitableDays = stats.ProfitableDays
	}

	if err := s.snapshots.Upsert(snap); err != nil {
		return err
	}

	if decision.Changed {
		oldStatus := string(domain.StatusActive)
		if prior != nil {
			oldStatus = string(prior.Status)
		}
		s.emitter.Emit(events.Event{
			Type:     events.StatusChanged,
			Symbol:   symbol,
			OldValue: oldStatus,
			NewValue: string(decision.Status),
			Reason:   decision.Reason,
			Metrics: map[string]float64{
				"win_rate":     m.WinRate,
				"profit_pct":   m.ProfitPct,
				"drawdown_pct": m.DrawdownPct,
				"trade_count":  float64(m.TradeCount),
			},
		})
	}

	return nil
}

// shadowStats computes shadow-trade statistics for a window.
func (s *Service) shadowStats(account, symbol string, from, to time.Time) (ShadowStats, error) {
	shadowTrades, err := s.history.ShadowTrades(account, domain.Key{Symbol: symbol}, from, to)
	if err != nil {
		return ShadowStats{}, fmt.Errorf("failed to load shadow trades for %s: %w", symbol, err)
	}

	m := metrics.Calculate(shadowTrades)
	return ShadowStats{
		Trades:         m.TradeCount,
		WinRate:        m.WinRate,
		Profit:         m.TotalProfit,
		ProfitableDays: metrics.ConsecutiveProfitableDays(shadowTrades),
	}, nil
}

// ReenableEligibility evaluates the shadow gate for a disabled symbol.
// Returns ErrStateConflict when the symbol is not currently disabled.
func (s *Service) ReenableEligibility(account, symbol string) (Eligibility, error) {
	current, err := s.snapshots.Current(account, symbol)
	if err != nil {
		return Eligibility{}, err
	}
	if current == nil {
		return Eligibility{}, fmt.Errorf("symbol %s/%s: %w", account, symbol, domain.ErrNotFound)
	}
	if current.Status != domain.StatusDisabled {
		return Eligibility{}, fmt.Errorf("%w: %s is %s, eligibility applies to disabled symbols only",
			domain.ErrStateConflict, symbol, current.Status)
	}

	cfg, err := s.thresholds.Get(account)
	if err != nil {
		return Eligibility{}, err
	}

	now := time.Now().UTC()
	stats, err := s.shadowStats(account, symbol, now.AddDate(0, 0, -s.lookbackDays), now)
	if err != nil {
		return Eligibility{}, err
	}

	return ShadowGate(stats, cfg), nil
}

// Snapshots exposes the repository for read-side consumers (HTTP API).
func (s *Service) Snapshots() *Repository {
	return s.snapshots
}
