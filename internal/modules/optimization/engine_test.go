package optimization

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/events"
	"github.com/quantpilot/governor/internal/modules/thresholds"
	"github.com/quantpilot/governor/internal/modules/versions"
	govtesting "github.com/quantpilot/governor/internal/testing"
)

func testConfig() thresholds.Config {
	return thresholds.Defaults("test")
}

type fakeHistory struct {
	trades map[string][]domain.Trade
}

func (f *fakeHistory) ClosedTrades(account string, key domain.Key, from, to time.Time) ([]domain.Trade, error) {
	return f.trades[key.Symbol], nil
}

func (f *fakeHistory) ShadowTrades(account string, key domain.Key, from, to time.Time) ([]domain.Trade, error) {
	return nil, nil
}

// tradeSet builds wins+losses trades spread evenly across days calendar
// days, wins interleaved with losses, directions alternating.
func tradeSet(symbol string, start time.Time, days, wins, losses int, winAmt, lossAmt float64) []domain.Trade {
	total := wins + losses
	trades := make([]domain.Trade, 0, total)
	winsPlaced := 0
	for i := 0; i < total; i++ {
		profit := -lossAmt
		if (i+1)*wins/total > winsPlaced {
			profit = winAmt
			winsPlaced++
		}
		direction := domain.DirectionBuy
		if i%2 == 1 {
			direction = domain.DirectionSell
		}
		entry := start.AddDate(0, 0, i*days/total).Add(time.Duration(i) * time.Minute)
		trades = append(trades, domain.Trade{
			Symbol:    symbol,
			Direction: direction,
			Profit:    profit,
			EntryTime: entry,
			ExitTime:  entry.Add(20 * time.Minute),
		})
	}
	return trades
}

func newTestEngine(t *testing.T, history *fakeHistory) (*Engine, *versions.Store, *events.Bus, func()) {
	t.Helper()

	db, cleanup := govtesting.NewTestDB(t)
	log := zerolog.Nop()

	store := versions.NewStore(db.Conn(),
		versions.NewRepository(db.Conn(), log),
		versions.NewChangeLogRepository(db.Conn(), log),
		versions.NewSchemaRegistry(), log)

	bus := events.NewBus(log)
	emitter := events.NewEmitter(bus, events.NewOutbox(db.Conn(), log), log)

	engine := NewEngine(
		NewRepository(db.Conn(), log),
		store,
		thresholds.NewRepository(db.Conn(), log),
		history,
		emitter,
		4,
		90,
		log,
	)
	return engine, store, bus, cleanup
}

func TestOptimizeKey_AdjustHighConfidence(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}

	// 47% win rate, reward:risk 1.3, clean data over 45 days
	history := &fakeHistory{trades: map[string][]domain.Trade{
		"EURUSD": tradeSet("EURUSD", day.AddDate(0, 0, -50), 45, 47, 53, 130, 100),
	}}

	engine, store, bus, cleanup := newTestEngine(t, history)
	defer cleanup()

	active, err := store.Bootstrap(key, versions.Params{
		"take_profit_multiplier": 3.0,
		"stop_loss_multiplier":   2.0,
	}, "setup")
	require.NoError(t, err)

	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	run, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)

	assert.True(t, run.SafeguardsPassed, "failures: %v", run.SafeguardFailures)
	assert.InDelta(t, 16.0, run.ImprovementScore, 1e-9)
	assert.Equal(t, domain.RecommendAdjust, run.Recommendation)
	assert.Equal(t, domain.ConfidenceHigh, run.Confidence)
	assert.Equal(t, active.ID, run.CurrentVersionID)
	assert.InDelta(t, 3.45, run.ProposedParams["take_profit_multiplier"], 1e-9)
	require.NotNil(t, run.ExpectedMetrics)
	assert.Equal(t, domain.RunPendingReview, run.Status)

	stored, err := engine.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPendingReview, stored.Status)
	assert.InDelta(t, 16.0, stored.ImprovementScore, 1e-9)

	select {
	case ev := <-ch:
		assert.Equal(t, events.OptimizationProposed, ev.Type)
		assert.Equal(t, "EURUSD", ev.Symbol)
		assert.Equal(t, "v1", ev.OldValue)
		assert.Equal(t, string(domain.RecommendAdjust), ev.NewValue)
	case <-time.After(time.Second):
		t.Fatal("expected an optimization_proposed event")
	}
}

func TestOptimizeKey_Deterministic(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}

	history := &fakeHistory{trades: map[string][]domain.Trade{
		"EURUSD": tradeSet("EURUSD", day.AddDate(0, 0, -50), 45, 47, 53, 130, 100),
	}}

	engine, store, _, cleanup := newTestEngine(t, history)
	defer cleanup()

	_, err := store.Bootstrap(key, versions.Params{"take_profit_multiplier": 3.0}, "setup")
	require.NoError(t, err)

	first, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)
	second, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same-day rerun keeps the stored run id")
	assert.Equal(t, first.Recommendation, second.Recommendation)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.ImprovementScore, second.ImprovementScore)

	firstParams, err := first.ProposedParams.Canonical()
	require.NoError(t, err)
	secondParams, err := second.ProposedParams.Canonical()
	require.NoError(t, err)
	assert.Equal(t, firstParams, secondParams, "unchanged input must produce byte-identical proposals")
}

func TestOptimizeKey_NoRuleFired(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}

	// Healthy: 58% win rate, reward:risk ~1.8, low drawdown, many trades
	history := &fakeHistory{trades: map[string][]domain.Trade{
		"EURUSD": tradeSet("EURUSD", day.AddDate(0, 0, -50), 45, 174, 126, 90, 50),
	}}

	engine, store, bus, cleanup := newTestEngine(t, history)
	defer cleanup()

	_, err := store.Bootstrap(key, versions.Params{"take_profit_multiplier": 3.0}, "setup")
	require.NoError(t, err)

	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	run, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.RecommendKeep, run.Recommendation)
	assert.Equal(t, domain.ConfidenceLow, run.Confidence)
	assert.Nil(t, run.ProposedParams)
	assert.Equal(t, "no adjustment rule fired", run.Reason)
	assert.Equal(t, domain.RunPendingReview, run.Status)

	select {
	case ev := <-ch:
		t.Fatalf("keep runs must not emit events, got %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOptimizeKey_SafeguardFailureForcesKeep(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}

	// Thin data: 20 trades at a 40% win rate fires relax_confidence_floor,
	// but the trade count is far below the optimization minimum.
	history := &fakeHistory{trades: map[string][]domain.Trade{
		"EURUSD": tradeSet("EURUSD", day.AddDate(0, 0, -40), 35, 8, 12, 120, 80),
	}}

	engine, store, _, cleanup := newTestEngine(t, history)
	defer cleanup()

	_, err := store.Bootstrap(key, versions.Params{"confidence_floor": 0.5}, "setup")
	require.NoError(t, err)

	run, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)

	assert.False(t, run.SafeguardsPassed)
	assert.NotEmpty(t, run.SafeguardFailures)
	assert.Equal(t, domain.RecommendKeep, run.Recommendation)
	assert.Equal(t, domain.ConfidenceLow, run.Confidence)
	assert.Nil(t, run.ProposedParams, "a keep run carries no proposal")
	assert.Contains(t, run.Reason, "safeguards failed")
}

func TestOptimizeKey_CriticalWinRateDisable(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "USDJPY", Timeframe: "M15"}

	// 28% win rate with deep drawdown: wins first, then a long loss run.
	wins := tradeSet("USDJPY", day.AddDate(0, 0, -50), 20, 62, 0, 130, 0)
	losses := tradeSet("USDJPY", day.AddDate(0, 0, -28), 22, 0, 158, 0, 100)
	history := &fakeHistory{trades: map[string][]domain.Trade{
		"USDJPY": append(wins, losses...),
	}}

	engine, store, _, cleanup := newTestEngine(t, history)
	defer cleanup()

	_, err := store.Bootstrap(key, versions.Params{"stop_loss_multiplier": 2.0}, "setup")
	require.NoError(t, err)

	run, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)

	assert.True(t, run.SafeguardsPassed, "failures: %v", run.SafeguardFailures)
	assert.Equal(t, domain.RecommendDisable, run.Recommendation)
	assert.Equal(t, domain.ConfidenceHigh, run.Confidence)
	assert.Contains(t, run.Reason, "critical floor")
	assert.Nil(t, run.ProposedParams)
}

func TestOptimizeKey_NoActiveVersion(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}

	engine, _, _, cleanup := newTestEngine(t, &fakeHistory{})
	defer cleanup()

	_, err := engine.OptimizeKey("acct1", key, day, testConfig())
	assert.ErrorIs(t, err, domain.ErrNoActiveVersion)
}

func TestRunMonthly_IndependentKeys(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	k1 := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}
	k2 := domain.Key{Indicator: "macd", Symbol: "GBPUSD", Timeframe: "H4"}

	history := &fakeHistory{trades: map[string][]domain.Trade{
		"EURUSD": tradeSet("EURUSD", day.AddDate(0, 0, -50), 45, 47, 53, 130, 100),
		"GBPUSD": tradeSet("GBPUSD", day.AddDate(0, 0, -50), 45, 174, 126, 90, 50),
	}}

	engine, store, _, cleanup := newTestEngine(t, history)
	defer cleanup()

	_, err := store.Bootstrap(k1, versions.Params{"take_profit_multiplier": 3.0}, "setup")
	require.NoError(t, err)
	_, err = store.Bootstrap(k2, versions.Params{"take_profit_multiplier": 3.0}, "setup")
	require.NoError(t, err)

	summary, err := engine.RunMonthly(context.Background(), "acct1", day)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.OK)

	pending, err := engine.runs.ListByStatus(domain.RunPendingReview, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSetReviewStatus_Guard(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}

	history := &fakeHistory{trades: map[string][]domain.Trade{
		"EURUSD": tradeSet("EURUSD", day.AddDate(0, 0, -50), 45, 47, 53, 130, 100),
	}}

	engine, store, _, cleanup := newTestEngine(t, history)
	defer cleanup()

	_, err := store.Bootstrap(key, versions.Params{"take_profit_multiplier": 3.0}, "setup")
	require.NoError(t, err)

	run, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)

	require.NoError(t, engine.runs.SetReviewStatus(run.ID, domain.RunPendingReview, domain.RunApproved, "alice"))

	// Approving twice must conflict.
	err = engine.runs.SetReviewStatus(run.ID, domain.RunPendingReview, domain.RunApproved, "alice")
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestOptimizeKey_SameDayRerunAfterReviewConflicts(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	key := domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"}

	history := &fakeHistory{trades: map[string][]domain.Trade{
		"EURUSD": tradeSet("EURUSD", day.AddDate(0, 0, -50), 45, 47, 53, 130, 100),
	}}

	engine, store, _, cleanup := newTestEngine(t, history)
	defer cleanup()

	_, err := store.Bootstrap(key, versions.Params{"take_profit_multiplier": 3.0}, "setup")
	require.NoError(t, err)

	run, err := engine.OptimizeKey("acct1", key, day, testConfig())
	require.NoError(t, err)
	require.NoError(t, engine.runs.SetReviewStatus(run.ID, domain.RunPendingReview, domain.RunApproved, "alice"))

	// A rerun on the same day must not silently overwrite (or pretend to
	// overwrite) the reviewed run.
	_, err = engine.OptimizeKey("acct1", key, day, testConfig())
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	stored, err := engine.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunApproved, stored.Status)
	require.NotNil(t, stored.ReviewedBy)
	assert.Equal(t, "alice", *stored.ReviewedBy)
}
