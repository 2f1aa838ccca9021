package versions

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/governor/internal/domain"
	govtesting "github.com/quantpilot/governor/internal/testing"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	db, cleanup := govtesting.NewTestDB(t)
	log := zerolog.Nop()
	repo := NewRepository(db.Conn(), log)
	changeLog := NewChangeLogRepository(db.Conn(), log)
	store := NewStore(db.Conn(), repo, changeLog, NewSchemaRegistry(), log)
	return store, cleanup
}

func testKey() domain.Key {
	return domain.Key{Indicator: "rsi_reversal", Symbol: "EURUSD", Timeframe: "H1"}
}

func baseParams() Params {
	return Params{
		"stop_loss_multiplier":   2.0,
		"take_profit_multiplier": 3.0,
		"confidence_floor":       0.6,
	}
}

func TestBootstrap_ActivatesFirstVersion(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	v, err := store.Bootstrap(testKey(), baseParams(), "tester")
	require.NoError(t, err)

	assert.Equal(t, 1, v.Version)
	assert.Equal(t, domain.VersionActive, v.Status)

	active, err := store.Active(testKey())
	require.NoError(t, err)
	assert.Equal(t, v.ID, active.ID)

	entries, err := store.ChangeLog(testKey(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ChangeManual, entries[0].ChangeType)
	assert.Nil(t, entries[0].OldVersionID)
}

func TestBootstrap_RefusesSecondActivation(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.Bootstrap(testKey(), baseParams(), "tester")
	require.NoError(t, err)

	_, err = store.Bootstrap(testKey(), baseParams(), "tester")
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestBootstrap_RejectsInvalidParams(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.Bootstrap(testKey(), Params{"bogus_param": 1.0}, "tester")
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = store.Bootstrap(testKey(), Params{"confidence_floor": 5.0}, "tester")
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
}

func TestFlip_NewParamsCreatesAndActivates(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	v1, err := store.Bootstrap(testKey(), baseParams(), "tester")
	require.NoError(t, err)

	newParams := baseParams()
	newParams["take_profit_multiplier"] = 3.3

	result, err := store.Flip(FlipRequest{
		Key:              testKey(),
		ExpectedActiveID: v1.ID,
		NewParams:        newParams,
		ChangeType:       domain.ChangeAutoOptimization,
		Actor:            "reviewer",
		Reason:           "widened take profit",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.New.Version)
	assert.Equal(t, domain.VersionActive, result.New.Status)

	// Old version archived, new one active, exactly one entry appended.
	old, err := store.History(testKey())
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.Equal(t, domain.VersionActive, old[0].Status)
	assert.Equal(t, domain.VersionArchived, old[1].Status)

	entries, err := store.ChangeLog(testKey(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2) // bootstrap + flip
	assert.Equal(t, domain.ChangeAutoOptimization, entries[0].ChangeType)
	require.NotNil(t, entries[0].OldVersionID)
	assert.Equal(t, v1.ID, *entries[0].OldVersionID)
}

func TestFlip_ConflictOnStaleExpectedID(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	v1, err := store.Bootstrap(testKey(), baseParams(), "tester")
	require.NoError(t, err)

	_, err = store.Flip(FlipRequest{
		Key:              testKey(),
		ExpectedActiveID: v1.ID,
		NewParams:        baseParams(),
		ChangeType:       domain.ChangeManual,
		Actor:            "a",
	})
	require.NoError(t, err)

	// Second flip still expecting v1 must fail: someone else flipped first.
	_, err = store.Flip(FlipRequest{
		Key:              testKey(),
		ExpectedActiveID: v1.ID,
		NewParams:        baseParams(),
		ChangeType:       domain.ChangeManual,
		Actor:            "b",
	})
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	// Conflict left no partial writes: still exactly 2 changelog entries.
	entries, err := store.ChangeLog(testKey(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFlip_RollbackToHistoricalVersion(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	// Build up versions 1..5.
	_, err := store.Bootstrap(testKey(), baseParams(), "tester")
	require.NoError(t, err)
	var versions []*FlipResult
	for i := 0; i < 4; i++ {
		p := baseParams()
		p["stop_loss_multiplier"] = 2.0 + float64(i)*0.1
		r, err := store.Flip(FlipRequest{
			Key:        testKey(),
			NewParams:  p,
			ChangeType: domain.ChangeManual,
			Actor:      "tester",
		})
		require.NoError(t, err)
		versions = append(versions, r)
	}

	history, err := store.History(testKey())
	require.NoError(t, err)
	require.Len(t, history, 5)
	require.Equal(t, 5, history[0].Version)

	v3 := history[2] // version 3
	v5 := history[0] // version 5, currently active

	result, err := store.Flip(FlipRequest{
		Key:              testKey(),
		ExpectedActiveID: v5.ID,
		TargetVersionID:  v3.ID,
		ChangeType:       domain.ChangeRollback,
		Actor:            "operator",
		Reason:           "v5 underperforming",
	})
	require.NoError(t, err)

	assert.Equal(t, v3.ID, result.New.ID)

	active, err := store.Active(testKey())
	require.NoError(t, err)
	assert.Equal(t, 3, active.Version)

	// Version 5 archived.
	history, err = store.History(testKey())
	require.NoError(t, err)
	for _, v := range history {
		if v.ID == v5.ID {
			assert.Equal(t, domain.VersionArchived, v.Status)
		}
	}

	entries, err := store.ChangeLog(testKey(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ChangeRollback, entries[0].ChangeType)
	assert.Equal(t, v3.ID, entries[0].NewVersionID)

	_ = versions
}

func TestFlip_RollbackToForeignKeyVersionRefused(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	otherKey := domain.Key{Indicator: "rsi_reversal", Symbol: "GBPUSD", Timeframe: "H1"}

	_, err := store.Bootstrap(testKey(), baseParams(), "tester")
	require.NoError(t, err)
	other, err := store.Bootstrap(otherKey, baseParams(), "tester")
	require.NoError(t, err)

	_, err = store.Flip(FlipRequest{
		Key:             testKey(),
		TargetVersionID: other.ID,
		ChangeType:      domain.ChangeRollback,
		Actor:           "operator",
	})
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestFlip_RequiresActiveVersion(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.Flip(FlipRequest{
		Key:        testKey(),
		NewParams:  baseParams(),
		ChangeType: domain.ChangeManual,
		Actor:      "tester",
	})
	assert.ErrorIs(t, err, domain.ErrNoActiveVersion)
}

func TestVersionNumbersNeverReused(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.Bootstrap(testKey(), baseParams(), "tester")
	require.NoError(t, err)

	history, _ := store.History(testKey())
	v1 := history[0]

	// Flip forward, roll back to v1, flip forward again: new version must
	// be 3 (not a reused 2).
	_, err = store.Flip(FlipRequest{Key: testKey(), NewParams: baseParams(), ChangeType: domain.ChangeManual, Actor: "t"})
	require.NoError(t, err)
	_, err = store.Flip(FlipRequest{Key: testKey(), TargetVersionID: v1.ID, ChangeType: domain.ChangeRollback, Actor: "t"})
	require.NoError(t, err)
	r, err := store.Flip(FlipRequest{Key: testKey(), NewParams: baseParams(), ChangeType: domain.ChangeManual, Actor: "t"})
	require.NoError(t, err)

	assert.Equal(t, 3, r.New.Version)
}

func TestActiveKeys(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	k1 := testKey()
	k2 := domain.Key{Indicator: "macd_trend", Symbol: "USDJPY", Timeframe: "M15"}
	_, err := store.Bootstrap(k1, baseParams(), "t")
	require.NoError(t, err)
	_, err = store.Bootstrap(k2, baseParams(), "t")
	require.NoError(t, err)

	keys, err := store.ActiveKeys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Key{k1, k2}, keys)
}

func TestParamsCanonicalIsDeterministic(t *testing.T) {
	p := Params{"b": 2, "a": 1, "c": 3}

	first, err := p.Canonical()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := p.Canonical()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, first)
}
