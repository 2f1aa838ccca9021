package history

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpilot/governor/internal/domain"
	govtesting "github.com/quantpilot/governor/internal/testing"
)

func TestClosedTrades_FiltersAndOrder(t *testing.T) {
	db, cleanup := govtesting.NewTestDB(t)
	defer cleanup()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	insert := func(account, symbol, timeframe string, profit float64, entry time.Time) {
		_, err := db.Exec(`INSERT INTO trades (account, symbol, timeframe, direction, profit, entry_time, exit_time)
			VALUES (?, ?, ?, 'buy', ?, ?, ?)`,
			account, symbol, timeframe, profit, entry.Unix(), entry.Add(time.Minute).Unix())
		require.NoError(t, err)
	}

	insert("acct1", "EURUSD", "H1", 50, base.Add(2*time.Hour))
	insert("acct1", "EURUSD", "H1", -20, base)
	insert("acct1", "EURUSD", "H4", 30, base)
	insert("acct1", "GBPUSD", "H1", 10, base)
	insert("acct2", "EURUSD", "H1", 99, base)

	p := NewProvider(db.Conn(), zerolog.Nop())

	// Full key: symbol and timeframe both filter.
	trades, err := p.ClosedTrades("acct1", domain.Key{Indicator: "rsi", Symbol: "EURUSD", Timeframe: "H1"},
		base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, -20.0, trades[0].Profit, "ordered by entry time")
	assert.Equal(t, 50.0, trades[1].Profit)

	// Symbol-level key: all timeframes for the symbol.
	trades, err = p.ClosedTrades("acct1", domain.Key{Symbol: "EURUSD"},
		base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	// Window is half-open on exit time: a trade closing exactly at `to`
	// is excluded.
	trades, err = p.ClosedTrades("acct1", domain.Key{Symbol: "EURUSD", Timeframe: "H1"},
		base.Add(-time.Hour), base.Add(2*time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestClosedTrades_LongHeldPositionCountsAtExit(t *testing.T) {
	db, cleanup := govtesting.NewTestDB(t)
	defer cleanup()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Opened well before the window, closed inside it.
	_, err := db.Exec(`INSERT INTO trades (account, symbol, timeframe, direction, profit, entry_time, exit_time)
		VALUES ('acct1', 'EURUSD', 'D1', 'buy', 75, ?, ?)`,
		base.AddDate(0, 0, -40).Unix(), base.Add(30*time.Minute).Unix())
	require.NoError(t, err)

	p := NewProvider(db.Conn(), zerolog.Nop())
	trades, err := p.ClosedTrades("acct1", domain.Key{Symbol: "EURUSD"},
		base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 75.0, trades[0].Profit)
}

func TestShadowTrades_ExcludesOpenPositions(t *testing.T) {
	db, cleanup := govtesting.NewTestDB(t)
	defer cleanup()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := db.Exec(`INSERT INTO shadow_trades (account, symbol, timeframe, direction, entry_price, exit_price, profit, entry_time, exit_time, created_at)
		VALUES ('acct1', 'USDJPY', 'M15', 'sell', 150.0, 149.5, 42.0, ?, ?, ?)`,
		base.Unix(), base.Add(time.Hour).Unix(), base.Unix())
	require.NoError(t, err)

	// Still open: no exit, no profit yet.
	_, err = db.Exec(`INSERT INTO shadow_trades (account, symbol, timeframe, direction, entry_price, entry_time, created_at)
		VALUES ('acct1', 'USDJPY', 'M15', 'buy', 150.2, ?, ?)`,
		base.Add(time.Hour).Unix(), base.Unix())
	require.NoError(t, err)

	p := NewProvider(db.Conn(), zerolog.Nop())
	trades, err := p.ShadowTrades("acct1", domain.Key{Symbol: "USDJPY"},
		base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 42.0, trades[0].Profit)
	assert.Equal(t, domain.DirectionSell, trades[0].Direction)
}
