// Package history provides the SQLite-backed trade history provider. The
// trades and shadow_trades tables are written by the external execution
// system; this core only reads them.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/domain"
)

// Provider reads closed and shadow trades from the shared database.
// Implements domain.TradeHistoryProvider.
type Provider struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewProvider creates a trade history provider.
func NewProvider(db *sql.DB, log zerolog.Logger) *Provider {
	return &Provider{
		db:  db,
		log: log.With().Str("repo", "trade_history").Logger(),
	}
}

// ClosedTrades returns the closed trades whose exit falls inside [from, to),
// ordered by entry time. P/L is realized at exit, so the exit timestamp is
// what places a trade in an evaluation window; a position opened long before
// the window still counts on the day it closes. Empty key fields act as
// wildcards, so a symbol-level query passes an empty indicator and timeframe.
func (p *Provider) ClosedTrades(account string, key domain.Key, from, to time.Time) ([]domain.Trade, error) {
	query := `SELECT symbol, direction, profit, entry_time, exit_time FROM trades
		WHERE account = ? AND exit_time >= ? AND exit_time < ?`
	args := []interface{}{account, from.Unix(), to.Unix()}
	query, args = appendKeyFilter(query, args, key)
	query += " ORDER BY entry_time, id"

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s/%s: %w", account, key.Symbol, err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ShadowTrades returns the closed shadow trades whose exit falls inside
// [from, to), ordered by entry time. Open shadow positions (no exit yet)
// are excluded.
func (p *Provider) ShadowTrades(account string, key domain.Key, from, to time.Time) ([]domain.Trade, error) {
	query := `SELECT symbol, direction, profit, entry_time, exit_time FROM shadow_trades
		WHERE account = ? AND exit_time IS NOT NULL AND profit IS NOT NULL
		  AND exit_time >= ? AND exit_time < ?`
	args := []interface{}{account, from.Unix(), to.Unix()}
	query, args = appendKeyFilter(query, args, key)
	query += " ORDER BY entry_time, id"

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shadow trades for %s/%s: %w", account, key.Symbol, err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func appendKeyFilter(query string, args []interface{}, key domain.Key) (string, []interface{}) {
	if key.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, key.Symbol)
	}
	if key.Timeframe != "" {
		query += " AND timeframe = ?"
		args = append(args, key.Timeframe)
	}
	return query, args
}

func scanTrades(rows *sql.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var direction string
		var entryTime, exitTime int64

		if err := rows.Scan(&t.Symbol, &direction, &t.Profit, &entryTime, &exitTime); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		t.Direction = domain.TradeDirection(direction)
		t.EntryTime = time.Unix(entryTime, 0).UTC()
		t.ExitTime = time.Unix(exitTime, 0).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
