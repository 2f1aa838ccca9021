package status

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/domain"
)

// Repository handles performance_snapshots database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new performance snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

const snapshotColumns = `id, account, symbol, eval_date, trade_count, win_rate, total_profit,
	profit_pct, drawdown_pct, profit_factor, status, previous_status, status_reason,
	status_changed_at, consecutive_profit_days, consecutive_loss_days,
	shadow_trades, shadow_win_rate, shadow_profit, shadow_profitable_days,
	created_at, updated_at`

// Latest returns the most recent snapshot for a symbol strictly before the
// given date, or nil when none exists (first evaluation for the symbol).
func (r *Repository) Latest(account, symbol, beforeDate string) (*Snapshot, error) {
	query := "SELECT " + snapshotColumns + ` FROM performance_snapshots
		WHERE account = ? AND symbol = ? AND eval_date < ?
		ORDER BY eval_date DESC LIMIT 1`

	row := r.db.QueryRow(query, account, symbol, beforeDate)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot for %s/%s: %w", account, symbol, err)
	}
	return snap, nil
}

// Current returns the most recent snapshot for a symbol regardless of date,
// or nil when the symbol has never been evaluated.
func (r *Repository) Current(account, symbol string) (*Snapshot, error) {
	query := "SELECT " + snapshotColumns + ` FROM performance_snapshots
		WHERE account = ? AND symbol = ?
		ORDER BY eval_date DESC LIMIT 1`

	row := r.db.QueryRow(query, account, symbol)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current snapshot for %s/%s: %w", account, symbol, err)
	}
	return snap, nil
}

// ListCurrent returns the latest snapshot per symbol for an account.
func (r *Repository) ListCurrent(account string) ([]Snapshot, error) {
	query := "SELECT " + snapshotColumns + ` FROM performance_snapshots
		WHERE account = ? AND (symbol, eval_date) IN (
			SELECT symbol, MAX(eval_date) FROM performance_snapshots
			WHERE account = ? GROUP BY symbol
		)
		ORDER BY symbol`

	rows, err := r.db.Query(query, account, account)
	if err != nil {
		return nil, fmt.Errorf("failed to list current snapshots for %s: %w", account, err)
	}
	defer rows.Close()

	var result []Snapshot
	for rows.Next() {
		snap, err := scanSnapshotFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		result = append(result, *snap)
	}
	return result, rows.Err()
}

// Upsert writes the snapshot for (account, symbol, eval_date). Evaluations
// are idempotent per day: re-running a day replaces that day's row.
func (r *Repository) Upsert(snap *Snapshot) error {
	now := time.Now().Unix()

	var statusChangedAt interface{}
	if snap.StatusChangedAt != nil {
		statusChangedAt = snap.StatusChangedAt.Unix()
	}
	var previousStatus interface{}
	if snap.PreviousStatus != "" {
		previousStatus = string(snap.PreviousStatus)
	}

	query := `
		INSERT INTO performance_snapshots
		(account, symbol, eval_date, trade_count, win_rate, total_profit, profit_pct,
		 drawdown_pct, profit_factor, status, previous_status, status_reason,
		 status_changed_at, consecutive_profit_days, consecutive_loss_days,
		 shadow_trades, shadow_win_rate, shadow_profit, shadow_profitable_days,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, symbol, eval_date) DO UPDATE SET
			trade_count = excluded.trade_count,
			win_rate = excluded.win_rate,
			total_profit = excluded.total_profit,
			profit_pct = excluded.profit_pct,
			drawdown_pct = excluded.drawdown_pct,
			profit_factor = excluded.profit_factor,
			status = excluded.status,
			previous_status = excluded.previous_status,
			status_reason = excluded.status_reason,
			status_changed_at = excluded.status_changed_at,
			consecutive_profit_days = excluded.consecutive_profit_days,
			consecutive_loss_days = excluded.consecutive_loss_days,
			shadow_trades = excluded.shadow_trades,
			shadow_win_rate = excluded.shadow_win_rate,
			shadow_profit = excluded.shadow_profit,
			shadow_profitable_days = excluded.shadow_profitable_days,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		snap.Account, snap.Symbol, snap.EvalDate,
		snap.TradeCount, snap.WinRate, snap.TotalProfit, snap.ProfitPct,
		snap.DrawdownPct, snap.ProfitFactor,
		string(snap.Status), previousStatus, snap.StatusReason, statusChangedAt,
		snap.ConsecutiveProfitDays, snap.ConsecutiveLossDays,
		snap.ShadowTrades, snap.ShadowWinRate, snap.ShadowProfit, snap.ShadowProfitableDays,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot for %s/%s on %s: %w",
			snap.Account, snap.Symbol, snap.EvalDate, err)
	}
	return nil
}

// SetStatus overwrites the status on the symbol's latest snapshot. Used by
// the review workflow for the reviewer-driven reactivation transition; the
// expected current status acts as the optimistic guard.
func (r *Repository) SetStatus(account, symbol string, expected, next domain.SymbolStatus, reason string) error {
	now := time.Now().Unix()

	res, err := r.db.Exec(`
		UPDATE performance_snapshots
		SET status = ?, previous_status = status, status_reason = ?,
		    status_changed_at = ?, updated_at = ?
		WHERE account = ? AND symbol = ? AND status = ?
		  AND eval_date = (
			SELECT MAX(eval_date) FROM performance_snapshots
			WHERE account = ? AND symbol = ?
		  )`,
		string(next), reason, now, now, account, symbol, string(expected), account, symbol)
	if err != nil {
		return fmt.Errorf("failed to set status for %s/%s: %w", account, symbol, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update for %s/%s: %w", account, symbol, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s is not currently %s", domain.ErrStateConflict, account, symbol, expected)
	}

	r.log.Info().
		Str("symbol", symbol).
		Str("from", string(expected)).
		Str("to", string(next)).
		Msg("Symbol status overridden")
	return nil
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var s Snapshot
	var status string
	var previousStatus, statusReason sql.NullString
	var statusChangedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&s.ID, &s.Account, &s.Symbol, &s.EvalDate,
		&s.TradeCount, &s.WinRate, &s.TotalProfit, &s.ProfitPct,
		&s.DrawdownPct, &s.ProfitFactor, &status, &previousStatus, &statusReason,
		&statusChangedAt, &s.ConsecutiveProfitDays, &s.ConsecutiveLossDays,
		&s.ShadowTrades, &s.ShadowWinRate, &s.ShadowProfit, &s.ShadowProfitableDays,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	finishSnapshot(&s, status, previousStatus, statusReason, statusChangedAt, createdAt, updatedAt)
	return &s, nil
}

func scanSnapshotFromRows(rows *sql.Rows) (*Snapshot, error) {
	var s Snapshot
	var status string
	var previousStatus, statusReason sql.NullString
	var statusChangedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := rows.Scan(&s.ID, &s.Account, &s.Symbol, &s.EvalDate,
		&s.TradeCount, &s.WinRate, &s.TotalProfit, &s.ProfitPct,
		&s.DrawdownPct, &s.ProfitFactor, &status, &previousStatus, &statusReason,
		&statusChangedAt, &s.ConsecutiveProfitDays, &s.ConsecutiveLossDays,
		&s.ShadowTrades, &s.ShadowWinRate, &s.ShadowProfit, &s.ShadowProfitableDays,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	finishSnapshot(&s, status, previousStatus, statusReason, statusChangedAt, createdAt, updatedAt)
	return &s, nil
}

func finishSnapshot(s *Snapshot, status string, previousStatus, statusReason sql.NullString,
	statusChangedAt sql.NullInt64, createdAt, updatedAt int64) {

	s.Status = domain.SymbolStatus(status)
	if previousStatus.Valid {
		s.PreviousStatus = domain.SymbolStatus(previousStatus.String)
	}
	if statusReason.Valid {
		s.StatusReason = statusReason.String
	}
	if statusChangedAt.Valid {
		t := time.Unix(statusChangedAt.Int64, 0).UTC()
		s.StatusChangedAt = &t
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
}
