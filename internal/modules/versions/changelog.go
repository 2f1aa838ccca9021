package versions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/domain"
)

// ChangeLogRepository handles the append-only change_log table.
// There are no update or delete operations on purpose: the change log is
// the sole audit trail for version flips.
type ChangeLogRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewChangeLogRepository creates a new change log repository
func NewChangeLogRepository(db *sql.DB, log zerolog.Logger) *ChangeLogRepository {
	return &ChangeLogRepository{
		db:  db,
		log: log.With().Str("repo", "change_log").Logger(),
	}
}

// AppendTx inserts one change log entry inside the flip transaction.
// The generated id is returned on the entry.
func (r *ChangeLogRepository) AppendTx(tx *sql.Tx, entry *ChangeLogEntry, now time.Time) error {
	entry.ID = uuid.NewString()
	entry.CreatedAt = now

	var oldID interface{}
	if entry.OldVersionID != nil {
		oldID = *entry.OldVersionID
	}

	_, err := tx.Exec(`INSERT INTO change_log
		(id, indicator, symbol, timeframe, old_version_id, new_version_id,
		 change_type, description, actor, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Key.Indicator, entry.Key.Symbol, entry.Key.Timeframe,
		oldID, entry.NewVersionID, string(entry.ChangeType),
		entry.Description, entry.Actor, entry.Reason, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to append change log entry for %s: %w", entry.Key, err)
	}
	return nil
}

// ListByKey returns change log entries for a key, newest first.
func (r *ChangeLogRepository) ListByKey(key domain.Key, limit int) ([]ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(`SELECT id, indicator, symbol, timeframe, old_version_id,
		new_version_id, change_type, description, actor, reason, created_at
		FROM change_log
		WHERE indicator = ? AND symbol = ? AND timeframe = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		key.Indicator, key.Symbol, key.Timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change log for %s: %w", key, err)
	}
	defer rows.Close()

	var entries []ChangeLogEntry
	for rows.Next() {
		var e ChangeLogEntry
		var oldID sql.NullInt64
		var changeType string
		var createdAt int64
		err := rows.Scan(&e.ID, &e.Key.Indicator, &e.Key.Symbol, &e.Key.Timeframe,
			&oldID, &e.NewVersionID, &changeType, &e.Description, &e.Actor, &e.Reason, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change log row: %w", err)
		}
		if oldID.Valid {
			v := oldID.Int64
			e.OldVersionID = &v
		}
		e.ChangeType = domain.ChangeType(changeType)
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
