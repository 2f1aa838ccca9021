package versions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so repository reads can
// run standalone or inside the flip transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Repository handles parameter_versions database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new parameter version repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "versions").Logger(),
	}
}

// versionColumns avoids SELECT *; order must match scanVersion.
const versionColumns = `id, indicator, symbol, timeframe, version, params, status,
	created_by, approved_by, created_at, approved_at, activated_at, deactivated_at`

// GetActive returns the currently active version for a key.
// Returns domain.ErrNoActiveVersion when the key has none.
func (r *Repository) GetActive(key domain.Key) (*ParameterVersion, error) {
	return getActive(r.db, key)
}

// GetActiveTx is the transactional variant used inside the flip primitive.
func (r *Repository) GetActiveTx(tx *sql.Tx, key domain.Key) (*ParameterVersion, error) {
	return getActive(tx, key)
}

func getActive(q querier, key domain.Key) (*ParameterVersion, error) {
	query := "SELECT " + versionColumns + ` FROM parameter_versions
		WHERE indicator = ? AND symbol = ? AND timeframe = ? AND status = 'active'`

	row := q.QueryRow(query, key.Indicator, key.Symbol, key.Timeframe)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w for key %s", domain.ErrNoActiveVersion, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active version for %s: %w", key, err)
	}
	return v, nil
}

// GetByID returns a version by its row id, or domain.ErrNotFound.
func (r *Repository) GetByID(id int64) (*ParameterVersion, error) {
	return getByID(r.db, id)
}

// GetByIDTx is the transactional variant of GetByID.
func (r *Repository) GetByIDTx(tx *sql.Tx, id int64) (*ParameterVersion, error) {
	return getByID(tx, id)
}

func getByID(q querier, id int64) (*ParameterVersion, error) {
	query := "SELECT " + versionColumns + " FROM parameter_versions WHERE id = ?"

	row := q.QueryRow(query, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("parameter version %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %d: %w", id, err)
	}
	return v, nil
}

// ListByKey returns all versions for a key, newest version first.
func (r *Repository) ListByKey(key domain.Key) ([]ParameterVersion, error) {
	query := "SELECT " + versionColumns + ` FROM parameter_versions
		WHERE indicator = ? AND symbol = ? AND timeframe = ?
		ORDER BY version DESC`

	rows, err := r.db.Query(query, key.Indicator, key.Symbol, key.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", key, err)
	}
	defer rows.Close()

	var result []ParameterVersion
	for rows.Next() {
		v, err := scanVersionFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version row: %w", err)
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

// ListActiveKeys returns every key that currently has an active version.
// This is the key universe the daily and monthly batches fan out over.
func (r *Repository) ListActiveKeys() ([]domain.Key, error) {
	query := `SELECT indicator, symbol, timeframe FROM parameter_versions
		WHERE status = 'active'
		ORDER BY indicator, symbol, timeframe`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.Key
	for rows.Next() {
		var k domain.Key
		if err := rows.Scan(&k.Indicator, &k.Symbol, &k.Timeframe); err != nil {
			return nil, fmt.Errorf("failed to scan key row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CreateTx inserts a new version row inside a transaction. The version
// number is MAX(version)+1 for the key, computed in the same transaction so
// numbers are strictly increasing and never reused.
func (r *Repository) CreateTx(tx *sql.Tx, key domain.Key, params Params, status domain.VersionStatus, createdBy string, now time.Time) (*ParameterVersion, error) {
	var next int
	err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM parameter_versions
		WHERE indicator = ? AND symbol = ? AND timeframe = ?`,
		key.Indicator, key.Symbol, key.Timeframe).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to compute next version for %s: %w", key, err)
	}

	canonical, err := params.Canonical()
	if err != nil {
		return nil, err
	}

	var activatedAt *int64
	if status == domain.VersionActive {
		ts := now.Unix()
		activatedAt = &ts
	}

	res, err := tx.Exec(`INSERT INTO parameter_versions
		(indicator, symbol, timeframe, version, params, status, created_by, created_at, activated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.Indicator, key.Symbol, key.Timeframe, next, canonical, string(status), createdBy, now.Unix(), activatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version %d for %s: %w", next, key, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted version id: %w", err)
	}

	v := &ParameterVersion{
		ID:        id,
		Key:       key,
		Version:   next,
		Params:    params.Clone(),
		Status:    status,
		CreatedBy: createdBy,
		CreatedAt: now,
	}
	if status == domain.VersionActive {
		t := now
		v.ActivatedAt = &t
	}
	return v, nil
}

// ArchiveTx marks a version archived and stamps deactivation time.
// The status guard in the WHERE clause is the optimistic check: zero rows
// affected means someone else flipped the key first.
func (r *Repository) ArchiveTx(tx *sql.Tx, id int64, now time.Time) error {
	res, err := tx.Exec(`UPDATE parameter_versions
		SET status = 'archived', deactivated_at = ?
		WHERE id = ? AND status = 'active'`, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to archive version %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive result for version %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: version %d is no longer active", domain.ErrStateConflict, id)
	}
	return nil
}

// ActivateTx marks an existing (archived or proposed) version active.
func (r *Repository) ActivateTx(tx *sql.Tx, id int64, approvedBy string, now time.Time) error {
	res, err := tx.Exec(`UPDATE parameter_versions
		SET status = 'active', activated_at = ?, approved_by = ?, approved_at = ?
		WHERE id = ? AND status != 'active'`, now.Unix(), approvedBy, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to activate version %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check activate result for version %d: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: version %d is already active", domain.ErrStateConflict, id)
	}
	return nil
}

// scanVersion scans a version from a single-row query
func scanVersion(row *sql.Row) (*ParameterVersion, error) {
	var v ParameterVersion
	var paramsJSON, status string
	var approvedBy sql.NullString
	var createdAt int64
	var approvedAt, activatedAt, deactivatedAt sql.NullInt64

	err := row.Scan(&v.ID, &v.Key.Indicator, &v.Key.Symbol, &v.Key.Timeframe, &v.Version,
		&paramsJSON, &status, &v.CreatedBy, &approvedBy, &createdAt, &approvedAt, &activatedAt, &deactivatedAt)
	if err != nil {
		return nil, err
	}

	return buildVersion(&v, paramsJSON, status, approvedBy, createdAt, approvedAt, activatedAt, deactivatedAt)
}

// scanVersionFromRows scans a version from a multi-row result set
func scanVersionFromRows(rows *sql.Rows) (*ParameterVersion, error) {
	var v ParameterVersion
	var paramsJSON, status string
	var approvedBy sql.NullString
	var createdAt int64
	var approvedAt, activatedAt, deactivatedAt sql.NullInt64

	err := rows.Scan(&v.ID, &v.Key.Indicator, &v.Key.Symbol, &v.Key.Timeframe, &v.Version,
		&paramsJSON, &status, &v.CreatedBy, &approvedBy, &createdAt, &approvedAt, &activatedAt, &deactivatedAt)
	if err != nil {
		return nil, err
	}

	return buildVersion(&v, paramsJSON, status, approvedBy, createdAt, approvedAt, activatedAt, deactivatedAt)
}

func buildVersion(v *ParameterVersion, paramsJSON, status string, approvedBy sql.NullString,
	createdAt int64, approvedAt, activatedAt, deactivatedAt sql.NullInt64) (*ParameterVersion, error) {

	params, err := ParseParams(paramsJSON)
	if err != nil {
		return nil, err
	}
	v.Params = params
	v.Status = domain.VersionStatus(status)
	v.CreatedAt = time.Unix(createdAt, 0).UTC()

	if approvedBy.Valid {
		s := approvedBy.String
		v.ApprovedBy = &s
	}
	if approvedAt.Valid {
		t := time.Unix(approvedAt.Int64, 0).UTC()
		v.ApprovedAt = &t
	}
	if activatedAt.Valid {
		t := time.Unix(activatedAt.Int64, 0).UTC()
		v.ActivatedAt = &t
	}
	if deactivatedAt.Valid {
		t := time.Unix(deactivatedAt.Int64, 0).UTC()
		v.DeactivatedAt = &t
	}
	return v, nil
}
