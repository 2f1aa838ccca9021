package optimization

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/metrics"
	"github.com/quantpilot/governor/internal/modules/versions"
)

// Repository handles optimization_runs database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new optimization run repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "optimization_runs").Logger(),
	}
}

const runColumns = `id, run_date, indicator, symbol, timeframe, quality_score,
	current_version_id, current_params, current_metrics, proposed_params,
	expected_metrics, improvement_score, improvement_components,
	safeguards_passed, safeguard_failures, recommendation, confidence,
	status, reason, reviewed_by, reviewed_at, applied_at, created_at`

// Save persists a run for (run_date, key). Re-running the engine on the
// same day overwrites the previous result only while it is still
// pending_review; a reviewed run is never replaced and the attempt returns
// domain.ErrStateConflict. The run's ID is refreshed from the stored row
// so same-day reruns keep a stable id.
func (r *Repository) Save(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	currentParams, err := run.CurrentParams.Canonical()
	if err != nil {
		return err
	}
	currentMetrics, err := json.Marshal(run.CurrentMetrics)
	if err != nil {
		return fmt.Errorf("failed to encode current metrics: %w", err)
	}
	components, err := json.Marshal(run.Components)
	if err != nil {
		return fmt.Errorf("failed to encode improvement components: %w", err)
	}
	failures, err := json.Marshal(run.SafeguardFailures)
	if err != nil {
		return fmt.Errorf("failed to encode safeguard failures: %w", err)
	}

	var proposedParams, expectedMetrics interface{}
	if run.ProposedParams != nil {
		s, err := run.ProposedParams.Canonical()
		if err != nil {
			return err
		}
		proposedParams = s
	}
	if run.ExpectedMetrics != nil {
		data, err := json.Marshal(run.ExpectedMetrics)
		if err != nil {
			return fmt.Errorf("failed to encode expected metrics: %w", err)
		}
		expectedMetrics = string(data)
	}

	query := `
		INSERT INTO optimization_runs
		(id, run_date, indicator, symbol, timeframe, quality_score,
		 current_version_id, current_params, current_metrics, proposed_params,
		 expected_metrics, improvement_score, improvement_components,
		 safeguards_passed, safeguard_failures, recommendation, confidence,
		 status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_date, indicator, symbol, timeframe) DO UPDATE SET
			quality_score = excluded.quality_score,
			current_version_id = excluded.current_version_id,
			current_params = excluded.current_params,
			current_metrics = excluded.current_metrics,
			proposed_params = excluded.proposed_params,
			expected_metrics = excluded.expected_metrics,
			improvement_score = excluded.improvement_score,
			improvement_components = excluded.improvement_components,
			safeguards_passed = excluded.safeguards_passed,
			safeguard_failures = excluded.safeguard_failures,
			recommendation = excluded.recommendation,
			confidence = excluded.confidence,
			reason = excluded.reason
		WHERE optimization_runs.status = 'pending_review'
	`

	_, err = r.db.Exec(query,
		run.ID, run.RunDate, run.Key.Indicator, run.Key.Symbol, run.Key.Timeframe,
		run.QualityScore, run.CurrentVersionID, currentParams, string(currentMetrics),
		proposedParams, expectedMetrics, run.ImprovementScore, string(components),
		boolToInt(run.SafeguardsPassed), string(failures),
		string(run.Recommendation), string(run.Confidence), string(run.Status),
		run.Reason, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save optimization run for %s: %w", run.Key, err)
	}

	row := r.db.QueryRow(`SELECT id, status FROM optimization_runs
		WHERE run_date = ? AND indicator = ? AND symbol = ? AND timeframe = ?`,
		run.RunDate, run.Key.Indicator, run.Key.Symbol, run.Key.Timeframe)
	var storedID, storedStatus string
	if err := row.Scan(&storedID, &storedStatus); err != nil {
		return fmt.Errorf("failed to read back run for %s: %w", run.Key, err)
	}
	if domain.RunStatus(storedStatus) != domain.RunPendingReview {
		return fmt.Errorf("%w: run for %s on %s is already %s",
			domain.ErrStateConflict, run.Key, run.RunDate, storedStatus)
	}
	run.ID = storedID
	return nil
}

// GetByID returns one run or domain.ErrNotFound.
func (r *Repository) GetByID(id string) (*Run, error) {
	row := r.db.QueryRow("SELECT "+runColumns+" FROM optimization_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("optimization run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get optimization run %s: %w", id, err)
	}
	return run, nil
}

// ListByStatus returns runs in a review state, newest first.
func (r *Repository) ListByStatus(status domain.RunStatus, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query("SELECT "+runColumns+` FROM optimization_runs
		WHERE status = ? ORDER BY created_at DESC, id LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s runs: %w", status, err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListByKey returns a key's run history, newest first.
func (r *Repository) ListByKey(key domain.Key, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query("SELECT "+runColumns+` FROM optimization_runs
		WHERE indicator = ? AND symbol = ? AND timeframe = ?
		ORDER BY run_date DESC LIMIT ?`,
		key.Indicator, key.Symbol, key.Timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for %s: %w", key, err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// SetReviewStatus moves a run between review states with an optimistic
// guard on the expected current status. Returns domain.ErrStateConflict
// when the run is not in the expected state.
func (r *Repository) SetReviewStatus(id string, expected, next domain.RunStatus, reviewer string) error {
	now := time.Now().Unix()

	res, err := r.db.Exec(`UPDATE optimization_runs
		SET status = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status = ?`,
		string(next), reviewer, now, id, string(expected))
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run update %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: run %s is not %s", domain.ErrStateConflict, id, expected)
	}

	r.log.Info().Str("run_id", id).Str("status", string(next)).Str("reviewer", reviewer).Msg("Run review status changed")
	return nil
}

// MarkAppliedTx stamps an approved run as applied inside the flip
// transaction, so the run state and the version flip commit together.
func (r *Repository) MarkAppliedTx(tx *sql.Tx, id string, now time.Time) error {
	res, err := tx.Exec(`UPDATE optimization_runs
		SET status = ?, applied_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.RunApplied), now.Unix(), id, string(domain.RunApproved))
	if err != nil {
		return fmt.Errorf("failed to mark run %s applied: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run %s apply: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: run %s is not approved", domain.ErrStateConflict, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var currentParams, currentMetrics, components, failures, recommendation, confidence, status string
	var proposedParams, expectedMetrics, reviewedBy sql.NullString
	var safeguardsPassed int
	var reviewedAt, appliedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&run.ID, &run.RunDate,
		&run.Key.Indicator, &run.Key.Symbol, &run.Key.Timeframe,
		&run.QualityScore, &run.CurrentVersionID, &currentParams, &currentMetrics,
		&proposedParams, &expectedMetrics, &run.ImprovementScore, &components,
		&safeguardsPassed, &failures, &recommendation, &confidence, &status,
		&run.Reason, &reviewedBy, &reviewedAt, &appliedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if run.CurrentParams, err = versions.ParseParams(currentParams); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(currentMetrics), &run.CurrentMetrics); err != nil {
		return nil, fmt.Errorf("failed to decode current metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(components), &run.Components); err != nil {
		return nil, fmt.Errorf("failed to decode improvement components: %w", err)
	}
	if err := json.Unmarshal([]byte(failures), &run.SafeguardFailures); err != nil {
		return nil, fmt.Errorf("failed to decode safeguard failures: %w", err)
	}
	if proposedParams.Valid {
		if run.ProposedParams, err = versions.ParseParams(proposedParams.String); err != nil {
			return nil, err
		}
	}
	if expectedMetrics.Valid {
		var m metrics.Metrics
		if err := json.Unmarshal([]byte(expectedMetrics.String), &m); err != nil {
			return nil, fmt.Errorf("failed to decode expected metrics: %w", err)
		}
		run.ExpectedMetrics = &m
	}

	run.SafeguardsPassed = safeguardsPassed != 0
	run.Recommendation = domain.Recommendation(recommendation)
	run.Confidence = domain.Confidence(confidence)
	run.Status = domain.RunStatus(status)
	if reviewedBy.Valid {
		run.ReviewedBy = &reviewedBy.String
	}
	if reviewedAt.Valid {
		t := time.Unix(reviewedAt.Int64, 0).UTC()
		run.ReviewedAt = &t
	}
	if appliedAt.Valid {
		t := time.Unix(appliedAt.Int64, 0).UTC()
		run.AppliedAt = &t
	}
	run.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]Run, error) {
	var result []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
