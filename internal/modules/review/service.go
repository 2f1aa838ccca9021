// Package review implements the human review workflow over optimization
// runs: approve, reject, apply, plus the reviewer-driven rollback and
// symbol reactivation paths. Apply and rollback both funnel through the
// version store's atomic flip primitive.
package review

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/database"
	"github.com/quantpilot/governor/internal/domain"
	"github.com/quantpilot/governor/internal/events"
	"github.com/quantpilot/governor/internal/modules/optimization"
	"github.com/quantpilot/governor/internal/modules/status"
	"github.com/quantpilot/governor/internal/modules/versions"
)

// Service is the review workflow service.
type Service struct {
	db        *sql.DB
	runs      *optimization.Repository
	store     *versions.Store
	statusSvc *status.Service
	emitter   *events.Emitter
	log       zerolog.Logger
}

// NewService creates the review workflow service.
func NewService(
	db *sql.DB,
	runs *optimization.Repository,
	store *versions.Store,
	statusSvc *status.Service,
	emitter *events.Emitter,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:        db,
		runs:      runs,
		store:     store,
		statusSvc: statusSvc,
		emitter:   emitter,
		log:       log.With().Str("service", "review").Logger(),
	}
}

// Approve marks a pending run as approved. Refuses runs in any other state.
func (s *Service) Approve(runID, reviewer string) error {
	return s.runs.SetReviewStatus(runID, domain.RunPendingReview, domain.RunApproved, reviewer)
}

// Reject marks a pending run as rejected. Refuses runs in any other state.
func (s *Service) Reject(runID, reviewer string) error {
	return s.runs.SetReviewStatus(runID, domain.RunPendingReview, domain.RunRejected, reviewer)
}

// Apply flips the key's active version to the run's proposed parameters.
// The flip and the run's applied stamp commit in one transaction, so a
// failed flip leaves the run approved and safely retryable.
//
// The optimistic check pins the run's recorded current version: if anything
// flipped the key since the run was computed, Apply fails with a conflict
// instead of applying a proposal derived from stale parameters.
func (s *Service) Apply(runID, actor string) (*versions.FlipResult, error) {
	run, err := s.runs.GetByID(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunApproved {
		return nil, fmt.Errorf("%w: run %s is %s, only approved runs can be applied",
			domain.ErrStateConflict, runID, run.Status)
	}
	if !run.Appliable() {
		return nil, fmt.Errorf("%w: run %s recommends %s and carries no parameter change",
			domain.ErrStateConflict, runID, run.Recommendation)
	}

	var result *versions.FlipResult
	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		r, err := s.store.FlipTx(tx, versions.FlipRequest{
			Key:              run.Key,
			ExpectedActiveID: run.CurrentVersionID,
			NewParams:        run.ProposedParams,
			ChangeType:       domain.ChangeAutoOptimization,
			Actor:            actor,
			Reason:           run.Reason,
		}, now)
		if err != nil {
			return err
		}
		if err := s.runs.MarkAppliedTx(tx, run.ID, now); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitFlip(result, domain.ChangeAutoOptimization, run.ImprovementScore)
	return result, nil
}

// Rollback re-activates a historical version for a key. Rollbacks are
// independent of run history and exempt from the delta safeguard: restoring
// a known-good configuration must always be possible.
func (s *Service) Rollback(key domain.Key, targetVersionID int64, actor, reason string) (*versions.FlipResult, error) {
	result, err := s.store.Flip(versions.FlipRequest{
		Key:             key,
		TargetVersionID: targetVersionID,
		ChangeType:      domain.ChangeRollback,
		Actor:           actor,
		Reason:          reason,
	})
	if err != nil {
		return nil, err
	}

	s.emitFlip(result, domain.ChangeRollback, 0)
	return result, nil
}

// Reactivate returns a disabled symbol to active trading. The shadow gate
// must pass; a reviewer cannot override it through this path.
func (s *Service) Reactivate(account, symbol, actor string) error {
	elig, err := s.statusSvc.ReenableEligibility(account, symbol)
	if err != nil {
		return err
	}
	if !elig.Eligible {
		return fmt.Errorf("%w: %s not eligible for reactivation: %s",
			domain.ErrStateConflict, symbol, strings.Join(elig.Failures, "; "))
	}

	reason := fmt.Sprintf("reactivated by %s after shadow gate pass", actor)
	if err := s.statusSvc.Snapshots().SetStatus(account, symbol,
		domain.StatusDisabled, domain.StatusActive, reason); err != nil {
		return err
	}

	s.emitter.Emit(events.Event{
		Type:     events.StatusChanged,
		Symbol:   symbol,
		OldValue: string(domain.StatusDisabled),
		NewValue: string(domain.StatusActive),
		Reason:   reason,
	})

	s.log.Info().Str("symbol", symbol).Str("actor", actor).Msg("Symbol reactivated")
	return nil
}

// Pending returns the runs awaiting review, newest first.
func (s *Service) Pending(limit int) ([]optimization.Run, error) {
	return s.runs.ListByStatus(domain.RunPendingReview, limit)
}

// Run returns one optimization run.
func (s *Service) Run(runID string) (*optimization.Run, error) {
	return s.runs.GetByID(runID)
}

func (s *Service) emitFlip(result *versions.FlipResult, changeType domain.ChangeType, score float64) {
	ev := events.Event{
		Type:      events.OptimizationApplied,
		Symbol:    result.New.Key.Symbol,
		Timeframe: result.New.Key.Timeframe,
		OldValue:  fmt.Sprintf("v%d", result.Old.Version),
		NewValue:  fmt.Sprintf("v%d", result.New.Version),
		Reason:    fmt.Sprintf("%s: %s", changeType, result.Entry.Reason),
	}
	if score != 0 {
		ev.Metrics = map[string]float64{"improvement_score": score}
	}
	s.emitter.Emit(ev)
}
