package versions

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantpilot/governor/internal/database"
	"github.com/quantpilot/governor/internal/domain"
)

// Store is the parameter version store service. It owns the version-flip
// primitive: the only way any caller changes which version is live.
type Store struct {
	db        *sql.DB
	versions  *Repository
	changeLog *ChangeLogRepository
	schemas   *SchemaRegistry
	log       zerolog.Logger
}

// NewStore creates the parameter version store.
func NewStore(db *sql.DB, versions *Repository, changeLog *ChangeLogRepository, schemas *SchemaRegistry, log zerolog.Logger) *Store {
	return &Store{
		db:        db,
		versions:  versions,
		changeLog: changeLog,
		schemas:   schemas,
		log:       log.With().Str("service", "version_store").Logger(),
	}
}

// FlipRequest describes one atomic version flip. Exactly one of NewParams
// or TargetVersionID must be set: NewParams creates and activates a new row
// (apply path), TargetVersionID re-activates a historical row (rollback
// path).
type FlipRequest struct {
	Key domain.Key

	// ExpectedActiveID is the optimistic-concurrency check: the flip fails
	// with domain.ErrStateConflict unless this version is still the active
	// one. Zero skips the id check but the key must still have an active
	// version.
	ExpectedActiveID int64

	NewParams       Params
	TargetVersionID int64

	ChangeType  domain.ChangeType
	Actor       string
	Reason      string
	Description string
}

// FlipResult reports the outcome of a successful flip.
type FlipResult struct {
	Old   *ParameterVersion
	New   *ParameterVersion
	Entry *ChangeLogEntry
}

// Flip atomically archives the currently active version for the key,
// activates the target, and appends exactly one change log entry. All three
// writes commit together or not at all.
func (s *Store) Flip(req FlipRequest) (*FlipResult, error) {
	var result *FlipResult
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		r, err := s.FlipTx(tx, req, time.Now().UTC())
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FlipTx performs the flip inside a caller-provided transaction so callers
// can commit related writes (e.g. marking an optimization run applied)
// atomically with the flip itself.
func (s *Store) FlipTx(tx *sql.Tx, req FlipRequest, now time.Time) (*FlipResult, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	if (req.NewParams == nil) == (req.TargetVersionID == 0) {
		return nil, fmt.Errorf("flip for %s: exactly one of new params or target version must be set", req.Key)
	}

	current, err := s.versions.GetActiveTx(tx, req.Key)
	if err != nil {
		return nil, err
	}
	if req.ExpectedActiveID != 0 && current.ID != req.ExpectedActiveID {
		return nil, fmt.Errorf("%w: expected version %d active for %s, found %d",
			domain.ErrStateConflict, req.ExpectedActiveID, req.Key, current.ID)
	}

	// Archive first so the one-active-per-key index never sees two active
	// rows, even transiently.
	if err := s.versions.ArchiveTx(tx, current.ID, now); err != nil {
		return nil, err
	}

	var target *ParameterVersion
	if req.NewParams != nil {
		if err := s.schemas.Validate(req.Key.Indicator, req.NewParams); err != nil {
			return nil, err
		}
		target, err = s.versions.CreateTx(tx, req.Key, req.NewParams, domain.VersionActive, req.Actor, now)
		if err != nil {
			return nil, err
		}
	} else {
		target, err = s.versions.GetByIDTx(tx, req.TargetVersionID)
		if err != nil {
			return nil, err
		}
		if target.Key != req.Key {
			return nil, fmt.Errorf("%w: version %d belongs to %s, not %s",
				domain.ErrStateConflict, target.ID, target.Key, req.Key)
		}
		if target.ID == current.ID {
			return nil, fmt.Errorf("%w: version %d is already active for %s",
				domain.ErrStateConflict, target.ID, req.Key)
		}
		if err := s.versions.ActivateTx(tx, target.ID, req.Actor, now); err != nil {
			return nil, err
		}
		target.Status = domain.VersionActive
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("v%d -> v%d", current.Version, target.Version)
	}

	oldID := current.ID
	entry := &ChangeLogEntry{
		Key:          req.Key,
		OldVersionID: &oldID,
		NewVersionID: target.ID,
		ChangeType:   req.ChangeType,
		Description:  description,
		Actor:        req.Actor,
		Reason:       req.Reason,
	}
	if err := s.changeLog.AppendTx(tx, entry, now); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("key", req.Key.String()).
		Int64("old_version_id", current.ID).
		Int64("new_version_id", target.ID).
		Str("change_type", string(req.ChangeType)).
		Msg("Parameter version flipped")

	return &FlipResult{Old: current, New: target, Entry: entry}, nil
}

// CreateProposed validates and inserts a new proposed (not active) version.
func (s *Store) CreateProposed(key domain.Key, params Params, createdBy string) (*ParameterVersion, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := s.schemas.Validate(key.Indicator, params); err != nil {
		return nil, err
	}

	var created *ParameterVersion
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		v, err := s.versions.CreateTx(tx, key, params, domain.VersionProposed, createdBy, time.Now().UTC())
		if err != nil {
			return err
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Bootstrap activates the first version for a key that has none yet.
// Refuses with domain.ErrStateConflict when an active version exists;
// existing keys must go through Flip.
func (s *Store) Bootstrap(key domain.Key, params Params, actor string) (*ParameterVersion, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := s.schemas.Validate(key.Indicator, params); err != nil {
		return nil, err
	}

	var created *ParameterVersion
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		_, err := s.versions.GetActiveTx(tx, key)
		if err == nil {
			return fmt.Errorf("%w: key %s already has an active version", domain.ErrStateConflict, key)
		}
		if !errors.Is(err, domain.ErrNoActiveVersion) {
			return err
		}

		v, err := s.versions.CreateTx(tx, key, params, domain.VersionActive, actor, now)
		if err != nil {
			return err
		}

		entry := &ChangeLogEntry{
			Key:          key,
			NewVersionID: v.ID,
			ChangeType:   domain.ChangeManual,
			Description:  fmt.Sprintf("initial version v%d", v.Version),
			Actor:        actor,
			Reason:       "bootstrap",
		}
		if err := s.changeLog.AppendTx(tx, entry, now); err != nil {
			return err
		}

		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("key", key.String()).Int64("version_id", created.ID).Msg("Key bootstrapped")
	return created, nil
}

// Active returns the active version for a key (read-only convenience).
func (s *Store) Active(key domain.Key) (*ParameterVersion, error) {
	return s.versions.GetActive(key)
}

// History returns all versions for a key, newest first.
func (s *Store) History(key domain.Key) ([]ParameterVersion, error) {
	return s.versions.ListByKey(key)
}

// ChangeLog returns the audit trail for a key, newest first.
func (s *Store) ChangeLog(key domain.Key, limit int) ([]ChangeLogEntry, error) {
	return s.changeLog.ListByKey(key, limit)
}

// ActiveKeys returns every key with an active version.
func (s *Store) ActiveKeys() ([]domain.Key, error) {
	return s.versions.ListActiveKeys()
}
