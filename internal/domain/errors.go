package domain

import "errors"

// Sentinel errors shared across modules. Callers match with errors.Is;
// wrapping adds the key/run specifics.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict is returned when an entity is not in the lifecycle
	// state the requested action expects (e.g. approving an already-applied
	// run, or flipping a version that is no longer active). The mutation is
	// refused with no partial writes.
	ErrStateConflict = errors.New("state conflict")

	// ErrNoActiveVersion is returned when a key being evaluated or
	// optimized has no currently active parameter version.
	ErrNoActiveVersion = errors.New("no active parameter version")

	// ErrInvalidParams is returned when a parameter map fails schema
	// validation at the version store boundary.
	ErrInvalidParams = errors.New("invalid parameters")
)
