// Package versions implements the versioned parameter store: the
// authoritative configuration per key, the append-only change log, and the
// atomic version-flip primitive that every apply and rollback funnels
// through.
package versions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantpilot/governor/internal/domain"
)

// Params is one indicator parameter mapping. Values are numeric only:
// every governing operation (delta bounding, fractional-change safeguards)
// is arithmetic, so non-numeric indicator options are not tunable here.
type Params map[string]float64

// Canonical returns the canonical JSON encoding of the parameter map.
// encoding/json sorts map keys, so identical maps always produce identical
// bytes - this is what makes optimization output byte-comparable.
func (p Params) Canonical() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return string(data), nil
}

// Clone returns a deep copy of the parameter map.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParseParams decodes a canonical JSON parameter string.
func ParseParams(s string) (Params, error) {
	var p Params
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	return p, nil
}

// ParameterVersion is one row of the versioned configuration store.
// At most one version per key is active at any instant; version numbers
// are strictly increasing per key and never reused.
type ParameterVersion struct {
	ID            int64                `json:"id"`
	Key           domain.Key           `json:"key"`
	Version       int                  `json:"version"`
	Params        Params               `json:"params"`
	Status        domain.VersionStatus `json:"status"`
	CreatedBy     string               `json:"created_by"`
	ApprovedBy    *string              `json:"approved_by,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	ApprovedAt    *time.Time           `json:"approved_at,omitempty"`
	ActivatedAt   *time.Time           `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time           `json:"deactivated_at,omitempty"`
}

// ChangeLogEntry is one immutable audit record of a version flip.
type ChangeLogEntry struct {
	ID           string            `json:"id"`
	Key          domain.Key        `json:"key"`
	OldVersionID *int64            `json:"old_version_id,omitempty"`
	NewVersionID int64             `json:"new_version_id"`
	ChangeType   domain.ChangeType `json:"change_type"`
	Description  string            `json:"description"`
	Actor        string            `json:"actor"`
	Reason       string            `json:"reason"`
	CreatedAt    time.Time         `json:"created_at"`
}
