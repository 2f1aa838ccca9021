package versions

import (
	"fmt"
	"sort"

	"github.com/quantpilot/governor/internal/domain"
)

// ParamSpec bounds one named parameter.
type ParamSpec struct {
	Min float64
	Max float64
}

// ParamSchema is the documented, indicator-specific parameter schema.
// Parameter maps are validated against it at the store boundary so
// downstream code never has to re-check shapes or ranges.
type ParamSchema map[string]ParamSpec

// defaultSchema covers the tunable parameters shared by every strategy
// indicator. Indicators may extend it via RegisterSchema.
var defaultSchema = ParamSchema{
	"stop_loss_multiplier":   {Min: 0.5, Max: 10},
	"take_profit_multiplier": {Min: 0.5, Max: 20},
	"confidence_floor":       {Min: 0, Max: 1},
	"entry_threshold":        {Min: 0, Max: 100},
	"risk_per_trade":         {Min: 0.001, Max: 0.1},
}

// SchemaRegistry resolves the parameter schema for an indicator.
// Construct one per process and inject it; there is no package-level
// mutable registry.
type SchemaRegistry struct {
	schemas map[string]ParamSchema
}

// NewSchemaRegistry creates a registry holding only the default schema.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]ParamSchema)}
}

// RegisterSchema sets the schema for an indicator. Keys not in the schema
// are rejected at validation time, so the schema must list every parameter
// the indicator carries.
func (r *SchemaRegistry) RegisterSchema(indicator string, schema ParamSchema) {
	merged := make(ParamSchema, len(defaultSchema)+len(schema))
	for k, v := range defaultSchema {
		merged[k] = v
	}
	for k, v := range schema {
		merged[k] = v
	}
	r.schemas[indicator] = merged
}

// SchemaFor returns the schema for an indicator, falling back to the
// default schema for indicators with no registration.
func (r *SchemaRegistry) SchemaFor(indicator string) ParamSchema {
	if s, ok := r.schemas[indicator]; ok {
		return s
	}
	return defaultSchema
}

// Validate checks a parameter map against the indicator's schema:
// no unknown keys, every value inside its bounds. Returns
// domain.ErrInvalidParams wrapped with the specific violations.
func (r *SchemaRegistry) Validate(indicator string, p Params) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty parameter map for indicator %s", domain.ErrInvalidParams, indicator)
	}

	schema := r.SchemaFor(indicator)

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		spec, known := schema[k]
		if !known {
			return fmt.Errorf("%w: unknown parameter %q for indicator %s", domain.ErrInvalidParams, k, indicator)
		}
		v := p[k]
		if v < spec.Min || v > spec.Max {
			return fmt.Errorf("%w: parameter %q value %g outside [%g, %g] for indicator %s",
				domain.ErrInvalidParams, k, v, spec.Min, spec.Max, indicator)
		}
	}

	return nil
}
