// Package series defines the canonical aggregation metrics ("series") a search
// can compute over matched documents.
//
// Every variant is an immutable, comparable value produced by a builder. The
// builder collects fields and only Build fills in derived defaults, so a built
// spec always has an id. The id is the correlation key backends use to hand
// result columns back to the requesting spec.
package series

import (
	"errors"
	"fmt"
)

// Type names of the built-in variants.
const (
	TypeLatest     = "latest"
	TypeCount      = "count"
	TypeSum        = "sum"
	TypeAvg        = "avg"
	TypeMin        = "min"
	TypeMax        = "max"
	TypeCard       = "card"
	TypeStdDev     = "stddev"
	TypePercentile = "percentile"
)

// ErrBuild matches every *BuildError.
var ErrBuild = errors.New("series spec build failed")

// ErrDuplicateID is returned by Validate when two specs share an id.
var ErrDuplicateID = errors.New("duplicate series id")

// Spec is one aggregation metric request. Consumers must treat the set of
// implementations as open.
//
// Only Build produces usable values. A zero value such as Latest{} carries no
// id and is rejected by Validate, and therefore by every adapter.
type Spec interface {
	Type() string
	ID() string
	// Field is the document field aggregated; empty for count-like metrics.
	Field() string
	// Literal renders type(field). It never depends on ID.
	Literal() string
}

// BuildError reports a missing or invalid field at Build time.
type BuildError struct {
	Type    string
	Missing string
	Reason  string
}

func (e *BuildError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("building %s series: %s: %s", e.Type, e.Missing, e.Reason)
	}
	return fmt.Sprintf("building %s series: missing required field %q", e.Type, e.Missing)
}

func (e *BuildError) Is(target error) bool { return target == ErrBuild }

// Literal renders the canonical type(field) form.
func Literal(typ, field string) string {
	return typ + "(" + field + ")"
}

// DefaultID is the id assigned when the caller supplies none.
func DefaultID(typ, field string) string {
	return Literal(typ, field)
}

// Validate checks that every spec has an id and that ids are unique.
func Validate(specs []Spec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if s == nil {
			return fmt.Errorf("%w: nil series spec", ErrBuild)
		}
		if s.ID() == "" {
			return fmt.Errorf("%w: %s has no id", ErrBuild, s.Literal())
		}
		if _, dup := seen[s.ID()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, s.ID())
		}
		seen[s.ID()] = struct{}{}
	}
	return nil
}

// Find returns the spec with the given id.
func Find(specs []Spec, id string) (Spec, bool) {
	for _, s := range specs {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// fieldSpec carries the state shared by the single-field variants.
type fieldSpec struct {
	typ   string
	id    string
	field string
}

func (s fieldSpec) Type() string { return s.typ }
func (s fieldSpec) ID() string { return s.id }
func (s fieldSpec) Field() string { return s.field }
func (s fieldSpec) Literal() string { return Literal(s.typ, s.field) }

// fieldBuilder is the staging area shared by the single-field builders.
type fieldBuilder struct {
	id    *string
	field *string
}

func (b fieldBuilder) finalize(typ string, fieldRequired bool) (fieldSpec, error) {
	field := ""
	if b.field != nil {
		field = *b.field
	}
	if fieldRequired && field == "" {
		return fieldSpec{}, &BuildError{Type: typ, Missing: "field"}
	}
	id := DefaultID(typ, field)
	if b.id != nil && *b.id != "" {
		id = *b.id
	}
	return fieldSpec{typ: typ, id: id, field: field}, nil
}
