// Package timerange holds the canonical time window that bounds every search.
//
// A TimeRange is one of three immutable variants. Absolute ranges carry two
// instants, Relative ranges a look-back in seconds, and Keyword ranges an
// opaque phrase such as "last hour" that is resolved downstream. Query
// builders only ever see the flat parameter list returned by QueryParams.
package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRangeParameters is returned when a range is constructed with values
// that violate its invariants.
var ErrInvalidRangeParameters = errors.New("invalid range parameters")

// Type discriminates the TimeRange variants.
type Type int

const (
	TypeAbsolute Type = iota + 1
	TypeRelative
	TypeKeyword
)

func (t Type) String() string {
	switch t {
	case TypeAbsolute:
		return "absolute"
	case TypeRelative:
		return "relative"
	case TypeKeyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// ParseType maps the wire name of a variant back to its Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "absolute":
		return TypeAbsolute, nil
	case "relative":
		return TypeRelative, nil
	case "keyword":
		return TypeKeyword, nil
	}
	return 0, fmt.Errorf("unknown time range type %q", s)
}

// Parameter names emitted by QueryParams.
const (
	ParamRange   = "range"
	ParamFrom    = "from"
	ParamTo      = "to"
	ParamKeyword = "keyword"
)

// ParamTimeLayout is the layout used for absolute bounds in query parameters.
const ParamTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// TimeRange is the sealed sum type over Absolute, Relative and Keyword.
type TimeRange interface {
	Type() Type
	QueryParams() Params
	String() string

	sealed()
}

// Absolute is a fixed window between two instants.
type Absolute struct {
	from time.Time
	to   time.Time
}

// NewAbsolute returns an absolute range. from must not be after to.
func NewAbsolute(from, to time.Time) (Absolute, error) {
	if from.After(to) {
		return Absolute{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRangeParameters,
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Absolute{from: from.UTC(), to: to.UTC()}, nil
}

func (a Absolute) Type() Type { return TypeAbsolute }
func (a Absolute) From() time.Time { return a.from }
func (a Absolute) To() time.Time { return a.to }

func (a Absolute) QueryParams() Params {
	return Params{
		{Name: ParamFrom, Value: a.from.Format(ParamTimeLayout)},
		{Name: ParamTo, Value: a.to.Format(ParamTimeLayout)},
	}
}

func (a Absolute) String() string {
	return fmt.Sprintf("absolute(%s..%s)", a.from.Format(ParamTimeLayout), a.to.Format(ParamTimeLayout))
}

func (Absolute) sealed() {}

// Relative looks back a number of seconds from the evaluation time.
// A range of zero is the "all time" sentinel.
type Relative struct {
	rangeSeconds int
}

// NewRelative returns a relative range of the given number of seconds.
func NewRelative(seconds int) (Relative, error) {
	if seconds < 0 {
		return Relative{}, fmt.Errorf("%w: relative range %d is negative", ErrInvalidRangeParameters, seconds)
	}
	return Relative{rangeSeconds: seconds}, nil
}

// AllTime is the unbounded relative range.
func AllTime() Relative { return Relative{} }

func (r Relative) Type() Type { return TypeRelative }

// Range returns the look-back in seconds.
func (r Relative) Range() int { return r.rangeSeconds }

// IsAllTime reports whether r is the zero "all time" sentinel.
func (r Relative) IsAllTime() bool { return r.rangeSeconds == 0 }

func (r Relative) Duration() time.Duration {
	return time.Duration(r.rangeSeconds) * time.Second
}

func (r Relative) QueryParams() Params {
	return Params{{Name: ParamRange, Value: strconv.Itoa(r.rangeSeconds)}}
}

func (r Relative) String() string { return fmt.Sprintf("relative(%d)", r.rangeSeconds) }

func (Relative) sealed() {}

// Keyword is a natural language range resolved by Resolve.
type Keyword struct {
	expression string
}

// NewKeyword returns a keyword range. The expression must not be blank.
func NewKeyword(expression string) (Keyword, error) {
	if strings.TrimSpace(expression) == "" {
		return Keyword{}, fmt.Errorf("%w: keyword expression is empty", ErrInvalidRangeParameters)
	}
	return Keyword{expression: expression}, nil
}

func (k Keyword) Type() Type { return TypeKeyword }
func (k Keyword) Expression() string { return k.expression }
func (k Keyword) QueryParams() Params { return Params{{Name: ParamKeyword, Value: k.expression}} }
func (k Keyword) String() string { return fmt.Sprintf("keyword(%s)", k.expression) }

func (Keyword) sealed() {}

// Param is one entry of a range's query parameters.
type Param struct {
	Name  string
	Value string
}

// Params is the ordered parameter list handed to query builders.
type Params []Param

// Get returns the value for name.
func (p Params) Get(name string) (string, bool) {
	for _, kv := range p {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// Names returns the parameter names in order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for _, kv := range p {
		names = append(names, kv.Name)
	}
	return names
}

// Map flattens the parameters into a map.
func (p Params) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, kv := range p {
		m[kv.Name] = kv.Value
	}
	return m
}
