package timerange

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireRange is the type-tagged encoding of a TimeRange.
type wireRange struct {
	Type    string     `json:"type" yaml:"type"`
	Range   *int       `json:"range,omitempty" yaml:"range,omitempty"`
	From    *time.Time `json:"from,omitempty" yaml:"from,omitempty"`
	To      *time.Time `json:"to,omitempty" yaml:"to,omitempty"`
	Keyword string     `json:"keyword,omitempty" yaml:"keyword,omitempty"`
}

// Marshal encodes tr as {"type": ..., <variant fields>}.
func Marshal(tr TimeRange) ([]byte, error) {
	var w wireRange
	switch r := tr.(type) {
	case Absolute:
		from, to := r.from, r.to
		w = wireRange{Type: TypeAbsolute.String(), From: &from, To: &to}
	case Relative:
		n := r.rangeSeconds
		w = wireRange{Type: TypeRelative.String(), Range: &n}
	case Keyword:
		w = wireRange{Type: TypeKeyword.String(), Keyword: r.expression}
	default:
		return nil, fmt.Errorf("unsupported time range %T", tr)
	}
	return json.Marshal(w)
}

// Unmarshal decodes the type-tagged encoding, applying constructor validation.
func Unmarshal(data []byte) (TimeRange, error) {
	var w wireRange
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding time range: %w", err)
	}
	return FromFields(w.Type, w.Range, w.From, w.To, w.Keyword)
}

// FromFields builds a TimeRange from loosely typed fields, as found in request
// files. Only the fields relevant to typ are consulted.
func FromFields(typ string, rangeSeconds *int, from, to *time.Time, keyword string) (TimeRange, error) {
	t, err := ParseType(typ)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAbsolute:
		if from == nil || to == nil {
			return nil, fmt.Errorf("%w: absolute range requires from and to", ErrInvalidRangeParameters)
		}
		return NewAbsolute(*from, *to)
	case TypeRelative:
		if rangeSeconds == nil {
			return nil, fmt.Errorf("%w: relative range requires range", ErrInvalidRangeParameters)
		}
		return NewRelative(*rangeSeconds)
	default:
		return NewKeyword(keyword)
	}
}
