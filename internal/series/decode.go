package series

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownType is returned by Decode for an unregistered series type.
var ErrUnknownType = errors.New("unknown series type")

// Decoder builds a Spec from its loosely typed attributes (everything but "type").
type Decoder func(attrs map[string]any) (Spec, error)

var (
	decodersMu sync.RWMutex
	decoders   = builtinDecoders()
)

func builtinDecoders() map[string]Decoder {
	decoders := map[string]Decoder{}
	single := map[string]func(id, field string) (Spec, error){
		TypeLatest: func(id, field string) (Spec, error) { return built(NewLatest().ID(id).Field(field).Build()) },
		TypeCount:  func(id, field string) (Spec, error) { return built(NewCount().ID(id).Field(field).Build()) },
		TypeSum:    func(id, field string) (Spec, error) { return built(NewSum().ID(id).Field(field).Build()) },
		TypeAvg:    func(id, field string) (Spec, error) { return built(NewAvg().ID(id).Field(field).Build()) },
		TypeMin:    func(id, field string) (Spec, error) { return built(NewMin().ID(id).Field(field).Build()) },
		TypeMax:    func(id, field string) (Spec, error) { return built(NewMax().ID(id).Field(field).Build()) },
		TypeCard:   func(id, field string) (Spec, error) { return built(NewCard().ID(id).Field(field).Build()) },
		TypeStdDev: func(id, field string) (Spec, error) { return built(NewStdDev().ID(id).Field(field).Build()) },
	}
	for typ, build := range single {
		decoders[typ] = func(attrs map[string]any) (Spec, error) {
			return build(stringAttr(attrs, "id"), stringAttr(attrs, "field"))
		}
	}
	decoders[TypePercentile] = func(attrs map[string]any) (Spec, error) {
		b := NewPercentile().ID(stringAttr(attrs, "id")).Field(stringAttr(attrs, "field"))
		if raw, ok := attrs["percentile"]; ok {
			p, err := toFloat(raw)
			if err != nil {
				return nil, &BuildError{Type: TypePercentile, Missing: "percentile", Reason: err.Error()}
			}
			b.Percentile(p)
		}
		return built(b.Build())
	}
	return decoders
}

func built[T Spec](s T, err error) (Spec, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Register adds a decoder for a new series type.
func Register(typ string, dec Decoder) error {
	if typ == "" || dec == nil {
		return fmt.Errorf("series: type and decoder required")
	}
	decodersMu.Lock()
	defer decodersMu.Unlock()

	key := strings.ToLower(typ)
	if _, exists := decoders[key]; exists {
		return fmt.Errorf("series: type %s already registered", typ)
	}
	decoders[key] = dec
	return nil
}

// Types returns the registered type names, sorted.
func Types() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()

	names := make([]string, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode builds a Spec from a map such as {"type": "latest", "field": "x"}.
func Decode(attrs map[string]any) (Spec, error) {
	typ := strings.ToLower(stringAttr(attrs, "type"))
	if typ == "" {
		return nil, fmt.Errorf("%w: missing type", ErrUnknownType)
	}

	decodersMu.RLock()
	dec, ok := decoders[typ]
	decodersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return dec(attrs)
}

// Encode flattens a spec into the map form accepted by Decode.
func Encode(s Spec) map[string]any {
	m := map[string]any{"type": s.Type(), "id": s.ID()}
	if s.Field() != "" {
		m["field"] = s.Field()
	}
	if p, ok := s.(Percentile); ok {
		m["percentile"] = p.Percentile()
	}
	return m
}

func stringAttr(attrs map[string]any, key string) string {
	v, ok := attrs[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
