package blevequery

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/series"
)

// accumulator folds one series over the documents of one group.
type accumulator interface {
	add(d model.Document)
	value() any
}

// newAccumulator returns the fold for s, or an error for variants hits
// cannot answer.
func newAccumulator(s series.Spec) (accumulator, error) {
	switch v := s.(type) {
	case series.Count:
		return &countAcc{field: v.Field()}, nil
	case series.Sum:
		return &numAcc{field: v.Field(), fold: sum}, nil
	case series.Avg:
		return &numAcc{field: v.Field(), fold: mean}, nil
	case series.Min:
		return &numAcc{field: v.Field(), fold: minimum}, nil
	case series.Max:
		return &numAcc{field: v.Field(), fold: maximum}, nil
	case series.StdDev:
		return &numAcc{field: v.Field(), fold: stddevPop}, nil
	case series.Percentile:
		fraction := v.Fraction()
		return &numAcc{field: v.Field(), fold: func(xs []float64) float64 { return quantileCont(xs, fraction) }}, nil
	case series.Card:
		return &cardAcc{field: v.Field(), seen: map[string]struct{}{}}, nil
	case series.Latest:
		return &latestAcc{field: v.Field()}, nil
	default:
		return nil, &adapter.UnsupportedSeriesTypeError{Type: s.Type()}
	}
}

// fieldValue reads a document field the way the SQL backends see it:
// timestamps as epoch milliseconds.
func fieldValue(d model.Document, field string) (any, bool) {
	v, ok := d.Field(field)
	if !ok {
		return nil, false
	}
	if t, isTime := v.(time.Time); isTime {
		return float64(t.UnixMilli()), true
	}
	return v, true
}

// textValue renders a field as text the way duckdb's json_extract_string does.
func textValue(d model.Document, field string) (string, bool) {
	v, ok := fieldValue(d, field)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return formatNumber(t), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), true
		}
		return string(b), true
	}
}

// formatNumber renders the shortest round-trip form, switching to exponent
// notation outside [1e-6, 1e21) as duckdb's JSON writer does ("1e21", "1e-7").
func formatNumber(f float64) string {
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	sign := ""
	if exp[0] == '-' {
		sign = "-"
	}
	return mant + "e" + sign + strings.TrimLeft(exp[1:], "0")
}

// numValue coerces a field to float64. Non-numeric values are skipped.
func numValue(d model.Document, field string) (float64, bool) {
	v, ok := fieldValue(d, field)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type countAcc struct {
	field string
	n     int
}

func (a *countAcc) add(d model.Document) {
	if a.field == "" {
		a.n++
		return
	}
	if _, ok := fieldValue(d, a.field); ok {
		a.n++
	}
}

func (a *countAcc) value() any { return float64(a.n) }

type numAcc struct {
	field string
	xs    []float64
	fold  func([]float64) float64
}

func (a *numAcc) add(d model.Document) {
	if f, ok := numValue(d, a.field); ok {
		a.xs = append(a.xs, f)
	}
}

func (a *numAcc) value() any {
	if len(a.xs) == 0 {
		return nil
	}
	return a.fold(a.xs)
}

type cardAcc struct {
	field string
	seen  map[string]struct{}
}

func (a *cardAcc) add(d model.Document) {
	if s, ok := textValue(d, a.field); ok {
		a.seen[s] = struct{}{}
	}
}

func (a *cardAcc) value() any { return float64(len(a.seen)) }

// latestAcc keeps the value of the newest document carrying the field. Ties
// keep the first document seen.
type latestAcc struct {
	field string
	ts    time.Time
	v     any
	found bool
}

func (a *latestAcc) add(d model.Document) {
	v, ok := fieldValue(d, a.field)
	if !ok {
		return
	}
	if !a.found || d.Timestamp.After(a.ts) {
		a.ts, a.v, a.found = d.Timestamp, v, true
	}
}

func (a *latestAcc) value() any { return a.v }

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 { return sum(xs) / float64(len(xs)) }

func minimum(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func maximum(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

func stddevPop(xs []float64) float64 {
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - mu) * (x - mu)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// quantileCont interpolates linearly between the closest ranks.
func quantileCont(xs []float64, fraction float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * fraction
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// checkSeries fails fast on variants no accumulator exists for.
func checkSeries(specs []series.Spec) error {
	for _, s := range specs {
		if _, err := newAccumulator(s); err != nil {
			return err
		}
	}
	return nil
}

// group is the accumulator set for one group key.
type group struct {
	key  []string
	accs []accumulator
}

// aggregate groups docs by req.GroupBy and folds every series. Documents
// missing a group field are skipped. Without group-by there is always one row.
func aggregate(req adapter.Request, docs []model.Document) ([]adapter.Row, error) {
	newGroup := func(key []string) (*group, error) {
		g := &group{key: key}
		for _, s := range req.Series {
			acc, err := newAccumulator(s)
			if err != nil {
				return nil, err
			}
			g.accs = append(g.accs, acc)
		}
		return g, nil
	}

	groups := map[string]*group{}
	var order []*group
	if len(req.GroupBy) == 0 {
		g, err := newGroup(nil)
		if err != nil {
			return nil, err
		}
		groups[""] = g
		order = append(order, g)
	}

next:
	for _, d := range docs {
		var key []string
		for _, field := range req.GroupBy {
			s, ok := textValue(d, field)
			if !ok {
				continue next
			}
			key = append(key, s)
		}
		id := strings.Join(key, "\x00")
		g, ok := groups[id]
		if !ok {
			var err error
			if g, err = newGroup(key); err != nil {
				return nil, err
			}
			groups[id] = g
			order = append(order, g)
		}
		for _, acc := range g.accs {
			acc.add(d)
		}
	}

	rows := make([]adapter.Row, 0, len(order))
	for _, g := range order {
		row := adapter.Row{Key: g.key, Values: make(map[string]any, len(req.Series))}
		for i, s := range req.Series {
			row.Values[s.ID()] = g.accs[i].value()
		}
		rows = append(rows, row)
	}
	adapter.SortRows(rows)
	return rows, nil
}
