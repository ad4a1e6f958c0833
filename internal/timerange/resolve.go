package timerange

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownKeyword is returned when a keyword expression cannot be resolved.
var ErrUnknownKeyword = errors.New("unknown keyword range")

// Bounds is a resolved time window. Once resolved, a relative range and the
// equivalent absolute range produce identical Bounds.
type Bounds struct {
	From time.Time
	To   time.Time
	// Unbounded means there is no lower bound (relative range 0, "all time").
	Unbounded bool
}

// Contains reports whether ts falls inside the closed window.
func (b Bounds) Contains(ts time.Time) bool {
	if ts.After(b.To) {
		return false
	}
	return b.Unbounded || !ts.Before(b.From)
}

// Resolve turns any TimeRange into concrete bounds relative to now.
func Resolve(tr TimeRange, now time.Time) (Bounds, error) {
	now = now.UTC()
	switch r := tr.(type) {
	case Absolute:
		return Bounds{From: r.from, To: r.to}, nil
	case Relative:
		if r.IsAllTime() {
			return Bounds{To: now, Unbounded: true}, nil
		}
		return Bounds{From: now.Add(-r.Duration()), To: now}, nil
	case Keyword:
		return resolveKeyword(r.expression, now)
	case nil:
		return Bounds{}, fmt.Errorf("%w: no time range", ErrInvalidRangeParameters)
	default:
		return Bounds{}, fmt.Errorf("unsupported time range %T", tr)
	}
}

var lastPattern = regexp.MustCompile(`^last\s+(?:(\d+)\s+)?(second|minute|hour|day|week)s?$`)

var keywordUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

func resolveKeyword(expr string, now time.Time) (Bounds, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(expr)), " ")

	switch normalized {
	case "all time", "all":
		return Bounds{To: now, Unbounded: true}, nil
	case "today":
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return Bounds{From: midnight, To: now}, nil
	case "yesterday":
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return Bounds{From: midnight.AddDate(0, 0, -1), To: midnight.Add(-time.Millisecond)}, nil
	}

	m := lastPattern.FindStringSubmatch(normalized)
	if m == nil {
		return Bounds{}, fmt.Errorf("%w: %q", ErrUnknownKeyword, expr)
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return Bounds{}, fmt.Errorf("%w: %q", ErrUnknownKeyword, expr)
		}
		n = v
	}
	return Bounds{From: now.Add(-time.Duration(n) * keywordUnits[m[2]]), To: now}, nil
}
