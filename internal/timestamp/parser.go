// Package timestamp parses the timestamp notations accepted in fixture
// datasets: absolute layouts, unix epochs and clock-relative expressions
// such as "now-5m".
package timestamp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05,999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// relativePattern matches now, now-5m, now+1h30m.
var relativePattern = regexp.MustCompile(`^now(?:\s*([+-])\s*([0-9][0-9a-zµ.]*))?$`)

// Parser resolves timestamps against a fixed clock so that every document of
// one dataset load sees the same "now".
type Parser struct {
	now time.Time
}

// NewParser returns a parser whose relative expressions resolve against now.
func NewParser(now time.Time) *Parser {
	return &Parser{now: now.UTC()}
}

// Now returns the parser's reference instant.
func (p *Parser) Now() time.Time { return p.now }

// ParseTimestamp accepts strings, unix epochs (seconds, millis, micros or
// nanos, picked by magnitude) and time.Time values.
func (p *Parser) ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		return p.parseString(t)
	case float64:
		return parseUnix(int64(t))
	case int:
		return parseUnix(int64(t))
	case int64:
		return parseUnix(t)
	case uint64:
		return parseUnix(int64(t))
	}
	return time.Time{}, false
}

func (p *Parser) parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if m := relativePattern.FindStringSubmatch(strings.ToLower(s)); m != nil {
		if m[1] == "" {
			return p.now, true
		}
		d, err := parseDuration(m[2])
		if err != nil {
			return time.Time{}, false
		}
		if m[1] == "-" {
			d = -d
		}
		return p.now.Add(d), true
	}

	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return parseUnix(n)
	}
	return time.Time{}, false
}

// parseDuration extends time.ParseDuration with d (days) and w (weeks).
func parseDuration(s string) (time.Duration, error) {
	if n, ok := cutUnit(s, "w"); ok {
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	if n, ok := cutUnit(s, "d"); ok {
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func cutUnit(s, suffix string) (int64, bool) {
	num, ok := strings.CutSuffix(s, suffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseUnix(n int64) (time.Time, bool) {
	switch {
	case n <= 0:
		return time.Time{}, false
	case n < 1e11:
		return time.Unix(n, 0).UTC(), true
	case n < 1e14:
		return time.UnixMilli(n).UTC(), true
	case n < 1e17:
		return time.UnixMicro(n).UTC(), true
	default:
		return time.Unix(0, n).UTC(), true
	}
}
