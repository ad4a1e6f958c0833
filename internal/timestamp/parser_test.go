package timestamp

import (
	"testing"
	"time"
)

var refNow = time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)

func TestParseTimestamp_Layouts(t *testing.T) {
	p := NewParser(refNow)

	tests := []struct {
		name  string
		input string
	}{
		{"RFC3339", "2024-01-15T10:30:45Z"},
		{"RFC3339Nano", "2024-01-15T10:30:45.123456789Z"},
		{"RFC3339 offset", "2024-01-15T10:30:45+05:00"},
		{"space separated", "2024-01-15 10:30:45"},
		{"millis", "2024-01-15 10:30:45.123"},
		{"comma decimal", "2024-01-15 10:30:45,123"},
		{"date only", "2024-01-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := p.ParseTimestamp(tt.input)
			if !ok {
				t.Fatalf("ParseTimestamp(%q) failed", tt.input)
			}
			if ts.Year() != 2024 || ts.Month() != time.January || ts.Day() != 15 {
				t.Errorf("ParseTimestamp(%q) = %v, want 2024-01-15", tt.input, ts)
			}
			if ts.Location() != time.UTC {
				t.Errorf("ParseTimestamp(%q) location = %v, want UTC", tt.input, ts.Location())
			}
		})
	}
}

func TestParseTimestamp_Relative(t *testing.T) {
	p := NewParser(refNow)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"now", refNow},
		{"NOW", refNow},
		{"now-5m", refNow.Add(-5 * time.Minute)},
		{"now - 90s", refNow.Add(-90 * time.Second)},
		{"now+1h30m", refNow.Add(90 * time.Minute)},
		{"now-2d", refNow.Add(-48 * time.Hour)},
		{"now-1w", refNow.Add(-7 * 24 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ts, ok := p.ParseTimestamp(tt.input)
			if !ok {
				t.Fatalf("ParseTimestamp(%q) failed", tt.input)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, ts, tt.want)
			}
		})
	}

	if _, ok := p.ParseTimestamp("now-banana"); ok {
		t.Error("now-banana should not parse")
	}
}

func TestParseTimestamp_UnixMagnitudes(t *testing.T) {
	p := NewParser(refNow)

	tests := []struct {
		name  string
		input any
	}{
		{"seconds float", float64(946684800)},
		{"seconds int64", int64(946684800)},
		{"seconds int", 946684800},
		{"millis", int64(946684800000)},
		{"micros", int64(946684800000000)},
		{"nanos", int64(946684800000000000)},
		{"string seconds", "946684800"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := p.ParseTimestamp(tt.input)
			if !ok {
				t.Fatalf("ParseTimestamp(%v) failed", tt.input)
			}
			if !ts.Equal(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
				t.Errorf("ParseTimestamp(%v) = %v, want 2000-01-01", tt.input, ts)
			}
		})
	}
}

func TestParseTimestamp_TimeValue(t *testing.T) {
	p := NewParser(refNow)

	in := time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("X", 3600))
	ts, ok := p.ParseTimestamp(in)
	if !ok {
		t.Fatal("ParseTimestamp(time.Time) failed")
	}
	if !ts.Equal(in) {
		t.Errorf("ParseTimestamp(time.Time) = %v, want %v", ts, in)
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	p := NewParser(refNow)

	for _, in := range []any{"", "   ", "yesterday-ish", int64(0), int64(-5), []string{"x"}, nil} {
		if ts, ok := p.ParseTimestamp(in); ok {
			t.Errorf("ParseTimestamp(%v) = %v, want failure", in, ts)
		}
	}
}
