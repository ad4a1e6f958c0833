package matrix

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// Status is the result of one matrix entry.
type Status string

const (
	StatusPassed      Status = "passed"
	StatusFailed      Status = "failed"
	StatusStartFailed Status = "start_failed"
	StatusSetupFailed Status = "setup_failed"
)

// CaseResult is one case run against one entry.
type CaseResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Outcome is everything that happened to one catalog entry.
type Outcome struct {
	Version  searchversion.SearchVersion
	Artifact string
	Status   Status
	// Err is the startup or setup failure; case failures live in Cases.
	Err      error
	Cases    []CaseResult
	Duration time.Duration
	// Logs holds the instance output when the entry did not pass.
	Logs string
}

// Passed reports whether the entry started and every case passed.
func (o Outcome) Passed() bool { return o.Status == StatusPassed }

// FailedCases returns the cases that returned an error.
func (o Outcome) FailedCases() []CaseResult {
	var out []CaseResult
	for _, c := range o.Cases {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Report aggregates a run. Outcomes follow catalog order.
type Report struct {
	Suite    string
	Outcomes []Outcome
}

// Get returns the outcome for v.
func (r Report) Get(v searchversion.SearchVersion) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Version == v {
			return o, true
		}
	}
	return Outcome{}, false
}

// Failed returns the outcomes that did not pass.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Passed() {
			out = append(out, o)
		}
	}
	return out
}

// Passed reports whether every entry passed.
func (r Report) Passed() bool { return len(r.Failed()) == 0 }

// Summary renders one line per entry followed by each failure's reason.
func (r Report) Summary() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, o := range r.Outcomes {
		passed := len(o.Cases) - len(o.FailedCases())
		fmt.Fprintf(w, "%s\t%s\t%d/%d cases\t%s\n", o.Version, o.Status, passed, len(o.Cases), o.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()

	for _, o := range r.Failed() {
		if o.Err != nil {
			fmt.Fprintf(&b, "%s: %v\n", o.Version, o.Err)
		}
		for _, c := range o.FailedCases() {
			fmt.Fprintf(&b, "%s / %s: %v\n", o.Version, c.Name, c.Err)
		}
	}
	fmt.Fprintf(&b, "%s: %d/%d passed\n", r.Suite, len(r.Outcomes)-len(r.Failed()), len(r.Outcomes))
	return b.String()
}
