package matrix

import (
	"context"
	"testing"
)

// RunT runs suite through h and reports every entry and case as a subtest.
func RunT(t *testing.T, h *Harness, suite Suite) Report {
	t.Helper()
	report := h.Run(context.Background(), suite)

	for _, o := range report.Outcomes {
		t.Run(o.Version.String(), func(t *testing.T) {
			if o.Err != nil {
				t.Fatalf("%s: %v\n%s", o.Status, o.Err, o.Logs)
			}
			for _, c := range o.Cases {
				t.Run(c.Name, func(t *testing.T) {
					if c.Err != nil {
						t.Error(c.Err)
					}
				})
			}
		})
	}
	return report
}
