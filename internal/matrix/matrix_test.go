package matrix

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/backends"
	"github.com/tinytelemetry/searchmatrix/internal/fixture"
	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/searchserver"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/series"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

var (
	duck113 = searchversion.MustNew(searchversion.DuckDB, "1.1.3")
	duck092 = searchversion.MustNew(searchversion.DuckDB, "0.9.2")
	duck081 = searchversion.MustNew(searchversion.DuckDB, "0.8.1")
	bleve25 = searchversion.MustNew(searchversion.Bleve, "2.5.7")
)

func newFactory() *searchserver.Factory {
	opts := searchserver.DefaultStartOptions()
	opts.StartupTimeout = 5 * time.Second
	opts.CallTimeout = 5 * time.Second
	return searchserver.NewFactory(searchserver.Deps{Registry: backends.NewRegistry()}, opts, searchserver.ReusePolicy{})
}

func newHarness(t *testing.T, cfg Config) *Harness {
	t.Helper()
	h, err := New(cfg, newFactory())
	require.NoError(t, err)
	return h
}

func scenarioSuite(runs *atomic.Int64) Suite {
	ds := fixture.MustNew("one", "logs", []model.Document{
		{Timestamp: time.Now().Add(-time.Minute), Fields: map[string]any{"http_status": 200}},
	})
	return Suite{
		Name: "scenario",
		Setup: func(ctx context.Context, env *Env) error {
			return env.Instance.FixtureImporter().ImportFixture(ctx, ds)
		},
		Cases: []Case{{
			Name: "latest",
			Run: func(ctx context.Context, env *Env) error {
				runs.Add(1)
				r, err := timerange.NewRelative(3600)
				if err != nil {
					return err
				}
				latest, err := series.NewLatest().Field("http_status").Build()
				if err != nil {
					return err
				}
				res, err := env.Adapter.Execute(ctx, adapter.Request{Index: "logs", Range: r, Series: []series.Spec{latest}})
				if err != nil {
					return err
				}
				if got := res.Rows[0].Values["latest(http_status)"]; got != 200.0 {
					return errors.New("unexpected latest value")
				}
				return nil
			},
		}},
	}
}

func TestRunAttemptsEveryEntry(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, Config{
		Catalog:                []searchversion.SearchVersion{duck113, duck081, duck092, bleve25},
		MaxConcurrentInstances: 2,
		Registerer:             reg,
	})

	var runs atomic.Int64
	report := h.Run(context.Background(), scenarioSuite(&runs))

	require.Len(t, report.Outcomes, 4)
	assert.Equal(t, int64(3), runs.Load())
	for i, v := range h.Catalog() {
		assert.Equal(t, v, report.Outcomes[i].Version)
	}

	failed, ok := report.Get(duck081)
	require.True(t, ok)
	assert.Equal(t, StatusStartFailed, failed.Status)
	assert.ErrorIs(t, failed.Err, adapter.ErrNoAdapter)
	assert.NotEmpty(t, failed.Logs)
	assert.Empty(t, failed.Cases)

	for _, v := range []searchversion.SearchVersion{duck113, duck092, bleve25} {
		o, ok := report.Get(v)
		require.True(t, ok)
		assert.True(t, o.Passed(), "%s: %v %v", v, o.Err, o.FailedCases())
		assert.Len(t, o.Cases, 1)
		assert.Empty(t, o.Logs)
	}

	assert.False(t, report.Passed())
	assert.Len(t, report.Failed(), 1)
	assert.Contains(t, report.Summary(), "scenario: 3/4 passed")
	assert.Equal(t, 3.0, testutil.ToFloat64(h.outcomes.WithLabelValues("duckdb", string(StatusPassed)))+testutil.ToFloat64(h.outcomes.WithLabelValues("bleve", string(StatusPassed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.outcomes.WithLabelValues("duckdb", string(StatusStartFailed))))
}

func TestCasePanicsAndErrorsAreContained(t *testing.T) {
	h := newHarness(t, Config{Catalog: []searchversion.SearchVersion{duck113}})

	var ran []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}
	report := h.Run(context.Background(), Suite{
		Name: "faults",
		Cases: []Case{
			{Name: "panics", Run: func(context.Context, *Env) error { record("panics"); panic("boom") }},
			{Name: "errors", Run: func(context.Context, *Env) error { record("errors"); return errors.New("bad") }},
			{Name: "passes", Run: func(context.Context, *Env) error { record("passes"); return nil }},
		},
	})

	o := report.Outcomes[0]
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, []string{"panics", "errors", "passes"}, ran)
	require.Len(t, o.Cases, 3)
	assert.ErrorIs(t, o.Cases[0].Err, ErrPanic)
	assert.EqualError(t, o.Cases[1].Err, "bad")
	assert.NoError(t, o.Cases[2].Err)
	assert.Len(t, o.FailedCases(), 2)
	assert.Contains(t, o.Logs, "instance healthy")
}

func TestSetupFailureSkipsCases(t *testing.T) {
	h := newHarness(t, Config{Catalog: []searchversion.SearchVersion{duck113, bleve25}})

	var runs atomic.Int64
	report := h.Run(context.Background(), Suite{
		Name: "setup",
		Setup: func(_ context.Context, env *Env) error {
			if env.Version.Family == searchversion.Bleve {
				panic("no fixture")
			}
			return nil
		},
		Cases: []Case{{Name: "counted", Run: func(context.Context, *Env) error { runs.Add(1); return nil }}},
	})

	assert.Equal(t, int64(1), runs.Load())
	o, _ := report.Get(bleve25)
	assert.Equal(t, StatusSetupFailed, o.Status)
	assert.ErrorIs(t, o.Err, ErrPanic)
	o, _ = report.Get(duck113)
	assert.True(t, o.Passed())
}

func TestConcurrencyIsBounded(t *testing.T) {
	h := newHarness(t, Config{
		Catalog:                []searchversion.SearchVersion{duck113, duck092, bleve25},
		MaxConcurrentInstances: 1,
	})

	var active, peak atomic.Int64
	report := h.Run(context.Background(), Suite{
		Name: "bounded",
		Setup: func(context.Context, *Env) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return nil
		},
	})

	assert.True(t, report.Passed())
	assert.Equal(t, int64(1), peak.Load())
}

func TestCaseTimeout(t *testing.T) {
	h := newHarness(t, Config{Catalog: []searchversion.SearchVersion{duck113}, CaseTimeout: 50 * time.Millisecond})

	report := h.Run(context.Background(), Suite{
		Name: "timeout",
		Cases: []Case{{Name: "slow", Run: func(ctx context.Context, _ *Env) error {
			<-ctx.Done()
			return ctx.Err()
		}}},
	})
	require.Len(t, report.Outcomes[0].Cases, 1)
	assert.ErrorIs(t, report.Outcomes[0].Cases[0].Err, context.DeadlineExceeded)
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(Config{Catalog: []searchversion.SearchVersion{duck113, searchversion.MustNew(searchversion.DuckDB, "v1.1.3")}}, newFactory())
	assert.Error(t, err)
	_, err = New(Config{}, nil)
	assert.Error(t, err)
}

func TestRunT(t *testing.T) {
	h := newHarness(t, Config{Catalog: []searchversion.SearchVersion{duck113, bleve25}})
	var runs atomic.Int64
	report := RunT(t, h, scenarioSuite(&runs))
	assert.True(t, report.Passed())
	assert.Equal(t, int64(2), runs.Load())
}
