// Package conformance is the behavioral suite every backend version must
// pass identically. It runs on the matrix harness against one embedded
// access-log dataset.
package conformance

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/fixture"
	"github.com/tinytelemetry/searchmatrix/internal/matrix"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/series"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

//go:embed fixtures/access.yaml
var accessLog []byte

// Dataset loads the embedded dataset with timestamps relative to now.
func Dataset(now time.Time) (*fixture.Dataset, error) {
	return fixture.Load(bytes.NewReader(accessLog), now)
}

// Suite returns the conformance suite anchored at now. The same instant
// anchors the fixture timestamps and every request, so results do not
// depend on how long a run takes.
func Suite(now time.Time) (matrix.Suite, error) {
	ds, err := Dataset(now)
	if err != nil {
		return matrix.Suite{}, err
	}
	c := &checker{now: now.UTC(), ds: ds}
	return matrix.Suite{
		Name: "conformance",
		Setup: func(ctx context.Context, env *matrix.Env) error {
			return env.Instance.FixtureImporter().ImportFixture(ctx, ds)
		},
		Cases: []matrix.Case{
			{Name: "latest_by_id", Run: c.latestByID},
			{Name: "same_field_two_ids", Run: c.sameFieldTwoIDs},
			{Name: "idempotent_reimport", Run: c.idempotentReimport},
			{Name: "relative_zero_is_all_time", Run: c.relativeZero},
			{Name: "relative_equals_absolute", Run: c.relativeEqualsAbsolute},
			{Name: "keyword_ranges", Run: c.keywordRanges},
			{Name: "numeric_metrics", Run: c.numericMetrics},
			{Name: "percentile_exactness", Run: c.percentileExactness},
			{Name: "group_by_rows", Run: c.groupBy},
			{Name: "empty_message_is_absent", Run: c.emptyMessage},
			{Name: "unsupported_series_type", Run: c.unsupportedSeries},
			{Name: "raw_query", Run: c.rawQuery},
		},
	}, nil
}

type checker struct {
	now time.Time
	ds  *fixture.Dataset
}

// settled counts the documents at or before now. Future documents stay out
// of every range, all time included.
func (c *checker) settled() float64 {
	n := 0
	for _, d := range c.ds.Documents() {
		if !d.Timestamp.After(c.now) {
			n++
		}
	}
	return float64(n)
}

func (c *checker) execute(ctx context.Context, env *matrix.Env, tr timerange.TimeRange, groupBy []string, specs ...series.Spec) (adapter.Result, error) {
	return env.Adapter.Execute(ctx, adapter.Request{
		Index:   c.ds.Index(),
		Range:   tr,
		Series:  specs,
		GroupBy: groupBy,
		Now:     c.now,
	})
}

func lastHour() timerange.TimeRange {
	r, _ := timerange.NewRelative(3600)
	return r
}

func built[T series.Spec](s T, err error) series.Spec {
	if err != nil {
		panic(err)
	}
	return s
}

// single returns the only row of an ungrouped result.
func single(res adapter.Result) (adapter.Row, error) {
	if len(res.Rows) != 1 {
		return adapter.Row{}, fmt.Errorf("got %d rows, want 1", len(res.Rows))
	}
	return res.Rows[0], nil
}

func expectValue(row adapter.Row, id string, want any) error {
	got, ok := row.Value(id)
	if !ok {
		return fmt.Errorf("series %s missing from row %v", id, row.Values)
	}
	if !reflect.DeepEqual(got, want) {
		return fmt.Errorf("series %s = %v (%T), want %v (%T)", id, got, got, want, want)
	}
	return nil
}

func expectNear(row adapter.Row, id string, want, tolerance float64) error {
	got, ok := row.Float(id)
	if !ok {
		return fmt.Errorf("series %s = %v, want a number near %v", id, row.Values[id], want)
	}
	if math.Abs(got-want) > tolerance {
		return fmt.Errorf("series %s = %v, want %v ± %v", id, got, want, tolerance)
	}
	return nil
}

func expectExact(res adapter.Result) error {
	if res.Partial() {
		return fmt.Errorf("unexpected partial result: %v", res.Warnings)
	}
	return nil
}

func (c *checker) latestByID(ctx context.Context, env *matrix.Env) error {
	res, err := c.execute(ctx, env, lastHour(), nil, built(series.NewLatest().Field("http_status").Build()))
	if err != nil {
		return err
	}
	if err := expectExact(res); err != nil {
		return err
	}
	row, err := single(res)
	if err != nil {
		return err
	}
	return expectValue(row, "latest(http_status)", 200.0)
}

func (c *checker) sameFieldTwoIDs(ctx context.Context, env *matrix.Env) error {
	res, err := c.execute(ctx, env, lastHour(), nil,
		built(series.NewLatest().Field("http_status").ID("status_a").Build()),
		built(series.NewLatest().Field("http_status").ID("status_b").Build()),
	)
	if err != nil {
		return err
	}
	row, err := single(res)
	if err != nil {
		return err
	}
	return errors.Join(expectValue(row, "status_a", 200.0), expectValue(row, "status_b", 200.0))
}

func (c *checker) idempotentReimport(ctx context.Context, env *matrix.Env) error {
	if err := env.Instance.FixtureImporter().ImportFixture(ctx, c.ds); err != nil {
		return fmt.Errorf("second import: %w", err)
	}
	res, err := c.execute(ctx, env, timerange.AllTime(), nil,
		built(series.NewCount().Build()),
		built(series.NewLatest().Field("http_status").Build()),
	)
	if err != nil {
		return err
	}
	row, err := single(res)
	if err != nil {
		return err
	}
	return errors.Join(
		expectValue(row, "count()", c.settled()),
		expectValue(row, "latest(http_status)", 200.0),
	)
}

func (c *checker) relativeZero(ctx context.Context, env *matrix.Env) error {
	res, err := c.execute(ctx, env, timerange.AllTime(), nil,
		built(series.NewCount().Build()),
		built(series.NewLatest().Field("http_status").Build()),
	)
	if err != nil {
		return err
	}
	row, err := single(res)
	if err != nil {
		return err
	}
	return errors.Join(
		expectValue(row, "count()", c.settled()),
		expectValue(row, "latest(http_status)", 200.0),
	)
}

func (c *checker) relativeEqualsAbsolute(ctx context.Context, env *matrix.Env) error {
	abs, err := timerange.NewAbsolute(c.now.Add(-time.Hour), c.now)
	if err != nil {
		return err
	}
	specs := []series.Spec{
		built(series.NewCount().Build()),
		built(series.NewSum().Field("took_ms").Build()),
	}
	rel, err := c.execute(ctx, env, lastHour(), []string{"host"}, specs...)
	if err != nil {
		return err
	}
	got, err := c.execute(ctx, env, abs, []string{"host"}, specs...)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(rel.Rows, got.Rows) {
		return fmt.Errorf("relative rows %v != absolute rows %v", rel.Rows, got.Rows)
	}
	return nil
}

func (c *checker) keywordRanges(ctx context.Context, env *matrix.Env) error {
	count := built(series.NewCount().Build())
	want := map[string]float64{"last 1 hour": 5, "last hour": 5, "last 4 hours": 6, "last 7 days": 7}

	var errs []error
	for expr, n := range want {
		kw, err := timerange.NewKeyword(expr)
		if err != nil {
			return err
		}
		res, err := c.execute(ctx, env, kw, nil, count)
		if err != nil {
			return fmt.Errorf("keyword %q: %w", expr, err)
		}
		row, err := single(res)
		if err != nil {
			return err
		}
		if err := expectValue(row, "count()", n); err != nil {
			errs = append(errs, fmt.Errorf("keyword %q: %w", expr, err))
		}
	}
	return errors.Join(errs...)
}

func (c *checker) numericMetrics(ctx context.Context, env *matrix.Env) error {
	res, err := c.execute(ctx, env, lastHour(), nil,
		built(series.NewCount().Build()),
		built(series.NewCount().Field("http_status").Build()),
		built(series.NewSum().Field("took_ms").Build()),
		built(series.NewAvg().Field("took_ms").Build()),
		built(series.NewMin().Field("took_ms").Build()),
		built(series.NewMax().Field("took_ms").Build()),
		built(series.NewCard().Field("host").Build()),
		built(series.NewStdDev().Field("took_ms").Build()),
		built(series.NewSum().Field("missing_field").Build()),
	)
	if err != nil {
		return err
	}
	if err := expectExact(res); err != nil {
		return err
	}
	row, err := single(res)
	if err != nil {
		return err
	}
	return errors.Join(
		expectValue(row, "count()", 5.0),
		expectValue(row, "count(http_status)", 4.0),
		expectValue(row, "sum(took_ms)", 150.0),
		expectValue(row, "avg(took_ms)", 30.0),
		expectValue(row, "min(took_ms)", 10.0),
		expectValue(row, "max(took_ms)", 50.0),
		expectValue(row, "card(host)", 2.0),
		expectNear(row, "stddev(took_ms)", math.Sqrt(200), 1e-9),
		expectValue(row, "sum(missing_field)", nil),
	)
}

// approximatePercentiles lists versions known to answer percentiles
// approximately.
func approximatePercentiles(v searchversion.SearchVersion) bool {
	return v.Family == searchversion.DuckDB && !v.AtLeast("1.0.0")
}

func (c *checker) percentileExactness(ctx context.Context, env *matrix.Env) error {
	res, err := c.execute(ctx, env, lastHour(), nil,
		built(series.NewPercentile().Field("took_ms").Percentile(50).ID("p50").Build()),
		built(series.NewPercentile().Field("took_ms").Percentile(95).ID("p95").Build()),
	)
	if err != nil {
		return err
	}
	row, err := single(res)
	if err != nil {
		return err
	}

	if approximatePercentiles(env.Version) {
		if !res.Partial() || len(res.Warnings) != 2 {
			return fmt.Errorf("want a partial result with one warning per percentile, got exact=%v warnings=%v", res.Exact, res.Warnings)
		}
		return errors.Join(expectNear(row, "p50", 30, 10), expectNear(row, "p95", 48, 10))
	}
	if err := expectExact(res); err != nil {
		return err
	}
	return errors.Join(expectNear(row, "p50", 30, 1e-9), expectNear(row, "p95", 48, 1e-9))
}

func (c *checker) groupBy(ctx context.Context, env *matrix.Env) error {
	res, err := c.execute(ctx, env, lastHour(), []string{"host"},
		built(series.NewCount().Build()),
		built(series.NewLatest().Field("http_status").Build()),
	)
	if err != nil {
		return err
	}
	if len(res.Rows) != 2 {
		return fmt.Errorf("got %d groups, want 2: %v", len(res.Rows), res.Rows)
	}
	want := []struct {
		key    string
		count  float64
		status any
	}{
		{"api", 2, 500.0},
		{"web", 3, 200.0},
	}
	var errs []error
	for i, w := range want {
		row := res.Rows[i]
		if len(row.Key) != 1 || row.Key[0] != w.key {
			errs = append(errs, fmt.Errorf("row %d key %v, want [%s]", i, row.Key, w.key))
			continue
		}
		errs = append(errs, expectValue(row, "count()", w.count), expectValue(row, "latest(http_status)", w.status))
	}
	return errors.Join(errs...)
}

func (c *checker) emptyMessage(ctx context.Context, env *matrix.Env) error {
	res, err := c.execute(ctx, env, lastHour(), nil,
		built(series.NewCount().Field("message").Build()),
		built(series.NewCard().Field("message").Build()),
	)
	if err != nil {
		return err
	}
	row, err := single(res)
	if err != nil {
		return err
	}
	errs := []error{
		expectValue(row, "count(message)", 4.0),
		expectValue(row, "card(message)", 4.0),
	}

	grouped, err := c.execute(ctx, env, lastHour(), []string{"message"}, built(series.NewCount().Build()))
	if err != nil {
		return err
	}
	if len(grouped.Rows) != 4 {
		errs = append(errs, fmt.Errorf("got %d message groups, want 4: %v", len(grouped.Rows), grouped.Rows))
	}
	for _, r := range grouped.Rows {
		if len(r.Key) != 1 || r.Key[0] == "" {
			errs = append(errs, fmt.Errorf("unexpected message group %v", r.Key))
		}
	}
	return errors.Join(errs...)
}

// median is a series variant no adapter translates.
type median struct{}

func (median) Type() string    { return "median" }
func (median) ID() string      { return "median(took_ms)" }
func (median) Field() string   { return "took_ms" }
func (median) Literal() string { return "median(took_ms)" }

func (c *checker) unsupportedSeries(ctx context.Context, env *matrix.Env) error {
	_, err := c.execute(ctx, env, lastHour(), nil, median{})
	var unsupported *adapter.UnsupportedSeriesTypeError
	if !errors.As(err, &unsupported) {
		return fmt.Errorf("want UnsupportedSeriesTypeError, got %v", err)
	}
	if unsupported.Type != "median" {
		return fmt.Errorf("unsupported type %q, want median", unsupported.Type)
	}
	return nil
}

func (c *checker) rawQuery(ctx context.Context, env *matrix.Env) error {
	want := float64(c.ds.Len())
	switch env.Version.Family {
	case searchversion.DuckDB:
		body, _ := json.Marshal(map[string]any{
			"sql":  "SELECT count(*) AS n FROM documents WHERE index_name = ?",
			"args": []any{c.ds.Index()},
		})
		out, err := env.Adapter.RawQuery(ctx, body)
		if err != nil {
			return err
		}
		var resp struct {
			Rows [][]float64 `json:"rows"`
		}
		if err := json.Unmarshal(out, &resp); err != nil {
			return err
		}
		if len(resp.Rows) != 1 || len(resp.Rows[0]) != 1 || resp.Rows[0][0] != want {
			return fmt.Errorf("raw count rows %v, want [[%v]]", resp.Rows, want)
		}
	case searchversion.Bleve:
		body, _ := json.Marshal(map[string]any{
			"index":   c.ds.Index(),
			"request": map[string]any{"query": map[string]any{"match_all": map[string]any{}}, "size": 0},
		})
		out, err := env.Adapter.RawQuery(ctx, body)
		if err != nil {
			return err
		}
		var resp struct {
			TotalHits float64 `json:"total_hits"`
		}
		if err := json.Unmarshal(out, &resp); err != nil {
			return err
		}
		if resp.TotalHits != want {
			return fmt.Errorf("raw total_hits %v, want %v", resp.TotalHits, want)
		}
	default:
		return fmt.Errorf("no raw query for family %s", env.Version.Family)
	}
	return nil
}
