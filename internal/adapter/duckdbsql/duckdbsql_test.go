package duckdbsql

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/fixture"
	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/nodetest"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/series"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func must[T series.Spec](s T, err error) series.Spec {
	if err != nil {
		panic(err)
	}
	return s
}

func lastHour(t *testing.T) timerange.TimeRange {
	t.Helper()
	r, err := timerange.NewRelative(3600)
	require.NoError(t, err)
	return r
}

func dataset() *fixture.Dataset {
	return fixture.MustNew("access", "logs", []model.Document{
		{ID: "1", Timestamp: now.Add(-50 * time.Minute), Message: "GET /", Fields: map[string]any{"http_status": 200, "took": 10, "host": "web"}},
		{ID: "2", Timestamp: now.Add(-40 * time.Minute), Message: "GET /a", Fields: map[string]any{"http_status": 404, "took": 20, "host": "web"}},
		{ID: "3", Timestamp: now.Add(-30 * time.Minute), Message: "GET /b", Fields: map[string]any{"http_status": 500, "took": 30, "host": "api"}},
		{ID: "4", Timestamp: now.Add(-20 * time.Minute), Message: "GET /c", Fields: map[string]any{"took": 40, "host": "api"}},
		{ID: "old", Timestamp: now.Add(-3 * time.Hour), Message: "GET /old", Fields: map[string]any{"http_status": 302, "took": 1000, "host": "web"}},
	})
}

func newAdapter(t *testing.T, version string, factory adapter.Factory) adapter.Adapter {
	t.Helper()
	v := searchversion.MustNew(searchversion.DuckDB, version)
	a, err := factory(adapter.Options{Version: v, Client: nodetest.Start(t, v)})
	require.NoError(t, err)
	require.NoError(t, a.ImportFixture(context.Background(), dataset()))
	return a
}

func TestRenderCurrent(t *testing.T) {
	v := searchversion.MustNew(searchversion.DuckDB, "1.1.3")
	a, err := NewCurrent(adapter.Options{Version: v, Client: nodetest.Start(t, v)})
	require.NoError(t, err)
	req := adapter.Request{
		Index:   "logs",
		Range:   lastHour(t),
		Now:     now,
		GroupBy: []string{"host"},
		Series: []series.Spec{
			must(series.NewLatest().Field("http_status").Build()),
			must(series.NewPercentile().Field("took").Percentile(95).Build()),
		},
	}
	native, err := a.(*Adapter).Native(req)
	require.NoError(t, err)

	assert.Contains(t, native.SQL, `json_extract_string(fields, '$."host"') AS g0`)
	assert.Contains(t, native.SQL, `arg_max(json_extract(fields, '$."http_status"'), ts)`)
	assert.Contains(t, native.SQL, "quantile_cont(")
	assert.Contains(t, native.SQL, "GROUP BY g0 ORDER BY g0")
	assert.Equal(t, []any{"logs", now.Add(-time.Hour).UnixMilli(), now.UnixMilli()}, native.Args)
}

func TestRenderAllTimeKeepsUpperBound(t *testing.T) {
	q, err := current.build(adapter.Request{Index: "logs", Range: timerange.AllTime(), Series: []series.Spec{must(series.NewCount().Build())}}, timerange.Bounds{To: now, Unbounded: true})
	require.NoError(t, err)
	assert.NotContains(t, q.sql, "ts >=")
	assert.Contains(t, q.sql, "ts <= ?")
	assert.Equal(t, []any{"logs", now.UnixMilli()}, q.args)
}

func TestRenderEscapesFieldNames(t *testing.T) {
	assert.Equal(t, `json_extract_string(fields, '$."it''s"')`, textExpr("it's"))
	assert.Equal(t, "NULLIF(message, '')", textExpr("message"))
	assert.Equal(t, "to_json(NULLIF(message, ''))", jsonExpr("message"))
}

type median struct{}

func (median) Type() string    { return "median" }
func (median) ID() string      { return "median(took)" }
func (median) Field() string   { return "took" }
func (median) Literal() string { return "median(took)" }

func TestUnsupportedSeriesFailsFast(t *testing.T) {
	v := searchversion.MustNew(searchversion.DuckDB, "1.1.3")
	a, err := NewCurrent(adapter.Options{Version: v, Client: nodetest.Start(t, v)})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), adapter.Request{Index: "never-created", Range: lastHour(t), Series: []series.Spec{median{}}})
	var unsupported *adapter.UnsupportedSeriesTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "median", unsupported.Type)
}

func TestExecuteLatestScenario(t *testing.T) {
	for name, tc := range map[string]struct {
		version string
		factory adapter.Factory
	}{
		"current": {"1.1.3", NewCurrent},
		"legacy":  {"0.9.2", NewLegacy},
	} {
		t.Run(name, func(t *testing.T) {
			a := newAdapter(t, tc.version, tc.factory)
			req := adapter.Request{
				Index:  "logs",
				Range:  lastHour(t),
				Now:    now,
				Series: []series.Spec{must(series.NewLatest().Field("http_status").Build())},
			}

			for i := 0; i < 2; i++ {
				res, err := a.Execute(context.Background(), req)
				require.NoError(t, err)
				require.Len(t, res.Rows, 1)
				assert.True(t, res.Exact)
				assert.Equal(t, 500.0, res.Rows[0].Values["latest(http_status)"])
				require.NoError(t, a.ImportFixture(context.Background(), dataset()))
			}
		})
	}
}

func TestExecuteMetrics(t *testing.T) {
	a := newAdapter(t, "1.1.3", NewCurrent)

	res, err := a.Execute(context.Background(), adapter.Request{
		Index: "logs",
		Range: lastHour(t),
		Now:   now,
		Series: []series.Spec{
			must(series.NewCount().Build()),
			must(series.NewCount().Field("http_status").ID("with_status").Build()),
			must(series.NewSum().Field("took").Build()),
			must(series.NewAvg().Field("took").Build()),
			must(series.NewMin().Field("took").Build()),
			must(series.NewMax().Field("took").Build()),
			must(series.NewCard().Field("host").Build()),
			must(series.NewStdDev().Field("took").Build()),
			must(series.NewPercentile().Field("took").Percentile(50).Build()),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Exact)

	row := res.Rows[0]
	assert.Equal(t, 4.0, row.Values["count()"])
	assert.Equal(t, 3.0, row.Values["with_status"])
	assert.Equal(t, 100.0, row.Values["sum(took)"])
	assert.Equal(t, 25.0, row.Values["avg(took)"])
	assert.Equal(t, 10.0, row.Values["min(took)"])
	assert.Equal(t, 40.0, row.Values["max(took)"])
	assert.Equal(t, 2.0, row.Values["card(host)"])
	assert.InDelta(t, 11.1803, row.Values["stddev(took)"], 1e-3)
	assert.Equal(t, 25.0, row.Values["percentile(took)"])
}

func TestExecuteGroupBy(t *testing.T) {
	a := newAdapter(t, "1.1.3", NewCurrent)

	res, err := a.Execute(context.Background(), adapter.Request{
		Index:   "logs",
		Range:   timerange.AllTime(),
		GroupBy: []string{"host"},
		Series:  []series.Spec{must(series.NewCount().Build())},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"api"}, res.Rows[0].Key)
	assert.Equal(t, 2.0, res.Rows[0].Values["count()"])
	web, ok := res.Row("web")
	require.True(t, ok)
	assert.Equal(t, 3.0, web.Values["count()"])
}

func TestLegacyPercentileIsPartial(t *testing.T) {
	a := newAdapter(t, "0.9.2", NewLegacy)

	res, err := a.Execute(context.Background(), adapter.Request{
		Index:  "logs",
		Range:  lastHour(t),
		Now:    now,
		Series: []series.Spec{must(series.NewPercentile().Field("took").Percentile(50).ID("p50").Build())},
	})
	require.NoError(t, err)
	assert.True(t, res.Partial())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "p50")
	assert.InDelta(t, 25.0, res.Rows[0].Values["p50"], 10)
}

func TestCurrentDialectRejectedByLegacyNode(t *testing.T) {
	a := newAdapter(t, "0.9.2", NewCurrent)

	_, err := a.Execute(context.Background(), adapter.Request{
		Index:  "logs",
		Range:  lastHour(t),
		Now:    now,
		Series: []series.Spec{must(series.NewLatest().Field("http_status").Build())},
	})
	var rejected *adapter.QueryRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "arg_max")
}

func TestEmptyRangeYieldsZeroCount(t *testing.T) {
	a := newAdapter(t, "1.1.3", NewCurrent)
	from := now.Add(24 * time.Hour)
	r, err := timerange.NewAbsolute(from, from.Add(time.Hour))
	require.NoError(t, err)

	res, err := a.Execute(context.Background(), adapter.Request{
		Index: "logs",
		Range: r,
		Series: []series.Spec{
			must(series.NewCount().Build()),
			must(series.NewLatest().Field("http_status").Build()),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 0.0, res.Rows[0].Values["count()"])
	assert.Nil(t, res.Rows[0].Values["latest(http_status)"])
}

func TestRawQuery(t *testing.T) {
	a := newAdapter(t, "1.1.3", NewCurrent)

	out, err := a.RawQuery(context.Background(), []byte(`{"sql":"SELECT count(*) AS n FROM documents WHERE index_name = ?","args":["logs"]}`))
	require.NoError(t, err)
	var resp struct {
		Rows [][]float64 `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, [][]float64{{5}}, resp.Rows)

	_, err = a.RawQuery(context.Background(), []byte(`{"sql":"DELETE FROM documents"}`))
	var rejected *adapter.QueryRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.True(t, strings.Contains(rejected.Reason, "SELECT"))
}

func TestImportRejected(t *testing.T) {
	a := newAdapter(t, "1.1.3", NewCurrent)
	err := a.ImportFixture(context.Background(), nil)
	var rejected *adapter.ImportRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestAllTimeExcludesFutureDocuments(t *testing.T) {
	future := fixture.MustNew("future", "logs", []model.Document{
		{ID: "later", Timestamp: now.Add(time.Hour), Message: "GET /later", Fields: map[string]any{"http_status": 503, "took": 5, "host": "web"}},
	})
	for name, tc := range map[string]struct {
		version string
		factory adapter.Factory
	}{
		"current": {"1.1.3", NewCurrent},
		"legacy":  {"0.9.2", NewLegacy},
	} {
		t.Run(name, func(t *testing.T) {
			a := newAdapter(t, tc.version, tc.factory)
			require.NoError(t, a.ImportFixture(context.Background(), future))

			for _, tr := range []timerange.TimeRange{timerange.AllTime(), mustKeyword(t, "all time")} {
				res, err := a.Execute(context.Background(), adapter.Request{
					Index: "logs",
					Range: tr,
					Now:   now,
					Series: []series.Spec{
						must(series.NewCount().Build()),
						must(series.NewLatest().Field("http_status").Build()),
					},
				})
				require.NoError(t, err)
				require.Len(t, res.Rows, 1)
				assert.Equal(t, 5.0, res.Rows[0].Values["count()"], tr.String())
				assert.Equal(t, 500.0, res.Rows[0].Values["latest(http_status)"], tr.String())
			}
		})
	}
}

func mustKeyword(t *testing.T, expr string) timerange.TimeRange {
	t.Helper()
	k, err := timerange.NewKeyword(expr)
	require.NoError(t, err)
	return k
}

func TestEmptyMessageIsAbsent(t *testing.T) {
	a := newAdapter(t, "1.1.3", NewCurrent)
	require.NoError(t, a.ImportFixture(context.Background(), fixture.MustNew("quiet", "quiet", []model.Document{
		{ID: "a", Timestamp: now.Add(-10 * time.Minute), Message: "x"},
		{ID: "b", Timestamp: now.Add(-5 * time.Minute)},
	})))

	res, err := a.Execute(context.Background(), adapter.Request{
		Index: "quiet",
		Range: lastHour(t),
		Now:   now,
		Series: []series.Spec{
			must(series.NewCount().Field("message").Build()),
			must(series.NewCard().Field("message").Build()),
			must(series.NewLatest().Field("message").Build()),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 1.0, res.Rows[0].Values["count(message)"])
	assert.Equal(t, 1.0, res.Rows[0].Values["card(message)"])
	assert.Equal(t, "x", res.Rows[0].Values["latest(message)"])

	res, err = a.Execute(context.Background(), adapter.Request{
		Index:   "quiet",
		Range:   lastHour(t),
		Now:     now,
		GroupBy: []string{"message"},
		Series:  []series.Spec{must(series.NewCount().Build())},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"x"}, res.Rows[0].Key)
}
