package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/nodetest"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

func TestParseRequest(t *testing.T) {
	req, raw, err := parseRequest(strings.NewReader(`
index: logs
now: 2024-03-01T12:00:00Z
range: {type: relative, range: 3600}
series:
  - {type: latest, field: http_status, id: status}
  - {type: count}
group_by: [host]
`))
	require.NoError(t, err)
	assert.Empty(t, raw)
	assert.Equal(t, "logs", req.Index)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), req.Now.UTC())
	assert.Equal(t, timerange.TypeRelative, req.Range.Type())
	require.Len(t, req.Series, 2)
	assert.Equal(t, "status", req.Series[0].ID())
	assert.Equal(t, "count()", req.Series[1].ID())
	assert.Equal(t, []string{"host"}, req.GroupBy)
}

func TestParseRequestVariants(t *testing.T) {
	req, _, err := parseRequest(strings.NewReader(`
index: logs
range: {type: absolute, from: 2024-03-01T11:00:00Z, to: 2024-03-01T12:00:00Z}
series: [{type: count}]
`))
	require.NoError(t, err)
	assert.Equal(t, timerange.TypeAbsolute, req.Range.Type())

	req, _, err = parseRequest(strings.NewReader(`
index: logs
range: {type: keyword, keyword: last 1 hour}
series: [{type: count}]
`))
	require.NoError(t, err)
	assert.Equal(t, timerange.TypeKeyword, req.Range.Type())

	_, raw, err := parseRequest(strings.NewReader(`raw: '{"sql":"SELECT 1"}'`))
	require.NoError(t, err)
	assert.Equal(t, `{"sql":"SELECT 1"}`, raw)
}

func TestParseRequestRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":   "index: logs\nrange: {type: relative, range: 0}\nseries: [{type: count}]\nsize: 5\n",
		"bad range":     "index: logs\nrange: {type: relative, range: -5}\nseries: [{type: count}]\n",
		"absolute half": "index: logs\nrange: {type: absolute, from: 2024-03-01T11:00:00Z}\nseries: [{type: count}]\n",
		"bad series":    "index: logs\nrange: {type: relative, range: 0}\nseries: [{type: median, field: x}]\n",
		"no index":      "range: {type: relative, range: 0}\nseries: [{type: count}]\n",
	} {
		_, _, err := parseRequest(strings.NewReader(body))
		assert.Error(t, err, name)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, &bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQueryCommand(t *testing.T) {
	isolate(t)
	c := nodetest.Start(t, searchversion.MustNew(searchversion.DuckDB, "1.1.3"))
	addr := strings.TrimPrefix(c.Endpoint(), "http://")

	fixturePath := writeFile(t, "logs.yaml", `
name: cli
index: logs
documents:
  - {timestamp: now-30m, fields: {http_status: 200, host: web}}
  - {timestamp: now-20m, fields: {http_status: 500, host: api}}
  - {timestamp: now-2h, fields: {http_status: 404, host: web}}
`)
	reqPath := writeFile(t, "req.yaml", `
index: logs
range: {type: relative, range: 3600}
series:
  - {type: latest, field: http_status}
  - {type: count}
`)

	out, err := execute(t, "query", "--target", "duckdb:1.1.3", "--addr", addr, "--fixture", fixturePath, "--file", reqPath)
	require.NoError(t, err)

	var res adapter.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Exact)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 500.0, res.Rows[0].Values["latest(http_status)"])
	assert.Equal(t, 2.0, res.Rows[0].Values["count()"])

	rawPath := writeFile(t, "raw.yaml", `raw: '{"sql":"SELECT count(*) AS n FROM documents"}'`+"\n")
	out, err = execute(t, "query", "--target", "duckdb:1.1.3", "--addr", addr, "--file", rawPath)
	require.NoError(t, err)
	assert.Contains(t, out, "[[3]]")
}

func TestQueryCommandRejected(t *testing.T) {
	isolate(t)
	c := nodetest.Start(t, searchversion.MustNew(searchversion.DuckDB, "0.9.2"))
	addr := strings.TrimPrefix(c.Endpoint(), "http://")

	rawPath := writeFile(t, "raw.yaml", `raw: '{"sql":"SELECT arg_max(doc_id, ts) FROM documents"}'`+"\n")
	_, err := execute(t, "query", "--target", "duckdb:0.9.2", "--addr", addr, "--file", rawPath)
	var rejected *adapter.QueryRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "arg_max")
}

func TestQueryCommandRequiresFlags(t *testing.T) {
	isolate(t)
	_, err := execute(t, "query", "--file", "req.yaml")
	assert.ErrorContains(t, err, "target")
}
