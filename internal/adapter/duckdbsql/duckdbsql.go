// Package duckdbsql adapts canonical requests to duckdb-family nodes by
// rendering them as SQL over the node's document table.
package duckdbsql

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/node"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/series"
)

// Adapter is a duckdb-family adapter bound to one node.
type Adapter struct {
	adapter.Management
	version searchversion.SearchVersion
	dialect dialect
	logger  log.Logger
}

// NewCurrent is the factory for duckdb >= 1.0.
func NewCurrent(opts adapter.Options) (adapter.Adapter, error) {
	return newAdapter(opts, current)
}

// NewLegacy is the factory for duckdb 0.9.x, which lacks arg_max and exact
// quantiles.
func NewLegacy(opts adapter.Options) (adapter.Adapter, error) {
	return newAdapter(opts, legacy)
}

func newAdapter(opts adapter.Options, d dialect) (*Adapter, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("duckdb adapter %s: client required", opts.Version)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "adapter", "duckdb-"+d.name, "version", opts.Version.String())
	return &Adapter{
		Management: adapter.Management{Client: opts.Client, Logger: logger},
		version:    opts.Version,
		dialect:    d,
		logger:     logger,
	}, nil
}

// Version reports the node version the adapter is bound to.
func (a *Adapter) Version() searchversion.SearchVersion { return a.version }

// Native renders req as the node's SQL request body without sending it.
func (a *Adapter) Native(req adapter.Request) (node.SQLRequest, error) {
	q, err := a.render(req)
	if err != nil {
		return node.SQLRequest{}, err
	}
	return node.SQLRequest{SQL: q.sql, Args: q.args}, nil
}

func (a *Adapter) render(req adapter.Request) (query, error) {
	if err := req.Validate(); err != nil {
		return query{}, err
	}
	bounds, err := req.Bounds()
	if err != nil {
		return query{}, err
	}
	return a.dialect.build(req, bounds)
}

// Execute runs req and maps the SQL rows back onto series ids.
func (a *Adapter) Execute(ctx context.Context, req adapter.Request) (adapter.Result, error) {
	q, err := a.render(req)
	if err != nil {
		return adapter.Result{}, err
	}
	level.Debug(a.logger).Log("msg", "execute", "index", req.Index, "sql", q.sql)

	var resp node.SQLResponse
	if err := a.Client.DoJSON(ctx, http.MethodPost, node.PathQuery, node.SQLRequest{SQL: q.sql, Args: q.args}, &resp); err != nil {
		return adapter.Result{}, adapter.QueryError(err)
	}
	return a.toResult(q, resp)
}

func (a *Adapter) toResult(q query, resp node.SQLResponse) (adapter.Result, error) {
	res := adapter.NewResult()
	if len(resp.Columns) != q.groups+len(q.columns) {
		return adapter.Result{}, adapter.DecodeError(fmt.Errorf("got %d columns, want %d", len(resp.Columns), q.groups+len(q.columns)))
	}

	for _, raw := range resp.Rows {
		if len(raw) != len(resp.Columns) {
			return adapter.Result{}, adapter.DecodeError(fmt.Errorf("row has %d values, want %d", len(raw), len(resp.Columns)))
		}
		row := adapter.Row{Values: make(map[string]any, len(q.columns))}
		for i := 0; i < q.groups; i++ {
			row.Key = append(row.Key, keyString(raw[i]))
		}
		for i, col := range q.columns {
			v, err := decodeValue(col, raw[q.groups+i])
			if err != nil {
				return adapter.Result{}, adapter.DecodeError(fmt.Errorf("series %s: %w", col.spec.ID(), err))
			}
			row.Values[col.spec.ID()] = v
		}
		res.Rows = append(res.Rows, row)
	}
	adapter.SortRows(res.Rows)

	for _, col := range q.columns {
		if !col.exact {
			res.Degrade("series %s: %s computed with approx_quantile on %s", col.spec.ID(), col.spec.Type(), a.version)
		}
	}
	if resp.Truncated {
		res.Degrade("result truncated to %d rows", len(resp.Rows))
	}
	return res, nil
}

func keyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// decodeValue normalizes one aggregate cell. Latest values arrive as JSON
// text; everything else is numeric.
func decodeValue(col column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col.spec.Type() == series.TypeLatest {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	default:
		return nil, fmt.Errorf("non-numeric value %v (%T)", v, v)
	}
}
