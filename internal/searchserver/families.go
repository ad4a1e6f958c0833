package searchserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/blevesearch/bleve/v2"

	"github.com/tinytelemetry/searchmatrix/internal/node"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

// DuckDBInstance is a test instance backed by a duckdb node.
type DuckDBInstance struct {
	*base
}

// NewDuckDB builds a duckdb instance. A PersistenceURI names the database
// file the node opens.
func NewDuckDB(v searchversion.SearchVersion, opts StartOptions, deps Deps) (Instance, error) {
	if v.Family != searchversion.DuckDB {
		return nil, fmt.Errorf("duckdb instance: wrong family %s", v.Family)
	}
	return &DuckDBInstance{base: newBase(v, opts, deps, nil)}, nil
}

// SQL runs a read-only statement directly against the node.
func (i *DuckDBInstance) SQL(ctx context.Context, query string, args ...any) (node.SQLResponse, error) {
	var resp node.SQLResponse
	c := i.Client()
	if c == nil {
		return resp, fmt.Errorf("%w: %s has no client", ErrNotReady, i.version)
	}
	err := c.DoJSON(ctx, http.MethodPost, node.PathQuery, node.SQLRequest{SQL: query, Args: args}, &resp)
	return resp, err
}

// BleveInstance is a test instance backed by an in-memory bleve node.
type BleveInstance struct {
	*base
}

// NewBleve builds a bleve instance. Bleve nodes keep data in memory only, so
// a PersistenceURI is refused.
func NewBleve(v searchversion.SearchVersion, opts StartOptions, deps Deps) (Instance, error) {
	if v.Family != searchversion.Bleve {
		return nil, fmt.Errorf("bleve instance: wrong family %s", v.Family)
	}
	if opts.PersistenceURI != "" {
		return nil, fmt.Errorf("bleve instance %s: persistence %q not supported", v, opts.PersistenceURI)
	}
	return &BleveInstance{base: newBase(v, opts, deps, nil)}, nil
}

// Search runs a native bleve search request against index and returns the
// node's raw response.
func (i *BleveInstance) Search(ctx context.Context, index string, req *bleve.SearchRequest) ([]byte, error) {
	c := i.Client()
	if c == nil {
		return nil, fmt.Errorf("%w: %s has no client", ErrNotReady, i.version)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	return c.Do(ctx, http.MethodPost, node.PathQuery, node.SearchRequest{Index: index, Request: raw})
}
