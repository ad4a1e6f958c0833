package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/tinytelemetry/searchmatrix/internal/blevestore"
	"github.com/tinytelemetry/searchmatrix/internal/duckdb"
	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
)

var (
	// ErrUnsupportedSyntax is returned when a query uses syntax the advertised
	// version does not understand.
	ErrUnsupportedSyntax = errors.New("syntax not supported by this version")
	// ErrMalformedQuery is returned for query bodies that cannot be decoded.
	ErrMalformedQuery = errors.New("malformed query")
	// ErrQueryFailed is returned when the engine refuses a well-formed query.
	ErrQueryFailed = errors.New("query failed")
)

// Engine is the storage a node serves. Implementations must be safe for
// concurrent use.
type Engine interface {
	CreateIndex(ctx context.Context, name string) error
	DeleteIndex(ctx context.Context, name string) error
	Indices(ctx context.Context) ([]string, error)
	InsertDocuments(ctx context.Context, index string, docs []model.Document) (int, error)
	DocCount(ctx context.Context, index string) (int64, error)
	// Query executes an engine-native request body and returns a JSON-ready value.
	Query(ctx context.Context, body []byte) (any, error)
	Close() error
}

// syntaxGate rejects a construct on versions older than since.
type syntaxGate struct {
	name    string
	since   string
	pattern *regexp.Regexp
}

func checkGates(v searchversion.SearchVersion, gates []syntaxGate, query string) error {
	for _, g := range gates {
		if !v.AtLeast(g.since) && g.pattern.MatchString(query) {
			return fmt.Errorf("%w: %s requires %s >= %s", ErrUnsupportedSyntax, g.name, v.Family, g.since)
		}
	}
	return nil
}

var duckdbGates = []syntaxGate{
	{name: "arg_max", since: "1.0.0", pattern: regexp.MustCompile(`(?i)\barg_max\s*\(`)},
	{name: "quantile_cont", since: "1.0.0", pattern: regexp.MustCompile(`(?i)\bquantile_cont\s*\(`)},
}

// NewEngine opens the engine for cfg's family.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Version.Family {
	case searchversion.DuckDB:
		store, err := duckdb.NewStore(cfg.DataPath, cfg.QueryTimeout)
		if err != nil {
			return nil, err
		}
		return &duckdbEngine{Store: store, version: cfg.Version}, nil
	case searchversion.Bleve:
		if cfg.DataPath != "" {
			return nil, fmt.Errorf("bleve nodes are memory only; data path %q not supported", cfg.DataPath)
		}
		return &bleveEngine{Store: blevestore.NewStore(), version: cfg.Version}, nil
	default:
		return nil, fmt.Errorf("no engine for family %q", cfg.Version.Family)
	}
}

type duckdbEngine struct {
	*duckdb.Store
	version searchversion.SearchVersion
}

func (e *duckdbEngine) Query(ctx context.Context, body []byte) (any, error) {
	var req SQLRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	if req.SQL == "" {
		return nil, fmt.Errorf("%w: sql is required", ErrMalformedQuery)
	}
	if err := checkGates(e.version, duckdbGates, req.SQL); err != nil {
		return nil, err
	}

	args := make([]any, len(req.Args))
	for i, a := range req.Args {
		args[i] = sqlArg(a)
	}

	start := time.Now()
	res, err := e.ExecuteQuery(ctx, req.SQL, args...)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, duckdb.ErrQueryNotAllowed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return SQLResponse{
		Columns:   res.Columns,
		Rows:      res.Rows,
		Truncated: res.Truncated,
		TookMs:    time.Since(start).Milliseconds(),
	}, nil
}

// sqlArg turns a decoded json.Number into int64 when integral, else float64.
func sqlArg(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

type bleveEngine struct {
	*blevestore.Store
	version searchversion.SearchVersion
}

func (e *bleveEngine) Query(ctx context.Context, body []byte) (any, error) {
	var req SearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	if req.Index == "" || len(req.Request) == 0 {
		return nil, fmt.Errorf("%w: index and request are required", ErrMalformedQuery)
	}
	var sr bleve.SearchRequest
	if err := json.Unmarshal(req.Request, &sr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	res, err := e.Search(ctx, req.Index, &sr)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, blevestore.ErrIndexNotFound) || errors.Is(err, blevestore.ErrWindowTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return res, nil
}
