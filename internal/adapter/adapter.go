// Package adapter defines the backend-neutral query contract. Concrete
// adapters translate a Request into one backend family's native syntax and
// map the native response back into canonical Rows.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"

	"github.com/tinytelemetry/searchmatrix/internal/client"
	"github.com/tinytelemetry/searchmatrix/internal/fixture"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/series"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

// Adapter executes canonical requests against one backend version.
// Implementations are safe for concurrent use and never retry.
type Adapter interface {
	Version() searchversion.SearchVersion
	Execute(ctx context.Context, req Request) (Result, error)

	CreateIndex(ctx context.Context, index string) error
	DeleteIndex(ctx context.Context, index string) error
	// ImportFixture creates the dataset's index when missing and upserts its
	// documents. It returns once the documents are visible to queries.
	ImportFixture(ctx context.Context, ds *fixture.Dataset) error
	// RawQuery sends a backend-native request body and returns the native response.
	RawQuery(ctx context.Context, native []byte) ([]byte, error)
}

// Options carry what a Factory needs to bind an adapter to a live node.
type Options struct {
	Version searchversion.SearchVersion
	Client  *client.Client
	Logger  log.Logger
}

// Factory constructs an adapter.
type Factory func(Options) (Adapter, error)

// ErrInvalidRequest is returned by Request.Validate.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one canonical aggregation request.
type Request struct {
	Index   string
	Range   timerange.TimeRange
	Series  []series.Spec
	GroupBy []string
	// Now anchors relative and keyword ranges; zero means time.Now().
	Now time.Time
}

// Validate checks the request before any backend is contacted.
func (r Request) Validate() error {
	if r.Index == "" {
		return fmt.Errorf("%w: index required", ErrInvalidRequest)
	}
	if r.Range == nil {
		return fmt.Errorf("%w: time range required", ErrInvalidRequest)
	}
	if len(r.Series) == 0 {
		return fmt.Errorf("%w: at least one series required", ErrInvalidRequest)
	}
	if err := series.Validate(r.Series); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	for _, g := range r.GroupBy {
		if strings.TrimSpace(g) == "" {
			return fmt.Errorf("%w: empty group-by field", ErrInvalidRequest)
		}
	}
	return nil
}

// Bounds resolves the request's range against Now.
func (r Request) Bounds() (timerange.Bounds, error) {
	now := r.Now
	if now.IsZero() {
		now = time.Now()
	}
	return timerange.Resolve(r.Range, now)
}

// Row is one result row. Values are keyed by series id; numeric aggregates
// are float64, latest values keep their JSON scalar type, and a series with
// no input documents is nil.
type Row struct {
	Key    []string       `json:"key,omitempty"`
	Values map[string]any `json:"values"`
}

// Value returns the value for a series id.
func (r Row) Value(id string) (any, bool) {
	v, ok := r.Values[id]
	return v, ok
}

// Float returns a numeric value for a series id.
func (r Row) Float(id string) (float64, bool) {
	f, ok := r.Values[id].(float64)
	return f, ok
}

// Result is the canonical outcome of Execute. A result with Exact false is a
// partial result: rows are usable but approximate or truncated, and Warnings
// say why.
type Result struct {
	Rows     []Row    `json:"rows"`
	Exact    bool     `json:"exact"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewResult returns an exact, empty result.
func NewResult() Result { return Result{Rows: []Row{}, Exact: true} }

// Partial reports whether the result carries caveats.
func (r Result) Partial() bool { return !r.Exact }

// Degrade marks the result partial and records why.
func (r *Result) Degrade(format string, args ...any) {
	r.Exact = false
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Row finds the row with the given group key. With no group-by the single
// row has an empty key.
func (r Result) Row(key ...string) (Row, bool) {
	for _, row := range r.Rows {
		if equalKeys(row.Key, key) {
			return row, true
		}
	}
	return Row{}, false
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SortRows orders rows by key, element by element.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Key, rows[j].Key
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}
