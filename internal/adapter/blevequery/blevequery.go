// Package blevequery adapts canonical requests to bleve-family nodes. The
// node only filters by time; aggregations are folded client side from the
// returned documents.
package blevequery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tinytelemetry/searchmatrix/internal/adapter"
	"github.com/tinytelemetry/searchmatrix/internal/blevestore"
	"github.com/tinytelemetry/searchmatrix/internal/model"
	"github.com/tinytelemetry/searchmatrix/internal/node"
	"github.com/tinytelemetry/searchmatrix/internal/searchversion"
	"github.com/tinytelemetry/searchmatrix/internal/timerange"
)

// Adapter is a bleve-family adapter bound to one node.
type Adapter struct {
	adapter.Management
	version searchversion.SearchVersion
	window  int
	logger  log.Logger
	// now supplies the anchor for requests without one.
	now func() time.Time
}

// New is the factory for bleve >= 2.0.
func New(opts adapter.Options) (adapter.Adapter, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("bleve adapter %s: client required", opts.Version)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "adapter", "bleve", "version", opts.Version.String())
	return &Adapter{
		Management: adapter.Management{Client: opts.Client, Logger: logger},
		version:    opts.Version,
		window:     blevestore.DefaultMaxWindow,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (a *Adapter) Version() searchversion.SearchVersion { return a.version }

// Native renders req as the node's search request body without sending it.
func (a *Adapter) Native(req adapter.Request) (node.SearchRequest, error) {
	if err := req.Validate(); err != nil {
		return node.SearchRequest{}, err
	}
	if err := checkSeries(req.Series); err != nil {
		return node.SearchRequest{}, err
	}
	bounds, err := req.Bounds()
	if err != nil {
		return node.SearchRequest{}, err
	}
	return a.native(req, bounds)
}

// native encodes the search for already resolved bounds.
func (a *Adapter) native(req adapter.Request, bounds timerange.Bounds) (node.SearchRequest, error) {
	sr := a.searchRequest(bounds)
	body, err := json.Marshal(sr)
	if err != nil {
		return node.SearchRequest{}, fmt.Errorf("encode search request: %w", err)
	}
	return node.SearchRequest{Index: req.Index, Request: body}, nil
}

// searchRequest selects the window newest first. Query dates only carry
// whole seconds, so the range is widened and hits are filtered again against
// the exact bounds.
func (a *Adapter) searchRequest(b timerange.Bounds) *bleve.SearchRequest {
	var q query.Query
	if b.Unbounded {
		q = bleve.NewMatchAllQuery()
	} else {
		inclusive := true
		dr := bleve.NewDateRangeInclusiveQuery(
			b.From.Truncate(time.Second),
			b.To.Truncate(time.Second).Add(time.Second),
			&inclusive, &inclusive,
		)
		dr.SetField(blevestore.TimestampField)
		q = dr
	}
	sr := bleve.NewSearchRequestOptions(q, a.window, 0, false)
	sr.Fields = []string{blevestore.SourceField}
	sr.SortBy([]string{"-" + blevestore.TimestampField})
	return sr
}

// searchResponse is the subset of a bleve search result the adapter reads.
type searchResponse struct {
	TotalHits uint64 `json:"total_hits"`
	Hits      []struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	} `json:"hits"`
}

// Execute fetches the documents in range and aggregates them. The bounds are
// resolved once so the search and the exact re-filter share one window.
func (a *Adapter) Execute(ctx context.Context, req adapter.Request) (adapter.Result, error) {
	if err := req.Validate(); err != nil {
		return adapter.Result{}, err
	}
	if err := checkSeries(req.Series); err != nil {
		return adapter.Result{}, err
	}
	if req.Now.IsZero() {
		req.Now = a.now()
	}
	bounds, err := req.Bounds()
	if err != nil {
		return adapter.Result{}, err
	}
	native, err := a.native(req, bounds)
	if err != nil {
		return adapter.Result{}, err
	}
	level.Debug(a.logger).Log("msg", "execute", "index", req.Index, "request", string(native.Request))

	var resp searchResponse
	if err := a.Client.DoJSON(ctx, http.MethodPost, node.PathQuery, native, &resp); err != nil {
		return adapter.Result{}, adapter.QueryError(err)
	}

	docs := make([]model.Document, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		d, err := blevestore.DocumentFromHit(hit.Fields)
		if err != nil {
			return adapter.Result{}, adapter.DecodeError(fmt.Errorf("hit %s: %w", hit.ID, err))
		}
		if bounds.Contains(d.Timestamp) {
			docs = append(docs, d)
		}
	}

	res := adapter.NewResult()
	if res.Rows, err = aggregate(req, docs); err != nil {
		return adapter.Result{}, err
	}
	if resp.TotalHits > uint64(len(resp.Hits)) {
		res.Degrade("result window capped at %d of %d documents", len(resp.Hits), resp.TotalHits)
	}
	return res, nil
}
