package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/tinytelemetry/searchmatrix/internal/client"
	"github.com/tinytelemetry/searchmatrix/internal/fixture"
	"github.com/tinytelemetry/searchmatrix/internal/node"
)

// Management implements the index and fixture primitives every node family
// serves the same way. Concrete adapters embed it.
type Management struct {
	Client *client.Client
	Logger log.Logger
}

// CreateIndex creates index on the node.
func (m Management) CreateIndex(ctx context.Context, index string) error {
	return QueryError(m.Client.DoJSON(ctx, http.MethodPut, node.IndexPath(index), nil, nil))
}

// DeleteIndex drops index and its documents.
func (m Management) DeleteIndex(ctx context.Context, index string) error {
	return QueryError(m.Client.DoJSON(ctx, http.MethodDelete, node.IndexPath(index), nil, nil))
}

// ImportFixture creates the dataset's index if needed and upserts every
// document in one bulk call. Nodes apply bulk writes before answering, so
// documents are searchable when this returns.
func (m Management) ImportFixture(ctx context.Context, ds *fixture.Dataset) error {
	if ds == nil {
		return &ImportRejectedError{Reason: "nil dataset"}
	}
	err := m.Client.DoJSON(ctx, http.MethodPut, node.IndexPath(ds.Index()), nil, nil)
	var se *client.StatusError
	if err != nil && !(errors.As(err, &se) && se.Code == http.StatusConflict) {
		return ImportError(err)
	}

	var resp node.BulkResponse
	if err := m.Client.DoJSON(ctx, http.MethodPost, node.BulkPath(ds.Index()), ds.Documents(), &resp); err != nil {
		return ImportError(err)
	}
	logger := m.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	level.Debug(logger).Log("msg", "fixture imported", "dataset", ds.Name(), "index", ds.Index(), "items", resp.Items, "took_ms", resp.TookMs)
	return nil
}

// RawQuery sends a native request body unchanged.
func (m Management) RawQuery(ctx context.Context, native []byte) ([]byte, error) {
	out, err := m.Client.Query(ctx, native)
	if err != nil {
		return nil, QueryError(err)
	}
	return out, nil
}

// ErrUnexpectedResponse is returned when a node answers with a body the
// adapter cannot decode.
var ErrUnexpectedResponse = errors.New("unexpected backend response")

// DecodeError wraps a response decoding failure.
func DecodeError(err error) error {
	return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
}
