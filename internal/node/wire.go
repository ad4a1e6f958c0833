package node

import (
	"encoding/json"
	"time"
)

// Paths served by every node.
const (
	PathHealth   = "/_cluster/health"
	PathSettings = "/_nodes/settings"
	PathQuery    = "/_query"
	PathMetrics  = "/metrics"
)

// IndexPath and BulkPath build the per-index routes.
func IndexPath(index string) string { return "/" + index }
func BulkPath(index string) string  { return "/" + index + "/_bulk" }

// SQLRequest is the native query body of duckdb-family nodes.
type SQLRequest struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

// SQLResponse is the duckdb-family query response.
type SQLResponse struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
	TookMs    int64    `json:"took_ms"`
}

// SearchRequest is the native query body of bleve-family nodes. Request
// holds a bleve SearchRequest in its own JSON form.
type SearchRequest struct {
	Index   string          `json:"index"`
	Request json.RawMessage `json:"request"`
}

// BulkResponse acknowledges a bulk import.
type BulkResponse struct {
	Index  string `json:"index"`
	Items  int    `json:"items"`
	TookMs int64  `json:"took_ms"`
}

// Acknowledged answers index create and delete calls.
type Acknowledged struct {
	Acknowledged bool   `json:"acknowledged"`
	Index        string `json:"index"`
}

// Settings is the GET /_nodes/settings payload.
type Settings struct {
	ClusterName string            `json:"cluster_name"`
	Version     string            `json:"version"`
	DataPath    string            `json:"data_path,omitempty"`
	Env         map[string]string `json:"env"`
	Indices     []string          `json:"indices"`
	StartedAt   time.Time         `json:"started_at"`
}

// ErrorBody is the error envelope for every non-2xx response.
type ErrorBody struct {
	Error  ErrorDetail `json:"error"`
	Status int         `json:"status"`
}

// ErrorDetail classifies a failure.
type ErrorDetail struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Error types carried in ErrorDetail.Type.
const (
	ErrTypeParsing          = "parsing_exception"
	ErrTypeUnsupported      = "unsupported_syntax_exception"
	ErrTypeIndexNotFound    = "index_not_found_exception"
	ErrTypeIndexExists      = "resource_already_exists_exception"
	ErrTypeIllegalArgument  = "illegal_argument_exception"
	ErrTypeSecurity         = "security_exception"
	ErrTypeInternal         = "internal_server_error"
	ErrTypeQueryNotAllowed  = "query_not_allowed_exception"
	ErrTypeWindowTooLarge   = "result_window_too_large_exception"
	ErrTypeDocumentRejected = "document_parsing_exception"
	ErrTypeQueryFailed      = "query_execution_exception"
)
