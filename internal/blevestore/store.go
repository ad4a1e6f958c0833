// Package blevestore is the document engine behind bleve-family backend nodes:
// one in-memory bleve index per index name.
package blevestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/tinytelemetry/searchmatrix/internal/model"
)

// Stored field names. User fields live under FieldsPrefix so they never
// collide with the built-in ones.
const (
	TimestampField = "timestamp"
	MessageField   = "message"
	SourceField    = "source_json"
	FieldsPrefix   = "fields"
)

// DefaultMaxWindow caps from+size of a single search request.
const DefaultMaxWindow = 10000

var (
	ErrIndexNotFound   = errors.New("bleve: index not found")
	ErrIndexExists     = errors.New("bleve: index already exists")
	ErrInvalidDocument = errors.New("bleve: invalid document")
	ErrWindowTooLarge  = errors.New("bleve: result window too large")
	ErrClosed          = errors.New("bleve: store closed")
)

// Store owns a set of named in-memory bleve indices.
type Store struct {
	mu        sync.RWMutex
	indices   map[string]bleve.Index
	closed    bool
	MaxWindow int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		indices:   make(map[string]bleve.Index),
		MaxWindow: DefaultMaxWindow,
	}
}

// buildIndexMapping keeps the original document in SourceField and indexes
// the timestamp as a datetime so range queries work.
func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.StoreDynamic = false

	ts := bleve.NewDateTimeFieldMapping()
	ts.Store = true

	src := bleve.NewTextFieldMapping()
	src.Index = false
	src.Store = true
	src.IncludeInAll = false
	src.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(TimestampField, ts)
	doc.AddFieldMappingsAt(SourceField, src)
	im.DefaultMapping = doc
	return im
}

// CreateIndex registers a new, empty index.
func (s *Store) CreateIndex(_ context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("bleve: index name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.indices[name]; ok {
		return fmt.Errorf("%w: %s", ErrIndexExists, name)
	}
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	s.indices[name] = idx
	return nil
}

// DeleteIndex closes and forgets an index.
func (s *Store) DeleteIndex(_ context.Context, name string) error {
	s.mu.Lock()
	idx, ok := s.indices[name]
	delete(s.indices, name)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return idx.Close()
}

// Indices lists the index names in name order.
func (s *Store) Indices(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) index(name string) (bleve.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	idx, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return idx, nil
}

// InsertDocuments indexes docs keyed by id in one batch. Re-indexing an id
// replaces the previous document.
func (s *Store) InsertDocuments(ctx context.Context, index string, docs []model.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	idx, err := s.index(index)
	if err != nil {
		return 0, err
	}

	batch := idx.NewBatch()
	ids := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if d.ID == "" {
			return 0, fmt.Errorf("%w: document %d has no id", ErrInvalidDocument, i)
		}
		if d.Timestamp.IsZero() {
			return 0, fmt.Errorf("%w: document %s has no timestamp", ErrInvalidDocument, d.ID)
		}
		body, err := toIndexable(d)
		if err != nil {
			return 0, err
		}
		if err := batch.Index(d.ID, body); err != nil {
			return 0, fmt.Errorf("document %s: %w", d.ID, err)
		}
		ids[d.ID] = struct{}{}
	}
	if err := idx.Batch(batch); err != nil {
		return 0, fmt.Errorf("batch: %w", err)
	}
	return len(ids), nil
}

func toIndexable(d model.Document) (map[string]any, error) {
	src, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: document %s: %v", ErrInvalidDocument, d.ID, err)
	}
	body := map[string]any{
		TimestampField: d.Timestamp.UTC(),
		SourceField:    string(src),
	}
	if d.Message != "" {
		body[MessageField] = d.Message
	}
	if len(d.Fields) > 0 {
		body[FieldsPrefix] = d.Clone().Fields
	}
	return body, nil
}

// DocumentFromHit rebuilds the original document from a hit's stored fields.
func DocumentFromHit(fields map[string]any) (model.Document, error) {
	raw, ok := fields[SourceField].(string)
	if !ok {
		return model.Document{}, fmt.Errorf("bleve: hit has no %s field", SourceField)
	}
	var d model.Document
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return model.Document{}, fmt.Errorf("bleve: decode %s: %w", SourceField, err)
	}
	return d, nil
}

// Search runs req against index. Requests reaching past MaxWindow are refused.
func (s *Store) Search(ctx context.Context, index string, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	if req == nil || req.Query == nil {
		return nil, fmt.Errorf("bleve: search request requires a query")
	}
	if s.MaxWindow > 0 && req.From+req.Size > s.MaxWindow {
		return nil, fmt.Errorf("%w: from+size %d exceeds %d", ErrWindowTooLarge, req.From+req.Size, s.MaxWindow)
	}
	idx, err := s.index(index)
	if err != nil {
		return nil, err
	}
	return idx.SearchInContext(ctx, req)
}

// DocCount returns the number of documents in index, or in all indices when
// index is empty.
func (s *Store) DocCount(_ context.Context, index string) (int64, error) {
	if index != "" {
		idx, err := s.index(index)
		if err != nil {
			return 0, err
		}
		n, err := idx.DocCount()
		return int64(n), err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, idx := range s.indices {
		n, err := idx.DocCount()
		if err != nil {
			return 0, err
		}
		total += int64(n)
	}
	return total, nil
}

// Close closes every index. The store is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for name, idx := range s.indices {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	s.indices = nil
	return errors.Join(errs...)
}
