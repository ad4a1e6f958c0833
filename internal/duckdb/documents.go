package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinytelemetry/searchmatrix/internal/model"
)

// ErrInvalidDocument is returned by InsertDocuments for documents missing an id or timestamp.
var ErrInvalidDocument = errors.New("duckdb: invalid document")

// queryCtx derives a context bounded by the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

func (s *Store) boundCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return s.queryCtx()
	}
	return context.WithTimeout(ctx, s.QueryTimeout)
}

// CreateIndex registers a new, empty index.
func (s *Store) CreateIndex(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("duckdb: index name required")
	}
	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.indexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrIndexExists, name)
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO indices (name) VALUES (?)", name)
	return err
}

// DeleteIndex drops an index and every document in it.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.indexExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE index_name = ?", name); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM indices WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	return tx.Commit()
}

// Indices lists the registered index names in name order.
func (s *Store) Indices(ctx context.Context) ([]string, error) {
	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM indices ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) indexExists(ctx context.Context, name string) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indices WHERE name = ?", name).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertDocuments upserts docs into index keyed by document id, so importing
// the same batch twice leaves the index unchanged. Within a batch the last
// occurrence of an id wins. It returns the number of distinct documents written.
func (s *Store) InsertDocuments(ctx context.Context, index string, docs []model.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	batch, err := dedupe(docs)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.indexExists(ctx, index)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}

	if err := s.insertBatchTx(ctx, index, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func dedupe(docs []model.Document) ([]model.Document, error) {
	pos := make(map[string]int, len(docs))
	out := make([]model.Document, 0, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: document %d has no id", ErrInvalidDocument, i)
		}
		if d.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: document %s has no timestamp", ErrInvalidDocument, d.ID)
		}
		if at, seen := pos[d.ID]; seen {
			out[at] = d
			continue
		}
		pos[d.ID] = len(out)
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) insertBatchTx(ctx context.Context, index string, docs []model.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO documents (index_name, doc_id, ts, message, fields) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		fields := []byte("{}")
		if len(d.Fields) > 0 {
			if fields, err = json.Marshal(d.Fields); err != nil {
				return fmt.Errorf("%w: document %s fields: %v", ErrInvalidDocument, d.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, index, d.ID, d.Timestamp.UnixMilli(), d.Message, string(fields)); err != nil {
			return fmt.Errorf("document %s insert: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// DocCount returns the number of documents in index, or in all indices when
// index is empty.
func (s *Store) DocCount(ctx context.Context, index string) (int64, error) {
	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		n   int64
		err error
	)
	if index == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE index_name = ?", index).Scan(&n)
	}
	return n, err
}

// SetMeta stores a node-level key/value pair, replacing any previous value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO node_meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// Meta reads a value written by SetMeta. The bool is false when the key is unset.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM node_meta WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
