// Package duckdb is the document engine behind duckdb-family backend nodes.
package duckdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/searchmatrix/internal/duckdb/migrate"
	"github.com/tinytelemetry/searchmatrix/internal/model"
)

var (
	// ErrIndexNotFound is returned for operations on an index that was never created.
	ErrIndexNotFound = errors.New("duckdb: index not found")
	// ErrIndexExists is returned by CreateIndex when the name is taken.
	ErrIndexExists = errors.New("duckdb: index already exists")
)

// Store manages the DuckDB database connection and provides document methods.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	QueryTimeout time.Duration
	MaxRows      int
}

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to model.DefaultQueryTimeout.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	qt := model.DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
		MaxRows:      model.DefaultMaxRows,
	}, nil
}

// Close checkpoints an on-disk database and closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dbPath != "" {
		if _, err := s.db.Exec("CHECKPOINT"); err != nil {
			s.db.Close()
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return s.db.Close()
}

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	return s.dbPath
}

// EngineVersion reports the version string of the linked DuckDB library.
func (s *Store) EngineVersion() (string, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	var v string
	if err := s.db.QueryRowContext(ctx, "SELECT version()").Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}
