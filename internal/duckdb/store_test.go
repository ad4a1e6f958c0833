package duckdb

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/searchmatrix/internal/model"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestIndex(t *testing.T, store *Store, index string, docs []model.Document) {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateIndex(ctx, index); err != nil {
		t.Fatalf("CreateIndex(%s): %v", index, err)
	}
	if len(docs) == 0 {
		return
	}
	if _, err := store.InsertDocuments(ctx, index, docs); err != nil {
		t.Fatalf("InsertDocuments: %v", err)
	}
}

func sampleDocs() []model.Document {
	return []model.Document{
		{ID: "a", Timestamp: base, Message: "GET /", Fields: map[string]any{"http_status": 200, "bytes": 512}},
		{ID: "b", Timestamp: base.Add(time.Minute), Message: "GET /missing", Fields: map[string]any{"http_status": 404, "bytes": 128}},
		{ID: "c", Timestamp: base.Add(2 * time.Minute), Message: "POST /login", Fields: map[string]any{"http_status": 500}},
	}
}

func TestInsertDocuments(t *testing.T) {
	store := newTestStore(t)
	newTestIndex(t, store, "logs", sampleDocs())

	count, err := store.DocCount(context.Background(), "logs")
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if count != 3 {
		t.Errorf("DocCount = %d, want 3", count)
	}
}

func TestInsertDocuments_Idempotent(t *testing.T) {
	store := newTestStore(t)
	newTestIndex(t, store, "logs", sampleDocs())
	ctx := context.Background()

	n, err := store.InsertDocuments(ctx, "logs", sampleDocs())
	if err != nil {
		t.Fatalf("second InsertDocuments: %v", err)
	}
	if n != 3 {
		t.Errorf("InsertDocuments wrote %d, want 3", n)
	}

	count, _ := store.DocCount(ctx, "logs")
	if count != 3 {
		t.Errorf("DocCount after re-import = %d, want 3", count)
	}
}

func TestInsertDocuments_LastOccurrenceWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []model.Document{
		{ID: "x", Timestamp: base, Message: "first"},
		{ID: "x", Timestamp: base, Message: "second"},
	}
	newTestIndex(t, store, "logs", docs)

	res, err := store.ExecuteQuery(ctx, "SELECT message FROM documents WHERE index_name = ? AND doc_id = ?", "logs", "x")
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "second" {
		t.Errorf("rows = %v, want [[second]]", res.Rows)
	}
}

func TestInsertDocuments_Rejections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertDocuments(ctx, "nope", sampleDocs()); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("insert into unknown index: got %v, want ErrIndexNotFound", err)
	}

	newTestIndex(t, store, "logs", nil)
	bad := [][]model.Document{
		{{Timestamp: base}},
		{{ID: "no-ts"}},
	}
	for _, docs := range bad {
		if _, err := store.InsertDocuments(ctx, "logs", docs); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("InsertDocuments(%v): got %v, want ErrInvalidDocument", docs, err)
		}
	}
}

func TestCreateDeleteIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	newTestIndex(t, store, "logs", sampleDocs())
	newTestIndex(t, store, "other", sampleDocs()[:1])

	if err := store.CreateIndex(ctx, "logs"); !errors.Is(err, ErrIndexExists) {
		t.Errorf("duplicate CreateIndex: got %v, want ErrIndexExists", err)
	}

	names, err := store.Indices(ctx)
	if err != nil {
		t.Fatalf("Indices: %v", err)
	}
	if strings.Join(names, ",") != "logs,other" {
		t.Errorf("Indices = %v, want [logs other]", names)
	}

	if err := store.DeleteIndex(ctx, "logs"); err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
	if err := store.DeleteIndex(ctx, "logs"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("second DeleteIndex: got %v, want ErrIndexNotFound", err)
	}

	total, _ := store.DocCount(ctx, "")
	if total != 1 {
		t.Errorf("DocCount after delete = %d, want 1 (sibling index untouched)", total)
	}
}

func TestMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Meta(ctx, "version"); err != nil || ok {
		t.Fatalf("Meta on empty store = ok:%v err:%v", ok, err)
	}
	if err := store.SetMeta(ctx, "version", "1.1.3"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := store.SetMeta(ctx, "version", "1.2.0"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	v, ok, err := store.Meta(ctx, "version")
	if err != nil || !ok || v != "1.2.0" {
		t.Errorf("Meta = %q ok:%v err:%v, want 1.2.0", v, ok, err)
	}
}

func TestPersistentStoreReopens(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "node", "data.duckdb")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	newTestIndex(t, store, "logs", sampleDocs())
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	count, err := reopened.DocCount(context.Background(), "logs")
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if count != 3 {
		t.Errorf("DocCount after reopen = %d, want 3", count)
	}
}

func TestExecuteQuery_SelectAllowed(t *testing.T) {
	store := newTestStore(t)
	newTestIndex(t, store, "logs", sampleDocs())

	res, err := store.ExecuteQuery(context.Background(),
		`SELECT COUNT(*) AS cnt, max(TRY_CAST(json_extract_string(fields, '$."http_status"') AS DOUBLE)) AS top FROM documents WHERE index_name = ?`, "logs")
	if err != nil {
		t.Fatalf("ExecuteQuery SELECT: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("ExecuteQuery returned %d rows, want 1", len(res.Rows))
	}
	if res.Columns[0] != "cnt" || res.Rows[0][0] != int64(3) {
		t.Errorf("cnt = %v (%T), want 3", res.Rows[0][0], res.Rows[0][0])
	}
	if res.Rows[0][1] != float64(500) {
		t.Errorf("top = %v, want 500", res.Rows[0][1])
	}
}

func TestExecuteQuery_WithAllowed(t *testing.T) {
	store := newTestStore(t)
	newTestIndex(t, store, "logs", sampleDocs())

	res, err := store.ExecuteQuery(context.Background(), "WITH c AS (SELECT COUNT(*) AS cnt FROM documents) SELECT cnt FROM c")
	if err != nil {
		t.Fatalf("ExecuteQuery WITH: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("ExecuteQuery WITH returned %d rows, want 1", len(res.Rows))
	}
}

func TestExecuteQuery_MaxRows(t *testing.T) {
	store := newTestStore(t)
	newTestIndex(t, store, "logs", sampleDocs())
	store.MaxRows = 2

	res, err := store.ExecuteQuery(context.Background(), "SELECT doc_id FROM documents ORDER BY doc_id")
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if len(res.Rows) != 2 || !res.Truncated {
		t.Errorf("rows=%d truncated=%v, want 2 rows truncated", len(res.Rows), res.Truncated)
	}
}

func TestExecuteQuery_DMLRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []string{
		"INSERT INTO documents (doc_id) VALUES ('hack')",
		"UPDATE documents SET message = 'hacked'",
		"DELETE FROM documents",
		"DROP TABLE documents",
		"CREATE TABLE evil (id int)",
		"ALTER TABLE documents ADD COLUMN evil varchar",
		"TRUNCATE documents",
	}

	for _, sql := range rejected {
		_, err := store.ExecuteQuery(context.Background(), sql)
		if !errors.Is(err, ErrQueryNotAllowed) {
			t.Errorf("ExecuteQuery(%q) = %v, want ErrQueryNotAllowed", sql, err)
		}
	}
}

func TestExecuteQuery_DuckDBKeywordsRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []struct {
		sql     string
		keyword string
	}{
		{"SELECT COPY(documents, '/tmp/dump.csv') FROM documents", "COPY"},
		{"SELECT ATTACH FROM documents", "ATTACH"},
		{"SELECT LOAD FROM documents", "LOAD"},
		{"SELECT EXPORT FROM documents", "EXPORT"},
		{"SELECT INSTALL FROM documents", "INSTALL"},
		{"SELECT PRAGMA FROM documents", "PRAGMA"},
		{"SELECT SET FROM documents", "SET"},
		{"SELECT 1 /* comment */ FROM documents WHERE CHECKPOINT", "CHECKPOINT"},
	}

	for _, tt := range rejected {
		_, err := store.ExecuteQuery(context.Background(), tt.sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject %s keyword", tt.keyword)
			continue
		}
		if !strings.Contains(err.Error(), tt.keyword) {
			t.Errorf("ExecuteQuery error %q should mention keyword %s", err.Error(), tt.keyword)
		}
	}

	semicolonCases := []string{
		"SELECT 1; DROP TABLE documents",
		"SELECT 1;",
	}
	for _, sql := range semicolonCases {
		if _, err := store.ExecuteQuery(context.Background(), sql); err == nil {
			t.Errorf("ExecuteQuery(%q) should reject semicolons", sql)
		}
	}
}

func TestCheckReadOnly_LiteralsIgnored(t *testing.T) {
	allowed := []string{
		`SELECT json_extract_string(fields, '$."delete"') FROM documents`,
		`SELECT 'a;b' AS x`,
		`SELECT 'it''s set' AS x`,
	}
	for _, sql := range allowed {
		if err := CheckReadOnly(sql); err != nil {
			t.Errorf("CheckReadOnly(%q) = %v, want nil", sql, err)
		}
	}
}
