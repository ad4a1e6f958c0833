package duckdb

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// ErrQueryNotAllowed is returned when a query fails the read-only guard.
var ErrQueryNotAllowed = errors.New("duckdb: query not allowed")

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET|CHECKPOINT)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stringLiteralPattern matches single-quoted SQL literals, including '' escapes.
var stringLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// CheckReadOnly applies the read-only guard used by ExecuteQuery: a single
// SELECT or WITH statement with no data or schema changing keywords outside
// string literals.
func CheckReadOnly(query string) error {
	// Literals go first so field names such as 'delete' or 'a;b' stay legal.
	code := stringLiteralPattern.ReplaceAllString(query, "''")
	if strings.Contains(code, ";") {
		return fmt.Errorf("%w: query must not contain semicolons", ErrQueryNotAllowed)
	}

	stripped := strings.TrimSpace(stripSQLComments(code))
	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("%w: only SELECT/WITH queries are allowed", ErrQueryNotAllowed)
	}
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return fmt.Errorf("%w: query contains disallowed keyword: %s", ErrQueryNotAllowed, strings.ToUpper(match))
	}
	return nil
}

// QueryResult is a column-ordered result set.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// ExecuteQuery runs a read-only SQL query with positional args.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
// At most MaxRows rows are returned; Truncated reports whether more existed.
func (s *Store) ExecuteQuery(ctx context.Context, query string, args ...any) (*QueryResult, error) {
	trimmed := strings.TrimSpace(query)
	if err := CheckReadOnly(trimmed); err != nil {
		return nil, err
	}

	ctx, cancel := s.boundCtx(ctx)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, trimmed, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if s.MaxRows > 0 && len(res.Rows) >= s.MaxRows {
			res.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, values)
	}
	return res, rows.Err()
}

// normalizeValue converts driver-specific scan types into JSON-friendly values.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case *big.Int:
		if t == nil {
			return nil
		}
		f, _ := new(big.Float).SetInt(t).Float64()
		return f
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float32:
		return float64(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int8:
		return int64(t)
	case uint32:
		return int64(t)
	case uint16:
		return int64(t)
	case uint8:
		return int64(t)
	default:
		return v
	}
}
