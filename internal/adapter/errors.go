package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinytelemetry/searchmatrix/internal/client"
)

var (
	// ErrBackendUnreachable covers transport failures and per-call timeouts.
	ErrBackendUnreachable = client.ErrUnreachable
	// ErrImportTimeout is returned when a fixture import does not finish in time.
	ErrImportTimeout = errors.New("fixture import timed out")
	// ErrNoAdapter is returned by Registry.Resolve when nothing covers a version.
	ErrNoAdapter = errors.New("no adapter registered")
)

// QueryRejectedError is returned when the backend refuses a query.
type QueryRejectedError struct {
	Reason string
}

func (e *QueryRejectedError) Error() string { return "query rejected: " + e.Reason }

// UnsupportedSeriesTypeError is returned, before contacting the backend, for
// a series variant the adapter cannot translate.
type UnsupportedSeriesTypeError struct {
	Type string
}

func (e *UnsupportedSeriesTypeError) Error() string {
	return fmt.Sprintf("unsupported series type %q", e.Type)
}

// ImportRejectedError is returned when the backend refuses fixture documents.
type ImportRejectedError struct {
	Reason string
}

func (e *ImportRejectedError) Error() string { return "import rejected: " + e.Reason }

// QueryError maps a transport error from a query call onto the adapter
// taxonomy.
func QueryError(err error) error {
	if err == nil {
		return nil
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		return &QueryRejectedError{Reason: se.Reason}
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrBackendUnreachable) {
		return fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	return err
}

// ImportError maps a transport error from an import call onto the adapter
// taxonomy.
func ImportError(err error) error {
	if err == nil {
		return nil
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		return &ImportRejectedError{Reason: se.Reason}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrImportTimeout, err)
	}
	return err
}
