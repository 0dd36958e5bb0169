package countrydb

import (
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/countrydb/ingest"
	"github.com/hupe1980/countrydb/query"
	"github.com/hupe1980/countrydb/resource"
	"github.com/hupe1980/countrydb/table"
	"github.com/hupe1980/countrydb/worker"
)

var (
	// ErrNotInitialized is returned by queries before a table was built.
	ErrNotInitialized = errors.New("countrydb: table not initialized")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("countrydb: closed")
	// ErrCorruptTable marks a table that failed its integrity check.
	ErrCorruptTable = errors.New("countrydb: corrupt table")
	// ErrBuildMemoryLimit is returned when a build exceeds its memory budget.
	ErrBuildMemoryLimit = errors.New("countrydb: build memory limit exceeded")
	// ErrReservedKey is returned when a reserved key reaches the builder.
	ErrReservedKey = errors.New("countrydb: reserved key")
	// ErrBuildInProgress is returned when another process holds the build lock.
	ErrBuildInProgress = errors.New("countrydb: build in progress")

	// ErrPoolClosed is returned for queries racing with Close.
	ErrPoolClosed = worker.ErrPoolClosed
	// ErrWorkerPanic is returned for a query whose execution panicked.
	ErrWorkerPanic = worker.ErrWorkerPanic
	// ErrMalformedBatch is returned when an ingest source is not a JSON array.
	ErrMalformedBatch = ingest.ErrMalformedBatch
)

// IOError reports a failure to open, create, read or publish a file.
//
// The underlying error can be accessed via errors.Unwrap.
type IOError struct {
	Op    string
	Path  string
	cause error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("countrydb: %s %s: %v", e.Op, e.Path, e.cause)
}

func (e *IOError) Unwrap() error { return e.cause }

// EncodeError reports a record that could not be serialized during a
// strict ingest.
//
// The underlying error can be accessed via errors.Unwrap.
type EncodeError struct {
	Ordinal int
	cause   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("countrydb: encode record %d: %v", e.Ordinal, e.cause)
}

func (e *EncodeError) Unwrap() error { return e.cause }

// DecodeError reports a stored value that could not be decoded. Queries
// treat it as not found; it only surfaces in logs.
type DecodeError = query.DecodeError

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ioe *IOError
	if errors.As(err, &ioe) {
		return err
	}

	if errors.Is(err, table.ErrCorrupt) {
		return fmt.Errorf("%w: %w", ErrCorruptTable, err)
	}
	if errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrBuildMemoryLimit, err)
	}
	if errors.Is(err, table.ErrReservedKey) {
		return fmt.Errorf("%w: %w", ErrReservedKey, err)
	}
	if errors.Is(err, table.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrBuildInProgress, err)
	}

	var ee *ingest.EncodeError
	if errors.As(err, &ee) {
		return &EncodeError{Ordinal: ee.Ordinal, cause: err}
	}

	var pe *os.PathError
	if errors.As(err, &pe) {
		return &IOError{Op: pe.Op, Path: pe.Path, cause: err}
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return &IOError{Op: le.Op, Path: le.New, cause: err}
	}

	return err
}
