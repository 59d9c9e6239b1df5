// Package storage persists fetched bars behind a small interface family.
// Implementations exist for in-memory use (tests, one-off fetches), DuckDB
// (analytical workloads), and SQLite (portable single-file persistence); all
// upsert on the (symbol, timeframe, timestamp) key so refetching a window is
// idempotent.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendDuckDB = "duckdb"
	BackendSQLite = "sqlite"
)

// ErrNotFound marks lookups that matched nothing. Implementations wrap it,
// so test with errors.Is.
var ErrNotFound = errors.New("not found")

// BarStorer handles bar persistence. Bars belong to one series identified by
// symbol and timeframe; storing the same timestamp twice overwrites the
// earlier row.
type BarStorer interface {
	// Store persists bars after validating each one. Invalid bars reject
	// the whole call.
	Store(ctx context.Context, symbol, timeframe string, bars []models.Bar) error

	// StoreBatch is the bulk path. Backends batch the writes into a single
	// transaction; prefer it for anything beyond a handful of bars.
	StoreBatch(ctx context.Context, symbol, timeframe string, bars []models.Bar) error
}

// BarReader handles bar retrieval with windowing, ordering, and pagination.
type BarReader interface {
	// Query retrieves bars matching the request. The window bounds are
	// inclusive on both ends, mirroring fetch-window semantics.
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)

	// GetLatest returns the most recent bar of one series, or an error
	// wrapping ErrNotFound when the series is empty.
	GetLatest(ctx context.Context, symbol, timeframe string) (*models.Bar, error)
}

// StorageManager owns the backend lifecycle.
type StorageManager interface {
	// Initialize prepares the backend: schema creation and migrations for
	// the SQL backends, a no-op flag flip for memory. Idempotent.
	Initialize(ctx context.Context) error

	// Close releases the backend. The instance is unusable afterwards.
	Close() error

	// GetStats reports volume and coverage counters for monitoring.
	GetStats(ctx context.Context) (*Stats, error)

	HealthChecker
}

// HealthChecker verifies a backend is reachable and operational.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BarStorage combines the read and write halves.
type BarStorage interface {
	BarStorer
	BarReader
}

// FullStorage is what every backend implements and what New returns.
type FullStorage interface {
	BarStorage
	StorageManager
}

// QueryRequest selects bars of one series. From/To are inclusive epoch
// seconds with 0 meaning unbounded. OrderBy is "timestamp_asc" (default)
// or "timestamp_desc".
type QueryRequest struct {
	Symbol    string
	Timeframe string
	From      int64
	To        int64
	Limit     int
	Offset    int
	OrderBy   string
}

// Validate checks the request before it reaches a backend.
func (r *QueryRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("symbol cannot be empty")
	}
	if r.Timeframe == "" {
		return errors.New("timeframe cannot be empty")
	}
	if r.From < 0 || r.To < 0 {
		return errors.New("window bounds cannot be negative")
	}
	if r.From > 0 && r.To > 0 && r.To < r.From {
		return fmt.Errorf("window end %d precedes start %d", r.To, r.From)
	}
	if r.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if r.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	if r.OrderBy != "" && r.OrderBy != "timestamp_asc" && r.OrderBy != "timestamp_desc" {
		return fmt.Errorf("order_by must be timestamp_asc or timestamp_desc, got %q", r.OrderBy)
	}
	return nil
}

// QueryResponse carries query results plus pagination metadata.
type QueryResponse struct {
	// Bars are the matching rows in the requested order
	Bars []models.Bar

	// Total is the match count before limit/offset
	Total int

	// HasMore reports whether rows remain beyond this page
	HasMore bool

	// NextOffset is the offset of the next page
	NextOffset int

	// QueryTime is how long the backend took
	QueryTime time.Duration
}

// Stats summarizes stored data volume and coverage.
type Stats struct {
	// TotalBars is the number of stored rows
	TotalBars int64

	// TotalSymbols is the number of distinct symbols
	TotalSymbols int

	// TotalSeries is the number of distinct (symbol, timeframe) pairs
	TotalSeries int

	// EarliestTimestamp and LatestTimestamp bound the stored data in epoch
	// seconds; both are 0 when the store is empty.
	EarliestTimestamp int64
	LatestTimestamp   int64

	// StorageSize is the on-disk size in bytes, 0 for memory
	StorageSize int64
}

// StorageError wraps a failed storage operation with enough context to log
// and classify it upstream.
type StorageError struct {
	// Operation names the failed operation ("insert", "query", ...)
	Operation string

	// Table is the affected table, empty for lifecycle operations
	Table string

	// Err is the underlying cause
	Err error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage %s on %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Err)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError for an arbitrary operation.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewQueryError marks a failed read.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}

// NewInsertError marks a failed write.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}

// New opens the backend selected by name. Path is the database file for the
// SQL backends and ignored for memory. The caller still owns Initialize and
// Close.
func New(backend, path string, logger *slog.Logger) (FullStorage, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendDuckDB:
		return NewDuckDBStorage(path, logger)
	case BackendSQLite:
		return NewSQLiteStorage(path, logger)
	default:
		return nil, NewStorageError("open", "", fmt.Errorf("unknown storage backend %q", backend))
	}
}

// validateBars rejects a write when any bar fails model validation. It
// reports the offending index so batch failures are diagnosable.
func validateBars(symbol, timeframe string, bars []models.Bar) error {
	if symbol == "" {
		return errors.New("symbol cannot be empty")
	}
	if timeframe == "" {
		return errors.New("timeframe cannot be empty")
	}
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return fmt.Errorf("bar at index %d: %w", i, err)
		}
	}
	return nil
}
