package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// DuckDBStorage implements FullStorage on DuckDB. It favors analytical
// reads: aggregate stats run as single queries and window scans use the
// series index.
type DuckDBStorage struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

// NewDuckDBStorage opens a DuckDB database. An empty path or ":memory:"
// yields an in-memory database; anything else is created on first use.
func NewDuckDBStorage(dbPath string, logger *slog.Logger) (*DuckDBStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == ":memory:" {
		dbPath = ""
	}

	connector, err := duckdb.NewConnector(dbPath, nil)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("open duckdb: %w", err))
	}
	db := sql.OpenDB(connector)

	// DuckDB wants a single writer; one pooled connection serves both
	// reads and writes here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBStorage{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("backend", BackendDuckDB),
	}, nil
}

// Initialize applies schema migrations and session settings.
func (d *DuckDBStorage) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return NewStorageError("initialize", "", errors.New("storage is closed"))
	}

	// Session tuning is best-effort; failures log but never block startup.
	for _, setting := range []string{
		"SET enable_progress_bar = false",
	} {
		if _, err := d.db.ExecContext(ctx, setting); err != nil {
			d.logger.Warn("duckdb setting rejected", "setting", setting, "error", err)
		}
	}

	if err := applyMigrations(ctx, d.db, dialectDuckDB, d.logger); err != nil {
		return NewStorageError("initialize", "bars", err)
	}

	d.logger.Info("duckdb storage ready", "db_path", d.dbPath)
	return nil
}

// Store validates and upserts bars. Single-call path; delegates to the
// batch writer.
func (d *DuckDBStorage) Store(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	return d.StoreBatch(ctx, symbol, timeframe, bars)
}

// StoreBatch upserts all bars inside one transaction with a prepared
// statement. Conflicting (symbol, timeframe, timestamp) rows are replaced.
func (d *DuckDBStorage) StoreBatch(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := validateBars(symbol, timeframe, bars); err != nil {
		return NewInsertError("bars", err)
	}

	db, err := d.database()
	if err != nil {
		return NewInsertError("bars", err)
	}

	start := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewInsertError("bars", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, timeframe, timestamp, datetime, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
			datetime = excluded.datetime,
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume`)
	if err != nil {
		return NewInsertError("bars", fmt.Errorf("prepare upsert: %w", err))
	}
	defer stmt.Close()

	for i := range bars {
		bar := &bars[i]
		if _, err := stmt.ExecContext(ctx,
			symbol, timeframe, bar.Timestamp, bar.Datetime,
			bar.Open.InexactFloat64(), bar.High.InexactFloat64(),
			bar.Low.InexactFloat64(), bar.Close.InexactFloat64(),
			bar.Volume.InexactFloat64()); err != nil {
			return NewInsertError("bars", fmt.Errorf("upsert bar %d: %w", bar.Timestamp, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewInsertError("bars", fmt.Errorf("commit: %w", err))
	}

	d.logger.Debug("stored bars", "symbol", symbol, "timeframe", timeframe,
		"count", len(bars), "duration", time.Since(start))
	return nil
}

// Query retrieves bars with window filtering, ordering, and pagination.
func (d *DuckDBStorage) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, NewQueryError("bars", err)
	}
	db, err := d.database()
	if err != nil {
		return nil, NewQueryError("bars", err)
	}

	where, args := buildBarsFilter(req, placeholderDollar)

	var total int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bars"+where, args...).Scan(&total); err != nil {
		return nil, NewQueryError("bars", fmt.Errorf("count: %w", err))
	}

	query := "SELECT timestamp, datetime, open, high, low, close, volume FROM bars" + where
	if req.OrderBy == "timestamp_desc" {
		query += " ORDER BY timestamp DESC"
	} else {
		query += " ORDER BY timestamp ASC"
	}
	n := len(args)
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n+1)
		args = append(args, req.Limit)
		n++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", n+1)
		args = append(args, req.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("bars", err)
	}
	defer rows.Close()

	bars := make([]models.Bar, 0, req.Limit)
	for rows.Next() {
		var bar models.Bar
		var open, high, low, closePx, volume float64
		if err := rows.Scan(&bar.Timestamp, &bar.Datetime,
			&open, &high, &low, &closePx, &volume); err != nil {
			return nil, NewQueryError("bars", fmt.Errorf("scan: %w", err))
		}
		bar.Open = decimal.NewFromFloat(open)
		bar.High = decimal.NewFromFloat(high)
		bar.Low = decimal.NewFromFloat(low)
		bar.Close = decimal.NewFromFloat(closePx)
		bar.Volume = decimal.NewFromFloat(volume)
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("bars", err)
	}

	nextOffset := req.Offset + len(bars)
	return &QueryResponse{
		Bars:       bars,
		Total:      total,
		HasMore:    nextOffset < total,
		NextOffset: nextOffset,
		QueryTime:  time.Since(start),
	}, nil
}

// GetLatest returns the newest bar of one series.
func (d *DuckDBStorage) GetLatest(ctx context.Context, symbol, timeframe string) (*models.Bar, error) {
	if symbol == "" || timeframe == "" {
		return nil, NewQueryError("bars", errors.New("symbol and timeframe cannot be empty"))
	}
	db, err := d.database()
	if err != nil {
		return nil, NewQueryError("bars", err)
	}

	var bar models.Bar
	var open, high, low, closePx, volume float64
	err = db.QueryRowContext(ctx, `
		SELECT timestamp, datetime, open, high, low, close, volume FROM bars
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY timestamp DESC LIMIT 1`,
		symbol, timeframe).Scan(&bar.Timestamp, &bar.Datetime,
		&open, &high, &low, &closePx, &volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewQueryError("bars",
			fmt.Errorf("series %s/%s: %w", symbol, timeframe, ErrNotFound))
	}
	if err != nil {
		return nil, NewQueryError("bars", err)
	}

	bar.Open = decimal.NewFromFloat(open)
	bar.High = decimal.NewFromFloat(high)
	bar.Low = decimal.NewFromFloat(low)
	bar.Close = decimal.NewFromFloat(closePx)
	bar.Volume = decimal.NewFromFloat(volume)
	return &bar, nil
}

// GetStats answers volume and coverage in one aggregate query.
func (d *DuckDBStorage) GetStats(ctx context.Context) (*Stats, error) {
	db, err := d.database()
	if err != nil {
		return nil, NewStorageError("stats", "", err)
	}

	stats := &Stats{}
	var earliest, latest sql.NullInt64
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT symbol),
		       COUNT(DISTINCT symbol || '|' || timeframe),
		       MIN(timestamp),
		       MAX(timestamp)
		FROM bars`).Scan(&stats.TotalBars, &stats.TotalSymbols,
		&stats.TotalSeries, &earliest, &latest); err != nil {
		return nil, NewStorageError("stats", "bars", err)
	}
	stats.EarliestTimestamp = earliest.Int64
	stats.LatestTimestamp = latest.Int64

	if d.dbPath != "" {
		if info, err := os.Stat(d.dbPath); err == nil {
			stats.StorageSize = info.Size()
		}
	}
	return stats, nil
}

// HealthCheck verifies the database answers queries.
func (d *DuckDBStorage) HealthCheck(ctx context.Context) error {
	db, err := d.database()
	if err != nil {
		return err
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("duckdb health check: %w", err)
	}
	return nil
}

// Close releases the database handle. Idempotent.
func (d *DuckDBStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *DuckDBStorage) database() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, errors.New("storage is closed")
	}
	return d.db, nil
}

// placeholder styles for the shared filter builder
const (
	placeholderDollar   = "$"
	placeholderQuestion = "?"
)

// buildBarsFilter renders the WHERE clause shared by the SQL backends.
// DuckDB numbers placeholders ($1, $2, ...) while SQLite uses ?.
func buildBarsFilter(req QueryRequest, style string) (string, []any) {
	conditions := []string{"symbol = " + placeholderAt(style, 1), "timeframe = " + placeholderAt(style, 2)}
	args := []any{req.Symbol, req.Timeframe}

	if req.From > 0 {
		conditions = append(conditions, "timestamp >= "+placeholderAt(style, len(args)+1))
		args = append(args, req.From)
	}
	if req.To > 0 {
		conditions = append(conditions, "timestamp <= "+placeholderAt(style, len(args)+1))
		args = append(args, req.To)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func placeholderAt(style string, n int) string {
	if style == placeholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}
