package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// SQLiteStorage implements FullStorage on SQLite via the pure-Go driver.
// Prices are stored as decimal strings, so values round-trip exactly; this
// backend trades the analytical speed of DuckDB for zero native deps.
type SQLiteStorage struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

// NewSQLiteStorage opens (or creates) a SQLite database file.
func NewSQLiteStorage(dbPath string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		return nil, NewStorageError("open", "", errors.New("sqlite requires a database path"))
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, NewStorageError("open", "", fmt.Errorf("open sqlite: %w", err))
	}

	// SQLite allows one writer at a time; serializing through a single
	// pooled connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
		logger: logger.With("backend", BackendSQLite),
	}, nil
}

// Initialize enables WAL mode and applies schema migrations.
func (s *SQLiteStorage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return NewStorageError("initialize", "", errors.New("storage is closed"))
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return NewStorageError("initialize", "", fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if err := applyMigrations(ctx, s.db, dialectSQLite, s.logger); err != nil {
		return NewStorageError("initialize", "bars", err)
	}

	s.logger.Info("sqlite storage ready", "db_path", s.dbPath)
	return nil
}

// Store validates and upserts bars; delegates to the batch writer.
func (s *SQLiteStorage) Store(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	return s.StoreBatch(ctx, symbol, timeframe, bars)
}

// StoreBatch upserts all bars in one transaction with a parameterized
// statement.
func (s *SQLiteStorage) StoreBatch(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := validateBars(symbol, timeframe, bars); err != nil {
		return NewInsertError("bars", err)
	}

	db, err := s.database()
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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
			bar.Open.String(), bar.High.String(),
			bar.Low.String(), bar.Close.String(),
			bar.Volume.String()); err != nil {
			return NewInsertError("bars", fmt.Errorf("upsert bar %d: %w", bar.Timestamp, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return NewInsertError("bars", fmt.Errorf("commit: %w", err))
	}

	s.logger.Debug("stored bars", "symbol", symbol, "timeframe", timeframe,
		"count", len(bars), "duration", time.Since(start))
	return nil
}

// Query retrieves bars with window filtering, ordering, and pagination.
func (s *SQLiteStorage) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, NewQueryError("bars", err)
	}
	db, err := s.database()
	if err != nil {
		return nil, NewQueryError("bars", err)
	}

	where, args := buildBarsFilter(req, placeholderQuestion)

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
	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	}
	if req.Offset > 0 {
		if req.Limit <= 0 {
			// SQLite refuses OFFSET without LIMIT; -1 means unbounded.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, req.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("bars", err)
	}
	defer rows.Close()

	bars := make([]models.Bar, 0, req.Limit)
	for rows.Next() {
		bar, err := scanTextBar(rows)
		if err != nil {
			return nil, NewQueryError("bars", err)
		}
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
func (s *SQLiteStorage) GetLatest(ctx context.Context, symbol, timeframe string) (*models.Bar, error) {
	if symbol == "" || timeframe == "" {
		return nil, NewQueryError("bars", errors.New("symbol and timeframe cannot be empty"))
	}
	db, err := s.database()
	if err != nil {
		return nil, NewQueryError("bars", err)
	}

	row := db.QueryRowContext(ctx, `
		SELECT timestamp, datetime, open, high, low, close, volume FROM bars
		WHERE symbol = ? AND timeframe = ?
		ORDER BY timestamp DESC LIMIT 1`, symbol, timeframe)

	bar, err := scanTextBar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewQueryError("bars",
			fmt.Errorf("series %s/%s: %w", symbol, timeframe, ErrNotFound))
	}
	if err != nil {
		return nil, NewQueryError("bars", err)
	}
	return &bar, nil
}

// GetStats answers volume and coverage in one aggregate query.
func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	db, err := s.database()
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

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.StorageSize = info.Size()
	}
	return stats, nil
}

// HealthCheck verifies the database answers queries.
func (s *SQLiteStorage) HealthCheck(ctx context.Context) error {
	db, err := s.database()
	if err != nil {
		return err
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("sqlite health check: %w", err)
	}
	return nil
}

// Close releases the database handle. Idempotent.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStorage) database() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("storage is closed")
	}
	return s.db, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTextBar reads one row with TEXT-encoded prices back into a Bar.
func scanTextBar(row rowScanner) (models.Bar, error) {
	var bar models.Bar
	var open, high, low, closePx, volume string
	if err := row.Scan(&bar.Timestamp, &bar.Datetime,
		&open, &high, &low, &closePx, &volume); err != nil {
		return models.Bar{}, err
	}

	fields := []struct {
		name string
		text string
		dst  *decimal.Decimal
	}{
		{"open", open, &bar.Open},
		{"high", high, &bar.High},
		{"low", low, &bar.Low},
		{"close", closePx, &bar.Close},
		{"volume", volume, &bar.Volume},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.text)
		if err != nil {
			return models.Bar{}, fmt.Errorf("decode %s %q: %w", f.name, f.text, err)
		}
		*f.dst = value
	}
	return bar, nil
}
