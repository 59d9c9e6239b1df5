package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// dialect selects the DDL variant for a SQL backend. DuckDB and SQLite
// agree on most syntax but not on column types or server-side defaults.
type dialect string

const (
	dialectDuckDB dialect = "duckdb"
	dialectSQLite dialect = "sqlite"
)

// migration is one ordered schema step. Statements are per-dialect so both
// SQL backends evolve through the same version history.
type migration struct {
	version int
	name    string
	stmts   map[dialect][]string
}

// barsTableMigrations is the full schema history. Append only; versions
// already applied to a database are never re-run.
var barsTableMigrations = []migration{
	{
		version: 1,
		name:    "create bars table",
		stmts: map[dialect][]string{
			dialectDuckDB: {`
				CREATE TABLE IF NOT EXISTS bars (
					symbol VARCHAR NOT NULL,
					timeframe VARCHAR NOT NULL,
					timestamp BIGINT NOT NULL,
					datetime VARCHAR NOT NULL,
					open DOUBLE NOT NULL,
					high DOUBLE NOT NULL,
					low DOUBLE NOT NULL,
					close DOUBLE NOT NULL,
					volume DOUBLE NOT NULL,
					stored_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
					CONSTRAINT bars_pk PRIMARY KEY (symbol, timeframe, timestamp),
					CONSTRAINT bars_prices_positive CHECK (open > 0 AND high > 0 AND low > 0 AND close > 0),
					CONSTRAINT bars_volume_non_negative CHECK (volume >= 0)
				)`},
			dialectSQLite: {`
				CREATE TABLE IF NOT EXISTS bars (
					symbol TEXT NOT NULL,
					timeframe TEXT NOT NULL,
					timestamp INTEGER NOT NULL,
					datetime TEXT NOT NULL,
					open TEXT NOT NULL,
					high TEXT NOT NULL,
					low TEXT NOT NULL,
					close TEXT NOT NULL,
					volume TEXT NOT NULL,
					stored_at TEXT NOT NULL DEFAULT (datetime('now')),
					PRIMARY KEY (symbol, timeframe, timestamp)
				)`},
		},
	},
	{
		version: 2,
		name:    "create bars indexes",
		stmts: map[dialect][]string{
			dialectDuckDB: {
				"CREATE INDEX IF NOT EXISTS idx_bars_series ON bars (symbol, timeframe)",
				"CREATE INDEX IF NOT EXISTS idx_bars_timestamp ON bars (timestamp)",
			},
			dialectSQLite: {
				"CREATE INDEX IF NOT EXISTS idx_bars_series ON bars (symbol, timeframe)",
				"CREATE INDEX IF NOT EXISTS idx_bars_timestamp ON bars (timestamp)",
			},
		},
	},
}

// applyMigrations brings a database to the latest schema version. Each
// pending migration runs in its own transaction and is recorded in
// schema_migrations, so a partially migrated database resumes where it
// stopped.
func applyMigrations(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	applied := 0
	for _, mig := range barsTableMigrations {
		if mig.version <= current {
			continue
		}
		stmts, ok := mig.stmts[d]
		if !ok {
			return fmt.Errorf("migration %d has no %s variant", mig.version, d)
		}
		if err := runMigration(ctx, db, mig, stmts); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.version, mig.name, err)
		}
		applied++
	}

	if applied > 0 {
		logger.Info("schema migrated",
			"dialect", string(d), "from_version", current, "applied", applied)
	}
	return nil
}

func currentSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx,
		"SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func runMigration(ctx context.Context, db *sql.DB, mig migration, stmts []string) error {
	start := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at, execution_ms) VALUES (?, ?, ?, ?)",
		mig.version, mig.name,
		time.Now().UTC().Format(time.RFC3339),
		time.Since(start).Milliseconds()); err != nil {
		return err
	}

	return tx.Commit()
}
