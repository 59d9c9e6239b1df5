package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

func sqliteTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSQLiteStorageConformance(t *testing.T) {
	runStorageConformance(t, func(t *testing.T) FullStorage {
		st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "bars.db"), sqliteTestLogger())
		require.NoError(t, err)
		return st
	})
}

func TestSQLiteEnablesWAL(t *testing.T) {
	st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "bars.db"), sqliteTestLogger())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Initialize(ctx))

	var mode string
	require.NoError(t, st.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.db")
	ctx := context.Background()

	st, err := NewSQLiteStorage(path, sqliteTestLogger())
	require.NoError(t, err)
	require.NoError(t, st.Initialize(ctx))
	require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 5)))
	require.NoError(t, st.Close())

	reopened, err := NewSQLiteStorage(path, sqliteTestLogger())
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Initialize(ctx))

	resp, err := reopened.Query(ctx, QueryRequest{Symbol: "BINANCE:BTCUSDT", Timeframe: "60"})
	require.NoError(t, err)
	assert.Len(t, resp.Bars, 5)
}

func TestSQLiteMigrationsRunOnce(t *testing.T) {
	st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "bars.db"), sqliteTestLogger())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Initialize(ctx))
	require.NoError(t, st.Initialize(ctx), "initialize must be idempotent")

	var applied int
	require.NoError(t, st.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, len(barsTableMigrations), applied)

	version, err := currentSchemaVersion(ctx, st.db)
	require.NoError(t, err)
	assert.Equal(t, barsTableMigrations[len(barsTableMigrations)-1].version, version)
}

func TestSQLitePricesRoundTripExactly(t *testing.T) {
	st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "bars.db"), sqliteTestLogger())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Initialize(ctx))

	mustDec := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		require.NoError(t, err)
		return d
	}

	// Prices float64 cannot represent exactly.
	bar := models.Bar{
		Timestamp: seedStart,
		Datetime:  time.Unix(seedStart, 0).UTC().Format(time.RFC3339),
		Open:      mustDec("49999.1"),
		High:      mustDec("50000.123456789012345678"),
		Low:       mustDec("49998.9"),
		Close:     mustDec("49999.123456789012345678"),
		Volume:    mustDec("12.000000000000000001"),
	}
	require.NoError(t, st.Store(ctx, "BINANCE:BTCUSDT", "60", []models.Bar{bar}))

	latest, err := st.GetLatest(ctx, "BINANCE:BTCUSDT", "60")
	require.NoError(t, err)
	assert.Equal(t, "49999.123456789012345678", latest.Close.String())
	assert.Equal(t, "12.000000000000000001", latest.Volume.String())
}
