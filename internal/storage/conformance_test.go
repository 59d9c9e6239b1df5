package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

const (
	seedStart = int64(1727740800) // 2024-10-01T00:00:00Z
	seedStep  = int64(3600)
)

// seedBars builds n valid hourly bars starting at the given timestamp,
// going through the same conversion path fetched bars take.
func seedBars(t *testing.T, start int64, n int) []models.Bar {
	t.Helper()
	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		ts := start + int64(i)*seedStep
		bar, err := models.NewBarFromRaw(models.RawBar{
			Values: []float64{float64(ts), 100, 110, 90, 105, 42},
		})
		require.NoError(t, err)
		bars = append(bars, bar)
	}
	return bars
}

// runStorageConformance exercises the behavior every backend must share.
// Each subtest receives a fresh initialized store.
func runStorageConformance(t *testing.T, open func(t *testing.T) FullStorage) {
	ctx := context.Background()

	fresh := func(t *testing.T) FullStorage {
		st := open(t)
		require.NoError(t, st.Initialize(ctx))
		t.Cleanup(func() { st.Close() })
		return st
	}

	t.Run("StoreAndQueryRoundTrip", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 5)))

		resp, err := st.Query(ctx, QueryRequest{Symbol: "BINANCE:BTCUSDT", Timeframe: "60"})
		require.NoError(t, err)
		require.Len(t, resp.Bars, 5)
		assert.Equal(t, 5, resp.Total)
		assert.False(t, resp.HasMore)
		for i := 1; i < len(resp.Bars); i++ {
			assert.Greater(t, resp.Bars[i].Timestamp, resp.Bars[i-1].Timestamp)
		}
		assert.True(t, resp.Bars[0].Close.Equal(decimal.NewFromInt(105)),
			"close must round-trip, got %s", resp.Bars[0].Close)
		assert.NotEmpty(t, resp.Bars[0].Datetime)
	})

	t.Run("UpsertReplacesSameTimestamp", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.Store(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 1)))

		revised, err := models.NewBarFromRaw(models.RawBar{
			Values: []float64{float64(seedStart), 100, 110, 90, 106, 77},
		})
		require.NoError(t, err)
		require.NoError(t, st.Store(ctx, "BINANCE:BTCUSDT", "60", []models.Bar{revised}))

		resp, err := st.Query(ctx, QueryRequest{Symbol: "BINANCE:BTCUSDT", Timeframe: "60"})
		require.NoError(t, err)
		require.Len(t, resp.Bars, 1)
		assert.True(t, resp.Bars[0].Close.Equal(decimal.NewFromInt(106)),
			"refetched bar must replace the stored one, got close %s", resp.Bars[0].Close)
	})

	t.Run("WindowBoundsAreInclusive", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 5)))

		resp, err := st.Query(ctx, QueryRequest{
			Symbol:    "BINANCE:BTCUSDT",
			Timeframe: "60",
			From:      seedStart + 1*seedStep,
			To:        seedStart + 3*seedStep,
		})
		require.NoError(t, err)
		require.Len(t, resp.Bars, 3)
		assert.Equal(t, seedStart+1*seedStep, resp.Bars[0].Timestamp)
		assert.Equal(t, seedStart+3*seedStep, resp.Bars[2].Timestamp)
	})

	t.Run("PaginationWalksAllRows", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 10)))

		var got []models.Bar
		offset := 0
		for {
			resp, err := st.Query(ctx, QueryRequest{
				Symbol:    "BINANCE:BTCUSDT",
				Timeframe: "60",
				Limit:     4,
				Offset:    offset,
			})
			require.NoError(t, err)
			assert.Equal(t, 10, resp.Total)
			got = append(got, resp.Bars...)
			if !resp.HasMore {
				break
			}
			offset = resp.NextOffset
		}
		require.Len(t, got, 10)
		assert.Equal(t, seedStart, got[0].Timestamp)
		assert.Equal(t, seedStart+9*seedStep, got[9].Timestamp)
	})

	t.Run("DescendingOrder", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 4)))

		resp, err := st.Query(ctx, QueryRequest{
			Symbol:    "BINANCE:BTCUSDT",
			Timeframe: "60",
			OrderBy:   "timestamp_desc",
		})
		require.NoError(t, err)
		require.Len(t, resp.Bars, 4)
		assert.Equal(t, seedStart+3*seedStep, resp.Bars[0].Timestamp)
		assert.Equal(t, seedStart, resp.Bars[3].Timestamp)
	})

	t.Run("SeriesAreIsolated", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 3)))
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "240", seedBars(t, seedStart, 2)))
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:ETHUSDT", "60", seedBars(t, seedStart, 4)))

		resp, err := st.Query(ctx, QueryRequest{Symbol: "BINANCE:BTCUSDT", Timeframe: "60"})
		require.NoError(t, err)
		assert.Len(t, resp.Bars, 3)
	})

	t.Run("GetLatestReturnsNewest", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 6)))

		latest, err := st.GetLatest(ctx, "BINANCE:BTCUSDT", "60")
		require.NoError(t, err)
		assert.Equal(t, seedStart+5*seedStep, latest.Timestamp)
	})

	t.Run("GetLatestMissingSeries", func(t *testing.T) {
		st := fresh(t)

		_, err := st.GetLatest(ctx, "BINANCE:BTCUSDT", "60")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("RejectsInvalidBars", func(t *testing.T) {
		st := fresh(t)

		invalid := models.Bar{Timestamp: 0}
		err := st.Store(ctx, "BINANCE:BTCUSDT", "60", []models.Bar{invalid})
		require.Error(t, err)

		var storageErr *StorageError
		assert.True(t, errors.As(err, &storageErr))

		err = st.Store(ctx, "", "60", seedBars(t, seedStart, 1))
		require.Error(t, err, "empty symbol must be rejected")
	})

	t.Run("EmptyWriteIsNoop", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.Store(ctx, "BINANCE:BTCUSDT", "60", nil))
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", []models.Bar{}))
	})

	t.Run("QueryValidation", func(t *testing.T) {
		st := fresh(t)

		_, err := st.Query(ctx, QueryRequest{Timeframe: "60"})
		require.Error(t, err, "missing symbol")

		_, err = st.Query(ctx, QueryRequest{Symbol: "X", Timeframe: "60", OrderBy: "volume"})
		require.Error(t, err, "unsupported ordering")

		_, err = st.Query(ctx, QueryRequest{Symbol: "X", Timeframe: "60", From: 200, To: 100})
		require.Error(t, err, "inverted window")
	})

	t.Run("StatsReflectVolume", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 3)))
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:BTCUSDT", "240", seedBars(t, seedStart, 2)))
		require.NoError(t, st.StoreBatch(ctx, "BINANCE:ETHUSDT", "60", seedBars(t, seedStart+seedStep, 1)))

		stats, err := st.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(6), stats.TotalBars)
		assert.Equal(t, 2, stats.TotalSymbols)
		assert.Equal(t, 3, stats.TotalSeries)
		assert.Equal(t, seedStart, stats.EarliestTimestamp)
		assert.Equal(t, seedStart+2*seedStep, stats.LatestTimestamp)
	})

	t.Run("HealthCheckAfterInitialize", func(t *testing.T) {
		st := fresh(t)
		require.NoError(t, st.HealthCheck(ctx))
	})

	t.Run("ClosedStorageRejectsOperations", func(t *testing.T) {
		st := open(t)
		require.NoError(t, st.Initialize(ctx))
		require.NoError(t, st.Close())
		require.NoError(t, st.Close(), "close must be idempotent")

		assert.Error(t, st.Store(ctx, "BINANCE:BTCUSDT", "60", seedBars(t, seedStart, 1)))
		_, err := st.Query(ctx, QueryRequest{Symbol: "BINANCE:BTCUSDT", Timeframe: "60"})
		assert.Error(t, err)
		_, err = st.GetLatest(ctx, "BINANCE:BTCUSDT", "60")
		assert.Error(t, err)
		_, err = st.GetStats(ctx)
		assert.Error(t, err)
		assert.Error(t, st.HealthCheck(ctx))
	})
}
