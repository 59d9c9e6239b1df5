package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// MemoryStorage keeps bars in nested maps guarded by one RWMutex. It is the
// default backend for one-off fetches and the reference implementation the
// SQL backends are tested against.
type MemoryStorage struct {
	mu sync.RWMutex

	// bars: symbol -> timeframe -> timestamp -> bar
	bars map[string]map[string]map[int64]models.Bar

	initialized bool
	closed      bool
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		bars: make(map[string]map[string]map[int64]models.Bar),
	}
}

// Store persists bars, overwriting rows that share a timestamp.
func (m *MemoryStorage) Store(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	if ctx.Err() != nil {
		return NewStorageError("store", "bars", ctx.Err())
	}
	if len(bars) == 0 {
		return nil
	}
	if err := validateBars(symbol, timeframe, bars); err != nil {
		return NewInsertError("bars", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError("bars", errors.New("storage is closed"))
	}

	series := m.seriesLocked(symbol, timeframe)
	for _, bar := range bars {
		series[bar.Timestamp] = bar
	}
	return nil
}

// StoreBatch is identical to Store for the memory backend.
func (m *MemoryStorage) StoreBatch(ctx context.Context, symbol, timeframe string, bars []models.Bar) error {
	return m.Store(ctx, symbol, timeframe, bars)
}

// seriesLocked returns the timestamp map for one series, creating the
// nesting on first use. Callers hold the write lock.
func (m *MemoryStorage) seriesLocked(symbol, timeframe string) map[int64]models.Bar {
	if m.bars[symbol] == nil {
		m.bars[symbol] = make(map[string]map[int64]models.Bar)
	}
	if m.bars[symbol][timeframe] == nil {
		m.bars[symbol][timeframe] = make(map[int64]models.Bar)
	}
	return m.bars[symbol][timeframe]
}

// Query retrieves bars with window filtering, ordering, and pagination.
func (m *MemoryStorage) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	if ctx.Err() != nil {
		return nil, NewQueryError("bars", ctx.Err())
	}
	if err := req.Validate(); err != nil {
		return nil, NewQueryError("bars", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("bars", errors.New("storage is closed"))
	}

	matches := make([]models.Bar, 0)
	if series, ok := m.bars[req.Symbol][req.Timeframe]; ok {
		for ts, bar := range series {
			if req.From > 0 && ts < req.From {
				continue
			}
			if req.To > 0 && ts > req.To {
				continue
			}
			matches = append(matches, bar)
		}
	}

	if req.OrderBy == "timestamp_desc" {
		sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp > matches[j].Timestamp })
	} else {
		sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp < matches[j].Timestamp })
	}

	total := len(matches)
	lo := req.Offset
	if lo > total {
		lo = total
	}
	hi := total
	if req.Limit > 0 && lo+req.Limit < total {
		hi = lo + req.Limit
	}

	page := make([]models.Bar, hi-lo)
	copy(page, matches[lo:hi])

	return &QueryResponse{
		Bars:       page,
		Total:      total,
		HasMore:    hi < total,
		NextOffset: hi,
		QueryTime:  time.Since(start),
	}, nil
}

// GetLatest returns the newest bar of one series.
func (m *MemoryStorage) GetLatest(ctx context.Context, symbol, timeframe string) (*models.Bar, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("bars", ctx.Err())
	}
	if symbol == "" || timeframe == "" {
		return nil, NewQueryError("bars", errors.New("symbol and timeframe cannot be empty"))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("bars", errors.New("storage is closed"))
	}

	series, ok := m.bars[symbol][timeframe]
	if !ok || len(series) == 0 {
		return nil, NewQueryError("bars",
			fmt.Errorf("series %s/%s: %w", symbol, timeframe, ErrNotFound))
	}

	var latest models.Bar
	found := false
	for ts, bar := range series {
		if !found || ts > latest.Timestamp {
			latest = bar
			found = true
		}
	}
	return &latest, nil
}

// Initialize marks the store ready.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	if ctx.Err() != nil {
		return NewStorageError("initialize", "", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("initialize", "", errors.New("storage is closed"))
	}
	m.initialized = true
	return nil
}

// Close shuts the store down. Idempotent.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetStats walks the maps and reports volume counters.
func (m *MemoryStorage) GetStats(ctx context.Context) (*Stats, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("stats", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("stats", "", errors.New("storage is closed"))
	}

	stats := &Stats{TotalSymbols: len(m.bars)}
	for _, timeframes := range m.bars {
		for _, series := range timeframes {
			stats.TotalSeries++
			for ts := range series {
				stats.TotalBars++
				if stats.EarliestTimestamp == 0 || ts < stats.EarliestTimestamp {
					stats.EarliestTimestamp = ts
				}
				if ts > stats.LatestTimestamp {
					stats.LatestTimestamp = ts
				}
			}
		}
	}
	return stats, nil
}

// HealthCheck reports whether the store can serve requests.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return errors.New("storage is closed")
	}
	if !m.initialized {
		return errors.New("storage is not initialized")
	}
	return nil
}
