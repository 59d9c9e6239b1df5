package gaps

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
	"github.com/TavaresBugs/ScrapperTV/internal/storage"
)

// Fetcher pulls bars for a series window. *series.Engine satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req models.SeriesRequest) ([]models.Bar, error)
}

// Filler repairs detected gaps by refetching their windows and storing the
// result. Stores are upserts, so refilling an already-repaired window is
// harmless.
type Filler struct {
	fetch  Fetcher
	store  storage.BarStorer
	logger *slog.Logger
}

// NewFiller builds a filler over a fetcher and a bar store.
func NewFiller(fetch Fetcher, store storage.BarStorer, logger *slog.Logger) *Filler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filler{
		fetch:  fetch,
		store:  store,
		logger: logger.With("component", "gaps"),
	}
}

// Fill refetches every unexpected gap and stores what comes back; expected
// closures are skipped. Returns the number of bars stored. Gaps that fail
// are logged and counted, they do not stop the remaining fills.
func (f *Filler) Fill(ctx context.Context, symbol, timeframe string, gapsToFill []Gap) (int, error) {
	stored := 0
	attempted := 0
	failed := 0

	for _, g := range gapsToFill {
		if g.Expected {
			continue
		}
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}
		attempted++

		bars, err := f.fetch.Fetch(ctx, models.SeriesRequest{
			Symbol:        symbol,
			Timeframe:     timeframe,
			FromTimestamp: g.From,
			ToTimestamp:   g.To,
		})
		if err != nil {
			failed++
			f.logger.Error("gap fetch failed",
				"symbol", symbol,
				"timeframe", timeframe,
				"from", g.From,
				"to", g.To,
				"error", err)
			continue
		}
		if len(bars) == 0 {
			f.logger.Warn("gap window returned no bars",
				"symbol", symbol,
				"timeframe", timeframe,
				"from", g.From,
				"to", g.To)
			continue
		}

		if err := f.store.Store(ctx, symbol, timeframe, bars); err != nil {
			failed++
			f.logger.Error("gap store failed",
				"symbol", symbol,
				"timeframe", timeframe,
				"from", g.From,
				"error", err)
			continue
		}

		stored += len(bars)
		f.logger.Info("gap filled",
			"symbol", symbol,
			"timeframe", timeframe,
			"from", g.From,
			"to", g.To,
			"bars", len(bars))
	}

	if failed > 0 {
		return stored, fmt.Errorf("%d of %d gap fills failed", failed, attempted)
	}
	return stored, nil
}
