// Package gaps finds missing buckets in stored series and backfills them.
// Detection walks consecutive stored bars: runs of absent buckets inside
// trading hours are data gaps, runs outside them are market closures.
package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/TavaresBugs/ScrapperTV/internal/storage"
)

// Gap is one run of consecutive missing buckets.
type Gap struct {
	From     int64 `json:"from"` // first missing bucket start, unix seconds
	To       int64 `json:"to"`   // last missing bucket start, unix seconds
	Bars     int   `json:"bars"`
	Expected bool  `json:"expected"` // the whole run falls outside trading hours
}

// Report summarizes the continuity of one stored series.
type Report struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	From      int64  `json:"from"` // first bar scanned
	To        int64  `json:"to"`   // last bar scanned
	Present   int    `json:"present"`
	Missing   int    `json:"missing"` // absent buckets inside trading hours
	Closed    int    `json:"closed"`  // absent buckets outside trading hours
	Gaps      []Gap  `json:"gaps,omitempty"`
}

// Unexpected returns only the gaps worth filling.
func (r *Report) Unexpected() []Gap {
	var out []Gap
	for _, g := range r.Gaps {
		if !g.Expected {
			out = append(out, g)
		}
	}
	return out
}

// Coverage is the fraction of in-session buckets that are present, 1 for a
// gapless series.
func (r *Report) Coverage() float64 {
	total := r.Present + r.Missing
	if total == 0 {
		return 1
	}
	return float64(r.Present) / float64(total)
}

// Detector scans stored series for missing buckets.
type Detector struct {
	store  storage.BarReader
	logger *slog.Logger
}

// NewDetector builds a detector over a bar reader.
func NewDetector(store storage.BarReader, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		store:  store,
		logger: logger.With("component", "gaps"),
	}
}

// Detect scans the stored bars of one series for missing buckets. From and
// to bound the scan in unix seconds, 0 meaning the full stored range.
// Detection needs at least two stored bars to anchor the bucket walk; below
// that the report carries the bar count and no gaps.
func (d *Detector) Detect(ctx context.Context, symbol, timeframe string, from, to int64) (*Report, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}
	if timeframe == "" {
		return nil, fmt.Errorf("timeframe cannot be empty")
	}

	resp, err := d.store.Query(ctx, storage.QueryRequest{
		Symbol:    symbol,
		Timeframe: timeframe,
		From:      from,
		To:        to,
		OrderBy:   "timestamp_asc",
	})
	if err != nil {
		return nil, fmt.Errorf("query stored bars: %w", err)
	}

	report := &Report{Symbol: symbol, Timeframe: timeframe, Present: len(resp.Bars)}
	if len(resp.Bars) < 2 {
		return report, nil
	}
	report.From = resp.Bars[0].Timestamp
	report.To = resp.Bars[len(resp.Bars)-1].Timestamp

	bucket := int64(bucketDuration(timeframe) / time.Second)
	cal := calendarFor(symbol)

	for i := 0; i < len(resp.Bars)-1; i++ {
		prev := resp.Bars[i].Timestamp
		delta := resp.Bars[i+1].Timestamp - prev
		if delta <= bucket {
			continue
		}

		// Rounding to the nearest multiple tolerates DST shifts on daily
		// buckets and uneven month lengths on monthly ones.
		steps := int((delta + bucket/2) / bucket)
		for k := 1; k < steps; {
			start := prev + int64(k)*bucket
			expected := closedAt(cal, timeframe, start)
			j := k
			for j+1 < steps && closedAt(cal, timeframe, prev+int64(j+1)*bucket) == expected {
				j++
			}
			bars := j - k + 1
			report.Gaps = append(report.Gaps, Gap{
				From:     start,
				To:       prev + int64(j)*bucket,
				Bars:     bars,
				Expected: expected,
			})
			if expected {
				report.Closed += bars
			} else {
				report.Missing += bars
			}
			k = j + 1
		}
	}

	d.logger.Debug("gap scan finished",
		"symbol", symbol,
		"timeframe", timeframe,
		"present", report.Present,
		"missing", report.Missing,
		"closed", report.Closed)

	return report, nil
}

// bucketDuration maps a timeframe to its nominal bucket width.
func bucketDuration(timeframe string) time.Duration {
	switch timeframe {
	case "D":
		return 24 * time.Hour
	case "W":
		return 7 * 24 * time.Hour
	case "M":
		return 30 * 24 * time.Hour
	default:
		if minutes, err := strconv.Atoi(timeframe); err == nil && minutes > 0 {
			return time.Duration(minutes) * time.Minute
		}
		return time.Hour
	}
}
