// Package export renders fetched series for consumption outside the client:
// CSV and JSON for pipelines, a self-contained HTML candlestick chart for
// eyeballing a fetch.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// Supported output formats.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatChart = "chart"
)

// Series bundles bars with the identity of the fetch that produced them.
// Writers take the bundle so outputs are self-describing.
type Series struct {
	Symbol    string
	Timeframe string
	Bars      []models.Bar
}

// Options tunes format-specific rendering.
type Options struct {
	// ChartTheme selects the echarts theme for chart output. Empty means
	// the default theme.
	ChartTheme string
}

// Write renders the series in the given format.
func Write(w io.Writer, format string, series Series, opts Options) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, series)
	case FormatJSON:
		return WriteJSON(w, series)
	case FormatChart:
		return WriteChart(w, series, opts.ChartTheme)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteFile renders the series into a file, creating parent directories as
// needed.
func WriteFile(path, format string, series Series, opts Options) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	if err := Write(f, format, series, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DefaultFilename builds a filesystem-safe name for one exported series,
// e.g. "BINANCE_BTCUSDT_60_20261102T150405.csv".
func DefaultFilename(symbol, timeframe, format string, now time.Time) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(symbol)
	ext := format
	if format == FormatChart {
		ext = "html"
	}
	return fmt.Sprintf("%s_%s_%s.%s", safe, timeframe, now.UTC().Format("20060102T150405"), ext)
}
