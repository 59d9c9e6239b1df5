package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var csvHeader = []string{"timestamp", "datetime", "open", "high", "low", "close", "volume"}

// WriteCSV renders bars as CSV with a header row. Prices keep their full
// decimal precision.
func WriteCSV(w io.Writer, series Series) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range series.Bars {
		bar := &series.Bars[i]
		record := []string{
			strconv.FormatInt(bar.Timestamp, 10),
			bar.Datetime,
			bar.Open.String(),
			bar.High.String(),
			bar.Low.String(),
			bar.Close.String(),
			bar.Volume.String(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
