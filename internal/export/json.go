package export

import (
	"encoding/json"
	"io"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// jsonEnvelope is the document shape of JSON exports.
type jsonEnvelope struct {
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Count     int          `json:"count"`
	Bars      []models.Bar `json:"bars"`
}

// WriteJSON renders the series as one indented JSON document. Decimal fields
// marshal as strings so no precision is lost in transit.
func WriteJSON(w io.Writer, series Series) error {
	bars := series.Bars
	if bars == nil {
		bars = []models.Bar{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonEnvelope{
		Symbol:    series.Symbol,
		Timeframe: series.Timeframe,
		Count:     len(bars),
		Bars:      bars,
	})
}
