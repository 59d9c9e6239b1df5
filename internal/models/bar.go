// Package models provides data structures and validation for market data
// retrieved over the streaming protocol. This package contains the wire-level
// bar shape, the public Bar result unit, and the series request descriptor.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RawBar represents one bar exactly as delivered by the service inside a
// data-push event. Index is the service-side position of the bar within the
// series; Values is an ordered array of [timestamp, open, high, low, close,
// volume] where the timestamp is seconds since epoch. Some symbols omit
// volume, in which case Values carries only five entries.
type RawBar struct {
	Index  int       `json:"i"`
	Values []float64 `json:"v"`
}

// Timestamp returns the bar's epoch timestamp in seconds, or 0 when the
// values array is truncated below the wire minimum.
func (r RawBar) Timestamp() int64 {
	if len(r.Values) == 0 {
		return 0
	}
	return int64(r.Values[0])
}

// Complete reports whether the values array carries at least the five
// mandatory OHLC entries (timestamp plus four prices).
func (r RawBar) Complete() bool {
	return len(r.Values) >= 5
}

// Bar represents one finalized OHLCV sample for a time bucket. It is derived
// 1:1 from a RawBar: the epoch timestamp is kept alongside a UTC ISO-8601
// rendering, and prices/volume are carried as decimals for precise
// downstream handling.
type Bar struct {
	Timestamp int64           `json:"timestamp" db:"timestamp"`
	Datetime  string          `json:"datetime" db:"datetime"`
	Open      decimal.Decimal `json:"open" db:"open"`
	High      decimal.Decimal `json:"high" db:"high"`
	Low       decimal.Decimal `json:"low" db:"low"`
	Close     decimal.Decimal `json:"close" db:"close"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
}

// ValidationError represents a bar validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// NewBarFromRaw converts a wire-level RawBar into a Bar. The conversion fails
// only when the values array is truncated below the mandatory five entries;
// a missing volume entry is treated as zero volume.
func NewBarFromRaw(raw RawBar) (Bar, error) {
	if !raw.Complete() {
		return Bar{}, &ValidationError{
			Field:   "values",
			Message: fmt.Sprintf("raw bar carries %d values, need at least 5", len(raw.Values)),
		}
	}

	ts := int64(raw.Values[0])
	bar := Bar{
		Timestamp: ts,
		Datetime:  time.Unix(ts, 0).UTC().Format(time.RFC3339),
		Open:      decimal.NewFromFloat(raw.Values[1]),
		High:      decimal.NewFromFloat(raw.Values[2]),
		Low:       decimal.NewFromFloat(raw.Values[3]),
		Close:     decimal.NewFromFloat(raw.Values[4]),
	}
	if len(raw.Values) >= 6 {
		bar.Volume = decimal.NewFromFloat(raw.Values[5])
	} else {
		bar.Volume = decimal.Zero
	}

	return bar, nil
}

// Time returns the bar timestamp as a UTC time.Time.
func (b *Bar) Time() time.Time {
	return time.Unix(b.Timestamp, 0).UTC()
}

// Validate performs validation on the bar data. It validates that the
// timestamp is set, all prices are greater than zero, volume is non-negative,
// and the OHLC relationships hold (high >= max(open, close),
// low <= min(open, close)). Returns a ValidationError if any validation fails.
func (b *Bar) Validate() error {
	if b.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "timestamp must be set"}
	}

	zero := decimal.Zero
	if b.Open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if b.High.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if b.Low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if b.Close.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}

	if b.Volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(b.Open, b.Close)
	if b.High.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", b.High, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(b.Open, b.Close)
	if b.Low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", b.Low, minOpenClose),
		}
	}

	return nil
}

// Range returns the total price movement of the bucket, High - Low.
func (b *Bar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// IsBullish returns true if the close price is greater than the open price.
func (b *Bar) IsBullish() bool {
	return b.Close.GreaterThan(b.Open)
}

// String returns a human-readable representation of the bar.
// This method implements the fmt.Stringer interface.
func (b *Bar) String() string {
	return fmt.Sprintf("Bar{Time: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		b.Datetime, b.Open, b.High, b.Low, b.Close, b.Volume)
}
