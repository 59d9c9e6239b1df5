package models

import "fmt"

// SeriesRequest describes one historical series fetch. Zero values mean
// "unset" for the optional fields. At most one of TargetAmount or
// FromTimestamp drives the termination policy; when both are set,
// FromTimestamp wins. ToTimestamp is an upper filter applied at
// finalization, never a termination criterion.
type SeriesRequest struct {
	// Symbol is the service symbol, e.g. "BINANCE:BTCUSDT" or "FOREXCOM:GBPJPY".
	Symbol string `json:"symbol"`

	// Timeframe is the bucket size in the service's notation: minutes as a
	// number string ("1", "60", "240") or "D", "W", "M" for larger buckets.
	Timeframe string `json:"timeframe"`

	// TargetAmount is the desired number of most-recent bars. 0 means unset.
	TargetAmount int `json:"target_amount,omitempty"`

	// FromTimestamp is the inclusive lower bound in epoch seconds. 0 means unset.
	FromTimestamp int64 `json:"from_timestamp,omitempty"`

	// ToTimestamp is the inclusive upper bound in epoch seconds. 0 means unset.
	ToTimestamp int64 `json:"to_timestamp,omitempty"`
}

// Validate checks the request for internal consistency.
func (r *SeriesRequest) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if r.Timeframe == "" {
		return &ValidationError{Field: "timeframe", Message: "timeframe cannot be empty"}
	}
	if r.TargetAmount < 0 {
		return &ValidationError{Field: "target_amount", Message: "target amount cannot be negative"}
	}
	if r.FromTimestamp < 0 || r.ToTimestamp < 0 {
		return &ValidationError{Field: "from_timestamp", Message: "timestamps cannot be negative"}
	}
	if r.FromTimestamp > 0 && r.ToTimestamp > 0 && r.ToTimestamp < r.FromTimestamp {
		return &ValidationError{
			Field:   "to_timestamp",
			Message: fmt.Sprintf("to_timestamp (%d) must not precede from_timestamp (%d)", r.ToTimestamp, r.FromTimestamp),
		}
	}
	return nil
}

// FromDriven reports whether FromTimestamp drives the termination policy.
func (r *SeriesRequest) FromDriven() bool {
	return r.FromTimestamp > 0
}

// TargetDriven reports whether TargetAmount drives the termination policy.
func (r *SeriesRequest) TargetDriven() bool {
	return !r.FromDriven() && r.TargetAmount > 0
}

// String returns a compact representation used in logs.
func (r *SeriesRequest) String() string {
	return fmt.Sprintf("SeriesRequest{Symbol: %s, Timeframe: %s, Target: %d, From: %d, To: %d}",
		r.Symbol, r.Timeframe, r.TargetAmount, r.FromTimestamp, r.ToTimestamp)
}
