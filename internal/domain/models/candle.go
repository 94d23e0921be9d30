package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCVRow is one aggregated bucket as returned by storage.
// Numeric fields are NULL for gap-filled buckets without trades.
type OHLCVRow struct {
	Timestamp time.Time
	Open      decimal.NullDecimal
	High      decimal.NullDecimal
	Low       decimal.NullDecimal
	Close     decimal.NullDecimal
	Volume    decimal.NullDecimal
}

// Candle is the wire representation of an OHLCV bucket.
type Candle struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Vol       float64 `json:"vol"`
}
