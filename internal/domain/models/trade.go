package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRow is a single executed trade as stored.
type TradeRow struct {
	Timestamp time.Time
	Price     decimal.NullDecimal
	Volume    decimal.NullDecimal
	Side      string
	Type      string
}

// Trade is the wire representation of a trade.
type Trade struct {
	Timestamp string  `json:"timestamp"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
}
