package client

import (
	"encoding/json"
	"time"

	"OhlcvAPI/pkg/util"
)

type Candle struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Vol       float64 `json:"vol"`
}

// Time parses Timestamp; the zero time is returned when it cannot be parsed.
func (c Candle) Time() time.Time {
	t, _ := util.ParseTime(c.Timestamp)
	return t
}

type Trade struct {
	Timestamp string  `json:"timestamp"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
}

func (t Trade) Time() time.Time {
	ts, _ := util.ParseTime(t.Timestamp)
	return ts
}

// Envelope carries the metadata shared by every market data response.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Count     int    `json:"count"`
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type CandlesResponse struct {
	Envelope
	Candles []Candle `json:"candles"`
}

type TimeseriesResponse struct {
	Envelope
	OHLCV []Candle `json:"ohlcv"`
}

type TradesResponse struct {
	Envelope
	Trades []Trade `json:"trades"`
}

type Health struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Storage     string `json:"storage"`
	Connections int    `json:"connections"`
}

// Feed types accepted by Stream.
const (
	FeedOHLCV  = "ohlcv_live"
	FeedTrade  = "trade_live"
	FeedCandle = "candle_live"
)

// Subscription selects one live feed.
type Subscription struct {
	Exchange  string
	Symbol    string
	Timeframe string
	Type      string
}

// LiveCandle is the payload of an ohlcv_update frame.
type LiveCandle struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsFinal   bool    `json:"is_final"`
}

// LiveUpdate is one pushed frame. Candle is set for ohlcv_update frames;
// Data always holds the raw payload.
type LiveUpdate struct {
	Type      string          `json:"type"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Candle    *LiveCandle     `json:"-"`
}
