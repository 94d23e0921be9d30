package models

import "encoding/json"

// Frame types on the live WebSocket.
const (
	FrameSubscriptionConfirmed   = "subscription_confirmed"
	FrameUnsubscriptionConfirmed = "unsubscription_confirmed"
	FrameOHLCVUpdate             = "ohlcv_update"
	FrameTradeUpdate             = "trade_update"
	FrameError                   = "error"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// WSRequest is a client control message.
type WSRequest struct {
	Action    string `json:"action"`
	Exchange  string `json:"exchange" validate:"required"`
	Symbol    string `json:"symbol" validate:"required"`
	Timeframe string `json:"timeframe" validate:"required"`
	Type      string `json:"type" validate:"required"`
}

type SubscriptionStatus struct {
	Status string `json:"status"`
}

type SubscriptionFrame struct {
	Type             string             `json:"type"`
	Exchange         string             `json:"exchange"`
	Symbol           string             `json:"symbol"`
	Timeframe        string             `json:"timeframe"`
	SubscriptionType string             `json:"subscription_type"`
	Timestamp        string             `json:"timestamp"`
	Data             SubscriptionStatus `json:"data"`
}

type ErrorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// LiveCandleData is the payload of an ohlcv_update frame.
type LiveCandleData struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	IsFinal   bool    `json:"is_final"`
}

// UpdateFrame is pushed to subscribers of a key.
type UpdateFrame struct {
	Type      string          `json:"type"`
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// LiveMessage is an upstream live update as consumed from Kafka or Redis.
// Data holds LiveCandleData for candle feeds and a trade object for trade_live.
type LiveMessage struct {
	Exchange  string          `json:"exchange" validate:"required"`
	Symbol    string          `json:"symbol" validate:"required"`
	Timeframe string          `json:"timeframe" validate:"required"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data" validate:"required"`

	// Final is decoded from Data for candle feeds.
	Final bool `json:"-"`
}
