package models

// BaseResponse carries the fields shared by every market data envelope.
type BaseResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

type CandlesResponse struct {
	BaseResponse
	Candles   []Candle `json:"candles"`
	Count     int      `json:"count"`
	Exchange  string   `json:"exchange"`
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Limit     int      `json:"limit,omitempty"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
}

type TimeseriesResponse struct {
	BaseResponse
	OHLCV     []Candle `json:"ohlcv"`
	Count     int      `json:"count"`
	Exchange  string   `json:"exchange"`
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Limit     int      `json:"limit,omitempty"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
}

type TradesResponse struct {
	BaseResponse
	Trades    []Trade `json:"trades"`
	Count     int     `json:"count"`
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Limit     int     `json:"limit,omitempty"`
	StartTime string  `json:"start_time,omitempty"`
	EndTime   string  `json:"end_time,omitempty"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Storage     string `json:"storage"`
	Connections int    `json:"connections"`
}

type ServiceInfo struct {
	Message      string   `json:"message"`
	Description  string   `json:"description"`
	HealthURL    string   `json:"health_url"`
	WebSocketURL string   `json:"websocket_url"`
	Timeframes   []string `json:"timeframes"`
}
