package models

// Requests for market data HTTP endpoints. Path params bind via `param`, query via `query`.

type RecentCandlesRequest struct {
	Exchange  string `param:"exchange" validate:"required"`
	Base      string `param:"base" validate:"required"`
	Quote     string `param:"quote" validate:"required"`
	Timeframe string `param:"timeframe" validate:"required"`
	Limit     int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type RangeCandlesRequest struct {
	Exchange  string `param:"exchange" validate:"required"`
	Base      string `param:"base" validate:"required"`
	Quote     string `param:"quote" validate:"required"`
	Timeframe string `param:"timeframe" validate:"required"`
	StartTime string `query:"start_time" validate:"required"`
	EndTime   string `query:"end_time" validate:"required"`
	Limit     int    `query:"limit" validate:"omitempty,gte=1,lte=10000"`
}

type TimeseriesRequest struct {
	Exchange  string `param:"exchange" validate:"required"`
	Symbol    string `param:"symbol" validate:"required"`
	Timeframe string `query:"timeframe" default:"1m"`
	StartTime string `query:"start_time" validate:"required"`
	EndTime   string `query:"end_time" validate:"required"`
	Limit     int    `query:"limit" default:"100" validate:"gte=1,lte=10000"`
}

type RecentTradesRequest struct {
	Exchange string `param:"exchange" validate:"required"`
	Limit    int    `query:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type RangeTradesRequest struct {
	Exchange  string `param:"exchange" validate:"required"`
	StartTime string `query:"start_time" validate:"required"`
	EndTime   string `query:"end_time" validate:"required"`
	Limit     int    `query:"limit" default:"1000" validate:"gte=1,lte=10000"`
}
