package repository

import (
	"context"
	"time"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
)

// SeriesReader aggregates trades into OHLCV buckets.
// Buckets are returned in ascending time order. Gap-filled buckets carry NULL numeric fields.
type SeriesReader interface {
	FetchOHLCV(ctx context.Context, ref SeriesRef, w market.Window, from, to time.Time) ([]models.OHLCVRow, error)
}

// TradeReader reads raw trades in ascending time order.
type TradeReader interface {
	RecentTrades(ctx context.Context, ref SeriesRef, limit int) ([]models.TradeRow, error)
	TradesInRange(ctx context.Context, ref SeriesRef, from, to time.Time, limit int) ([]models.TradeRow, error)
}

// Store is the read-only storage surface used by the API.
type Store interface {
	SeriesReader
	TradeReader
	Health(ctx context.Context) error // ping
	Close() error
}

type Metrics interface {
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetConnections(n int)
	SetSubscriptions(n int)
	RecordBroadcast(feed string, delivered int)
	RecordSendFailure()
}
