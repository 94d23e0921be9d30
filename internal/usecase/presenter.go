package usecase

import (
	"github.com/shopspring/decimal"

	"OhlcvAPI/internal/domain/models"
	"OhlcvAPI/pkg/util"
)

// NULL numeric fields (gap-filled buckets, missing trade volume) are presented as 0.
// Clients cannot tell a zero price from a missing one.
func zeroIfNull(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.InexactFloat64()
}

func presentCandles(rows []models.OHLCVRow) []models.Candle {
	out := make([]models.Candle, len(rows))
	for i, r := range rows {
		out[i] = models.Candle{
			Timestamp: util.FormatISO(r.Timestamp),
			Open:      zeroIfNull(r.Open),
			High:      zeroIfNull(r.High),
			Low:       zeroIfNull(r.Low),
			Close:     zeroIfNull(r.Close),
			Vol:       zeroIfNull(r.Volume),
		}
	}
	return out
}

func presentTrades(rows []models.TradeRow) []models.Trade {
	out := make([]models.Trade, len(rows))
	for i, r := range rows {
		out[i] = models.Trade{
			Timestamp: util.FormatISO(r.Timestamp),
			Price:     zeroIfNull(r.Price),
			Volume:    zeroIfNull(r.Volume),
			Side:      r.Side,
			Type:      r.Type,
		}
	}
	return out
}

// tailTrim keeps the last limit entries in their original order. limit <= 0 keeps everything.
func tailTrim[T any](s []T, limit int) []T {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}

// nullCount reports how many rows had a NULL close, for logging.
func nullCount(rows []models.OHLCVRow) int {
	n := 0
	for _, r := range rows {
		if !r.Close.Valid {
			n++
		}
	}
	return n
}
