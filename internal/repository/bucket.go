package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
)

type tick struct {
	ts     time.Time
	price  decimal.Decimal
	volume decimal.Decimal
}

// bucketStart aligns t to its window in UTC. Weeks start on Monday, months on the 1st.
func bucketStart(t time.Time, w market.Window) time.Time {
	t = t.UTC()
	if w.Period == market.PeriodMonth {
		months := (t.Year()*12 + int(t.Month()) - 1) / w.Compression * w.Compression
		return time.Date(months/12, time.Month(months%12+1), 1, 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(w.Approx())
}

func nextBucket(t time.Time, w market.Window) time.Time {
	if w.Period == market.PeriodMonth {
		return t.AddDate(0, w.Compression, 0)
	}
	return t.Add(w.Approx())
}

// aggregate folds ascending ticks into OHLCV rows. Buckets without ticks
// between the first and last populated bucket are emitted with NULL fields.
func aggregate(ticks []tick, w market.Window) []models.OHLCVRow {
	if len(ticks) == 0 || w.Approx() <= 0 {
		return nil
	}
	out := make([]models.OHLCVRow, 0, 64)
	var cur *models.OHLCVRow
	for _, tk := range ticks {
		b := bucketStart(tk.ts, w)
		if cur == nil || !cur.Timestamp.Equal(b) {
			if cur != nil {
				for gap := nextBucket(cur.Timestamp, w); gap.Before(b); gap = nextBucket(gap, w) {
					out = append(out, models.OHLCVRow{Timestamp: gap})
				}
			}
			out = append(out, models.OHLCVRow{
				Timestamp: b,
				Open:      valid(tk.price),
				High:      valid(tk.price),
				Low:       valid(tk.price),
				Close:     valid(tk.price),
				Volume:    valid(tk.volume),
			})
			cur = &out[len(out)-1]
			continue
		}
		if tk.price.GreaterThan(cur.High.Decimal) {
			cur.High = valid(tk.price)
		}
		if tk.price.LessThan(cur.Low.Decimal) {
			cur.Low = valid(tk.price)
		}
		cur.Close = valid(tk.price)
		cur.Volume = valid(cur.Volume.Decimal.Add(tk.volume))
	}
	return out
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
