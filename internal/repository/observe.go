package repository

import (
	"fmt"
	"time"

	domrepo "OhlcvAPI/internal/domain/repository"
	applogger "OhlcvAPI/pkg/logger"
)

// queryLog logs and times one storage query. Logger and metrics are optional.
type queryLog struct {
	backend string
	l       *applogger.Logger
	m       domrepo.Metrics
}

func (q queryLog) done(op string, ref domrepo.SeriesRef, start time.Time, rows int, err error) {
	took := time.Since(start)
	if q.m != nil {
		q.m.RecordLatency(q.backend+"_"+op, took.Seconds())
		if err != nil {
			q.m.RecordError(q.backend + "_" + op)
		}
	}
	if q.l == nil {
		return
	}
	fields := []applogger.Field{
		applogger.String("backend", q.backend),
		applogger.String("exchange", ref.Exchange),
		applogger.String("symbol", ref.Symbol),
		applogger.Duration("duration_ms", took),
	}
	if err != nil {
		q.l.Error(q.backend+" "+op+" error", append(fields, applogger.Error(err))...)
		return
	}
	q.l.Debug(q.backend+" "+op+" ok", append(fields, applogger.Int("rows", rows))...)
}

// storageErr wraps a backend failure so handlers can tell it apart from a missing series.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domrepo.ErrStorage, err)
}

func notFound(ref domrepo.SeriesRef, err error) error {
	return fmt.Errorf("%w: %s: %v", domrepo.ErrSeriesNotFound, ref, err)
}

// reverseTrades flips a DESC result into chronological order.
func reverseTrades[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
