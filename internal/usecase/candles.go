package usecase

import (
	"context"
	"fmt"
	"time"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	applogger "OhlcvAPI/pkg/logger"
)

// CandlesUseCase serves recent, range and timeseries OHLCV queries.
//
// Every query runs the same steps in order: translate the timeframe, build the
// time range, fetch, present (NULL -> 0, ISO timestamps), tail-trim to limit.
// Validation failures return before the store is touched.
type CandlesUseCase struct {
	store  domrepo.SeriesReader
	window market.WindowPolicy
	opts   options
}

func NewCandlesUseCase(store domrepo.SeriesReader, window market.WindowPolicy, opts ...Option) *CandlesUseCase {
	return &CandlesUseCase{store: store, window: window, opts: buildOptions(opts)}
}

type RecentCandlesParams struct {
	Exchange  string
	Symbol    string
	Timeframe string
	Limit     int
}

type RangeCandlesParams struct {
	Exchange  string
	Symbol    string
	Timeframe string
	StartTime string
	EndTime   string
	Limit     int // 0 means no trim
}

type CandlesResult struct {
	Exchange  string
	Symbol    string
	Timeframe string
	Range     market.TimeRange
	Limit     int
	Candles   []models.Candle
}

// Recent returns up to Limit candles ending now.
func (uc *CandlesUseCase) Recent(ctx context.Context, p RecentCandlesParams) (*CandlesResult, error) {
	w, err := market.Translate(p.Timeframe)
	if err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", market.ErrInvalidTimeRange)
	}

	tr, fellBack := uc.window.Recent(uc.opts.now(), w, p.Limit)
	if fellBack {
		uc.opts.log.Warn("recent window fell back to default",
			applogger.String("timeframe", p.Timeframe),
			applogger.String("window", w.String()),
			applogger.Duration("fallback", tr.Duration()),
		)
	}
	return uc.fetch(ctx, p.Exchange, p.Symbol, p.Timeframe, w, tr, p.Limit)
}

// Range returns candles in [start, end), trimmed to the most recent Limit when set.
func (uc *CandlesUseCase) Range(ctx context.Context, p RangeCandlesParams) (*CandlesResult, error) {
	w, err := market.Translate(p.Timeframe)
	if err != nil {
		return nil, err
	}
	tr, err := market.ParseRange(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}
	return uc.fetch(ctx, p.Exchange, p.Symbol, p.Timeframe, w, tr, p.Limit)
}

// Timeseries is Range with a symbol in exchange-native form, as used by the timeseries endpoint.
func (uc *CandlesUseCase) Timeseries(ctx context.Context, p RangeCandlesParams) (*CandlesResult, error) {
	return uc.Range(ctx, p)
}

func (uc *CandlesUseCase) fetch(ctx context.Context, exchange, symbol, timeframe string, w market.Window, tr market.TimeRange, limit int) (*CandlesResult, error) {
	ref := domrepo.NewSeriesRef(exchange, symbol)
	start := time.Now()
	rows, err := uc.store.FetchOHLCV(ctx, ref, w, tr.Start, tr.End)
	if uc.opts.metrics != nil {
		uc.opts.metrics.RecordLatency("fetch_ohlcv", time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s %s: %w", ref, timeframe, err)
	}

	if nulls := nullCount(rows); nulls > 0 {
		uc.opts.log.Debug("gap-filled candles presented as zero",
			applogger.String("exchange", ref.Exchange),
			applogger.String("symbol", ref.Symbol),
			applogger.Int("nulls", nulls),
		)
	}

	candles := tailTrim(presentCandles(rows), limit)
	uc.opts.log.Info("candles served",
		applogger.String("exchange", ref.Exchange),
		applogger.String("symbol", ref.Symbol),
		applogger.String("timeframe", timeframe),
		applogger.Int("fetched", len(rows)),
		applogger.Int("count", len(candles)),
	)

	return &CandlesResult{
		Exchange:  ref.Exchange,
		Symbol:    ref.Symbol,
		Timeframe: timeframe,
		Range:     tr,
		Limit:     limit,
		Candles:   candles,
	}, nil
}
