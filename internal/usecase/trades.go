package usecase

import (
	"context"
	"fmt"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	applogger "OhlcvAPI/pkg/logger"
)

// TradesUseCase serves raw trade queries.
type TradesUseCase struct {
	store domrepo.TradeReader
	opts  options
}

func NewTradesUseCase(store domrepo.TradeReader, opts ...Option) *TradesUseCase {
	return &TradesUseCase{store: store, opts: buildOptions(opts)}
}

type TradesParams struct {
	Exchange  string
	Symbol    string
	StartTime string
	EndTime   string
	Limit     int
}

type TradesResult struct {
	Exchange string
	Symbol   string
	Range    *market.TimeRange
	Limit    int
	Trades   []models.Trade
}

func (uc *TradesUseCase) Recent(ctx context.Context, p TradesParams) (*TradesResult, error) {
	ref := domrepo.NewSeriesRef(p.Exchange, p.Symbol)
	rows, err := uc.store.RecentTrades(ctx, ref, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades %s: %w", ref, err)
	}
	return uc.result(ref, nil, p.Limit, rows), nil
}

func (uc *TradesUseCase) Range(ctx context.Context, p TradesParams) (*TradesResult, error) {
	tr, err := market.ParseRange(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}
	ref := domrepo.NewSeriesRef(p.Exchange, p.Symbol)
	rows, err := uc.store.TradesInRange(ctx, ref, tr.Start, tr.End, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("trades range %s: %w", ref, err)
	}
	return uc.result(ref, &tr, p.Limit, rows), nil
}

func (uc *TradesUseCase) result(ref domrepo.SeriesRef, tr *market.TimeRange, limit int, rows []models.TradeRow) *TradesResult {
	trades := tailTrim(presentTrades(rows), limit)
	uc.opts.log.Info("trades served",
		applogger.String("exchange", ref.Exchange),
		applogger.String("symbol", ref.Symbol),
		applogger.Int("count", len(trades)),
	)
	return &TradesResult{Exchange: ref.Exchange, Symbol: ref.Symbol, Range: tr, Limit: limit, Trades: trades}
}
