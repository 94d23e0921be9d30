// Package mocks holds testify mocks for the storage interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
)

type Store struct {
	mock.Mock
}

var _ domrepo.Store = (*Store)(nil)

func (m *Store) FetchOHLCV(ctx context.Context, ref domrepo.SeriesRef, w market.Window, from, to time.Time) ([]models.OHLCVRow, error) {
	args := m.Called(ctx, ref, w, from, to)
	rows, _ := args.Get(0).([]models.OHLCVRow)
	return rows, args.Error(1)
}

func (m *Store) RecentTrades(ctx context.Context, ref domrepo.SeriesRef, limit int) ([]models.TradeRow, error) {
	args := m.Called(ctx, ref, limit)
	rows, _ := args.Get(0).([]models.TradeRow)
	return rows, args.Error(1)
}

func (m *Store) TradesInRange(ctx context.Context, ref domrepo.SeriesRef, from, to time.Time, limit int) ([]models.TradeRow, error) {
	args := m.Called(ctx, ref, from, to, limit)
	rows, _ := args.Get(0).([]models.TradeRow)
	return rows, args.Error(1)
}

func (m *Store) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *Store) Close() error {
	return nil
}
