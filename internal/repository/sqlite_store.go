package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	applogger "OhlcvAPI/pkg/logger"
)

// SQLiteStore is a single-file backend for development and tests.
// SQLite has no schemas, so tables are named <exchange>_<base>_<quote>_trades
// with timestamp stored as unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	log queryLog
}

// NewSQLiteStore opens path (":memory:" is allowed) read-only from the API's point of view.
func NewSQLiteStore(path string, l *applogger.Logger, m domrepo.Metrics) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single connection keeps ":memory:" databases consistent across queries.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return &SQLiteStore{db: db, log: queryLog{backend: "sqlite", l: l, m: m}}, nil
}

func sqliteTable(ref domrepo.SeriesRef) (string, error) {
	table, err := ref.Table()
	if err != nil {
		return "", err
	}
	name := ref.Schema() + "_" + table
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

func (s *SQLiteStore) FetchOHLCV(ctx context.Context, ref domrepo.SeriesRef, w market.Window, from, to time.Time) (out []models.OHLCVRow, err error) {
	start := time.Now()
	defer func() { s.log.done("fetch_ohlcv", ref, start, len(out), err) }()

	table, err := sqliteTable(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT timestamp, price, volume FROM %s WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC`, table)
	rows, err := s.db.QueryContext(ctx, q, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, s.classify(ref, "fetch ohlcv", err)
	}
	defer rows.Close()

	var ticks []tick
	for rows.Next() {
		var ms int64
		var price, volume sql.NullFloat64
		if err := rows.Scan(&ms, &price, &volume); err != nil {
			return nil, storageErr("scan tick", err)
		}
		// A tick without a price cannot move OHLC; a missing volume counts as 0.
		if !price.Valid {
			continue
		}
		ticks = append(ticks, tick{
			ts:     time.UnixMilli(ms).UTC(),
			price:  decimal.NewFromFloat(price.Float64),
			volume: decimal.NewFromFloat(volume.Float64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("rows", err)
	}
	return aggregate(ticks, w), nil
}

func (s *SQLiteStore) RecentTrades(ctx context.Context, ref domrepo.SeriesRef, limit int) (out []models.TradeRow, err error) {
	start := time.Now()
	defer func() { s.log.done("recent_trades", ref, start, len(out), err) }()

	table, err := sqliteTable(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT timestamp, price, volume, COALESCE(side, ''), COALESCE(type, '') FROM %s ORDER BY timestamp DESC LIMIT ?`, table)
	return s.queryTrades(ctx, ref, q, limit)
}

func (s *SQLiteStore) TradesInRange(ctx context.Context, ref domrepo.SeriesRef, from, to time.Time, limit int) (out []models.TradeRow, err error) {
	start := time.Now()
	defer func() { s.log.done("trades_range", ref, start, len(out), err) }()

	table, err := sqliteTable(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT timestamp, price, volume, COALESCE(side, ''), COALESCE(type, '') FROM %s WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC LIMIT ?`, table)
	return s.queryTrades(ctx, ref, q, from.UnixMilli(), to.UnixMilli(), limit)
}

func (s *SQLiteStore) queryTrades(ctx context.Context, ref domrepo.SeriesRef, q string, args ...any) ([]models.TradeRow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.classify(ref, "query trades", err)
	}
	defer rows.Close()

	var out []models.TradeRow
	for rows.Next() {
		var ms int64
		var price, volume sql.NullFloat64
		var t models.TradeRow
		if err := rows.Scan(&ms, &price, &volume, &t.Side, &t.Type); err != nil {
			return nil, storageErr("scan trade", err)
		}
		t.Timestamp = time.UnixMilli(ms).UTC()
		t.Price = nullDecimal(price)
		t.Volume = nullDecimal(volume)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("rows", err)
	}
	reverseTrades(out)
	return out, nil
}

func nullDecimal(f sql.NullFloat64) decimal.NullDecimal {
	if !f.Valid {
		return decimal.NullDecimal{}
	}
	return valid(decimal.NewFromFloat(f.Float64))
}

func (s *SQLiteStore) classify(ref domrepo.SeriesRef, op string, err error) error {
	if strings.Contains(err.Error(), "no such table") {
		return notFound(ref, err)
	}
	return storageErr(op, err)
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
