package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	applogger "OhlcvAPI/pkg/logger"
	pkgpg "OhlcvAPI/pkg/postgres"
)

// TimescaleStore reads trades hypertables laid out as <exchange>.<base>_<quote>_trades.
type TimescaleStore struct {
	db  *sql.DB
	log queryLog
}

func NewTimescaleStore(pg *pkgpg.Client, l *applogger.Logger, m domrepo.Metrics) *TimescaleStore {
	return &TimescaleStore{db: pg.DB(), log: queryLog{backend: "timescale", l: l, m: m}}
}

func (s *TimescaleStore) relation(ref domrepo.SeriesRef) (string, error) {
	table, err := ref.Table()
	if err != nil {
		return "", err
	}
	return pq.QuoteIdentifier(ref.Schema()) + "." + pq.QuoteIdentifier(table), nil
}

// FetchOHLCV buckets trades with time_bucket_gapfill, so empty buckets come back with NULL prices.
func (s *TimescaleStore) FetchOHLCV(ctx context.Context, ref domrepo.SeriesRef, w market.Window, from, to time.Time) (out []models.OHLCVRow, err error) {
	start := time.Now()
	defer func() { s.log.done("fetch_ohlcv", ref, start, len(out), err) }()

	rel, err := s.relation(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT time_bucket_gapfill($1::interval, "timestamp") AS bucket,
               first(price, "timestamp"), max(price), min(price), last(price, "timestamp"), sum(volume)
        FROM %s
        WHERE "timestamp" >= $2 AND "timestamp" < $3
        GROUP BY bucket
        ORDER BY bucket ASC
    `, rel)
	rows, err := s.db.QueryContext(ctx, q, w.String(), from.UTC(), to.UTC())
	if err != nil {
		return nil, s.classify(ref, "fetch ohlcv", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.OHLCVRow
		if err := rows.Scan(&r.Timestamp, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume); err != nil {
			return nil, storageErr("scan ohlcv", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("rows", err)
	}
	return out, nil
}

func (s *TimescaleStore) RecentTrades(ctx context.Context, ref domrepo.SeriesRef, limit int) (out []models.TradeRow, err error) {
	start := time.Now()
	defer func() { s.log.done("recent_trades", ref, start, len(out), err) }()

	rel, err := s.relation(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT "timestamp", price, volume, COALESCE(side, ''), COALESCE(type, '')
        FROM %s
        ORDER BY "timestamp" DESC
        LIMIT $1
    `, rel)
	return s.queryTrades(ctx, ref, q, limit)
}

// TradesInRange returns the most recent limit trades in [from, to], oldest first.
func (s *TimescaleStore) TradesInRange(ctx context.Context, ref domrepo.SeriesRef, from, to time.Time, limit int) (out []models.TradeRow, err error) {
	start := time.Now()
	defer func() { s.log.done("trades_range", ref, start, len(out), err) }()

	rel, err := s.relation(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT "timestamp", price, volume, COALESCE(side, ''), COALESCE(type, '')
        FROM %s
        WHERE "timestamp" >= $2 AND "timestamp" <= $3
        ORDER BY "timestamp" DESC
        LIMIT $1
    `, rel)
	return s.queryTrades(ctx, ref, q, limit, from.UTC(), to.UTC())
}

func (s *TimescaleStore) queryTrades(ctx context.Context, ref domrepo.SeriesRef, q string, args ...any) ([]models.TradeRow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, s.classify(ref, "query trades", err)
	}
	defer rows.Close()

	var out []models.TradeRow
	for rows.Next() {
		var t models.TradeRow
		if err := rows.Scan(&t.Timestamp, &t.Price, &t.Volume, &t.Side, &t.Type); err != nil {
			return nil, storageErr("scan trade", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("rows", err)
	}
	reverseTrades(out)
	return out, nil
}

func (s *TimescaleStore) classify(ref domrepo.SeriesRef, op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01", "3F000": // undefined_table, invalid_schema_name
			return notFound(ref, err)
		}
	}
	return storageErr(op, err)
}

func (s *TimescaleStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *TimescaleStore) Close() error {
	return nil // Managed by pkg
}
