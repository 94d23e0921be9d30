package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	pkgch "OhlcvAPI/pkg/clickhouse"
	applogger "OhlcvAPI/pkg/logger"
)

// ClickHouseStore reads the same <exchange>.<base>_<quote>_trades layout from ClickHouse.
// ClickHouse has no gap-fill; buckets without trades are simply absent.
type ClickHouseStore struct {
	db  *sql.DB
	log queryLog
}

func NewClickHouseStore(ch *pkgch.Client, l *applogger.Logger, m domrepo.Metrics) *ClickHouseStore {
	return &ClickHouseStore{db: ch.DB(), log: queryLog{backend: "clickhouse", l: l, m: m}}
}

func chIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "\\`") + "`"
}

func (s *ClickHouseStore) relation(ref domrepo.SeriesRef) (string, error) {
	table, err := ref.Table()
	if err != nil {
		return "", err
	}
	return chIdent(ref.Schema()) + "." + chIdent(table), nil
}

// chInterval renders a window as a ClickHouse INTERVAL literal, e.g. INTERVAL 15 minute.
func chInterval(w market.Window) (string, error) {
	unit := map[market.Period]string{
		market.PeriodMinute: "minute",
		market.PeriodHour:   "hour",
		market.PeriodDay:    "day",
		market.PeriodWeek:   "week",
		market.PeriodMonth:  "month",
	}[w.Period]
	if unit == "" || w.Compression <= 0 {
		return "", fmt.Errorf("%w: %s", market.ErrInvalidTimeframe, w)
	}
	return fmt.Sprintf("INTERVAL %d %s", w.Compression, unit), nil
}

func (s *ClickHouseStore) FetchOHLCV(ctx context.Context, ref domrepo.SeriesRef, w market.Window, from, to time.Time) (out []models.OHLCVRow, err error) {
	start := time.Now()
	defer func() { s.log.done("fetch_ohlcv", ref, start, len(out), err) }()

	rel, err := s.relation(ref)
	if err != nil {
		return nil, err
	}
	interval, err := chInterval(w)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT toStartOfInterval(timestamp, %s) AS bucket,
               argMin(price, timestamp), max(price), min(price), argMax(price, timestamp), sum(volume)
        FROM %s
        WHERE timestamp >= ? AND timestamp < ?
        GROUP BY bucket
        ORDER BY bucket ASC
    `, interval, rel)
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC())
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

func (s *ClickHouseStore) RecentTrades(ctx context.Context, ref domrepo.SeriesRef, limit int) (out []models.TradeRow, err error) {
	start := time.Now()
	defer func() { s.log.done("recent_trades", ref, start, len(out), err) }()

	rel, err := s.relation(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT timestamp, price, volume, ifNull(side, ''), ifNull(type, '') FROM %s ORDER BY timestamp DESC LIMIT ?", rel)
	return s.queryTrades(ctx, ref, q, limit)
}

func (s *ClickHouseStore) TradesInRange(ctx context.Context, ref domrepo.SeriesRef, from, to time.Time, limit int) (out []models.TradeRow, err error) {
	start := time.Now()
	defer func() { s.log.done("trades_range", ref, start, len(out), err) }()

	rel, err := s.relation(ref)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT timestamp, price, volume, ifNull(side, ''), ifNull(type, '') FROM %s WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC LIMIT ?", rel)
	return s.queryTrades(ctx, ref, q, from.UTC(), to.UTC(), limit)
}

func (s *ClickHouseStore) queryTrades(ctx context.Context, ref domrepo.SeriesRef, q string, args ...any) ([]models.TradeRow, error) {
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

func (s *ClickHouseStore) classify(ref domrepo.SeriesRef, op string, err error) error {
	var exc *clickhouse.Exception
	if errors.As(err, &exc) {
		switch exc.Code {
		case 60, 81: // UNKNOWN_TABLE, UNKNOWN_DATABASE
			return notFound(ref, err)
		}
	}
	return storageErr(op, err)
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStore) Close() error {
	return nil // Managed by pkg
}
