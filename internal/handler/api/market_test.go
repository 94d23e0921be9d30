package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	"OhlcvAPI/internal/domain/repository/mocks"
	"OhlcvAPI/internal/usecase"
	"OhlcvAPI/pkg/cache"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type staticConns int

func (s staticConns) Connections() int { return int(s) }

func dec(v float64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v), Valid: true}
}

func candleRows() []models.OHLCVRow {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.OHLCVRow{
		{Timestamp: ts, Open: dec(1), High: dec(2), Low: dec(0.5), Close: dec(1.5), Volume: dec(10)},
		{Timestamp: ts.Add(time.Hour)},
	}
}

func newTestServer(store *mocks.Store, opts ...MarketOption) *echo.Echo {
	clock := func() time.Time { return fixedNow }
	candles := usecase.NewCandlesUseCase(store, market.WindowPolicy{}, usecase.WithClock(clock))
	trades := usecase.NewTradesUseCase(store)
	h := NewMarketHandler(candles, trades, store, staticConns(2), append([]MarketOption{WithClock(clock)}, opts...)...)

	e := echo.New()
	h.Register(e)
	return e
}

func get(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRecentCandles(t *testing.T) {
	store := &mocks.Store{}
	ref := domrepo.NewSeriesRef("binance", "BTC/USDT")
	store.On("FetchOHLCV", mock.Anything, ref, market.Window{Compression: 1, Period: market.PeriodHour}, mock.Anything, mock.Anything).
		Return(candleRows(), nil).Once()

	rec := get(newTestServer(store), "/api/candles/Binance/BTC/USDT/1h?limit=24")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "binance", body["exchange"])
	assert.Equal(t, "BTC/USDT", body["symbol"])
	assert.Equal(t, "1h", body["timeframe"])
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 24, body["limit"])
	assert.Equal(t, "2024-06-01T12:00:00+00:00", body["timestamp"])
	assert.NotContains(t, body, "start_time")

	candles := body["candles"].([]interface{})
	require.Len(t, candles, 2)
	first := candles[0].(map[string]interface{})
	assert.Equal(t, "2024-01-01T00:00:00+00:00", first["timestamp"])
	assert.EqualValues(t, 10, first["vol"])
	gap := candles[1].(map[string]interface{})
	assert.EqualValues(t, 0, gap["close"])
	store.AssertExpectations(t)
}

func TestRecentCandlesDefaultLimit(t *testing.T) {
	store := &mocks.Store{}
	store.On("FetchOHLCV", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]models.OHLCVRow{}, nil).Once()

	rec := get(newTestServer(store), "/api/candles/binance/BTC/USDT/1m")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 100, decode(t, rec)["limit"])
}

func TestRecentCandlesClientErrorsSkipStorage(t *testing.T) {
	cases := map[string]string{
		"unknown timeframe":  "/api/candles/binance/BTC/USDT/7m",
		"case sensitive":     "/api/candles/binance/BTC/USDT/1H",
		"limit above max":    "/api/candles/binance/BTC/USDT/1m?limit=5001",
		"limit not a number": "/api/candles/binance/BTC/USDT/1m?limit=abc",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			store := &mocks.Store{}
			rec := get(newTestServer(store), target)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Empty(t, store.Calls)
		})
	}
}

func TestInvalidTimeframeMessage(t *testing.T) {
	rec := get(newTestServer(&mocks.Store{}), "/api/candles/binance/BTC/USDT/7m")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body["message"], "unsupported timeframe")
	data := body["data"].([]interface{})
	assert.Equal(t, "ERR_TIMEFRAME", data[0].(map[string]interface{})["code"])
}

func TestCandlesNotFound(t *testing.T) {
	store := &mocks.Store{}
	store.On("FetchOHLCV", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("query: %w", domrepo.ErrSeriesNotFound))

	rec := get(newTestServer(store), "/api/candles/binance/FOO/BAR/1m")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Exchange 'binance' or symbol 'FOO/BAR' not found", decode(t, rec)["message"])
}

func TestCandlesStorageFailureIs500(t *testing.T) {
	store := &mocks.Store{}
	store.On("FetchOHLCV", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: connection refused", domrepo.ErrStorage))

	rec := get(newTestServer(store), "/api/candles/binance/BTC/USDT/1m")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRangeCandles(t *testing.T) {
	store := &mocks.Store{}
	store.On("FetchOHLCV", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(candleRows(), nil).Once()

	rec := get(newTestServer(store), "/api/candles/binance/BTC/USDT/1h/range?start_time=2024-01-01T00:00:00Z&end_time=2024-01-02T00:00:00Z&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "2024-01-01T00:00:00+00:00", body["start_time"])
	assert.Equal(t, "2024-01-02T00:00:00+00:00", body["end_time"])
	candles := body["candles"].([]interface{})
	assert.Equal(t, "2024-01-01T01:00:00+00:00", candles[0].(map[string]interface{})["timestamp"], "tail-trim keeps the newest")
}

func TestRangeCandlesRejectsNaiveAndInverted(t *testing.T) {
	for _, q := range []string{
		"start_time=2024-01-01T00:00:00&end_time=2024-01-02T00:00:00Z",
		"start_time=2024-01-02T00:00:00Z&end_time=2024-01-01T00:00:00Z",
		"start_time=2024-01-01T00:00:00Z",
	} {
		store := &mocks.Store{}
		rec := get(newTestServer(store), "/api/candles/binance/BTC/USDT/1h/range?"+q)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
		assert.Empty(t, store.Calls, q)
	}
}

func TestRangeCandlesCacheAside(t *testing.T) {
	store := &mocks.Store{}
	store.On("FetchOHLCV", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(candleRows(), nil).Once()

	mc := cache.NewMemoryCache()
	defer mc.Close()
	e := newTestServer(store, WithCache(mc, time.Minute))

	target := "/api/candles/binance/BTC/USDT/1h/range?start_time=2024-01-01T00:00:00Z&end_time=2024-01-02T00:00:00Z"
	first := get(e, target)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	// Same instants spelled differently share the cache entry.
	second := get(e, "/api/candles/BINANCE/BTC/USDT/1h/range?start_time=1704067200&end_time=2024-01-02T00:00:00Z")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, decode(t, first)["candles"], decode(t, second)["candles"])

	store.AssertNumberOfCalls(t, "FetchOHLCV", 1)
}

func TestTimeseriesDecodesSymbol(t *testing.T) {
	store := &mocks.Store{}
	ref := domrepo.NewSeriesRef("binance", "BTC/USDT")
	store.On("FetchOHLCV", mock.Anything, ref, market.Window{Compression: 1, Period: market.PeriodMinute}, mock.Anything, mock.Anything).
		Return(candleRows(), nil).Once()

	rec := get(newTestServer(store), "/api/timeseries/binance/BTC%2FUSDT/ohlcv?start_time=2024-01-01T00:00:00Z&end_time=2024-01-01T02:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "BTC/USDT", body["symbol"])
	assert.Equal(t, "1m", body["timeframe"])
	assert.EqualValues(t, 100, body["limit"])
	assert.Len(t, body["ohlcv"], 2)
	assert.NotContains(t, body, "candles")
	store.AssertExpectations(t)
}

func TestTimeseriesLimitBounds(t *testing.T) {
	store := &mocks.Store{}
	rec := get(newTestServer(store), "/api/timeseries/binance/BTC%2FUSDT/ohlcv?start_time=2024-01-01T00:00:00Z&end_time=2024-01-01T02:00:00Z&limit=10001")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, store.Calls)
}

func tradeRows() []models.TradeRow {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.TradeRow{
		{Timestamp: ts, Price: dec(100), Volume: dec(0.5), Side: "buy", Type: "limit"},
		{Timestamp: ts.Add(time.Second), Price: dec(101), Volume: dec(0.25), Side: "sell", Type: "market"},
	}
}

func TestRecentTrades(t *testing.T) {
	store := &mocks.Store{}
	store.On("RecentTrades", mock.Anything, domrepo.NewSeriesRef("binance", "BTC/USDT"), 100).
		Return(tradeRows(), nil).Once()

	rec := get(newTestServer(store), "/api/trades/binance/BTC/USDT")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 2, body["count"])
	trades := body["trades"].([]interface{})
	last := trades[1].(map[string]interface{})
	assert.Equal(t, "sell", last["side"])
	assert.EqualValues(t, 101, last["price"])
	store.AssertExpectations(t)
}

func TestRangeTrades(t *testing.T) {
	store := &mocks.Store{}
	store.On("TradesInRange", mock.Anything, domrepo.NewSeriesRef("binance", "ETH/USDT"), mock.Anything, mock.Anything, 1000).
		Return(tradeRows(), nil).Once()

	rec := get(newTestServer(store), "/api/trades/binance/ETH/USDT/range?start_time=2024-01-01T00:00:00Z&end_time=2024-01-02T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ETH/USDT", body["symbol"])
	assert.Equal(t, "2024-01-01T00:00:00+00:00", body["start_time"])
	store.AssertExpectations(t)
}

func TestTradesErrors(t *testing.T) {
	store := &mocks.Store{}
	store.On("RecentTrades", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domrepo.ErrSeriesNotFound)
	e := newTestServer(store)

	assert.Equal(t, http.StatusNotFound, get(e, "/api/trades/nowhere/BTC/USDT").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(e, "/api/trades/binance/BTC/USDT?limit=6000").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, get(e, "/api/trades/binance/BTC/USDT/range?start_time=x&end_time=y").Code)
}

func TestHealth(t *testing.T) {
	store := &mocks.Store{}
	store.On("Health", mock.Anything).Return(nil).Once()
	store.On("Health", mock.Anything).Return(errors.New("down")).Once()
	e := newTestServer(store, WithServiceName("ohlcv-test"))

	rec := get(e, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ohlcv-test", body["service"])
	assert.EqualValues(t, 2, body["connections"])

	rec = get(e, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestRoot(t *testing.T) {
	store := &mocks.Store{}
	clock := func() time.Time { return fixedNow }
	h := NewMarketHandler(
		usecase.NewCandlesUseCase(store, market.WindowPolicy{}),
		usecase.NewTradesUseCase(store),
		store, nil, WithClock(clock), WithBasePath("/market/"),
	)
	e := echo.New()
	h.Register(e.Group("/market"))

	rec := get(e, "/market/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "/market/health", body["health_url"])
	assert.Equal(t, "/market/ws/ohlcv", body["websocket_url"])
	assert.Len(t, body["timeframes"], len(market.SupportedTimeframes()))
}

func TestRangeKeyDisabledForBadRange(t *testing.T) {
	assert.Empty(t, rangeKey("candles", usecase.RangeCandlesParams{StartTime: "nope", EndTime: "2024-01-01T00:00:00Z"}))
	assert.NotEmpty(t, rangeKey("candles", usecase.RangeCandlesParams{
		Exchange: "x", Symbol: "A/B", StartTime: "2024-01-01T00:00:00Z", EndTime: "2024-01-02T00:00:00Z",
	}))
}
