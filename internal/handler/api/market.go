package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	"OhlcvAPI/internal/usecase"
	"OhlcvAPI/pkg/cache"
	xhttp "OhlcvAPI/pkg/http"
	xlogger "OhlcvAPI/pkg/logger"
	"OhlcvAPI/pkg/util"

	"github.com/labstack/echo/v4"
)

// Pinger reports storage health.
type Pinger interface {
	Health(ctx context.Context) error
}

// ConnCounter reports open WebSocket connections.
type ConnCounter interface {
	Connections() int
}

// MarketHandler serves the candle, timeseries, trade, health and root endpoints.
type MarketHandler struct {
	candles  *usecase.CandlesUseCase
	trades   *usecase.TradesUseCase
	health   Pinger
	conns    ConnCounter
	cache    cache.Service
	cacheTTL time.Duration
	service  string
	basePath string
	logger   *xlogger.Logger
	now      func() time.Time
}

// MarketOption configures MarketHandler.
type MarketOption func(*MarketHandler)

// WithCache enables cache-aside for range queries.
func WithCache(c cache.Service, ttl time.Duration) MarketOption {
	return func(h *MarketHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

func WithLogger(l *xlogger.Logger) MarketOption {
	return func(h *MarketHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithClock(now func() time.Time) MarketOption {
	return func(h *MarketHandler) { h.now = now }
}

// WithServiceName sets the name reported by /health.
func WithServiceName(name string) MarketOption {
	return func(h *MarketHandler) { h.service = name }
}

// WithBasePath is the mount prefix, used for the URLs in the root descriptor.
func WithBasePath(prefix string) MarketOption {
	return func(h *MarketHandler) { h.basePath = strings.TrimRight(prefix, "/") }
}

func NewMarketHandler(candles *usecase.CandlesUseCase, trades *usecase.TradesUseCase, health Pinger, conns ConnCounter, opts ...MarketOption) *MarketHandler {
	h := &MarketHandler{
		candles: candles,
		trades:  trades,
		health:  health,
		conns:   conns,
		service: "ohlcv-api",
		logger:  xlogger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *MarketHandler) Register(r xhttp.Router) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/api/candles/:exchange/:base/:quote/:timeframe", h.RecentCandles)
	r.GET("/api/candles/:exchange/:base/:quote/:timeframe/range", h.RangeCandles)
	r.GET("/api/timeseries/:exchange/:symbol/ohlcv", h.Timeseries)
	r.GET("/api/trades/:exchange/*", h.Trades)
}

// RecentCandles godoc
// GET /api/candles/:exchange/:base/:quote/:timeframe?limit=100
func (h *MarketHandler) RecentCandles(c echo.Context) error {
	req := &models.RecentCandlesRequest{}
	if probs := xhttp.Bind(c, req); probs != nil {
		return xhttp.Invalid(c, probs)
	}
	symbol := req.Base + "/" + req.Quote

	res, err := h.candles.Recent(c.Request().Context(), usecase.RecentCandlesParams{
		Exchange:  req.Exchange,
		Symbol:    symbol,
		Timeframe: req.Timeframe,
		Limit:     req.Limit,
	})
	if err != nil {
		return h.fail(c, err, req.Exchange, symbol)
	}

	resp := h.candlesResponse(res)
	return xhttp.OK(c, resp)
}

// RangeCandles godoc
// GET /api/candles/:exchange/:base/:quote/:timeframe/range?start_time=&end_time=&limit=
func (h *MarketHandler) RangeCandles(c echo.Context) error {
	req := &models.RangeCandlesRequest{}
	if probs := xhttp.Bind(c, req); probs != nil {
		return xhttp.Invalid(c, probs)
	}
	symbol := req.Base + "/" + req.Quote
	params := usecase.RangeCandlesParams{
		Exchange:  req.Exchange,
		Symbol:    symbol,
		Timeframe: req.Timeframe,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Limit:     req.Limit,
	}

	resp, hit, err := cached(c.Request().Context(), h, rangeKey("candles", params), func(ctx context.Context) (models.CandlesResponse, error) {
		res, err := h.candles.Range(ctx, params)
		if err != nil {
			return models.CandlesResponse{}, err
		}
		resp := h.candlesResponse(res)
		resp.StartTime = util.FormatISO(res.Range.Start)
		resp.EndTime = util.FormatISO(res.Range.End)
		return resp, nil
	})
	if err != nil {
		return h.fail(c, err, req.Exchange, symbol)
	}
	resp.Timestamp = util.FormatISO(h.now())
	setCacheHeader(c, hit)
	return xhttp.OK(c, resp)
}

// Timeseries godoc
// GET /api/timeseries/:exchange/:symbol/ohlcv?timeframe=1m&start_time=&end_time=&limit=100
// The symbol arrives URL-encoded, e.g. BTC%2FUSDT.
func (h *MarketHandler) Timeseries(c echo.Context) error {
	req := &models.TimeseriesRequest{}
	if probs := xhttp.Bind(c, req); probs != nil {
		return xhttp.Invalid(c, probs)
	}
	symbol, err := url.PathUnescape(req.Symbol)
	if err != nil {
		return xhttp.Fail(c, xhttp.Unprocessable(xhttp.CodeSymbol, "symbol", "symbol is not valid URL encoding"))
	}
	params := usecase.RangeCandlesParams{
		Exchange:  req.Exchange,
		Symbol:    symbol,
		Timeframe: req.Timeframe,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Limit:     req.Limit,
	}

	resp, hit, err := cached(c.Request().Context(), h, rangeKey("timeseries", params), func(ctx context.Context) (models.TimeseriesResponse, error) {
		res, err := h.candles.Timeseries(ctx, params)
		if err != nil {
			return models.TimeseriesResponse{}, err
		}
		return models.TimeseriesResponse{
			BaseResponse: h.base(len(res.Candles)),
			OHLCV:        res.Candles,
			Count:        len(res.Candles),
			Exchange:     res.Exchange,
			Symbol:       res.Symbol,
			Timeframe:    res.Timeframe,
			Limit:        res.Limit,
			StartTime:    util.FormatISO(res.Range.Start),
			EndTime:      util.FormatISO(res.Range.End),
		}, nil
	})
	if err != nil {
		return h.fail(c, err, req.Exchange, symbol)
	}
	resp.Timestamp = util.FormatISO(h.now())
	setCacheHeader(c, hit)
	return xhttp.OK(c, resp)
}

// Trades godoc
// GET /api/trades/:exchange/BASE/QUOTE?limit=100
// GET /api/trades/:exchange/BASE/QUOTE/range?start_time=&end_time=&limit=1000
func (h *MarketHandler) Trades(c echo.Context) error {
	rest, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return xhttp.Fail(c, xhttp.Unprocessable(xhttp.CodeSymbol, "symbol", "symbol is not valid URL encoding"))
	}
	rest = strings.Trim(rest, "/")
	if symbol, ok := strings.CutSuffix(rest, "/range"); ok {
		return h.rangeTrades(c, symbol)
	}
	return h.recentTrades(c, rest)
}

func (h *MarketHandler) recentTrades(c echo.Context, symbol string) error {
	req := &models.RecentTradesRequest{}
	if probs := xhttp.Bind(c, req); probs != nil {
		return xhttp.Invalid(c, probs)
	}
	if symbol == "" {
		return xhttp.Fail(c, xhttp.Unprocessable(xhttp.CodeRequired, "symbol", "symbol is required"))
	}

	res, err := h.trades.Recent(c.Request().Context(), usecase.TradesParams{
		Exchange: req.Exchange,
		Symbol:   symbol,
		Limit:    req.Limit,
	})
	if err != nil {
		return h.fail(c, err, req.Exchange, symbol)
	}
	return xhttp.OK(c, h.tradesResponse(res))
}

func (h *MarketHandler) rangeTrades(c echo.Context, symbol string) error {
	req := &models.RangeTradesRequest{}
	if probs := xhttp.Bind(c, req); probs != nil {
		return xhttp.Invalid(c, probs)
	}
	if symbol == "" {
		return xhttp.Fail(c, xhttp.Unprocessable(xhttp.CodeRequired, "symbol", "symbol is required"))
	}
	params := usecase.TradesParams{
		Exchange:  req.Exchange,
		Symbol:    symbol,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Limit:     req.Limit,
	}

	key := rangeKey("trades", usecase.RangeCandlesParams{
		Exchange: params.Exchange, Symbol: params.Symbol,
		StartTime: params.StartTime, EndTime: params.EndTime, Limit: params.Limit,
	})
	resp, hit, err := cached(c.Request().Context(), h, key, func(ctx context.Context) (models.TradesResponse, error) {
		res, err := h.trades.Range(ctx, params)
		if err != nil {
			return models.TradesResponse{}, err
		}
		return h.tradesResponse(res), nil
	})
	if err != nil {
		return h.fail(c, err, req.Exchange, symbol)
	}
	resp.Timestamp = util.FormatISO(h.now())
	setCacheHeader(c, hit)
	return xhttp.OK(c, resp)
}

// Health reports 503 when storage does not answer a ping.
func (h *MarketHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := models.HealthResponse{Status: "healthy", Service: h.service, Storage: "ok"}
	if h.conns != nil {
		resp.Connections = h.conns.Connections()
	}
	code := http.StatusOK
	if h.health != nil {
		if err := h.health.Health(ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.Error(err))
			resp.Status = "degraded"
			resp.Storage = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, resp)
}

func (h *MarketHandler) Root(c echo.Context) error {
	return xhttp.OK(c, models.ServiceInfo{
		Message:      "OHLCV API",
		Description:  "Read-only trades and OHLCV candles over HTTP, live candle updates over WebSocket",
		HealthURL:    h.basePath + "/health",
		WebSocketURL: h.basePath + "/ws/ohlcv",
		Timeframes:   market.SupportedTimeframes(),
	})
}

func (h *MarketHandler) fail(c echo.Context, err error, exchange, symbol string) error {
	switch {
	case errors.Is(err, market.ErrInvalidTimeframe):
		return xhttp.Fail(c, xhttp.Unprocessable(xhttp.CodeTimeframe, "timeframe", err.Error()))
	case errors.Is(err, market.ErrInvalidTimeRange):
		return xhttp.Fail(c, xhttp.Unprocessable(xhttp.CodeTimeRange, "", err.Error()))
	case errors.Is(err, domrepo.ErrSeriesNotFound):
		return xhttp.Fail(c, xhttp.NotFoundf("Exchange '%s' or symbol '%s' not found", exchange, symbol))
	default:
		h.logger.Error("market data request failed",
			xlogger.String("path", c.Path()),
			xlogger.String("exchange", exchange),
			xlogger.String("symbol", symbol),
			xlogger.Error(err),
		)
		return xhttp.Fail(c, xhttp.Internal(err))
	}
}

func (h *MarketHandler) base(count int) models.BaseResponse {
	return models.BaseResponse{
		Success:   true,
		Message:   fmt.Sprintf("Retrieved %d records", count),
		Timestamp: util.FormatISO(h.now()),
	}
}

func (h *MarketHandler) candlesResponse(res *usecase.CandlesResult) models.CandlesResponse {
	return models.CandlesResponse{
		BaseResponse: h.base(len(res.Candles)),
		Candles:      res.Candles,
		Count:        len(res.Candles),
		Exchange:     res.Exchange,
		Symbol:       res.Symbol,
		Timeframe:    res.Timeframe,
		Limit:        res.Limit,
	}
}

func (h *MarketHandler) tradesResponse(res *usecase.TradesResult) models.TradesResponse {
	resp := models.TradesResponse{
		BaseResponse: h.base(len(res.Trades)),
		Trades:       res.Trades,
		Count:        len(res.Trades),
		Exchange:     res.Exchange,
		Symbol:       res.Symbol,
		Limit:        res.Limit,
	}
	if res.Range != nil {
		resp.StartTime = util.FormatISO(res.Range.Start)
		resp.EndTime = util.FormatISO(res.Range.End)
	}
	return resp
}

// rangeKey is built from normalized parameters; "" disables caching when the range does not parse.
func rangeKey(kind string, p usecase.RangeCandlesParams) string {
	tr, err := market.ParseRange(p.StartTime, p.EndTime)
	if err != nil {
		return ""
	}
	return cache.Key(kind,
		market.NormalizeExchange(p.Exchange), strings.TrimSpace(p.Symbol), p.Timeframe,
		tr.Start.UnixNano(), tr.End.UnixNano(), p.Limit)
}

func cached[T any](ctx context.Context, h *MarketHandler, key string, load func(context.Context) (T, error)) (T, bool, error) {
	if h.cache == nil || key == "" {
		v, err := load(ctx)
		return v, false, err
	}
	return cache.GetOrLoad(ctx, h.cache, key, h.cacheTTL, load)
}

func setCacheHeader(c echo.Context, hit bool) {
	if hit {
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
}
