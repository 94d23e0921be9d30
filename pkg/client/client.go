// Package client is a Go SDK for the OHLCV API: REST queries and the live WebSocket stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"OhlcvAPI/internal/domain/market"
	xhttp "OhlcvAPI/pkg/http"
	"OhlcvAPI/pkg/util"

	"github.com/gorilla/websocket"
)

// Client talks to one API deployment. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *xhttp.Client
	dialer *websocket.Dialer

	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

// WithTimeout bounds each REST call. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDialer replaces the WebSocket dialer used by Stream.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New creates a client for baseURL, e.g. "http://localhost:9000" or "https://host/market" when
// the API is mounted under a prefix.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:    u,
		dialer:  websocket.DefaultDialer,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	httpOpts := []xhttp.ClientOption{xhttp.WithTimeout(c.timeout)}
	if c.httpClient != nil {
		httpOpts = append(httpOpts, xhttp.WithHTTPClient(c.httpClient))
	}
	c.http = xhttp.NewClient(httpOpts...)
	return c, nil
}

// GetCandles returns the most recent limit candles; limit 0 uses the server default.
func (c *Client) GetCandles(ctx context.Context, exchange, symbol, timeframe string, limit int) (*CandlesResponse, error) {
	path, err := c.candlesPath(exchange, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	var out CandlesResponse
	if err := c.get(ctx, path, limitQuery(nil, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCandlesRange returns candles in [start, end].
func (c *Client) GetCandlesRange(ctx context.Context, exchange, symbol, timeframe string, start, end time.Time, limit int) (*CandlesResponse, error) {
	path, err := c.candlesPath(exchange, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	var out CandlesResponse
	if err := c.get(ctx, path+"/range", limitQuery(rangeQuery(start, end), limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTimeseries returns OHLCV rows for symbol (e.g. "BTC/USDT") in [start, end].
func (c *Client) GetTimeseries(ctx context.Context, exchange, symbol, timeframe string, start, end time.Time, limit int) (*TimeseriesResponse, error) {
	if !market.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("%w: %q", ErrTimeframe, timeframe)
	}
	q := limitQuery(rangeQuery(start, end), limit)
	q.Set("timeframe", timeframe)
	path := "/api/timeseries/" + url.PathEscape(exchange) + "/" + url.PathEscape(symbol) + "/ohlcv"
	var out TimeseriesResponse
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrades returns the most recent limit trades.
func (c *Client) GetTrades(ctx context.Context, exchange, symbol string, limit int) (*TradesResponse, error) {
	path, err := tradesPath(exchange, symbol)
	if err != nil {
		return nil, err
	}
	var out TradesResponse
	if err := c.get(ctx, path, limitQuery(nil, limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTradesRange returns trades in [start, end].
func (c *Client) GetTradesRange(ctx context.Context, exchange, symbol string, start, end time.Time, limit int) (*TradesResponse, error) {
	path, err := tradesPath(exchange, symbol)
	if err != nil {
		return nil, err
	}
	var out TradesResponse
	if err := c.get(ctx, path+"/range", limitQuery(rangeQuery(start, end), limit), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the health body. A degraded service yields both the body and an *APIError.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.get(ctx, "/health", nil, &out)
	if err == nil {
		return &out, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		if json.Unmarshal(apiErr.body, &out) != nil {
			out = Health{Status: "degraded", Storage: "unavailable"}
		}
		return &out, err
	}
	return nil, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dest interface{}) error {
	u := *c.base
	raw := u.EscapedPath() + path
	p, err := url.PathUnescape(raw)
	if err != nil {
		return fmt.Errorf("build path: %w", err)
	}
	u.Path, u.RawPath = p, raw
	u.RawQuery = q.Encode()
	err = c.http.GetJSON(ctx, &u, dest)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (c *Client) candlesPath(exchange, symbol, timeframe string) (string, error) {
	if !market.IsValidTimeframe(timeframe) {
		return "", fmt.Errorf("%w: %q", ErrTimeframe, timeframe)
	}
	base, quote, err := splitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return "/api/candles/" + url.PathEscape(exchange) + "/" + url.PathEscape(base) + "/" + url.PathEscape(quote) + "/" + timeframe, nil
}

func tradesPath(exchange, symbol string) (string, error) {
	base, quote, err := splitSymbol(symbol)
	if err != nil {
		return "", err
	}
	return "/api/trades/" + url.PathEscape(exchange) + "/" + url.PathEscape(base) + "/" + url.PathEscape(quote), nil
}

func splitSymbol(symbol string) (string, string, error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", "", fmt.Errorf("symbol %q must be BASE/QUOTE", symbol)
	}
	return base, quote, nil
}

func rangeQuery(start, end time.Time) url.Values {
	return url.Values{
		"start_time": {util.FormatISO(start)},
		"end_time":   {util.FormatISO(end)},
	}
}

func limitQuery(q url.Values, limit int) url.Values {
	if limit <= 0 {
		return q
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("limit", strconv.Itoa(limit))
	return q
}
