package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"OhlcvAPI/internal/domain/market"

	"github.com/gorilla/websocket"
)

type controlMessage struct {
	Action    string `json:"action"`
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Type      string `json:"type"`
}

type frame struct {
	LiveUpdate
	Message string `json:"message"`
}

// StreamOHLCV subscribes to live candle updates for one series.
func (c *Client) StreamOHLCV(ctx context.Context, exchange, symbol, timeframe string) (<-chan LiveUpdate, <-chan error) {
	return c.Stream(ctx, Subscription{Exchange: exchange, Symbol: symbol, Timeframe: timeframe, Type: FeedOHLCV})
}

// Stream opens a WebSocket, subscribes and delivers updates until ctx is cancelled.
// Both channels are closed when the stream ends; at most one error is sent,
// and none when the stream ends because ctx was cancelled.
func (c *Client) Stream(ctx context.Context, sub Subscription) (<-chan LiveUpdate, <-chan error) {
	updates := make(chan LiveUpdate, 16)
	errs := make(chan error, 1)

	fail := func(err error) (<-chan LiveUpdate, <-chan error) {
		errs <- err
		close(errs)
		close(updates)
		return updates, errs
	}

	if sub.Type == "" {
		sub.Type = FeedOHLCV
	}
	if sub.Type != FeedTrade && !market.IsValidTimeframe(sub.Timeframe) {
		return fail(fmt.Errorf("%w: %q", ErrTimeframe, sub.Timeframe))
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrConnection, err))
	}
	if err := conn.WriteJSON(controlMessage{
		Action:    "subscribe",
		Exchange:  sub.Exchange,
		Symbol:    sub.Symbol,
		Timeframe: sub.Timeframe,
		Type:      sub.Type,
	}); err != nil {
		_ = conn.Close()
		return fail(fmt.Errorf("%w: %v", ErrConnection, err))
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()

	go func() {
		defer close(errs)
		defer close(updates)
		defer close(stop)
		defer closeConn()

		report := func(err error) {
			if ctx.Err() == nil {
				errs <- err
			}
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				report(fmt.Errorf("%w: %v", ErrConnection, err))
				return
			}
			var f frame
			if err := json.Unmarshal(b, &f); err != nil {
				report(fmt.Errorf("%w: %v", ErrDecode, err))
				return
			}
			switch f.Type {
			case "error":
				report(&APIError{Message: f.Message})
				return
			case "ohlcv_update", "trade_update":
				u := f.LiveUpdate
				if u.Type == "ohlcv_update" {
					var lc LiveCandle
					if err := json.Unmarshal(u.Data, &lc); err != nil {
						report(fmt.Errorf("%w: %v", ErrDecode, err))
						return
					}
					u.Candle = &lc
				}
				select {
				case updates <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return updates, errs
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws/ohlcv"
	u.RawPath, u.RawQuery, u.Fragment = "", "", ""
	return u.String()
}
