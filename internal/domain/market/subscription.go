package market

import (
	"fmt"
	"strings"
)

// FeedType is the kind of live data a subscription asks for.
type FeedType string

const (
	FeedOHLCVLive  FeedType = "ohlcv_live"
	FeedTradeLive  FeedType = "trade_live"
	FeedCandleLive FeedType = "candle_live"
)

// ParseFeedType validates a wire value.
func ParseFeedType(s string) (FeedType, error) {
	switch f := FeedType(s); f {
	case FeedOHLCVLive, FeedTradeLive, FeedCandleLive:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFeedType, s)
	}
}

// SubscriptionKey identifies one live feed: exchange|symbol|timeframe|type.
type SubscriptionKey string

// "|" does not occur in exchange ids, ccxt symbols ("BTC/USDT:USDT") or timeframe tokens.
const keyDelimiter = "|"

// NormalizeExchange trims and lower-cases an exchange name.
func NormalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

// MakeKey builds the canonical key. Inputs are not validated here.
// Trades carry no timeframe, so trade keys always have an empty one.
func MakeKey(exchange, symbol, timeframe string, feed FeedType) SubscriptionKey {
	if feed == FeedTradeLive {
		timeframe = ""
	}
	return SubscriptionKey(strings.Join([]string{
		NormalizeExchange(exchange), symbol, timeframe, string(feed),
	}, keyDelimiter))
}

// Parts splits a key back into its components.
func (k SubscriptionKey) Parts() (exchange, symbol, timeframe string, feed FeedType, ok bool) {
	p := strings.Split(string(k), keyDelimiter)
	if len(p) != 4 {
		return "", "", "", "", false
	}
	return p[0], p[1], p[2], FeedType(p[3]), true
}

func (k SubscriptionKey) String() string { return string(k) }
