package repository

import (
	"fmt"
	"strings"

	"OhlcvAPI/internal/domain/market"
)

// SeriesRef names one exchange/symbol series in storage.
type SeriesRef struct {
	Exchange string
	Symbol   string
}

// NewSeriesRef normalizes the exchange name. The symbol keeps its exchange-native form.
func NewSeriesRef(exchange, symbol string) SeriesRef {
	return SeriesRef{Exchange: market.NormalizeExchange(exchange), Symbol: strings.TrimSpace(symbol)}
}

// Base and Quote split "BTC/USDT" (or "BTC/USDT:USDT") into its assets.
func (r SeriesRef) Base() string {
	base, _ := r.split()
	return base
}

func (r SeriesRef) Quote() string {
	_, quote := r.split()
	return quote
}

func (r SeriesRef) split() (string, string) {
	sym := r.Symbol
	if i := strings.IndexByte(sym, ':'); i >= 0 {
		sym = sym[:i]
	}
	base, quote, ok := strings.Cut(sym, "/")
	if !ok {
		return sym, ""
	}
	return base, quote
}

// Schema is the per-exchange namespace.
func (r SeriesRef) Schema() string { return r.Exchange }

// Table is the trades table for the symbol, e.g. btc_usdt_trades.
func (r SeriesRef) Table() (string, error) {
	base, quote := r.split()
	if base == "" || quote == "" {
		return "", fmt.Errorf("%w: symbol %q is not BASE/QUOTE", ErrSeriesNotFound, r.Symbol)
	}
	return strings.ToLower(base) + "_" + strings.ToLower(quote) + "_trades", nil
}

func (r SeriesRef) String() string { return r.Exchange + ":" + r.Symbol }
