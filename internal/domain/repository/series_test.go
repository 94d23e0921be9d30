package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesRefTable(t *testing.T) {
	ref := NewSeriesRef(" Binance ", "BTC/USDT")
	assert.Equal(t, "binance", ref.Exchange)
	assert.Equal(t, "binance", ref.Schema())

	table, err := ref.Table()
	require.NoError(t, err)
	assert.Equal(t, "btc_usdt_trades", table)
}

func TestSeriesRefSettleSuffix(t *testing.T) {
	ref := NewSeriesRef("bybit", "ETH/USDT:USDT")
	assert.Equal(t, "ETH", ref.Base())
	assert.Equal(t, "USDT", ref.Quote())

	table, err := ref.Table()
	require.NoError(t, err)
	assert.Equal(t, "eth_usdt_trades", table)
}

func TestSeriesRefBadSymbol(t *testing.T) {
	_, err := NewSeriesRef("kraken", "BTCUSD").Table()
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}
