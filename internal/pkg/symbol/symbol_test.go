package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":       "BTCUSDT",
		" btcusdt ":     "BTCUSDT",
		"BTC/USDT":      "BTCUSDT",
		"btc-usdt":      "BTCUSDT",
		"BTC/USDT:USDT": "BTCUSDT",
		"ETH_USDC":      "ETHUSDC",
		"xyz":           "XYZ",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestParse(t *testing.T) {
	p := Parse("btcusdt")
	assert.Equal(t, Pair{Base: "BTC", Quote: "USDT"}, p)
	assert.Equal(t, "BTC/USDT", p.Display())
	assert.Empty(t, Parse("USDT").Binance())
}
