package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderSymbol(t *testing.T) {
	tests := []struct {
		name     string
		pair     string
		category Category
		want     string
	}{
		{"six char forex code", "EURUSD", CategoryForex, "EURUSD"},
		{"lowercase input", "gbpjpy", CategoryForex, "GBPJPY"},
		{"separated pair", "EUR/USD", CategoryForex, "EURUSD"},
		{"dash separated crypto", "BTC-USD", CategoryCrypto, "BTCUSD"},
		{"index passes through", "SPX500", CategoryIndices, "SPX500"},
		{"commodity passes through", "UKOIL", CategoryCommodities, "UKOIL"},
		{"whitespace trimmed", " XAUUSD ", CategoryCommodities, "XAUUSD"},
		{"empty pair", "", CategoryForex, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProviderSymbol(tt.pair, tt.category, ProviderTraderMade, nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProviderSymbolOverrideWins(t *testing.T) {
	overrides := SymbolOverrides{"EURUSD": "EUR-USD-SPOT"}

	assert.Equal(t, "EUR-USD-SPOT", ProviderSymbol("eurusd", CategoryForex, ProviderTraderMade, overrides))
	assert.Equal(t, "GBPUSD", ProviderSymbol("GBPUSD", CategoryForex, ProviderTraderMade, overrides))
}

func TestProviderSymbolDeterministic(t *testing.T) {
	first := ProviderSymbol("USDJPY", CategoryForex, ProviderTraderMade, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ProviderSymbol("USDJPY", CategoryForex, ProviderTraderMade, nil))
	}
}
