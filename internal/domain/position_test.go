package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealizedMultiple(t *testing.T) {
	// entry 100, stop 90: closing at 120 realizes 2R.
	assert.InDelta(t, 2.0, RealizedMultiple(100, 90, 120), 1e-9)
	// closing at the stop realizes 1R of loss distance.
	assert.InDelta(t, 1.0, RealizedMultiple(100, 90, 90), 1e-9)
	// short: entry 100, stop 110, close 80.
	assert.InDelta(t, 2.0, RealizedMultiple(100, 110, 80), 1e-9)
}

func TestRealizedMultipleBreakevenFallback(t *testing.T) {
	// Stop on entry degenerates the risk distance; the synthetic one-unit
	// distance keeps the ratio finite.
	got := RealizedMultiple(100, 100, 105)
	assert.False(t, math.IsInf(got, 0))
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestPositionStatusTerminal(t *testing.T) {
	assert.False(t, PositionStatusActive.Terminal())
	assert.True(t, PositionStatusTPHit.Terminal())
	assert.True(t, PositionStatusSLHit.Terminal())
	assert.True(t, PositionStatusBreakeven.Terminal())
}

func TestQuoteValidate(t *testing.T) {
	now := time.Now()
	valid := Quote{Symbol: "EURUSD", Provider: ProviderTraderMade, Price: 1.08, ObservedAt: now}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		quote Quote
	}{
		{"empty symbol", Quote{Provider: ProviderTraderMade, Price: 1, ObservedAt: now}},
		{"zero price", Quote{Symbol: "EURUSD", ObservedAt: now}},
		{"negative price", Quote{Symbol: "EURUSD", Price: -1, ObservedAt: now}},
		{"nan price", Quote{Symbol: "EURUSD", Price: math.NaN(), ObservedAt: now}},
		{"inf price", Quote{Symbol: "EURUSD", Price: math.Inf(1), ObservedAt: now}},
		{"zero time", Quote{Symbol: "EURUSD", Price: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.quote.Validate(), ErrInvalidQuote)
		})
	}
}

func TestQuoteFresh(t *testing.T) {
	now := time.Now()
	q := Quote{Symbol: "EURUSD", Price: 1, ObservedAt: now.Add(-5 * time.Second)}

	assert.True(t, q.Fresh(now, 10*time.Second))
	assert.False(t, q.Fresh(now, time.Second))
}
