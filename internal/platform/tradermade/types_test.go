package tradermade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

func TestTickToDomainQuote(t *testing.T) {
	m := tickMessage{Symbol: "EURUSD", Bid: 1.0799, Ask: 1.0801, Mid: 1.08, TS: "1767225600000"}

	q := m.toDomainQuote()
	assert.Equal(t, "EURUSD", q.Symbol)
	assert.Equal(t, domain.ProviderTraderMade, q.Provider)
	assert.Equal(t, 1.08, q.Price)
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), q.ObservedAt)
}

func TestTickFallsBackToBidAskMidpoint(t *testing.T) {
	m := tickMessage{Symbol: "EURUSD", Bid: 1.0, Ask: 1.2, TS: "1767225600000"}
	assert.InDelta(t, 1.1, m.toDomainQuote().Price, 1e-12)
}

func TestTickWithBadTimestampUsesNow(t *testing.T) {
	before := time.Now().UTC()
	q := tickMessage{Symbol: "EURUSD", Mid: 1.08, TS: "not-a-number"}.toDomainQuote()
	after := time.Now().UTC()

	assert.False(t, q.ObservedAt.Before(before))
	assert.False(t, q.ObservedAt.After(after))
}
