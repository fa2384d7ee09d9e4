// Package tradermade implements the streaming and REST clients for the
// TraderMade market data API.
package tradermade

import (
	"strconv"
	"time"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// controlMessage is the JSON command sent on the streaming socket to manage
// the subscription list.
type controlMessage struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	UserKey string   `json:"userKey"`
	Symbols []string `json:"symbols"`
}

// tickMessage is one streamed price update.
type tickMessage struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Mid    float64 `json:"mid"`
	TS     string  `json:"ts"` // Unix milliseconds
}

// statusMessage covers heartbeats, acks, and error notices from the server.
type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// toDomainQuote converts a streamed tick into a domain quote. The mid price
// is used; ticks without one fall back to the bid/ask midpoint.
func (m tickMessage) toDomainQuote() domain.Quote {
	price := m.Mid
	if price == 0 && m.Bid > 0 && m.Ask > 0 {
		price = (m.Bid + m.Ask) / 2
	}

	observed := time.Now().UTC()
	if ms, err := strconv.ParseInt(m.TS, 10, 64); err == nil && ms > 0 {
		observed = time.UnixMilli(ms).UTC()
	}

	return domain.Quote{
		Symbol:     m.Symbol,
		Provider:   domain.ProviderTraderMade,
		Price:      price,
		ObservedAt: observed,
	}
}

// liveResponse is the REST /live endpoint payload.
type liveResponse struct {
	Quotes []struct {
		Instrument string  `json:"instrument"`
		Bid        float64 `json:"bid"`
		Ask        float64 `json:"ask"`
		Mid        float64 `json:"mid"`
	} `json:"quotes"`
	Timestamp int64  `json:"timestamp"` // Unix seconds
	Error     int    `json:"error"`
	Message   string `json:"message"`
}
