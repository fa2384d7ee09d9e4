package domain

import (
	"math"
	"time"
)

// Provider identifies the upstream price source that produced a quote.
type Provider string

const (
	ProviderTraderMade Provider = "tradermade"
)

// Quote is a timestamped price observation for one instrument symbol from one
// provider. One logical row exists per (Symbol, Provider); updates with an
// older-or-equal ObservedAt than the stored row are discarded.
type Quote struct {
	Symbol     string
	Provider   Provider
	Price      float64
	ObservedAt time.Time
}

// Validate checks that the quote carries a usable price and timestamp.
func (q Quote) Validate() error {
	if q.Symbol == "" {
		return ErrInvalidQuote
	}
	if q.Price <= 0 || math.IsInf(q.Price, 0) || math.IsNaN(q.Price) {
		return ErrInvalidQuote
	}
	if q.ObservedAt.IsZero() {
		return ErrInvalidQuote
	}
	return nil
}

// Fresh reports whether the quote was observed within threshold of now.
func (q Quote) Fresh(now time.Time, threshold time.Duration) bool {
	return now.Sub(q.ObservedAt) <= threshold
}

// QuoteResult is what price consumers receive: the best available quote for a
// symbol plus an explicit staleness flag. Staleness is surfaced, never hidden;
// a symbol with no quote at all is simply absent from the result set.
type QuoteResult struct {
	Quote Quote
	Stale bool
}

// QuoteKey identifies one logical quote row.
type QuoteKey struct {
	Symbol   string
	Provider Provider
}

// Key returns the quote's identifying key.
func (q Quote) Key() QuoteKey {
	return QuoteKey{Symbol: q.Symbol, Provider: q.Provider}
}
