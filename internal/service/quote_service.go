// Package service implements the consumer-side price logic: the
// staleness-aware quote reader with stampede-safe fallback refresh, and the
// trigger evaluator that resolves open positions.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// QuoteServiceConfig holds the staleness and lock parameters for the reader.
type QuoteServiceConfig struct {
	Provider domain.Provider
	// Staleness is the default freshness threshold applied when the caller
	// does not pass one.
	Staleness time.Duration
	// LockTTL bounds how long a crashed refresher can hold the lock.
	LockTTL time.Duration
	// LockRetryDelay and LockRetryAttempts bound how long a lock loser polls
	// the store before degrading to the last known value.
	LockRetryDelay    time.Duration
	LockRetryAttempts int
}

func (c *QuoteServiceConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = domain.ProviderTraderMade
	}
	if c.Staleness <= 0 {
		c.Staleness = 10 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Second
	}
	if c.LockRetryDelay <= 0 {
		c.LockRetryDelay = 300 * time.Millisecond
	}
	if c.LockRetryAttempts <= 0 {
		c.LockRetryAttempts = 5
	}
}

// QuoteService returns the best available price per symbol, preferring the
// quote store and falling back to an on-demand upstream fetch only when a
// quote is stale. Concurrent fallbacks for the same symbol set are coalesced
// so at most one upstream call is in flight per request signature.
type QuoteService struct {
	store   domain.QuoteStore
	lock    domain.RefreshLock
	fetcher domain.PriceFetcher
	bus     domain.QuoteBus
	cfg     QuoteServiceConfig
	group   singleflight.Group
	logger  *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewQuoteService creates a QuoteService. bus may be nil when no push channel
// is wired; refreshed quotes are then only persisted.
func NewQuoteService(store domain.QuoteStore, lock domain.RefreshLock, fetcher domain.PriceFetcher, bus domain.QuoteBus, cfg QuoteServiceConfig, logger *slog.Logger) *QuoteService {
	cfg.applyDefaults()
	return &QuoteService{
		store:   store,
		lock:    lock,
		fetcher: fetcher,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "quote_service")),
		now:     time.Now,
	}
}

// GetQuotes returns the best available quote per requested symbol with an
// explicit staleness flag. threshold <= 0 uses the configured default.
// Symbols with no stored value and no fetchable price are absent from the
// result; a caller never receives an error merely because a value is stale.
func (s *QuoteService) GetQuotes(ctx context.Context, symbols []string, threshold time.Duration) (map[string]domain.QuoteResult, error) {
	if len(symbols) == 0 {
		return map[string]domain.QuoteResult{}, nil
	}
	if threshold <= 0 {
		threshold = s.cfg.Staleness
	}

	stored, err := s.store.GetBatch(ctx, s.keys(symbols))
	if err != nil {
		return nil, fmt.Errorf("quote_service: read store: %w", err)
	}

	stale := s.staleSymbols(symbols, stored, threshold)
	if len(stale) == 0 {
		return s.results(symbols, stored, threshold), nil
	}

	// Coalesce concurrent fallbacks for the same stale-subset signature: late
	// joiners attach to the in-flight refresh instead of issuing their own.
	sig := requestSignature(stale)
	refreshed, err, _ := s.group.Do(sig, func() (any, error) {
		return s.refresh(ctx, symbols, threshold)
	})
	if err != nil {
		// Degrade to whatever the first read produced; staleness stays
		// flagged rather than becoming an error.
		s.logger.Warn("fallback refresh failed, serving cached values",
			slog.String("error", err.Error()),
		)
		return s.results(symbols, stored, threshold), nil
	}

	// The shared call was scoped to the first caller's symbol list, so a late
	// joiner overlays its values onto its own snapshot rather than replacing
	// it; symbols only this caller requested keep their first-read value.
	for k, q := range refreshed.(map[domain.QuoteKey]domain.Quote) {
		stored[k] = q
	}
	return s.results(symbols, stored, threshold), nil
}

// refresh is the stampede-guarded fallback path. The lock winner re-reads the
// store, fetches only the still-stale subset upstream, and upserts it; losers
// poll the store within a bounded window.
func (s *QuoteService) refresh(ctx context.Context, symbols []string, threshold time.Duration) (map[domain.QuoteKey]domain.Quote, error) {
	unlock, ok, err := s.lock.TryAcquire(ctx, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("quote_service: acquire refresh lock: %w", err)
	}

	if !ok {
		return s.awaitRefresh(ctx, symbols, threshold)
	}
	defer unlock()

	// Another holder may have refreshed between our first read and the
	// acquisition; re-read before fetching.
	stored, err := s.store.GetBatch(ctx, s.keys(symbols))
	if err != nil {
		return nil, fmt.Errorf("quote_service: re-read store: %w", err)
	}

	stale := s.staleSymbols(symbols, stored, threshold)
	if len(stale) == 0 {
		return stored, nil
	}

	fetched, err := s.fetcher.FetchPrices(ctx, stale)
	if err != nil {
		// Degrade: the symbols keep their last known value.
		s.logger.Warn("upstream fetch failed",
			slog.Int("symbols", len(stale)),
			slog.String("error", err.Error()),
		)
		return stored, nil
	}

	batch := make([]domain.Quote, 0, len(fetched))
	for _, q := range fetched {
		batch = append(batch, q)
	}
	if len(batch) > 0 {
		if err := s.store.UpsertBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("quote_service: persist refresh: %w", err)
		}
		if s.bus != nil {
			if err := s.bus.PublishQuotes(ctx, batch); err != nil {
				s.logger.Debug("publish refreshed quotes failed", slog.String("error", err.Error()))
			}
		}
		for _, q := range batch {
			stored[q.Key()] = q
		}
	}

	return stored, nil
}

// awaitRefresh is the lock loser's path: poll the store a bounded number of
// times while the holder refreshes, then return whatever is there. Staleness
// is surfaced by the caller, never hidden.
func (s *QuoteService) awaitRefresh(ctx context.Context, symbols []string, threshold time.Duration) (map[domain.QuoteKey]domain.Quote, error) {
	var stored map[domain.QuoteKey]domain.Quote
	var err error

	for i := 0; i < s.cfg.LockRetryAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.LockRetryDelay):
		}

		stored, err = s.store.GetBatch(ctx, s.keys(symbols))
		if err != nil {
			return nil, fmt.Errorf("quote_service: poll store: %w", err)
		}
		if len(s.staleSymbols(symbols, stored, threshold)) == 0 {
			break
		}
	}

	return stored, nil
}

func (s *QuoteService) keys(symbols []string) []domain.QuoteKey {
	keys := make([]domain.QuoteKey, 0, len(symbols))
	for _, sym := range symbols {
		keys = append(keys, domain.QuoteKey{Symbol: sym, Provider: s.cfg.Provider})
	}
	return keys
}

// staleSymbols returns the requested symbols whose stored quote is missing or
// older than the threshold.
func (s *QuoteService) staleSymbols(symbols []string, stored map[domain.QuoteKey]domain.Quote, threshold time.Duration) []string {
	now := s.now()
	var stale []string
	for _, sym := range symbols {
		q, ok := stored[domain.QuoteKey{Symbol: sym, Provider: s.cfg.Provider}]
		if !ok || !q.Fresh(now, threshold) {
			stale = append(stale, sym)
		}
	}
	return stale
}

// results assembles the per-symbol outcome: fresh or stale-but-available;
// never-seen symbols are omitted.
func (s *QuoteService) results(symbols []string, stored map[domain.QuoteKey]domain.Quote, threshold time.Duration) map[string]domain.QuoteResult {
	now := s.now()
	out := make(map[string]domain.QuoteResult, len(symbols))
	for _, sym := range symbols {
		q, ok := stored[domain.QuoteKey{Symbol: sym, Provider: s.cfg.Provider}]
		if !ok {
			continue
		}
		out[sym] = domain.QuoteResult{Quote: q, Stale: !q.Fresh(now, threshold)}
	}
	return out
}

// requestSignature builds the dedupe key for a fallback request: the sorted
// stale symbol set.
func requestSignature(symbols []string) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
