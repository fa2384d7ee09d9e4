package domain

import (
	"context"
	"time"
)

// QuoteStore is the durable, shared table of last-known prices. UpsertBatch
// must keep the row with the greater ObservedAt on conflict, so concurrent
// writers (streaming worker and fallback fetchers) are commutative.
type QuoteStore interface {
	// UpsertBatch writes all quotes in one batched statement; rows whose
	// ObservedAt is not newer than the stored row are silently discarded.
	UpsertBatch(ctx context.Context, quotes []Quote) error
	// GetBatch returns the stored quotes for the given keys in one query.
	// Keys with no stored row are absent from the result.
	GetBatch(ctx context.Context, keys []QuoteKey) (map[QuoteKey]Quote, error)
}

// SignalStore provides the position/signal state the trigger evaluator and
// the ingestion worker's subscription computation need.
type SignalStore interface {
	// ListActiveLive returns all positions with status=active belonging to
	// live-mode signals, each joined with its signal configuration.
	ListActiveLive(ctx context.Context) ([]Position, error)
	// ApplyTransition atomically commits a position state transition. It
	// returns (false, nil) when the optimistic precondition no longer holds
	// (another pass already applied a transition), which callers treat as a
	// benign no-op.
	ApplyTransition(ctx context.Context, tr PositionTransition) (bool, error)
	// CreatePosition opens a new position for a signal.
	CreatePosition(ctx context.Context, p Position) error
	// GetPosition retrieves one position with its signal.
	GetPosition(ctx context.Context, id string) (Position, error)
}

// RefreshLock is the cluster-wide mutual exclusion guarding on-demand
// upstream refresh. TryAcquire never blocks: ok=false means another holder
// is refreshing, which is a normal signal, not an error. The returned unlock
// is safe to call more than once.
type RefreshLock interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (unlock func(), ok bool, err error)
}

// QuoteBus is the best-effort push channel for quote changes. Correctness
// never depends on delivery; the periodic re-poll is the backstop.
type QuoteBus interface {
	PublishQuotes(ctx context.Context, quotes []Quote) error
	SubscribeQuotes(ctx context.Context) (<-chan Quote, error)
}

// PriceFetcher is the on-demand request/response side of the upstream
// provider, used by the fallback refresh path. Missing symbols are absent
// from the result rather than an error.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]Quote, error)
}
