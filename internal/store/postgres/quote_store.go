package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// QuoteStore implements domain.QuoteStore using PostgreSQL. The upsert keeps
// the row with the greater observed_at, so concurrent writers from the
// streaming worker and fallback fetchers are commutative and out-of-order
// updates are discarded by the store itself.
type QuoteStore struct {
	pool *pgxpool.Pool
}

// NewQuoteStore creates a new QuoteStore backed by the given connection pool.
func NewQuoteStore(pool *pgxpool.Pool) *QuoteStore {
	return &QuoteStore{pool: pool}
}

// UpsertBatch writes all quotes in a single statement. Rows whose observed_at
// is not newer than the stored row are left untouched.
func (s *QuoteStore) UpsertBatch(ctx context.Context, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO quotes (symbol, provider, price, observed_at, updated_at) VALUES ")

	args := make([]any, 0, len(quotes)*4)
	for i, q := range quotes {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, NOW())", n+1, n+2, n+3, n+4)
		args = append(args, q.Symbol, string(q.Provider), q.Price, q.ObservedAt)
	}

	sb.WriteString(`
		ON CONFLICT (symbol, provider) DO UPDATE SET
			price       = EXCLUDED.price,
			observed_at = EXCLUDED.observed_at,
			updated_at  = NOW()
		WHERE quotes.observed_at < EXCLUDED.observed_at`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("postgres: upsert quotes: %w", err)
	}
	return nil
}

// GetBatch returns the stored quotes for the given keys in one query. Keys
// with no stored row are absent from the result map.
func (s *QuoteStore) GetBatch(ctx context.Context, keys []domain.QuoteKey) (map[domain.QuoteKey]domain.Quote, error) {
	if len(keys) == 0 {
		return map[domain.QuoteKey]domain.Quote{}, nil
	}

	symbols := make([]string, 0, len(keys))
	providers := make([]string, 0, len(keys))
	for _, k := range keys {
		symbols = append(symbols, k.Symbol)
		providers = append(providers, string(k.Provider))
	}

	const query = `
		SELECT q.symbol, q.provider, q.price, q.observed_at
		FROM quotes q
		JOIN (SELECT unnest($1::text[]) AS symbol, unnest($2::text[]) AS provider) k
		  ON q.symbol = k.symbol AND q.provider = k.provider`

	rows, err := s.pool.Query(ctx, query, symbols, providers)
	if err != nil {
		return nil, fmt.Errorf("postgres: get quotes: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.QuoteKey]domain.Quote, len(keys))
	for rows.Next() {
		var q domain.Quote
		var provider string
		if err := rows.Scan(&q.Symbol, &provider, &q.Price, &q.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		q.Provider = domain.Provider(provider)
		result[q.Key()] = q
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read quotes: %w", err)
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.QuoteStore = (*QuoteStore)(nil)
