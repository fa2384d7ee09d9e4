package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// quoteChannel is the Pub/Sub channel carrying quote change events.
const quoteChannel = "quotes"

// quoteEvent is the JSON wire shape published for each quote change.
type quoteEvent struct {
	Symbol     string  `json:"symbol"`
	Provider   string  `json:"provider"`
	Price      float64 `json:"price"`
	ObservedAt string  `json:"observed_at"`
}

// QuoteBus implements domain.QuoteBus using Redis Pub/Sub. Delivery is
// best-effort; consumers rely on the periodic re-poll as the backstop.
type QuoteBus struct {
	rdb *redis.Client
}

// NewQuoteBus creates a QuoteBus backed by the given Client.
func NewQuoteBus(c *Client) *QuoteBus {
	return &QuoteBus{rdb: c.Underlying()}
}

// PublishQuotes publishes one event per quote to the quotes channel.
func (qb *QuoteBus) PublishQuotes(ctx context.Context, quotes []domain.Quote) error {
	for _, q := range quotes {
		payload, err := json.Marshal(quoteEvent{
			Symbol:     q.Symbol,
			Provider:   string(q.Provider),
			Price:      q.Price,
			ObservedAt: q.ObservedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("redis: marshal quote event %s: %w", q.Symbol, err)
		}
		if err := qb.rdb.Publish(ctx, quoteChannel, payload).Err(); err != nil {
			return fmt.Errorf("redis: publish quote %s: %w", q.Symbol, err)
		}
	}
	return nil
}

// SubscribeQuotes creates a Pub/Sub subscription and returns a read-only
// channel of quote events. The subscription closes when the context is
// cancelled; the returned channel is closed at that point as well.
// Malformed payloads are dropped.
func (qb *QuoteBus) SubscribeQuotes(ctx context.Context) (<-chan domain.Quote, error) {
	pubsub := qb.rdb.Subscribe(ctx, quoteChannel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe quotes: %w", err)
	}

	out := make(chan domain.Quote, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev quoteEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				ts, err := time.Parse(time.RFC3339Nano, ev.ObservedAt)
				if err != nil {
					continue
				}
				q := domain.Quote{
					Symbol:     ev.Symbol,
					Provider:   domain.Provider(ev.Provider),
					Price:      ev.Price,
					ObservedAt: ts,
				}
				select {
				case out <- q:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.QuoteBus = (*QuoteBus)(nil)
