package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

type fakeQuoteStore struct {
	mu       sync.Mutex
	rows     map[domain.QuoteKey]domain.Quote
	failures int // number of upserts to fail before succeeding
	upserts  int
}

func newFakeQuoteStore() *fakeQuoteStore {
	return &fakeQuoteStore{rows: make(map[domain.QuoteKey]domain.Quote)}
}

func (s *fakeQuoteStore) UpsertBatch(_ context.Context, quotes []domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	for _, q := range quotes {
		if cur, ok := s.rows[q.Key()]; ok && !q.ObservedAt.After(cur.ObservedAt) {
			continue
		}
		s.rows[q.Key()] = q
	}
	return nil
}

func (s *fakeQuoteStore) GetBatch(_ context.Context, keys []domain.QuoteKey) (map[domain.QuoteKey]domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.QuoteKey]domain.Quote, len(keys))
	for _, k := range keys {
		if q, ok := s.rows[k]; ok {
			out[k] = q
		}
	}
	return out, nil
}

func (s *fakeQuoteStore) get(symbol string) (domain.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.rows[domain.QuoteKey{Symbol: symbol, Provider: domain.ProviderTraderMade}]
	return q, ok
}

type fakeSignalStore struct {
	mu        sync.Mutex
	positions []domain.Position
}

func (s *fakeSignalStore) ListActiveLive(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Position(nil), s.positions...), nil
}

func (s *fakeSignalStore) ApplyTransition(context.Context, domain.PositionTransition) (bool, error) {
	return false, nil
}

func (s *fakeSignalStore) CreatePosition(context.Context, domain.Position) error { return nil }

func (s *fakeSignalStore) GetPosition(context.Context, string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

type fakeBus struct {
	mu        sync.Mutex
	published []domain.Quote
}

func (b *fakeBus) PublishQuotes(_ context.Context, quotes []domain.Quote) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, quotes...)
	return nil
}

func (b *fakeBus) SubscribeQuotes(context.Context) (<-chan domain.Quote, error) {
	ch := make(chan domain.Quote)
	close(ch)
	return ch, nil
}

type fakeConn struct {
	mu     sync.Mutex
	subs   []string
	unsubs []string
	ticks  chan domain.Quote
	errc   chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		ticks: make(chan domain.Quote, 16),
		errc:  make(chan error, 1),
	}
}

func (c *fakeConn) Subscribe(_ context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, symbols...)
	return nil
}

func (c *fakeConn) Unsubscribe(_ context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs, symbols...)
	return nil
}

func (c *fakeConn) Ticks() <-chan domain.Quote { return c.ticks }
func (c *fakeConn) Err() <-chan error          { return c.errc }
func (c *fakeConn) Close() error               { return nil }

func (c *fakeConn) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subs...)
}

type staticKeys struct{ key string }

func (k staticKeys) APIKey(context.Context) (string, error) { return k.key, nil }

func testWorker(t *testing.T, cfg WorkerConfig, dial Dialer, store *fakeQuoteStore, signals *fakeSignalStore, bus *fakeBus) *Worker {
	t.Helper()
	return NewWorker(cfg, dial, staticKeys{key: "test-key"}, signals, store, bus, slog.Default())
}

func TestWorkerFlushesBufferedTicks(t *testing.T) {
	store := newFakeQuoteStore()
	signals := &fakeSignalStore{positions: []domain.Position{positionFor("EURUSD")}}
	bus := &fakeBus{}

	conn := newFakeConn()
	dial := func(context.Context, string) (StreamConn, error) { return conn, nil }

	w := testWorker(t, WorkerConfig{FlushInterval: 10 * time.Millisecond}, dial, store, signals, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	now := time.Now()
	conn.ticks <- tick("EURUSD", 1.0801, now)
	conn.ticks <- tick("EURUSD", 1.0802, now.Add(time.Millisecond))

	require.Eventually(t, func() bool {
		q, ok := store.get("EURUSD")
		return ok && q.Price == 1.0802
	}, 2*time.Second, 5*time.Millisecond)

	// The two ticks coalesced into a single row write.
	bus.mu.Lock()
	published := len(bus.published)
	bus.mu.Unlock()
	assert.GreaterOrEqual(t, published, 1)

	cancel()
	<-done
}

func TestWorkerRetainsTicksOnFlushFailure(t *testing.T) {
	store := newFakeQuoteStore()
	store.failures = 2
	signals := &fakeSignalStore{positions: []domain.Position{positionFor("EURUSD")}}

	conn := newFakeConn()
	dial := func(context.Context, string) (StreamConn, error) { return conn, nil }

	w := testWorker(t, WorkerConfig{FlushInterval: 10 * time.Millisecond}, dial, store, signals, &fakeBus{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	conn.ticks <- tick("EURUSD", 1.08, time.Now())

	// The tick survives the failed flushes and lands on the third attempt.
	require.Eventually(t, func() bool {
		q, ok := store.get("EURUSD")
		return ok && q.Price == 1.08
	}, 2*time.Second, 5*time.Millisecond)

	store.mu.Lock()
	upserts := store.upserts
	store.mu.Unlock()
	assert.GreaterOrEqual(t, upserts, 3)

	cancel()
	<-done
}

func TestWorkerResubscribesFullSetAfterReconnect(t *testing.T) {
	store := newFakeQuoteStore()
	signals := &fakeSignalStore{positions: []domain.Position{
		positionFor("EURUSD"),
		positionFor("USDJPY"),
	}}

	var mu sync.Mutex
	var conns []*fakeConn
	dial := func(context.Context, string) (StreamConn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := newFakeConn()
		conns = append(conns, c)
		return c, nil
	}

	w := testWorker(t, WorkerConfig{
		FlushInterval: 50 * time.Millisecond,
		BaseBackoff:   5 * time.Millisecond,
	}, dial, store, signals, &fakeBus{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 1 && len(conns[0].subscribed()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Drop the connection; the fresh one must resubscribe the whole set.
	mu.Lock()
	conns[0].errc <- domain.ErrWSDisconnect
	mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 2 && len(conns[1].subscribed()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, []string{"EURUSD", "USDJPY"}, conns[1].subscribed())
	mu.Unlock()

	cancel()
	<-done
}

func TestWorkerFlushesSynchronouslyOnShutdown(t *testing.T) {
	store := newFakeQuoteStore()
	signals := &fakeSignalStore{positions: []domain.Position{positionFor("EURUSD")}}

	conn := newFakeConn()
	dial := func(context.Context, string) (StreamConn, error) { return conn, nil }

	// A flush interval far beyond the test ensures only the shutdown path
	// can write the tick.
	w := testWorker(t, WorkerConfig{FlushInterval: time.Hour}, dial, store, signals, &fakeBus{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	conn.ticks <- tick("EURUSD", 1.08, time.Now())

	require.Eventually(t, func() bool {
		return w.State() == StateStreaming
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the tick drain into the buffer

	cancel()
	<-done

	q, ok := store.get("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.08, q.Price)
	assert.Equal(t, StateClosed, w.State())
}
