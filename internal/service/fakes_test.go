package service

import (
	"context"
	"sync"
	"time"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// memQuoteStore is an in-memory QuoteStore honoring the monotonic ObservedAt
// contract, with call recording and failure injection.
type memQuoteStore struct {
	mu         sync.Mutex
	rows       map[domain.QuoteKey]domain.Quote
	getErr     error
	upsertErr  error
	getCalls   int
	upsertRows [][]domain.Quote
}

func newMemQuoteStore() *memQuoteStore {
	return &memQuoteStore{rows: make(map[domain.QuoteKey]domain.Quote)}
}

func (s *memQuoteStore) UpsertBatch(_ context.Context, quotes []domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upsertRows = append(s.upsertRows, append([]domain.Quote(nil), quotes...))
	for _, q := range quotes {
		if cur, ok := s.rows[q.Key()]; ok && !q.ObservedAt.After(cur.ObservedAt) {
			continue
		}
		s.rows[q.Key()] = q
	}
	return nil
}

func (s *memQuoteStore) GetBatch(_ context.Context, keys []domain.QuoteKey) (map[domain.QuoteKey]domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := make(map[domain.QuoteKey]domain.Quote, len(keys))
	for _, k := range keys {
		if q, ok := s.rows[k]; ok {
			out[k] = q
		}
	}
	return out, nil
}

func (s *memQuoteStore) put(q domain.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[q.Key()] = q
}

// memLock is a RefreshLock whose contention is scripted by the test.
type memLock struct {
	mu       sync.Mutex
	held     bool
	err      error
	acquires int
	unlocks  int
}

func (l *memLock) TryAcquire(context.Context, time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.unlocks++
	}, true, nil
}

// memFetcher records each upstream call's symbol set and serves a scripted
// price table. A non-nil gate channel holds each call until it is closed.
type memFetcher struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	err    error
	delay  time.Duration
	gate   chan struct{}
	calls  [][]string
}

func (f *memFetcher) FetchPrices(_ context.Context, symbols []string) (map[string]domain.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), symbols...))
	delay, err, gate := f.delay, f.err, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := f.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

func (f *memFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memBus records publishes and feeds subscribers from a test-owned channel.
type memBus struct {
	mu        sync.Mutex
	published []domain.Quote
	subErr    error
	ch        chan domain.Quote
}

func newMemBus() *memBus {
	return &memBus{ch: make(chan domain.Quote, 16)}
}

func (b *memBus) PublishQuotes(_ context.Context, quotes []domain.Quote) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, quotes...)
	return nil
}

func (b *memBus) SubscribeQuotes(context.Context) (<-chan domain.Quote, error) {
	if b.subErr != nil {
		return nil, b.subErr
	}
	return b.ch, nil
}

// memSignalStore implements the SignalStore transition contract in memory:
// the expected-risk precondition, hit-target dedupe, and terminal snapshots.
type memSignalStore struct {
	mu          sync.Mutex
	positions   map[string]domain.Position
	listErr     error
	applyErr    error
	transitions []domain.PositionTransition
}

func newMemSignalStore(positions ...domain.Position) *memSignalStore {
	s := &memSignalStore{positions: make(map[string]domain.Position)}
	for _, p := range positions {
		s.positions[p.ID] = p
	}
	return s
}

func (s *memSignalStore) ListActiveLive(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusActive && p.Signal.Live {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memSignalStore) ApplyTransition(_ context.Context, tr domain.PositionTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return false, s.applyErr
	}
	p, ok := s.positions[tr.PositionID]
	if !ok {
		return false, nil
	}
	if p.Status != domain.PositionStatusActive || p.RemainingRisk != tr.ExpectedRisk {
		return false, nil
	}
	if tr.HitTarget >= 0 && p.TargetHit(tr.HitTarget) {
		return false, nil
	}

	p.RemainingRisk = tr.NewRisk
	p.Status = tr.Status
	if tr.HitTarget >= 0 {
		p.HitTargets = append(p.HitTargets, tr.HitTarget)
	}
	s.positions[tr.PositionID] = p
	s.transitions = append(s.transitions, tr)
	return true, nil
}

func (s *memSignalStore) CreatePosition(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
	return nil
}

func (s *memSignalStore) GetPosition(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memSignalStore) position(id string) domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[id]
}

func (s *memSignalStore) applied() []domain.PositionTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PositionTransition(nil), s.transitions...)
}

// memNotifier records closure notices.
type memNotifier struct {
	mu      sync.Mutex
	err     error
	notices []domain.ClosureNotice
}

func (n *memNotifier) PositionClosed(_ context.Context, notice domain.ClosureNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

func (n *memNotifier) closed() []domain.ClosureNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.ClosureNotice(nil), n.notices...)
}
