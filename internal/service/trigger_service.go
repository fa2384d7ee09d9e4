package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// ClosureNotifier receives fire-and-forget closure notifications. Delivery
// failures are logged by the caller and never roll back a closure.
type ClosureNotifier interface {
	PositionClosed(ctx context.Context, notice domain.ClosureNotice) error
}

// QuoteReader is the slice of QuoteService the evaluator's re-poll backstop
// needs.
type QuoteReader interface {
	GetQuotes(ctx context.Context, symbols []string, threshold time.Duration) (map[string]domain.QuoteResult, error)
}

// TriggerServiceConfig holds the evaluator's provider mapping and backstop
// timers.
type TriggerServiceConfig struct {
	Provider  domain.Provider
	Overrides domain.SymbolOverrides
	// Repoll is the interval of the periodic re-poll that backstops the
	// best-effort push channel.
	Repoll time.Duration
	// Staleness is the freshness threshold used for re-poll reads.
	Staleness time.Duration
}

func (c *TriggerServiceConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = domain.ProviderTraderMade
	}
	if c.Repoll <= 0 {
		c.Repoll = 10 * time.Second
	}
	if c.Staleness <= 0 {
		c.Staleness = 10 * time.Second
	}
}

// TriggerService watches price changes for open positions and applies
// at-most-once state transitions (target hit, stop hit, break-even). It is
// safe to invoke repeatedly with the same or stale price: re-evaluation is
// keyed by a fingerprint of (position, price) pairs, transitions carry an
// optimistic precondition, and an in-flight guard prevents overlapping passes
// for the same positions.
type TriggerService struct {
	signals  domain.SignalStore
	quotes   QuoteReader
	bus      domain.QuoteBus
	notifier ClosureNotifier
	cfg      TriggerServiceConfig
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{} // position IDs with an uncommitted pass
	lastFP   map[string]uint64   // symbol -> fingerprint of the last pass
}

// NewTriggerService creates a TriggerService. bus may be nil (re-poll only);
// notifier may be nil to disable closure notifications.
func NewTriggerService(signals domain.SignalStore, quotes QuoteReader, bus domain.QuoteBus, notifier ClosureNotifier, cfg TriggerServiceConfig, logger *slog.Logger) *TriggerService {
	cfg.applyDefaults()
	return &TriggerService{
		signals:  signals,
		quotes:   quotes,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "trigger_service")),
		inflight: make(map[string]struct{}),
		lastFP:   make(map[string]uint64),
	}
}

// Run consumes the quote bus and runs the periodic re-poll backstop until ctx
// is cancelled. Push delivery is a latency optimization only; correctness
// rests on the re-poll.
func (t *TriggerService) Run(ctx context.Context) error {
	var events <-chan domain.Quote
	if t.bus != nil {
		ch, err := t.bus.SubscribeQuotes(ctx)
		if err != nil {
			t.logger.Warn("quote bus unavailable, running on re-poll only",
				slog.String("error", err.Error()),
			)
		} else {
			events = ch
		}
	}

	ticker := time.NewTicker(t.cfg.Repoll)
	defer ticker.Stop()

	t.logger.Info("trigger evaluator started")
	defer t.logger.Info("trigger evaluator stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case q, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := t.Evaluate(ctx, q); err != nil {
				t.logger.Warn("evaluation failed",
					slog.String("symbol", q.Symbol),
					slog.String("error", err.Error()),
				)
			}

		case <-ticker.C:
			if err := t.evaluateAll(ctx); err != nil {
				t.logger.Warn("re-poll evaluation failed", slog.String("error", err.Error()))
			}
		}
	}
}

// evaluateAll reads the best available price for every symbol with active
// positions and evaluates each.
func (t *TriggerService) evaluateAll(ctx context.Context) error {
	positions, err := t.signals.ListActiveLive(ctx)
	if err != nil {
		return fmt.Errorf("trigger_service: list positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var symbols []string
	for _, p := range positions {
		sym := t.symbolFor(p)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; !ok {
			seen[sym] = struct{}{}
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	results, err := t.quotes.GetQuotes(ctx, symbols, t.cfg.Staleness)
	if err != nil {
		return fmt.Errorf("trigger_service: read quotes: %w", err)
	}

	for _, sym := range symbols {
		res, ok := results[sym]
		if !ok {
			continue
		}
		if err := t.Evaluate(ctx, res.Quote); err != nil {
			t.logger.Warn("evaluation failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Evaluate applies the latest price for one symbol to all active live
// positions referencing it. Re-running with an unchanged price is a no-op.
func (t *TriggerService) Evaluate(ctx context.Context, quote domain.Quote) error {
	positions, err := t.signals.ListActiveLive(ctx)
	if err != nil {
		return fmt.Errorf("trigger_service: list positions: %w", err)
	}

	var affected []domain.Position
	for _, p := range positions {
		if t.symbolFor(p) == quote.Symbol {
			affected = append(affected, p)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	fp := fingerprint(affected, quote.Price)

	t.mu.Lock()
	if t.lastFP[quote.Symbol] == fp {
		t.mu.Unlock()
		return nil
	}
	// Claim the affected positions; ones already mid-pass are skipped, and
	// the fingerprint is only recorded for a complete pass so they are
	// retried on the next price event.
	var claimed []domain.Position
	for _, p := range affected {
		if _, busy := t.inflight[p.ID]; busy {
			continue
		}
		t.inflight[p.ID] = struct{}{}
		claimed = append(claimed, p)
	}
	t.mu.Unlock()

	if len(claimed) == 0 {
		return nil
	}
	defer func() {
		t.mu.Lock()
		for _, p := range claimed {
			delete(t.inflight, p.ID)
		}
		if len(claimed) == len(affected) {
			t.lastFP[quote.Symbol] = fp
		}
		t.mu.Unlock()
	}()

	var firstErr error
	for _, p := range claimed {
		if err := t.evaluatePosition(ctx, p, quote); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// evaluatePosition checks one position against the price, stop before
// targets, and commits at most the transitions that newly crossed. Each
// commit is atomic and retryable: a failed write leaves the position active
// for the next pass.
func (t *TriggerService) evaluatePosition(ctx context.Context, p domain.Position, quote domain.Quote) error {
	if p.Status.Terminal() || p.RemainingRisk <= 0 || !p.Signal.Live {
		return nil
	}

	price := quote.Price
	sig := p.Signal

	if stopCrossed(sig, price) {
		status := domain.PositionStatusSLHit
		if sig.Breakeven() {
			status = domain.PositionStatusBreakeven
		}
		applied, err := t.signals.ApplyTransition(ctx, domain.PositionTransition{
			PositionID:   p.ID,
			ExpectedRisk: p.RemainingRisk,
			NewRisk:      0,
			HitTarget:    -1,
			Status:       status,
			Price:        price,
			At:           quote.ObservedAt,
		})
		if err != nil {
			return fmt.Errorf("trigger_service: apply stop for %s: %w", p.ID, err)
		}
		if applied {
			t.notifyClosure(ctx, sig, finalTarget(sig), price, quote.ObservedAt, status)
		}
		return nil
	}

	risk := p.RemainingRisk
	for idx, target := range sig.Targets {
		if p.TargetHit(idx) || !targetCrossed(sig.Direction, price, target.Price) {
			continue
		}

		newRisk := risk - target.ClosePercent
		if newRisk < 1e-9 {
			newRisk = 0
		}
		status := domain.PositionStatusActive
		if newRisk == 0 {
			status = domain.PositionStatusTPHit
		}

		applied, err := t.signals.ApplyTransition(ctx, domain.PositionTransition{
			PositionID:   p.ID,
			ExpectedRisk: risk,
			NewRisk:      newRisk,
			HitTarget:    idx,
			Status:       status,
			Price:        price,
			At:           quote.ObservedAt,
		})
		if err != nil {
			return fmt.Errorf("trigger_service: apply target %d for %s: %w", idx, p.ID, err)
		}
		if !applied {
			// Another pass already moved the position; stop here.
			return nil
		}

		t.logger.Info("target hit",
			slog.String("position", p.ID),
			slog.String("pair", sig.Pair),
			slog.Int("target", idx),
			slog.Float64("price", price),
			slog.Float64("remaining_risk", newRisk),
		)

		risk = newRisk
		if status.Terminal() {
			t.notifyClosure(ctx, sig, target.Price, price, quote.ObservedAt, status)
			break
		}
	}

	return nil
}

// notifyClosure emits the closure notification. Failures are logged only;
// the committed closure is authoritative regardless of delivery.
func (t *TriggerService) notifyClosure(ctx context.Context, sig domain.Signal, target, price float64, at time.Time, status domain.PositionStatus) {
	t.logger.Info("position closed",
		slog.String("pair", sig.Pair),
		slog.String("status", string(status)),
		slog.Float64("price", price),
	)

	if t.notifier == nil {
		return
	}
	notice := domain.ClosureNotice{
		Pair:             sig.Pair,
		Direction:        sig.Direction,
		Entry:            sig.Entry,
		Stop:             sig.Stop,
		Target:           target,
		ClosingPrice:     price,
		ClosedAt:         at,
		RealizedMultiple: domain.RealizedMultiple(sig.Entry, sig.Stop, price),
	}
	if err := t.notifier.PositionClosed(ctx, notice); err != nil {
		t.logger.Warn("closure notification failed",
			slog.String("pair", sig.Pair),
			slog.String("error", err.Error()),
		)
	}
}

func (t *TriggerService) symbolFor(p domain.Position) string {
	return domain.ProviderSymbol(p.Signal.Pair, p.Signal.Category, t.cfg.Provider, t.cfg.Overrides)
}

// stopCrossed reports whether the price has reached the stop, direction
// aware: a long stops out at or below, a short at or above.
func stopCrossed(sig domain.Signal, price float64) bool {
	if sig.Direction == domain.DirectionShort {
		return price >= sig.Stop
	}
	return price <= sig.Stop
}

// targetCrossed reports whether the price has reached a take-profit target.
func targetCrossed(dir domain.Direction, price, target float64) bool {
	if dir == domain.DirectionShort {
		return price <= target
	}
	return price >= target
}

// finalTarget returns the last configured target price, 0 when none exist.
func finalTarget(sig domain.Signal) float64 {
	if len(sig.Targets) == 0 {
		return 0
	}
	return sig.Targets[len(sig.Targets)-1].Price
}

// fingerprint hashes the sorted (position, remaining risk, price) tuples of a
// pass so re-running on an unchanged price is a no-op, while a committed
// transition (changed risk) re-arms evaluation.
func fingerprint(positions []domain.Position, price float64) uint64 {
	ids := make([]string, 0, len(positions))
	risks := make(map[string]float64, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
		risks[p.ID] = p.RemainingRisk
	}
	sort.Strings(ids)

	h := fnv.New64a()
	var buf [8]byte
	for _, id := range ids {
		h.Write([]byte(id))
		putUint64(buf[:], math.Float64bits(risks[id]))
		h.Write(buf[:])
	}
	putUint64(buf[:], math.Float64bits(price))
	h.Write(buf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
