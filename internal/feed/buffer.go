package feed

import (
	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// TickBuffer accumulates incoming ticks between flushes, keyed by symbol with
// last-value-wins semantics. An update whose timestamp is older than or equal
// to the buffered one is discarded, mirroring the store invariant.
//
// The buffer is single-owner state: only the worker goroutine touches it, so
// it carries no lock.
type TickBuffer struct {
	ticks map[string]domain.Quote
}

// NewTickBuffer creates an empty buffer.
func NewTickBuffer() *TickBuffer {
	return &TickBuffer{ticks: make(map[string]domain.Quote)}
}

// Add records a tick. Invalid quotes and out-of-order updates are dropped.
func (b *TickBuffer) Add(q domain.Quote) {
	if q.Validate() != nil {
		return
	}
	if cur, ok := b.ticks[q.Symbol]; ok && !q.ObservedAt.After(cur.ObservedAt) {
		return
	}
	b.ticks[q.Symbol] = q
}

// Drain returns all buffered ticks and clears the buffer. The caller must
// Restore the returned slice if the flush fails, so no tick is lost beyond
// the buffer window.
func (b *TickBuffer) Drain() []domain.Quote {
	if len(b.ticks) == 0 {
		return nil
	}
	out := make([]domain.Quote, 0, len(b.ticks))
	for _, q := range b.ticks {
		out = append(out, q)
	}
	b.ticks = make(map[string]domain.Quote)
	return out
}

// Restore merges previously drained ticks back into the buffer, keeping the
// newer observation when a fresher tick arrived in the meantime.
func (b *TickBuffer) Restore(quotes []domain.Quote) {
	for _, q := range quotes {
		b.Add(q)
	}
}

// Len returns the number of buffered symbols.
func (b *TickBuffer) Len() int {
	return len(b.ticks)
}
