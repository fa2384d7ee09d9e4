package feed

import (
	"sort"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// SubscriptionSet is the set of provider symbols the worker must currently
// stream: the union of the symbols referenced by active live positions and
// any statically configured ones. It is recomputed on a fixed interval,
// never mutated in place.
type SubscriptionSet map[string]struct{}

// ComputeSubscriptionSet derives the desired symbol set from the given
// positions plus static symbols, mapping each signal pair through the
// provider symbol function.
func ComputeSubscriptionSet(positions []domain.Position, static []string, provider domain.Provider, overrides domain.SymbolOverrides) SubscriptionSet {
	set := make(SubscriptionSet, len(positions)+len(static))
	for _, p := range positions {
		sym := domain.ProviderSymbol(p.Signal.Pair, p.Signal.Category, provider, overrides)
		if sym != "" {
			set[sym] = struct{}{}
		}
	}
	for _, sym := range static {
		if sym != "" {
			set[sym] = struct{}{}
		}
	}
	return set
}

// Symbols returns the set members in sorted order.
func (s SubscriptionSet) Symbols() []string {
	out := make([]string, 0, len(s))
	for sym := range s {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SubscriptionDiff lists the control actions needed to move the acknowledged
// subscription set to the desired one.
type SubscriptionDiff struct {
	Subscribe   []string
	Unsubscribe []string
}

// Empty reports whether no control messages are needed.
func (d SubscriptionDiff) Empty() bool {
	return len(d.Subscribe) == 0 && len(d.Unsubscribe) == 0
}

// DiffSubscriptions computes the additions and removals between the currently
// acknowledged set and the desired set, both sorted for deterministic control
// messages.
func DiffSubscriptions(current, desired SubscriptionSet) SubscriptionDiff {
	var diff SubscriptionDiff
	for sym := range desired {
		if _, ok := current[sym]; !ok {
			diff.Subscribe = append(diff.Subscribe, sym)
		}
	}
	for sym := range current {
		if _, ok := desired[sym]; !ok {
			diff.Unsubscribe = append(diff.Unsubscribe, sym)
		}
	}
	sort.Strings(diff.Subscribe)
	sort.Strings(diff.Unsubscribe)
	return diff
}
