package domain

import "strings"

// Category groups instruments by market segment. Some providers format the
// same pair differently per segment (e.g. index symbols are not splittable
// base/quote codes).
type Category string

const (
	CategoryForex       Category = "forex"
	CategoryCrypto      Category = "crypto"
	CategoryIndices     Category = "indices"
	CategoryCommodities Category = "commodities"
)

// SymbolOverrides maps an internal pair code to an explicit provider symbol,
// taking precedence over the derived mapping. Keys are upper-case pair codes.
type SymbolOverrides map[string]string

// ProviderSymbol derives the provider-specific instrument symbol for an
// internal pair code. It is a pure function of (pair, category, provider)
// plus the optional override table; no hidden state.
//
// The internal code is either already separated ("EUR/USD") or a plain
// 6-character code ("EURUSD") that splits into base and quote halves.
// Index and commodity codes are passed through unsplit since they are not
// base/quote pairs.
func ProviderSymbol(pair string, category Category, provider Provider, overrides SymbolOverrides) string {
	code := strings.ToUpper(strings.TrimSpace(pair))
	if code == "" {
		return ""
	}
	if sym, ok := overrides[code]; ok {
		return sym
	}

	base, quote := splitPair(code, category)

	switch provider {
	case ProviderTraderMade:
		// TraderMade wants concatenated upper-case codes ("EURUSD", "BTCUSD").
		if base == "" {
			return code
		}
		return base + quote
	default:
		if base == "" {
			return code
		}
		return base + "/" + quote
	}
}

// splitPair splits an internal pair code into base and quote currencies.
// It returns empty strings when the code is not a splittable pair.
func splitPair(code string, category Category) (base, quote string) {
	switch category {
	case CategoryIndices, CategoryCommodities:
		return "", ""
	}
	if i := strings.IndexAny(code, "/-_"); i > 0 && i < len(code)-1 {
		return code[:i], code[i+1:]
	}
	// A plain 6-character code splits into two 3-letter halves.
	if len(code) == 6 {
		return code[:3], code[3:]
	}
	return "", ""
}
