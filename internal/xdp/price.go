package xdp

import "github.com/shopspring/decimal"

// DefaultPriceMultiplier is used when a symbol's price_scale_code is
// unavailable; it matches the NYSE XDP convention for price_scale_code=6.
const DefaultPriceMultiplier = 1e-6

// ParsePrice converts a raw fixed-point price field to a dollar price using
// the symbol-map-supplied multiplier. This is the canonical decoding path
// (spec.md §4.1).
func ParsePrice(raw uint32, multiplier float64) decimal.Decimal {
	return decimal.NewFromInt(int64(raw)).Mul(decimal.NewFromFloat(multiplier))
}

// LegacyPriceHeuristic reproduces the fallback used by captures without
// symbol metadata: divide by 10000, then re-scale by 100x if the result
// looks implausibly large for an equity price. Deprecated per spec.md §9 —
// only used when no symbol map has been loaded.
func LegacyPriceHeuristic(raw uint32) decimal.Decimal {
	p := decimal.NewFromInt(int64(raw)).Div(decimal.NewFromInt(10000))
	if p.GreaterThan(decimal.NewFromInt(10000)) {
		p = decimal.NewFromInt(int64(raw)).Div(decimal.NewFromInt(1_000_000))
	}
	return p
}
