// Package matching holds the small set of deterministic primitives shared by
// every component of the matching core: decimal rounding rules and the error
// kinds the engine raises.
package matching

import "github.com/shopspring/decimal"

// CeilRound3 rounds amount up to 3 fractional digits. Used once, at the
// boundary, when a collateral lock amount is computed — never re-applied
// downstream.
func CeilRound3(amount decimal.Decimal) decimal.Decimal {
	const scale = 1000
	factor := decimal.NewFromInt(scale)
	scaled := amount.Mul(factor)
	ceiled := scaled.Ceil()
	return ceiled.Div(factor)
}

// FloorLotSnap floors q to the nearest integer multiple of lot (min_base_quantity).
// A zero or negative lot leaves q unchanged.
func FloorLotSnap(q, lot decimal.Decimal) decimal.Decimal {
	if lot.Sign() <= 0 {
		return q
	}
	units := q.Div(lot).Floor()
	return units.Mul(lot)
}

// Min returns the smaller of a, b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
