// Package fixedpoint converts between the wire/storage representation of
// on-chain quantities — int64 minor-unit integers, 6-decimal for
// amounts/sizes/volume and 4-decimal for price — and the
// shopspring/decimal.Decimal type used at API and detector boundaries.
//
// Keeping two representations mirrors an integer ticks/lots core with
// decimal-capable types only at the edges.
package fixedpoint

import "github.com/shopspring/decimal"

const (
	// AmountDecimals is the fixed-point precision for size, volume, and
	// USDC-denominated amounts.
	AmountDecimals = 6
	// PriceDecimals is the fixed-point precision for derived price.
	PriceDecimals = 4
)

var (
	amountScale = decimal.New(1, AmountDecimals)
	priceScale  = decimal.New(1, PriceDecimals)
)

// Amount6 is a 6-decimal fixed-point integer (size, volume, USDC amount).
type Amount6 int64

// Price4 is a 4-decimal fixed-point integer, nominally in [0, 10000] for a
// well-formed outcome-token price in [0, 1].
type Price4 int64

// Decimal returns the decimal.Decimal value represented by a.
func (a Amount6) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a)).DivRound(amountScale, AmountDecimals+4)
}

// Decimal returns the decimal.Decimal value represented by p.
func (p Price4) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(p)).DivRound(priceScale, PriceDecimals+4)
}

func (a Amount6) String() string { return a.Decimal().StringFixed(AmountDecimals) }
func (p Price4) String() string  { return p.Decimal().StringFixed(PriceDecimals) }

// AmountFromDecimal converts d to its 6-decimal fixed-point integer form,
// rounding half-even (banker's rounding).
func AmountFromDecimal(d decimal.Decimal) Amount6 {
	return Amount6(d.Mul(amountScale).RoundBank(0).IntPart())
}

// PriceFromDecimal converts d to its 4-decimal fixed-point integer form,
// rounding half-even.
func PriceFromDecimal(d decimal.Decimal) Price4 {
	return Price4(d.Mul(priceScale).RoundBank(0).IntPart())
}

// DerivePrice computes usdcAmount / tokenAmount rounded half-even to 4
// decimals. Both inputs are raw on-chain integers already at the same
// implicit decimal scale (6 for both USDC and CTF outcome tokens on
// Polygon), so the ratio is scale-independent. ok is false when
// tokenAmount is zero — the caller must drop the event.
func DerivePrice(usdcAmount, tokenAmount int64) (price Price4, ok bool) {
	if tokenAmount == 0 {
		return 0, false
	}
	ratio := decimal.NewFromInt(usdcAmount).DivRound(decimal.NewFromInt(tokenAmount), PriceDecimals+4)
	return PriceFromDecimal(ratio), true
}

// Volume returns size * price rounded half-even to 6 decimals.
func Volume(size Amount6, price Price4) Amount6 {
	return AmountFromDecimal(size.Decimal().Mul(price.Decimal()))
}
