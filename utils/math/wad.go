// Package math provides fixed-point big.Int arithmetic for cross-token
// amount calculations. All internal amounts are wad-scaled (18 decimals);
// fee rates are expressed in basis points. Every function returns a fresh
// *big.Int and never mutates its inputs.
package math

import "math/big"

const (
	// WadDecimals is the canonical internal precision.
	WadDecimals = 18
	// BpsDenominator converts basis points to a fraction (1 bps = 0.01%).
	BpsDenominator = 10000
)

// Wad is 10^18, the canonical fixed-point scale.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

var bpsDen = big.NewInt(BpsDenominator)

// Clone returns a copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// Pow10 returns 10^n.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// WadMul multiplies two wad-scaled values, rounding toward zero.
func WadMul(x, y *big.Int) *big.Int {
	p := new(big.Int).Mul(x, y)
	return p.Quo(p, Wad)
}

// WadDiv divides two wad-scaled values, rounding toward zero.
// Division by zero returns zero rather than panicking; callers that
// need to distinguish must check the denominator first.
func WadDiv(x, y *big.Int) *big.Int {
	if y.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(x, Wad)
	return p.Quo(p, y)
}

// MulDiv computes x*num/den, rounding toward zero.
func MulDiv(x, num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(x, num)
	return p.Quo(p, den)
}

// ApplyBps returns x scaled by a basis-point rate, rounding down.
// ApplyBps(x, 20) is the 0.20% fee charged on x.
func ApplyBps(x *big.Int, bps int64) *big.Int {
	return MulDiv(x, big.NewInt(bps), bpsDen)
}

// OneMinusBps returns the wad fraction (1 - bps/10000).
func OneMinusBps(bps int64) *big.Int {
	return MulDiv(Wad, big.NewInt(BpsDenominator-bps), bpsDen)
}

// OnePlusBps returns the wad fraction (1 + bps/10000).
func OnePlusBps(bps int64) *big.Int {
	return MulDiv(Wad, big.NewInt(BpsDenominator+bps), bpsDen)
}

// OneMinusWad returns the wad fraction (1 - f) for a wad fraction f.
func OneMinusWad(f *big.Int) *big.Int {
	return new(big.Int).Sub(Wad, f)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return Clone(x)
	}
	return Clone(y)
}

// Max returns a copy of the larger of x and y.
func Max(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return Clone(x)
	}
	return Clone(y)
}
