package token

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	fpmath "github.com/michaelpento.lv/leverage/utils/math"
)

// Amount is a token quantity pinned to the canonical 18-decimal fixed
// point. The zero value is a zero amount. Amounts may be negative; the
// position simulator uses signed deltas.
//
// Entering or leaving the canonical representation always goes through
// one of the explicit constructors/views below, so two amounts can be
// combined without tracking which precision they started in.
type Amount struct {
	wad *big.Int
}

// Zero returns a zero amount.
func Zero() Amount {
	return Amount{wad: new(big.Int)}
}

// FromWad wraps a canonical 18-decimal integer. The input is copied.
func FromWad(w *big.Int) Amount {
	return Amount{wad: fpmath.Clone(w)}
}

// FromNative converts a raw integer amount in token-native units.
// The conversion is exact for any decimals up to MaxDecimals.
func FromNative(raw *big.Int, decimals uint8) (Amount, error) {
	if decimals > MaxDecimals {
		return Amount{}, fmt.Errorf("cannot represent %d-decimal native amount canonically", decimals)
	}
	if raw == nil {
		return Zero(), nil
	}
	scale := fpmath.Pow10(MaxDecimals - decimals)
	return Amount{wad: new(big.Int).Mul(raw, scale)}, nil
}

// FromDecimal converts a human-normalized quantity. Precision beyond 18
// decimal places is truncated toward zero.
func FromDecimal(d decimal.Decimal) Amount {
	shifted := d.Shift(MaxDecimals).Truncate(0)
	return Amount{wad: shifted.BigInt()}
}

// Wad returns a copy of the canonical integer.
func (a Amount) Wad() *big.Int {
	return fpmath.Clone(a.wad)
}

// Native converts back to token-native integer units, rounding toward
// zero. FromNative followed by Native with the same decimals returns
// the original integer exactly.
func (a Amount) Native(decimals uint8) *big.Int {
	if decimals > MaxDecimals {
		return new(big.Int)
	}
	scale := fpmath.Pow10(MaxDecimals - decimals)
	return new(big.Int).Quo(a.Wad(), scale)
}

// Decimal returns the human-normalized view.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.Wad(), -MaxDecimals)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{wad: new(big.Int).Add(a.Wad(), b.Wad())}
}

// Sub returns a - b. The result may be negative.
func (a Amount) Sub(b Amount) Amount {
	return Amount{wad: new(big.Int).Sub(a.Wad(), b.Wad())}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{wad: new(big.Int).Neg(a.Wad())}
}

// MulWad scales the amount by a wad fraction, rounding toward zero.
func (a Amount) MulWad(f *big.Int) Amount {
	return Amount{wad: fpmath.WadMul(a.Wad(), f)}
}

// DivWad divides the amount by a wad fraction, rounding toward zero.
func (a Amount) DivWad(f *big.Int) Amount {
	return Amount{wad: fpmath.WadDiv(a.Wad(), f)}
}

// ApplyBps returns the basis-point fraction of the amount (a fee).
func (a Amount) ApplyBps(bps int64) Amount {
	return Amount{wad: fpmath.ApplyBps(a.Wad(), bps)}
}

// Cmp compares two amounts.
func (a Amount) Cmp(b Amount) int {
	return a.wadOrZero().Cmp(b.wadOrZero())
}

// Sign reports the sign of the amount.
func (a Amount) Sign() int {
	return a.wadOrZero().Sign()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

func (a Amount) String() string {
	return a.Decimal().String()
}

func (a Amount) wadOrZero() *big.Int {
	if a.wad == nil {
		return new(big.Int)
	}
	return a.wad
}
