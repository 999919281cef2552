package position

import (
	"fmt"
	"math/big"

	fpmath "github.com/michaelpento.lv/leverage/utils/math"
)

// RiskRatio is a loan-to-value expressed as a wad fraction. The zero
// value is zero risk. Callers that think in leverage multiples convert
// through FromMultiple / Multiple.
type RiskRatio struct {
	ltv *big.Int
}

// FromLTV wraps a wad loan-to-value.
func FromLTV(ltv *big.Int) RiskRatio {
	return RiskRatio{ltv: fpmath.Clone(ltv)}
}

// FromMultiple converts a wad leverage multiple m (total exposure over
// own equity) to its loan-to-value: LTV = 1 - 1/m. Multiples below 1
// are invalid.
func FromMultiple(m *big.Int) (RiskRatio, error) {
	if m == nil || m.Cmp(fpmath.Wad) < 0 {
		return RiskRatio{}, fmt.Errorf("leverage multiple must be >= 1, got %s", m)
	}
	inv := fpmath.WadDiv(fpmath.Wad, m)
	return RiskRatio{ltv: new(big.Int).Sub(fpmath.Wad, inv)}, nil
}

// LTV returns a copy of the wad loan-to-value.
func (r RiskRatio) LTV() *big.Int {
	return fpmath.Clone(r.ltv)
}

// Multiple returns the wad leverage multiple 1/(1-LTV). An LTV at or
// above 1 has no finite multiple and returns zero.
func (r RiskRatio) Multiple() *big.Int {
	ltv := r.LTV()
	if ltv.Cmp(fpmath.Wad) >= 0 {
		return new(big.Int)
	}
	return fpmath.WadDiv(fpmath.Wad, new(big.Int).Sub(fpmath.Wad, ltv))
}

// Cmp compares two risk ratios.
func (r RiskRatio) Cmp(o RiskRatio) int {
	return r.LTV().Cmp(o.LTV())
}

// IsZero reports a zero (no-risk) ratio.
func (r RiskRatio) IsZero() bool {
	return r.ltv == nil || r.ltv.Sign() == 0
}

func (r RiskRatio) String() string {
	ltv := r.LTV()
	pct := new(big.Int).Mul(ltv, big.NewInt(100))
	return fmt.Sprintf("%s%%", new(big.Int).Quo(pct, fpmath.Wad))
}
