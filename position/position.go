// Package position models a leveraged lending position as an immutable
// value: collateral and debt legs, the protocol oracle price, and the
// risk parameters of the collateral category. Mutating operations
// return a new Position; nothing here touches the chain.
package position

import (
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
)

// RiskCategory carries the protocol risk parameters for a collateral
// asset. LTVs are wad fractions; DustLimit is a debt-token amount below
// which a position is considered closed.
type RiskCategory struct {
	MaxLTV               *big.Int
	LiquidationThreshold *big.Int
	DustLimit            token.Amount
}

// Validate checks internal consistency of the category.
func (c RiskCategory) Validate() error {
	if c.MaxLTV == nil || c.LiquidationThreshold == nil {
		return fmt.Errorf("risk category missing ltv parameters")
	}
	if c.MaxLTV.Sign() <= 0 || c.MaxLTV.Cmp(fpmath.Wad) >= 0 {
		return fmt.Errorf("max ltv must be in (0,1), got %s", c.MaxLTV)
	}
	if c.LiquidationThreshold.Cmp(c.MaxLTV) < 0 {
		return fmt.Errorf("liquidation threshold %s below max ltv %s", c.LiquidationThreshold, c.MaxLTV)
	}
	return nil
}

// Position is an immutable snapshot of a collateralized debt position.
// OraclePrice is the protocol oracle's price of one collateral token
// denominated in debt tokens, so LTV = debt / (collateral × price).
type Position struct {
	CollateralToken token.Token
	Collateral      token.Amount
	DebtToken       token.Token
	Debt            token.Amount
	OraclePrice     *big.Int
	Category        RiskCategory
}

// New validates and builds a position snapshot.
func New(collateralToken token.Token, collateral token.Amount, debtToken token.Token, debt token.Amount, oraclePrice *big.Int, category RiskCategory) (Position, error) {
	if collateral.Sign() < 0 || debt.Sign() < 0 {
		return Position{}, fmt.Errorf("position amounts cannot be negative")
	}
	if oraclePrice == nil || oraclePrice.Sign() <= 0 {
		return Position{}, fmt.Errorf("oracle price must be positive")
	}
	if err := category.Validate(); err != nil {
		return Position{}, err
	}
	return Position{
		CollateralToken: collateralToken,
		Collateral:      collateral,
		DebtToken:       debtToken,
		Debt:            debt,
		OraclePrice:     fpmath.Clone(oraclePrice),
		Category:        category,
	}, nil
}

// Deposit returns the position after adding collateral.
func (p Position) Deposit(amount token.Amount) Position {
	p.Collateral = p.Collateral.Add(amount)
	return p
}

// Withdraw returns the position after removing collateral. The result
// is clamped at zero: a withdraw of more than the balance empties the
// leg rather than going negative.
func (p Position) Withdraw(amount token.Amount) Position {
	next := p.Collateral.Sub(amount)
	if next.Sign() < 0 {
		next = token.Zero()
	}
	p.Collateral = next
	return p
}

// Borrow returns the position after drawing additional debt.
func (p Position) Borrow(amount token.Amount) Position {
	p.Debt = p.Debt.Add(amount)
	return p
}

// Payback returns the position after repaying debt, clamped at zero.
func (p Position) Payback(amount token.Amount) Position {
	next := p.Debt.Sub(amount)
	if next.Sign() < 0 {
		next = token.Zero()
	}
	p.Debt = next
	return p
}

// Close returns the fully unwound position.
func (p Position) Close() Position {
	p.Collateral = token.Zero()
	p.Debt = token.Zero()
	return p
}

// CollateralValue is the collateral leg valued in debt tokens at the
// oracle price.
func (p Position) CollateralValue() token.Amount {
	return p.Collateral.MulWad(p.OraclePrice)
}

// RiskRatio is the current loan-to-value. An empty position has zero
// risk.
func (p Position) RiskRatio() RiskRatio {
	value := p.CollateralValue()
	if value.Sign() <= 0 {
		return RiskRatio{}
	}
	return FromLTV(fpmath.WadDiv(p.Debt.Wad(), value.Wad()))
}

// LiquidationPrice is the oracle price at which the position reaches
// its liquidation threshold: debt / (collateral × threshold). Zero for
// positions with no debt or no collateral.
func (p Position) LiquidationPrice() *big.Int {
	if p.Collateral.Sign() <= 0 || p.Debt.Sign() <= 0 {
		return new(big.Int)
	}
	den := fpmath.WadMul(p.Collateral.Wad(), p.Category.LiquidationThreshold)
	return fpmath.WadDiv(p.Debt.Wad(), den)
}

// AvailableToBorrow is the additional debt that can be drawn before
// hitting max LTV, in debt tokens. Zero when already at or past the
// limit.
func (p Position) AvailableToBorrow() token.Amount {
	limit := p.CollateralValue().MulWad(p.Category.MaxLTV)
	head := limit.Sub(p.Debt)
	if head.Sign() < 0 {
		return token.Zero()
	}
	return head
}

// AvailableToWithdraw is the collateral that can be removed while the
// remaining balance still covers the debt at max LTV.
func (p Position) AvailableToWithdraw() token.Amount {
	if p.Debt.IsZero() {
		return p.Collateral
	}
	// minimum collateral required: debt / (maxLTV × price)
	needed := fpmath.WadDiv(p.Debt.Wad(), fpmath.WadMul(p.Category.MaxLTV, p.OraclePrice))
	head := p.Collateral.Sub(token.FromWad(needed))
	if head.Sign() < 0 {
		return token.Zero()
	}
	return head
}

// IsDust reports whether a nonzero debt sits below the category's dust
// limit.
func (p Position) IsDust() bool {
	return !p.Debt.IsZero() && p.Debt.Cmp(p.Category.DustLimit) < 0
}

func (p Position) String() string {
	return fmt.Sprintf("%s/%s collateral=%s debt=%s ltv=%s",
		p.CollateralToken, p.DebtToken, p.Collateral, p.Debt, p.RiskRatio())
}
