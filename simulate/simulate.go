// Package simulate is the pure position simulator: given a position,
// a target risk ratio and a pricing context, it solves the collateral
// and debt deltas that land the position on target, with protocol and
// flash-loan fees netted out of the swap leg. Everything here is
// deterministic and side-effect-free; the orchestrator relies on that
// to run the same simulation twice (quote pass, then commit pass) and
// get bit-identical results.
package simulate

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/swap"
	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
)

// Simulation invariant errors, checked before a result is returned.
var (
	// ErrBelowDust marks a resulting debt between zero and the
	// category dust limit.
	ErrBelowDust = errors.New("resulting debt below protocol dust limit")
	// ErrExceedsMaxLTV marks a resulting loan-to-value past the
	// category maximum.
	ErrExceedsMaxLTV = errors.New("resulting position exceeds maximum loan-to-value")
	// ErrTargetUnreachable marks a target ratio the fee structure
	// cannot reach (the solver denominator collapses).
	ErrTargetUnreachable = errors.New("target risk ratio unreachable with given fees and prices")
)

// Fees is the fee schedule applied to the swap leg.
type Fees struct {
	ProtocolBps  int64
	FlashLoanBps int64
}

// Context carries everything the solver needs beyond the position
// itself. Prices are wad debt-per-collateral: OraclePrice is the
// protocol's solvency price, MarketPrice the externally quoted rate
// swap proceeds are estimated at. User deposits are amounts supplied
// directly by the caller, not obtained via the swap.
type Context struct {
	Fees        Fees
	OraclePrice *big.Int
	MarketPrice *big.Int
	Slippage    *big.Int

	UserCollateralDeposit token.Amount
	UserDebtDeposit       token.Amount

	FeeSide swap.FeeSide
}

func (c Context) validate() error {
	if c.OraclePrice == nil || c.OraclePrice.Sign() <= 0 {
		return fmt.Errorf("oracle price must be positive")
	}
	if c.MarketPrice == nil || c.MarketPrice.Sign() <= 0 {
		return fmt.Errorf("market price must be positive")
	}
	if c.Slippage == nil || c.Slippage.Sign() < 0 || c.Slippage.Cmp(fpmath.Wad) >= 0 {
		return fmt.Errorf("slippage must be a wad fraction in [0,1)")
	}
	if c.UserCollateralDeposit.Sign() < 0 || c.UserDebtDeposit.Sign() < 0 {
		return fmt.Errorf("user deposits cannot be negative")
	}
	return nil
}

// Delta is the signed change applied to each leg.
type Delta struct {
	Collateral token.Amount
	Debt       token.Amount
}

// SwapPlan is the swap the deltas assume, in the engine's quote shape
// but before the final collaborator quote is requested.
type SwapPlan struct {
	From        token.Token
	To          token.Token
	FromAmount  token.Amount
	ToAmount    token.Amount
	MinToAmount token.Amount
	Fee         token.Amount
	FeeSide     swap.FeeSide
}

// Flags drive branch selection in the orchestrator: risk-up and
// risk-down sequences differ structurally because the flash loan is
// repaid from new debt on the way up but from swap proceeds on the way
// down.
type Flags struct {
	IsIncreasingRisk  bool
	RequiresFlashLoan bool
}

// Result is the simulated outcome.
type Result struct {
	Position position.Position
	Delta    Delta
	Swap     SwapPlan
	Flags    Flags
}

// AdjustToTargetRiskRatio solves the deltas that move pos to the target
// loan-to-value.
//
// Risk-up: flash-borrow X debt tokens, swap to collateral, deposit,
// then draw X·(1+ff) new debt to repay the loan:
//
//	X = (t·P·(C+Cd) − (D−Ud)) / ((1+ff) − t·P·(1−fp)/Pm)
//
// Risk-down: flash-borrow, repay debt, withdraw ΔC collateral and swap
// it back to debt to settle the loan:
//
//	ΔC = ((D−Ud) − t·P·(C+Cd)) / (Pm·(1−fp)/(1+ff) − t·P)
//
// where t is the target LTV, P/Pm oracle/market price, fp/ff the
// protocol and flash-loan fees, Cd/Ud direct user deposits. D−Ud is
// signed: a debt deposit pays outstanding debt down first, and any
// excess stays a net credit that offsets the new debt drawn to repay
// the flash loan, so funding an empty position with the debt token
// still produces a real swap.
func AdjustToTargetRiskRatio(pos position.Position, target position.RiskRatio, ctx Context) (Result, error) {
	if err := ctx.validate(); err != nil {
		return Result{}, err
	}
	if target.LTV().Cmp(fpmath.Wad) >= 0 {
		return Result{}, fmt.Errorf("target ltv %s: %w", target, ErrTargetUnreachable)
	}

	base := pos.Deposit(ctx.UserCollateralDeposit).Payback(ctx.UserDebtDeposit)

	t := target.LTV()
	p := ctx.OraclePrice
	targetValue := fpmath.WadMul(t, base.CollateralValue().Wad())
	netDebt := new(big.Int).Sub(pos.Debt.Wad(), ctx.UserDebtDeposit.Wad())

	// sign of (t·V0 − (D−Ud)) decides the direction
	need := new(big.Int).Sub(targetValue, netDebt)
	switch need.Sign() {
	case 0:
		return noopResult(pos, base, ctx), nil
	case 1:
		return adjustUp(pos, base, t, p, need, ctx)
	default:
		return adjustDown(pos, base, t, p, need, ctx)
	}
}

// Direction reports where the target sits relative to the position once
// the direct deposits are applied: +1 when reaching it adds risk, -1
// when it sheds risk, 0 when already on target. A debt deposit larger
// than the outstanding debt counts as a net credit, so it still demands
// a risk-increasing swap.
func Direction(pos position.Position, target position.RiskRatio, collateralDeposit, debtDeposit token.Amount) int {
	value := pos.Deposit(collateralDeposit).CollateralValue()
	targetValue := fpmath.WadMul(target.LTV(), value.Wad())
	netDebt := new(big.Int).Sub(pos.Debt.Wad(), debtDeposit.Wad())
	return new(big.Int).Sub(targetValue, netDebt).Sign()
}

func noopResult(pos, base position.Position, ctx Context) Result {
	return Result{
		Position: base,
		Delta: Delta{
			Collateral: base.Collateral.Sub(pos.Collateral),
			Debt:       base.Debt.Sub(pos.Debt),
		},
		Swap: SwapPlan{
			From:    pos.DebtToken,
			To:      pos.CollateralToken,
			FeeSide: ctx.FeeSide,
		},
	}
}

func adjustUp(pos, base position.Position, t, p, need *big.Int, ctx Context) (Result, error) {
	onePlusFf := fpmath.OnePlusBps(ctx.Fees.FlashLoanBps)
	oneMinusFp := fpmath.OneMinusBps(ctx.Fees.ProtocolBps)

	// (1+ff) − t·P·(1−fp)/Pm
	conv := fpmath.WadDiv(fpmath.WadMul(p, oneMinusFp), ctx.MarketPrice)
	den := new(big.Int).Sub(onePlusFf, fpmath.WadMul(t, conv))
	if den.Sign() <= 0 {
		return Result{}, fmt.Errorf("adjust up to ltv %s: %w", t, ErrTargetUnreachable)
	}

	x := token.FromWad(fpmath.WadDiv(need, den))

	var fee, received token.Amount
	if ctx.FeeSide == swap.FeeOnSource {
		fee = x.ApplyBps(ctx.Fees.ProtocolBps)
		received = x.Sub(fee).DivWad(ctx.MarketPrice)
	} else {
		gross := x.DivWad(ctx.MarketPrice)
		fee = gross.ApplyBps(ctx.Fees.ProtocolBps)
		received = gross.Sub(fee)
	}

	flashFee := x.ApplyBps(ctx.Fees.FlashLoanBps)
	drawn := x.Add(flashFee)
	// Debt deposited beyond the outstanding debt covers part of the
	// flash repayment directly, shrinking the draw.
	if excess := ctx.UserDebtDeposit.Sub(pos.Debt); excess.Sign() > 0 {
		drawn = drawn.Sub(excess)
		if drawn.Sign() < 0 {
			drawn = token.Zero()
		}
	}

	next := base.Deposit(received).Borrow(drawn)
	if err := CheckInvariants(next); err != nil {
		return Result{}, err
	}

	return Result{
		Position: next,
		Delta: Delta{
			Collateral: next.Collateral.Sub(pos.Collateral),
			Debt:       next.Debt.Sub(pos.Debt),
		},
		Swap: SwapPlan{
			From:        pos.DebtToken,
			To:          pos.CollateralToken,
			FromAmount:  x,
			ToAmount:    received,
			MinToAmount: received.MulWad(fpmath.OneMinusWad(ctx.Slippage)),
			Fee:         fee,
			FeeSide:     ctx.FeeSide,
		},
		Flags: Flags{
			IsIncreasingRisk:  true,
			RequiresFlashLoan: x.Sign() > 0,
		},
	}, nil
}

func adjustDown(pos, base position.Position, t, p, need *big.Int, ctx Context) (Result, error) {
	onePlusFf := fpmath.OnePlusBps(ctx.Fees.FlashLoanBps)
	oneMinusFp := fpmath.OneMinusBps(ctx.Fees.ProtocolBps)

	// net debt recovered per collateral token sold
	k := fpmath.WadDiv(fpmath.WadMul(ctx.MarketPrice, oneMinusFp), onePlusFf)
	den := new(big.Int).Sub(k, fpmath.WadMul(t, p))
	if den.Sign() <= 0 {
		return Result{}, fmt.Errorf("adjust down to ltv %s: %w", t, ErrTargetUnreachable)
	}

	excess := new(big.Int).Neg(need)
	sold := token.FromWad(fpmath.WadDiv(excess, den))
	if sold.Cmp(base.Collateral) > 0 {
		sold = base.Collateral
	}

	var fee, proceeds token.Amount
	if ctx.FeeSide == swap.FeeOnSource {
		fee = sold.ApplyBps(ctx.Fees.ProtocolBps)
		proceeds = sold.Sub(fee).MulWad(ctx.MarketPrice)
	} else {
		gross := sold.MulWad(ctx.MarketPrice)
		fee = gross.ApplyBps(ctx.Fees.ProtocolBps)
		proceeds = gross.Sub(fee)
	}

	repaid := proceeds.DivWad(onePlusFf)

	next := base.Withdraw(sold).Payback(repaid)
	if err := CheckInvariants(next); err != nil {
		return Result{}, err
	}

	return Result{
		Position: next,
		Delta: Delta{
			Collateral: next.Collateral.Sub(pos.Collateral),
			Debt:       next.Debt.Sub(pos.Debt),
		},
		Swap: SwapPlan{
			From:        pos.CollateralToken,
			To:          pos.DebtToken,
			FromAmount:  sold,
			ToAmount:    proceeds,
			MinToAmount: proceeds.MulWad(fpmath.OneMinusWad(ctx.Slippage)),
			Fee:         fee,
			FeeSide:     ctx.FeeSide,
		},
		Flags: Flags{
			IsIncreasingRisk:  false,
			RequiresFlashLoan: repaid.Sign() > 0,
		},
	}, nil
}

// Close produces the full-unwind plan: every collateral token is
// swapped to the debt token, the debt is repaid from the proceeds and
// the remainder is returned to the user. The simulated final position
// is always empty.
func Close(pos position.Position, ctx Context) (Result, error) {
	if err := ctx.validate(); err != nil {
		return Result{}, err
	}

	sold := pos.Collateral

	var fee, proceeds token.Amount
	if ctx.FeeSide == swap.FeeOnSource {
		fee = sold.ApplyBps(ctx.Fees.ProtocolBps)
		proceeds = sold.Sub(fee).MulWad(ctx.MarketPrice)
	} else {
		gross := sold.MulWad(ctx.MarketPrice)
		fee = gross.ApplyBps(ctx.Fees.ProtocolBps)
		proceeds = gross.Sub(fee)
	}

	next := pos.Close()
	return Result{
		Position: next,
		Delta: Delta{
			Collateral: pos.Collateral.Neg(),
			Debt:       pos.Debt.Neg(),
		},
		Swap: SwapPlan{
			From:        pos.CollateralToken,
			To:          pos.DebtToken,
			FromAmount:  sold,
			ToAmount:    proceeds,
			MinToAmount: proceeds.MulWad(fpmath.OneMinusWad(ctx.Slippage)),
			Fee:         fee,
			FeeSide:     ctx.FeeSide,
		},
		Flags: Flags{
			IsIncreasingRisk:  false,
			RequiresFlashLoan: pos.Debt.Sign() > 0,
		},
	}, nil
}

// CheckInvariants reports whether a position violates its risk category:
// debt below the dust limit or loan-to-value above the protocol maximum.
func CheckInvariants(p position.Position) error {
	if p.IsDust() {
		return fmt.Errorf("debt %s below dust limit %s: %w", p.Debt, p.Category.DustLimit, ErrBelowDust)
	}
	if p.RiskRatio().LTV().Cmp(p.Category.MaxLTV) > 0 {
		return fmt.Errorf("ltv %s above maximum %s: %w", p.RiskRatio(), position.FromLTV(p.Category.MaxLTV), ErrExceedsMaxLTV)
	}
	return nil
}
