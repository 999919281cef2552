package strategy

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/token"
)

// AdjustArgs parameterizes a risk adjustment of an existing position.
type AdjustArgs struct {
	TargetRiskRatio position.RiskRatio
	Slippage        *big.Int

	// Optional direct deposits applied before the adjustment.
	CollateralDeposit token.Amount
	DebtDeposit       token.Amount
}

func (a AdjustArgs) validate() error {
	if err := validSlippage(a.Slippage); err != nil {
		return err
	}
	if a.TargetRiskRatio.LTV().Sign() < 0 {
		return argErrorf("target risk ratio cannot be negative")
	}
	if a.CollateralDeposit.Sign() < 0 || a.DebtDeposit.Sign() < 0 {
		return argErrorf("deposits cannot be negative")
	}
	return nil
}

// Adjust moves an existing position to the target risk ratio, bridging
// the gap with a flash loan when the swap leg needs capital up front.
// A position already on target yields a result with an empty
// transaction and an unchanged simulated position.
func (b *Builder) Adjust(ctx context.Context, pos position.Position, args AdjustArgs) (res Result, err error) {
	start := time.Now()
	defer func() { b.record("Adjust", start, err) }()

	if err = args.validate(); err != nil {
		return Result{}, err
	}

	pl, err := b.planAdjust(ctx, pos, args.TargetRiskRatio, args.Slippage, args.CollateralDeposit, args.DebtDeposit, b.deps.FlashLenders)
	if err != nil {
		return Result{}, err
	}

	if !pl.sim.Flags.RequiresFlashLoan {
		return b.buildDirect(pos, pl, args.CollateralDeposit, args.DebtDeposit, "Adjust"+b.deps.Adapter.Name())
	}
	if pl.sim.Flags.IsIncreasingRisk {
		return b.buildRiskUp(pos, pl, args.CollateralDeposit, args.DebtDeposit, "AdjustRiskUp"+b.deps.Adapter.Name())
	}
	return b.buildRiskDown(pos, pl, "AdjustRiskDown"+b.deps.Adapter.Name())
}

// buildDirect handles adjustments that need no flash loan: direct
// deposits and debt paydowns, or nothing at all.
func (b *Builder) buildDirect(pos position.Position, pl plan, collateralDeposit, debtDeposit token.Amount, name string) (Result, error) {
	var calls []executor.Action

	if collateralDeposit.Sign() > 0 {
		pull, err := pullTokenAction(pos.CollateralToken, b.deps.Addresses.User, collateralDeposit)
		if err != nil {
			return Result{}, err
		}
		approve, err := setApprovalAction(pos.CollateralToken, b.deps.Adapter.ApprovalTarget(), collateralDeposit, 0)
		if err != nil {
			return Result{}, err
		}
		deposit, err := b.deps.Adapter.DepositAction(pos.CollateralToken, collateralDeposit, noMapping)
		if err != nil {
			return Result{}, err
		}
		calls = append(calls, pull, approve, deposit)
	}

	if debtDeposit.Sign() > 0 {
		pull, err := pullTokenAction(pos.DebtToken, b.deps.Addresses.User, debtDeposit)
		if err != nil {
			return Result{}, err
		}
		approve, err := setApprovalAction(pos.DebtToken, b.deps.Adapter.ApprovalTarget(), debtDeposit, 0)
		if err != nil {
			return Result{}, err
		}
		payback, err := b.deps.Adapter.PaybackAction(pos.DebtToken, debtDeposit, false, noMapping)
		if err != nil {
			return Result{}, err
		}
		calls = append(calls, pull, approve, payback)
	}

	if len(calls) == 0 {
		// Already on target with nothing to move.
		return Result{Simulation: pl.sim}, nil
	}
	return b.finish(name, pl.sim, calls)
}

// buildRiskUp assembles the leverage-increasing operation. The flash
// loan is taken in the debt token; inside the callback the loan is
// swapped to collateral, deposited, and covered by drawing new debt:
//
//	flash borrow debt -> pull deposits -> swap -> approve -> deposit
//	-> pay down -> borrow -> repay loan
//
// A pulled debt deposit pays outstanding debt down first; whatever
// exceeds the debt stays in the proxy and covers part of the flash
// repayment, shrinking the borrow by the same amount.
func (b *Builder) buildRiskUp(pos position.Position, pl plan, collateralDeposit, debtDeposit token.Amount, name string) (Result, error) {
	loan := flashloan.Spec{
		Lender: pl.lender,
		Token:  pos.DebtToken,
		Amount: flashloan.SizeForRiskUp(pl.quote),
	}
	repay := loan.Amount.Add(loan.Fee())

	paydown := debtDeposit
	if paydown.Cmp(pos.Debt) > 0 {
		paydown = pos.Debt
	}
	drawn := repay.Sub(debtDeposit.Sub(paydown))
	if drawn.Sign() < 0 {
		drawn = token.Zero()
	}

	pullCollateral, err := pullTokenAction(pos.CollateralToken, b.deps.Addresses.User, collateralDeposit)
	if err != nil {
		return Result{}, err
	}
	pullDebt, err := pullTokenAction(pos.DebtToken, b.deps.Addresses.User, debtDeposit)
	if err != nil {
		return Result{}, err
	}
	swapCall, err := swapAction(pl.quote)
	if err != nil {
		return Result{}, err
	}
	// Slot 3 is the swap output: the collateral actually received
	// replaces the quoted amounts at execution time.
	approve, err := setApprovalAction(pos.CollateralToken, b.deps.Adapter.ApprovalTarget(), pl.quote.ToAmount, 3)
	if err != nil {
		return Result{}, err
	}
	deposit, err := b.deps.Adapter.DepositAction(pos.CollateralToken, pl.quote.ToAmount, []uint8{0, 3, 0})
	if err != nil {
		return Result{}, err
	}
	approvePaydown, err := setApprovalAction(pos.DebtToken, b.deps.Adapter.ApprovalTarget(), paydown, 0)
	if err != nil {
		return Result{}, err
	}
	payDown, err := b.deps.Adapter.PaybackAction(pos.DebtToken, paydown, false, noMapping)
	if err != nil {
		return Result{}, err
	}
	if paydown.Sign() <= 0 {
		approvePaydown = approvePaydown.Skip()
		payDown = payDown.Skip()
	}
	borrow, err := b.deps.Adapter.BorrowAction(pos.DebtToken, drawn, noMapping)
	if err != nil {
		return Result{}, err
	}
	if drawn.Sign() <= 0 {
		borrow = borrow.Skip()
	}
	settle, err := sendTokenAction(pos.DebtToken, b.deps.Addresses.FlashRepayer, repay)
	if err != nil {
		return Result{}, err
	}

	loan.Calls = []executor.Action{pullCollateral, pullDebt, swapCall, approve, deposit, approvePaydown, payDown, borrow, settle}
	flash, err := flashloanAction(loan)
	if err != nil {
		return Result{}, err
	}
	b.recordFlashLoan(pl.lender)
	b.deps.Logger.Debug("built risk-up operation",
		zap.String("name", name),
		zap.String("flash_loan", loan.Amount.String()),
		zap.String("lender", pl.lender.String()))

	return b.finish(name, pl.sim, []executor.Action{flash})
}

// buildRiskDown assembles the leverage-decreasing operation. The flash
// loan repays debt first so collateral can be withdrawn and sold:
//
//	flash borrow debt -> approve -> payback -> withdraw -> approve
//	-> swap -> repay loan; surplus debt is swept back to the user
func (b *Builder) buildRiskDown(pos position.Position, pl plan, name string) (Result, error) {
	loan := flashloan.Spec{
		Lender: pl.lender,
		Token:  pos.DebtToken,
		Amount: flashloan.SizeForRiskDown(pl.quote),
	}
	sold := pl.sim.Swap.FromAmount

	approveDebt, err := setApprovalAction(pos.DebtToken, b.deps.Adapter.ApprovalTarget(), loan.Amount, 0)
	if err != nil {
		return Result{}, err
	}
	// The payback runs before the swap, so only the flash funds are
	// available; the guaranteed swap output settles the loan after.
	payback, err := b.deps.Adapter.PaybackAction(pos.DebtToken, loan.Amount, false, noMapping)
	if err != nil {
		return Result{}, err
	}
	withdraw, err := b.deps.Adapter.WithdrawAction(pos.CollateralToken, sold, false, noMapping)
	if err != nil {
		return Result{}, err
	}
	approveCollateral, err := setApprovalAction(pos.CollateralToken, b.deps.Addresses.Exchange, sold, 0)
	if err != nil {
		return Result{}, err
	}
	swapCall, err := swapAction(pl.quote)
	if err != nil {
		return Result{}, err
	}
	settle, err := sendTokenAction(pos.DebtToken, b.deps.Addresses.FlashRepayer, loan.Amount.Add(loan.Fee()))
	if err != nil {
		return Result{}, err
	}

	loan.Calls = []executor.Action{approveDebt, payback, withdraw, approveCollateral, swapCall, settle}
	flash, err := flashloanAction(loan)
	if err != nil {
		return Result{}, err
	}
	sweep, err := returnFundsAction(pos.DebtToken, b.deps.Addresses.User)
	if err != nil {
		return Result{}, err
	}
	b.recordFlashLoan(pl.lender)
	b.deps.Logger.Debug("built risk-down operation",
		zap.String("name", name),
		zap.String("flash_loan", loan.Amount.String()),
		zap.String("sold_collateral", sold.String()))

	return b.finish(name, pl.sim, []executor.Action{flash, sweep})
}
