package strategy

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/simulate"
	"github.com/michaelpento.lv/leverage/swap"
)

// CloseArgs parameterizes a full unwind.
type CloseArgs struct {
	Slippage *big.Int
}

func (a CloseArgs) validate() error {
	return validSlippage(a.Slippage)
}

// Close builds the full-unwind operation: the outstanding debt is
// repaid with a flash loan, all collateral is withdrawn and swapped to
// the debt token, the loan is settled from the proceeds and whatever
// remains is returned to the user.
func (b *Builder) Close(ctx context.Context, pos position.Position, args CloseArgs) (res Result, err error) {
	start := time.Now()
	defer func() { b.record("Close", start, err) }()

	if err = args.validate(); err != nil {
		return Result{}, err
	}
	if pos.Collateral.Sign() <= 0 && pos.Debt.Sign() <= 0 {
		return Result{}, argErrorf("position is already empty")
	}

	lender, err := flashloan.Cheapest(b.deps.FlashLenders)
	if err != nil {
		return Result{}, &UnsupportedError{Combination: b.deps.Adapter.Name() + " without flash lenders"}
	}

	side, fallback := b.deps.Resolver.FeeSideFor(pos.CollateralToken, pos.DebtToken)
	if fallback {
		b.deps.Logger.Warn("fee side fallback for pair",
			zap.String("from", pos.CollateralToken.Symbol),
			zap.String("to", pos.DebtToken.Symbol))
	}
	marketPrice, err := b.deps.Resolver.MarketPrice(ctx, pos.CollateralToken, pos.DebtToken)
	if err != nil {
		return Result{}, &QuoteError{Err: err}
	}

	sim, err := simulate.Close(pos, simulate.Context{
		Fees: simulate.Fees{
			ProtocolBps:  b.deps.Resolver.FeeBps(),
			FlashLoanBps: lender.FeeBps,
		},
		OraclePrice: pos.OraclePrice,
		MarketPrice: marketPrice,
		Slippage:    args.Slippage,
		FeeSide:     side,
	})
	if err != nil {
		return Result{}, &SimulationError{Err: err}
	}

	quote, err := b.commitQuote(ctx, sim.Swap, args.Slippage)
	if err != nil {
		return Result{}, err
	}

	name := "Close" + b.deps.Adapter.Name()
	if !sim.Flags.RequiresFlashLoan {
		return b.buildCloseDebtFree(pos, sim, quote, name)
	}

	// Flash-borrow exactly the outstanding debt; fee settles from
	// swap proceeds.
	loan := flashloan.Spec{
		Lender: lender,
		Token:  pos.DebtToken,
		Amount: pos.Debt,
	}

	approveDebt, err := setApprovalAction(pos.DebtToken, b.deps.Adapter.ApprovalTarget(), loan.Amount, 0)
	if err != nil {
		return Result{}, err
	}
	payback, err := b.deps.Adapter.PaybackAction(pos.DebtToken, loan.Amount, true, noMapping)
	if err != nil {
		return Result{}, err
	}
	withdraw, err := b.deps.Adapter.WithdrawAction(pos.CollateralToken, pos.Collateral, true, noMapping)
	if err != nil {
		return Result{}, err
	}
	approveCollateral, err := setApprovalAction(pos.CollateralToken, b.deps.Addresses.Exchange, pos.Collateral, 0)
	if err != nil {
		return Result{}, err
	}
	swapCall, err := swapAction(quote)
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
	b.recordFlashLoan(lender)
	b.deps.Logger.Debug("built close operation",
		zap.String("name", name),
		zap.String("flash_loan", loan.Amount.String()),
		zap.String("lender", lender.String()))

	return b.finish(name, sim, []executor.Action{flash, sweep})
}

// buildCloseDebtFree unwinds a position with no outstanding debt: no
// flash loan is needed, collateral is withdrawn and sold directly.
func (b *Builder) buildCloseDebtFree(pos position.Position, sim simulate.Result, quote swap.Quote, name string) (Result, error) {
	withdraw, err := b.deps.Adapter.WithdrawAction(pos.CollateralToken, pos.Collateral, true, noMapping)
	if err != nil {
		return Result{}, err
	}
	approve, err := setApprovalAction(pos.CollateralToken, b.deps.Addresses.Exchange, pos.Collateral, 0)
	if err != nil {
		return Result{}, err
	}
	swapCall, err := swapAction(quote)
	if err != nil {
		return Result{}, err
	}
	sweep, err := returnFundsAction(pos.DebtToken, b.deps.Addresses.User)
	if err != nil {
		return Result{}, err
	}
	return b.finish(name, sim, []executor.Action{withdraw, approve, swapCall, sweep})
}
