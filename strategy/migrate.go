package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/protocol"
	"github.com/michaelpento.lv/leverage/simulate"
	"github.com/michaelpento.lv/leverage/token"
)

// MigrateArgs parameterizes moving a position to another protocol.
type MigrateArgs struct {
	Target protocol.Adapter
}

func (a MigrateArgs) validate(source protocol.Adapter) error {
	if a.Target == nil {
		return argErrorf("target adapter missing")
	}
	if a.Target.Name() == source.Name() {
		return argErrorf("source and target protocol are both %s", source.Name())
	}
	return nil
}

// Migrate rebuilds the position on the target protocol in one
// transaction: a flash loan repays the source debt so collateral can be
// withdrawn, redeposited at the target and borrowed against to settle
// the loan. No swap is involved; the flash-loan fee is the only cost
// and lands as extra debt on the target side.
func (b *Builder) Migrate(ctx context.Context, pos position.Position, args MigrateArgs) (res Result, err error) {
	start := time.Now()
	defer func() { b.record("Migrate", start, err) }()

	if err = args.validate(b.deps.Adapter); err != nil {
		return Result{}, err
	}
	if pos.Collateral.Sign() <= 0 {
		return Result{}, argErrorf("position has no collateral to migrate")
	}

	data, err := args.Target.GetProtocolData(ctx, pos.CollateralToken, pos.DebtToken)
	if err != nil {
		return Result{}, &ProtocolError{Err: err}
	}

	name := "Migrate" + b.deps.Adapter.Name() + "To" + args.Target.Name()

	if pos.Debt.Sign() == 0 {
		return b.buildMigrateDebtFree(pos, data, args.Target, name)
	}

	// The flash loan is taken against the target protocol, so its
	// reported premium overrides the lender default.
	lenders := flashloan.WithProtocolFee(b.deps.FlashLenders, args.Target.Name(), data.FlashLoanFeeBps)
	lender, err := flashloan.Cheapest(lenders)
	if err != nil {
		return Result{}, &UnsupportedError{Combination: name + " without flash lenders"}
	}

	loan := flashloan.Spec{
		Lender: lender,
		Token:  pos.DebtToken,
		Amount: pos.Debt,
	}
	repay := loan.Amount.Add(loan.Fee())

	// The migrated position under the target's oracle and risk
	// category, with the flash fee rolled into the debt.
	next, err := position.New(pos.CollateralToken, pos.Collateral, pos.DebtToken, repay, data.OraclePrice, data.Category)
	if err != nil {
		return Result{}, fmt.Errorf("migrated position: %w", err)
	}
	if err = simulate.CheckInvariants(next); err != nil {
		return Result{}, &SimulationError{Err: err}
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
	approveCollateral, err := setApprovalAction(pos.CollateralToken, args.Target.ApprovalTarget(), pos.Collateral, 0)
	if err != nil {
		return Result{}, err
	}
	deposit, err := args.Target.DepositAction(pos.CollateralToken, pos.Collateral, noMapping)
	if err != nil {
		return Result{}, err
	}
	borrow, err := args.Target.BorrowAction(pos.DebtToken, repay, noMapping)
	if err != nil {
		return Result{}, err
	}
	settle, err := sendTokenAction(pos.DebtToken, b.deps.Addresses.FlashRepayer, repay)
	if err != nil {
		return Result{}, err
	}

	loan.Calls = []executor.Action{approveDebt, payback, withdraw, approveCollateral, deposit, borrow, settle}
	flash, err := flashloanAction(loan)
	if err != nil {
		return Result{}, err
	}
	b.recordFlashLoan(lender)
	b.deps.Logger.Debug("built migrate operation",
		zap.String("name", name),
		zap.String("flash_loan", loan.Amount.String()),
		zap.String("lender", lender.String()))

	sim := simulate.Result{
		Position: next,
		Delta: simulate.Delta{
			Collateral: token.Zero(),
			Debt:       loan.Fee(),
		},
		Swap: simulate.SwapPlan{
			From: pos.DebtToken,
			To:   pos.CollateralToken,
		},
		Flags: simulate.Flags{
			RequiresFlashLoan: true,
		},
	}
	return b.finish(name, sim, []executor.Action{flash})
}

// buildMigrateDebtFree moves a debt-free position without a flash loan:
// withdraw at the source, deposit at the target.
func (b *Builder) buildMigrateDebtFree(pos position.Position, data protocol.Data, target protocol.Adapter, name string) (Result, error) {
	next, err := position.New(pos.CollateralToken, pos.Collateral, pos.DebtToken, token.Zero(), data.OraclePrice, data.Category)
	if err != nil {
		return Result{}, fmt.Errorf("migrated position: %w", err)
	}

	withdraw, err := b.deps.Adapter.WithdrawAction(pos.CollateralToken, pos.Collateral, true, noMapping)
	if err != nil {
		return Result{}, err
	}
	approve, err := setApprovalAction(pos.CollateralToken, target.ApprovalTarget(), pos.Collateral, 0)
	if err != nil {
		return Result{}, err
	}
	deposit, err := target.DepositAction(pos.CollateralToken, pos.Collateral, noMapping)
	if err != nil {
		return Result{}, err
	}

	sim := simulate.Result{
		Position: next,
		Swap: simulate.SwapPlan{
			From: pos.DebtToken,
			To:   pos.CollateralToken,
		},
	}
	return b.finish(name, sim, []executor.Action{withdraw, approve, deposit})
}
