package strategy

import (
	"context"
	"time"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/simulate"
	"github.com/michaelpento.lv/leverage/token"
)

// DepositBorrowArgs parameterizes a plain deposit and/or borrow with no
// swap leg and no flash loan.
type DepositBorrowArgs struct {
	// DepositToken must be set (to the position's collateral token)
	// whenever DepositAmount is positive.
	DepositToken  token.Token
	DepositAmount token.Amount
	BorrowAmount  token.Amount
}

func (a DepositBorrowArgs) validate(pos position.Position) error {
	if a.DepositAmount.Sign() < 0 || a.BorrowAmount.Sign() < 0 {
		return argErrorf("amounts cannot be negative")
	}
	if a.DepositAmount.Sign() == 0 && a.BorrowAmount.Sign() == 0 {
		return argErrorf("nothing to deposit or borrow")
	}
	if a.DepositAmount.Sign() > 0 {
		if a.DepositToken == (token.Token{}) {
			return argErrorf("deposit amount %s set but deposit token missing", a.DepositAmount)
		}
		if !a.DepositToken.Equal(pos.CollateralToken) {
			return argErrorf("deposit token %s does not match position collateral %s",
				a.DepositToken, pos.CollateralToken)
		}
	}
	return nil
}

// DepositBorrow builds the direct operation that adds collateral and/or
// draws debt against an existing position. Both amounts are literal;
// the only simulation is the invariant check on the resulting position.
func (b *Builder) DepositBorrow(ctx context.Context, pos position.Position, args DepositBorrowArgs) (res Result, err error) {
	start := time.Now()
	defer func() { b.record("DepositBorrow", start, err) }()

	if err = args.validate(pos); err != nil {
		return Result{}, err
	}

	next := pos.Deposit(args.DepositAmount).Borrow(args.BorrowAmount)
	if err = simulate.CheckInvariants(next); err != nil {
		return Result{}, &SimulationError{Err: err}
	}

	var calls []executor.Action
	if args.DepositAmount.Sign() > 0 {
		pull, err := pullTokenAction(pos.CollateralToken, b.deps.Addresses.User, args.DepositAmount)
		if err != nil {
			return Result{}, err
		}
		approve, err := setApprovalAction(pos.CollateralToken, b.deps.Adapter.ApprovalTarget(), args.DepositAmount, 0)
		if err != nil {
			return Result{}, err
		}
		deposit, err := b.deps.Adapter.DepositAction(pos.CollateralToken, args.DepositAmount, noMapping)
		if err != nil {
			return Result{}, err
		}
		calls = append(calls, pull, approve, deposit)
	}
	if args.BorrowAmount.Sign() > 0 {
		borrow, err := b.deps.Adapter.BorrowAction(pos.DebtToken, args.BorrowAmount, noMapping)
		if err != nil {
			return Result{}, err
		}
		sweep, err := returnFundsAction(pos.DebtToken, b.deps.Addresses.User)
		if err != nil {
			return Result{}, err
		}
		calls = append(calls, borrow, sweep)
	}

	sim := simulate.Result{
		Position: next,
		Delta: simulate.Delta{
			Collateral: args.DepositAmount,
			Debt:       args.BorrowAmount,
		},
		Swap: simulate.SwapPlan{
			From: pos.DebtToken,
			To:   pos.CollateralToken,
		},
		Flags: simulate.Flags{
			IsIncreasingRisk: args.BorrowAmount.Sign() > 0,
		},
	}

	return b.finish("DepositBorrow"+b.deps.Adapter.Name(), sim, calls)
}
