package strategy

import (
	"context"
	"math/big"
	"time"

	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/token"
)

// OpenArgs parameterizes opening a fresh leveraged position.
type OpenArgs struct {
	CollateralToken token.Token
	DebtToken       token.Token

	// DepositToken is the token the user funds the position with; it
	// must be the collateral or the debt token.
	DepositToken  token.Token
	DepositAmount token.Amount

	TargetRiskRatio position.RiskRatio
	Slippage        *big.Int
}

func (a OpenArgs) validate() error {
	if err := validSlippage(a.Slippage); err != nil {
		return err
	}
	if a.CollateralToken.Equal(a.DebtToken) {
		return argErrorf("collateral and debt token are the same (%s)", a.CollateralToken)
	}
	if a.DepositAmount.Sign() <= 0 {
		return argErrorf("opening requires a positive deposit, got %s", a.DepositAmount)
	}
	if !a.DepositToken.Equal(a.CollateralToken) && !a.DepositToken.Equal(a.DebtToken) {
		return argErrorf("deposit token %s is neither collateral %s nor debt %s",
			a.DepositToken, a.CollateralToken, a.DebtToken)
	}
	if a.TargetRiskRatio.LTV().Sign() < 0 {
		return argErrorf("target risk ratio cannot be negative")
	}
	return nil
}

// Open builds the operation that creates a position at the target risk
// ratio from a single user deposit. A target with no leverage becomes a
// plain deposit with no swap and no flash loan.
func (b *Builder) Open(ctx context.Context, args OpenArgs) (res Result, err error) {
	start := time.Now()
	defer func() { b.record("Open", start, err) }()

	if err = args.validate(); err != nil {
		return Result{}, err
	}

	data, err := b.deps.Adapter.GetProtocolData(ctx, args.CollateralToken, args.DebtToken)
	if err != nil {
		return Result{}, &ProtocolError{Err: err}
	}

	pos, err := position.New(args.CollateralToken, token.Zero(), args.DebtToken, token.Zero(), data.OraclePrice, data.Category)
	if err != nil {
		return Result{}, &ProtocolError{Err: err}
	}

	var collateralDeposit, debtDeposit token.Amount
	if args.DepositToken.Equal(args.CollateralToken) {
		collateralDeposit = args.DepositAmount
	} else {
		debtDeposit = args.DepositAmount
	}

	// The protocol's own flash facility charges whatever the chain
	// reports, not the hard-coded default.
	lenders := flashloan.WithProtocolFee(b.deps.FlashLenders, b.deps.Adapter.Name(), data.FlashLoanFeeBps)

	pl, err := b.planAdjust(ctx, pos, args.TargetRiskRatio, args.Slippage, collateralDeposit, debtDeposit, lenders)
	if err != nil {
		return Result{}, err
	}

	name := "Open" + b.deps.Adapter.Name()
	if !pl.sim.Flags.RequiresFlashLoan {
		return b.buildDirect(pos, pl, collateralDeposit, debtDeposit, name)
	}
	return b.buildRiskUp(pos, pl, collateralDeposit, debtDeposit, name)
}
