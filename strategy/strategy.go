// Package strategy assembles executable operations for leveraged
// lending positions: open, adjust, close, deposit-borrow and migrate.
// It runs the position simulator twice per build (a quote pass against
// the observed market price, then a commit pass with the collaborator's
// final swap quote) and turns the simulated plan into the executor's
// action sequence, bridging flash loans where a step needs capital the
// position does not yet have.
package strategy

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/protocol"
	"github.com/michaelpento.lv/leverage/simulate"
	"github.com/michaelpento.lv/leverage/swap"
	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
	"github.com/michaelpento.lv/leverage/utils/metrics"
)

// Addresses is the builder's address book: contracts the generated
// actions reference as literal arguments. Action target contracts are
// not here, they resolve by name through the on-chain registry.
type Addresses struct {
	// Exchange is the swap router, the spender behind swap approvals.
	Exchange common.Address
	// FlashRepayer receives the repayment transfer that settles a
	// flash loan at the end of its callback.
	FlashRepayer common.Address
	// User is the funds origin for pulls and the recipient for
	// returned funds.
	User common.Address
}

// Dependencies wires a Builder.
type Dependencies struct {
	Resolver     *swap.Resolver
	Adapter      protocol.Adapter
	FlashLenders []flashloan.Lender
	Addresses    Addresses
	Logger       *zap.Logger
	Metrics      *metrics.BuilderMetrics // optional
}

func (d Dependencies) validate() error {
	if d.Resolver == nil {
		return fmt.Errorf("resolver cannot be nil")
	}
	if d.Adapter == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	if d.Logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}
	if d.Addresses.User == (common.Address{}) {
		return fmt.Errorf("user address cannot be zero")
	}
	return nil
}

// Transaction is the executable half of a build result.
type Transaction struct {
	Calls         []executor.Action
	OperationName string
}

// Operation re-assembles the executor operation for encoding.
func (t Transaction) Operation() (executor.Operation, error) {
	return executor.NewOperation(t.OperationName, t.Calls...)
}

// Result pairs the executable operation with the simulation that
// produced it.
type Result struct {
	Transaction Transaction
	Simulation  simulate.Result
}

// Builder builds strategy operations against one protocol adapter.
type Builder struct {
	deps Dependencies
}

func New(deps Dependencies) (*Builder, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("strategy builder: %w", err)
	}
	return &Builder{deps: deps}, nil
}

// plan is the shared two-pass core: observe the market price, solve the
// deltas, then fetch the binding quote for the planned swap.
type plan struct {
	sim    simulate.Result
	quote  swap.Quote
	lender flashloan.Lender
}

func (b *Builder) planAdjust(ctx context.Context, pos position.Position, target position.RiskRatio, slippage *big.Int, collateralDeposit, debtDeposit token.Amount, lenders []flashloan.Lender) (plan, error) {
	lender, err := flashloan.Cheapest(lenders)
	if err != nil {
		return plan{}, &UnsupportedError{Combination: fmt.Sprintf("%s without flash lenders", b.deps.Adapter.Name())}
	}

	// Fee side is fixed per pair before any amount is known; the swap
	// direction follows from where the target sits relative to the
	// position after direct deposits.
	dir := simulate.Direction(pos, target, collateralDeposit, debtDeposit)
	from, to := pos.CollateralToken, pos.DebtToken
	if dir > 0 {
		from, to = pos.DebtToken, pos.CollateralToken
	}
	side, fallback := b.deps.Resolver.FeeSideFor(from, to)
	if fallback {
		b.deps.Logger.Warn("fee side fallback for pair",
			zap.String("from", from.Symbol),
			zap.String("to", to.Symbol))
	}

	// A position already on target swaps nothing, so the collaborator
	// is never consulted for a price.
	marketPrice := fpmath.Clone(pos.OraclePrice)
	if dir != 0 {
		marketPrice, err = b.deps.Resolver.MarketPrice(ctx, pos.CollateralToken, pos.DebtToken)
		if err != nil {
			return plan{}, &QuoteError{Err: err}
		}
	}

	simCtx := simulate.Context{
		Fees: simulate.Fees{
			ProtocolBps:  b.deps.Resolver.FeeBps(),
			FlashLoanBps: lender.FeeBps,
		},
		OraclePrice:           pos.OraclePrice,
		MarketPrice:           marketPrice,
		Slippage:              slippage,
		UserCollateralDeposit: collateralDeposit,
		UserDebtDeposit:       debtDeposit,
		FeeSide:               side,
	}
	sim, err := simulate.AdjustToTargetRiskRatio(pos, target, simCtx)
	if err != nil {
		return plan{}, &SimulationError{Err: err}
	}

	quote, err := b.commitQuote(ctx, sim.Swap, slippage)
	if err != nil {
		return plan{}, err
	}
	return plan{sim: sim, quote: quote, lender: lender}, nil
}

// commitQuote fetches the binding collaborator quote for the simulated
// swap leg, or a zero quote when nothing is swapped.
func (b *Builder) commitQuote(ctx context.Context, sw simulate.SwapPlan, slippage *big.Int) (swap.Quote, error) {
	if sw.FromAmount.Sign() <= 0 {
		return swap.ZeroQuote(sw.From, sw.To), nil
	}
	q, err := b.deps.Resolver.Quote(ctx, sw.From, sw.To, sw.FromAmount, slippage)
	if err != nil {
		return swap.Quote{}, &QuoteError{Err: err}
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.SwapVolume.Add(wadToFloat(sw.FromAmount))
	}
	return q, nil
}

func (b *Builder) finish(name string, sim simulate.Result, calls []executor.Action) (Result, error) {
	op, err := executor.NewOperation(name, calls...)
	if err != nil {
		return Result{}, fmt.Errorf("assemble %s: %w", name, err)
	}
	return Result{
		Transaction: Transaction{
			Calls:         op.Actions,
			OperationName: op.Name,
		},
		Simulation: sim,
	}, nil
}

func (b *Builder) record(strategy string, start time.Time, err error) {
	if b.deps.Metrics == nil {
		return
	}
	b.deps.Metrics.RecordBuild(strategy, b.deps.Adapter.Name(), start, errClass(err))
}

func (b *Builder) recordFlashLoan(l flashloan.Lender) {
	if b.deps.Metrics == nil {
		return
	}
	b.deps.Metrics.FlashLoans.WithLabelValues(l.String()).Inc()
}

func wadToFloat(a token.Amount) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(a.Wad()),
		new(big.Float).SetInt(big.NewInt(1e18)),
	).Float64()
	return f
}

func validSlippage(slippage *big.Int) error {
	if slippage == nil || slippage.Sign() < 0 || slippage.Cmp(big.NewInt(1e18)) >= 0 {
		return argErrorf("slippage must be a wad fraction in [0,1)")
	}
	return nil
}
