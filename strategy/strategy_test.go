package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/protocol"
	"github.com/michaelpento.lv/leverage/simulate"
	"github.com/michaelpento.lv/leverage/swap"
	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
)

var (
	weth = token.MustNew("WETH", common.HexToAddress("0x1"), 18, false)
	dai  = token.MustNew("DAI", common.HexToAddress("0x2"), 18, false)

	userAddr     = common.HexToAddress("0xaa")
	poolAddr     = common.HexToAddress("0xbb")
	exchangeAddr = common.HexToAddress("0xcc")
	repayerAddr  = common.HexToAddress("0xdd")
)

func wad(x int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(x), fpmath.Wad)
}

func amt(x int64) token.Amount {
	return token.FromWad(wad(x))
}

// 80% max LTV, 82.5% liquidation, 1 DAI dust.
func testCategory() position.RiskCategory {
	return position.RiskCategory{
		MaxLTV:               big.NewInt(8e17),
		LiquidationThreshold: big.NewInt(825e15),
		DustLimit:            amt(1),
	}
}

type mockAdapter struct {
	name string
	pool common.Address
	data protocol.Data
	err  error
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) ApprovalTarget() common.Address { return m.pool }

func (m *mockAdapter) GetProtocolData(_ context.Context, _, _ token.Token) (protocol.Data, error) {
	if m.err != nil {
		return protocol.Data{}, m.err
	}
	return m.data, nil
}

func (m *mockAdapter) GetPosition(_ context.Context, _ common.Address, _, _ token.Token) (position.Position, error) {
	return position.Position{}, errors.New("not implemented")
}

func (m *mockAdapter) DepositAction(asset token.Token, amount token.Amount, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(m.name+"Deposit", []string{"address", "uint256"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals)}, paramMap)
}

func (m *mockAdapter) BorrowAction(asset token.Token, amount token.Amount, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(m.name+"Borrow", []string{"address", "uint256"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals)}, paramMap)
}

func (m *mockAdapter) PaybackAction(asset token.Token, amount token.Amount, paybackAll bool, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(m.name+"Payback", []string{"address", "uint256", "bool"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals), paybackAll}, paramMap)
}

func (m *mockAdapter) WithdrawAction(asset token.Token, amount token.Amount, withdrawAll bool, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(m.name+"Withdraw", []string{"address", "uint256", "bool"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals), withdrawAll}, paramMap)
}

func newAaveAdapter() *mockAdapter {
	return &mockAdapter{
		name: "AaveV3",
		pool: poolAddr,
		data: protocol.Data{
			OraclePrice:     wad(2000),
			Category:        testCategory(),
			FlashLoanFeeBps: 5,
		},
	}
}

// pricedQuoter fixes WETH/DAI at 2000 in both directions.
func pricedQuoter() *swap.MockQuoter {
	q := swap.NewMockQuoter()
	q.SetPrice(weth, dai, wad(2000))
	q.SetPrice(dai, weth, big.NewInt(5e14)) // 1/2000
	return q
}

func newTestBuilder(t *testing.T, quoter swap.Quoter, adapter protocol.Adapter, lenders []flashloan.Lender) *Builder {
	t.Helper()
	resolver, err := swap.NewResolver(quoter, swap.ResolverConfig{
		AcceptedFeeTokens: []string{"DAI"},
		FeeBps:            20,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	b, err := New(Dependencies{
		Resolver:     resolver,
		Adapter:      adapter,
		FlashLenders: lenders,
		Addresses: Addresses{
			Exchange:     exchangeAddr,
			FlashRepayer: repayerAddr,
			User:         userAddr,
		},
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return b
}

func actionNames(actions []executor.Action) []string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.TargetName
	}
	return names
}

func testPosition(t *testing.T, collateral, debt int64) position.Position {
	t.Helper()
	pos, err := position.New(weth, amt(collateral), dai, amt(debt), wad(2000), testCategory())
	require.NoError(t, err)
	return pos
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}

func TestOpenZeroSwap(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})

	res, err := b.Open(context.Background(), OpenArgs{
		CollateralToken: weth,
		DebtToken:       dai,
		DepositToken:    weth,
		DepositAmount:   amt(10),
		TargetRiskRatio: position.FromLTV(big.NewInt(0)),
		Slippage:        big.NewInt(1e16),
	})
	require.NoError(t, err)

	assert.Equal(t, "OpenAaveV3", res.Transaction.OperationName)
	assert.Equal(t, []string{"PullToken", "SetApproval", "AaveV3Deposit"}, actionNames(res.Transaction.Calls))

	// The deposit lands unchanged: no swap, no debt, no flash loan.
	assert.Equal(t, 0, res.Simulation.Position.Collateral.Cmp(amt(10)))
	assert.True(t, res.Simulation.Position.Debt.IsZero())
	assert.True(t, res.Simulation.Swap.FromAmount.IsZero())
	assert.False(t, res.Simulation.Flags.RequiresFlashLoan)
}

func TestOpenLeveraged(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderAaveV3.Lender(), flashloan.ProviderBalancer.Lender()})

	target, err := position.FromMultiple(big.NewInt(13e17)) // 1.3x
	require.NoError(t, err)

	res, err := b.Open(context.Background(), OpenArgs{
		CollateralToken: weth,
		DebtToken:       dai,
		DepositToken:    weth,
		DepositAmount:   amt(100),
		TargetRiskRatio: target,
		Slippage:        big.NewInt(1e16),
	})
	require.NoError(t, err)

	require.Len(t, res.Transaction.Calls, 1)
	flash := res.Transaction.Calls[0]
	// Balancer is free, Aave charges a premium.
	assert.Equal(t, "TakeFlashloanBalancer", flash.TargetName)

	nested := flash.NestedCalls()
	assert.Equal(t, []string{
		"PullToken", "PullToken", "SwapTokens", "SetApproval",
		"AaveV3Deposit", "SetApproval", "AaveV3Payback", "AaveV3Borrow", "SendToken",
	}, actionNames(nested))
	assert.False(t, nested[0].Skipped, "collateral pull carries the user deposit")
	assert.True(t, nested[1].Skipped, "no debt-token deposit")
	assert.True(t, nested[5].Skipped, "nothing to pay down")
	assert.True(t, nested[6].Skipped, "nothing to pay down")
	assert.False(t, nested[7].Skipped, "borrow repays the flash loan")

	// The simulated position lands on target.
	diff := new(big.Int).Sub(res.Simulation.Position.RiskRatio().LTV(), target.LTV())
	assert.True(t, diff.CmpAbs(big.NewInt(1e6)) <= 0, "ltv off target by %s", diff)
	assert.True(t, res.Simulation.Flags.IsIncreasingRisk)
	assert.True(t, res.Simulation.Flags.RequiresFlashLoan)
}

func TestOpenFundedWithDebtToken(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})

	target, err := position.FromMultiple(big.NewInt(13e17)) // 1.3x
	require.NoError(t, err)

	res, err := b.Open(context.Background(), OpenArgs{
		CollateralToken: weth,
		DebtToken:       dai,
		DepositToken:    dai,
		DepositAmount:   amt(2000),
		TargetRiskRatio: target,
		Slippage:        big.NewInt(1e16),
	})
	require.NoError(t, err)

	require.Len(t, res.Transaction.Calls, 1)
	nested := res.Transaction.Calls[0].NestedCalls()
	assert.Equal(t, []string{
		"PullToken", "PullToken", "SwapTokens", "SetApproval",
		"AaveV3Deposit", "SetApproval", "AaveV3Payback", "AaveV3Borrow", "SendToken",
	}, actionNames(nested))
	assert.True(t, nested[0].Skipped, "no collateral-token deposit")
	assert.False(t, nested[1].Skipped, "debt pull carries the user deposit")
	assert.True(t, nested[5].Skipped, "fresh position has no debt to pay down")
	assert.True(t, nested[6].Skipped, "fresh position has no debt to pay down")
	assert.False(t, nested[7].Skipped, "borrow covers the loan beyond the deposit")

	// The deposit is spent in full: the whole flash loan is swapped to
	// collateral and only the remainder above the deposit becomes debt.
	assert.Equal(t, dai, res.Simulation.Swap.From)
	assert.True(t, res.Simulation.Swap.FromAmount.Cmp(amt(2000)) > 0)
	assert.True(t, res.Simulation.Position.Debt.Sign() > 0)
	expectDebt := res.Simulation.Swap.FromAmount.Sub(amt(2000))
	assert.Equal(t, 0, res.Simulation.Position.Debt.Cmp(expectDebt))

	diff := new(big.Int).Sub(res.Simulation.Position.RiskRatio().LTV(), target.LTV())
	assert.True(t, diff.CmpAbs(big.NewInt(1e6)) <= 0, "ltv off target by %s", diff)
	assert.True(t, res.Simulation.Flags.IsIncreasingRisk)
	assert.True(t, res.Simulation.Flags.RequiresFlashLoan)
}

func TestOpenWithoutLeverageSkipsQuoting(t *testing.T) {
	// A target without leverage swaps nothing, so a dead quoter must
	// not be able to fail the build.
	quoter := swap.NewMockQuoter()
	quoter.Fail(errors.New("quoter must not be called"))
	b := newTestBuilder(t, quoter, newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})

	res, err := b.Open(context.Background(), OpenArgs{
		CollateralToken: weth,
		DebtToken:       dai,
		DepositToken:    weth,
		DepositAmount:   amt(10),
		TargetRiskRatio: position.FromLTV(big.NewInt(0)),
		Slippage:        big.NewInt(1e16),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"PullToken", "SetApproval", "AaveV3Deposit"}, actionNames(res.Transaction.Calls))
	assert.True(t, res.Simulation.Swap.FromAmount.IsZero())
}

func TestOpenPrefersProtocolFlashFee(t *testing.T) {
	open := func(t *testing.T, flashFeeBps int64) Result {
		adapter := &mockAdapter{
			name: "AaveV3",
			pool: poolAddr,
			data: protocol.Data{
				OraclePrice:     wad(2000),
				Category:        testCategory(),
				FlashLoanFeeBps: flashFeeBps,
			},
		}
		b := newTestBuilder(t, pricedQuoter(), adapter, []flashloan.Lender{flashloan.ProviderAaveV3.Lender()})

		target, err := position.FromMultiple(big.NewInt(13e17))
		require.NoError(t, err)

		res, err := b.Open(context.Background(), OpenArgs{
			CollateralToken: weth,
			DebtToken:       dai,
			DepositToken:    weth,
			DepositAmount:   amt(100),
			TargetRiskRatio: target,
			Slippage:        big.NewInt(1e16),
		})
		require.NoError(t, err)
		return res
	}

	free := open(t, 0)
	charged := open(t, 50)

	// The chain-reported premium overrides the lender default, and a
	// costlier loan shrinks how much the solver dares to borrow.
	assert.True(t, charged.Simulation.Swap.FromAmount.Cmp(free.Simulation.Swap.FromAmount) < 0)
	assert.True(t, charged.Simulation.Position.Debt.Cmp(free.Simulation.Position.Debt) < 0)
}

func TestAdjustRiskDown(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 100, 100_000) // LTV 0.5

	res, err := b.Adjust(context.Background(), pos, AdjustArgs{
		TargetRiskRatio: position.FromLTV(big.NewInt(25e16)),
		Slippage:        big.NewInt(1e16),
	})
	require.NoError(t, err)

	assert.Equal(t, "AdjustRiskDownAaveV3", res.Transaction.OperationName)
	require.Len(t, res.Transaction.Calls, 2)
	assert.Equal(t, "TakeFlashloanBalancer", res.Transaction.Calls[0].TargetName)
	assert.Equal(t, "ReturnFunds", res.Transaction.Calls[1].TargetName)

	nested := res.Transaction.Calls[0].NestedCalls()
	assert.Equal(t, []string{
		"SetApproval", "AaveV3Payback", "AaveV3Withdraw",
		"SetApproval", "SwapTokens", "SendToken",
	}, actionNames(nested))

	diff := new(big.Int).Sub(res.Simulation.Position.RiskRatio().LTV(), big.NewInt(25e16))
	assert.True(t, diff.CmpAbs(big.NewInt(1e6)) <= 0, "ltv off target by %s", diff)
	assert.False(t, res.Simulation.Flags.IsIncreasingRisk)

	// The guaranteed swap output bounds what the flash loan can rely
	// on under worst-case slippage.
	assert.True(t, res.Simulation.Swap.MinToAmount.Cmp(res.Simulation.Swap.ToAmount) <= 0)
}

func TestAdjustOnTargetIsNoop(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 100, 100_000)

	res, err := b.Adjust(context.Background(), pos, AdjustArgs{
		TargetRiskRatio: pos.RiskRatio(),
		Slippage:        big.NewInt(1e16),
	})
	require.NoError(t, err)

	assert.Empty(t, res.Transaction.Calls)
	assert.Empty(t, res.Transaction.OperationName)
	assert.Equal(t, 0, res.Simulation.Position.Collateral.Cmp(pos.Collateral))
}

func TestCloseRepaysDebtFromProceeds(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 10, 5000)

	res, err := b.Close(context.Background(), pos, CloseArgs{Slippage: big.NewInt(1e16)})
	require.NoError(t, err)

	assert.Equal(t, "CloseAaveV3", res.Transaction.OperationName)
	require.Len(t, res.Transaction.Calls, 2)
	nested := res.Transaction.Calls[0].NestedCalls()
	assert.Equal(t, []string{
		"SetApproval", "AaveV3Payback", "AaveV3Withdraw",
		"SetApproval", "SwapTokens", "SendToken",
	}, actionNames(nested))

	// All collateral sold, proceeds cover the debt, final position empty.
	assert.Equal(t, 0, res.Simulation.Swap.FromAmount.Cmp(pos.Collateral))
	assert.True(t, res.Simulation.Swap.ToAmount.Cmp(pos.Debt) > 0)
	assert.True(t, res.Simulation.Position.Collateral.IsZero())
	assert.True(t, res.Simulation.Position.Debt.IsZero())
	assert.Equal(t, 0, res.Simulation.Delta.Collateral.Cmp(pos.Collateral.Neg()))
	assert.Equal(t, 0, res.Simulation.Delta.Debt.Cmp(pos.Debt.Neg()))
}

func TestCloseDebtFreeSkipsFlashLoan(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 10, 0)

	res, err := b.Close(context.Background(), pos, CloseArgs{Slippage: big.NewInt(1e16)})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"AaveV3Withdraw", "SetApproval", "SwapTokens", "ReturnFunds",
	}, actionNames(res.Transaction.Calls))
}

func TestDepositBorrow(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 100, 50_000)

	res, err := b.DepositBorrow(context.Background(), pos, DepositBorrowArgs{
		DepositToken:  weth,
		DepositAmount: amt(5),
		BorrowAmount:  amt(1000),
	})
	require.NoError(t, err)

	assert.Equal(t, "DepositBorrowAaveV3", res.Transaction.OperationName)
	assert.Equal(t, []string{
		"PullToken", "SetApproval", "AaveV3Deposit", "AaveV3Borrow", "ReturnFunds",
	}, actionNames(res.Transaction.Calls))
	assert.Equal(t, 0, res.Simulation.Position.Collateral.Cmp(amt(105)))
	assert.Equal(t, 0, res.Simulation.Position.Debt.Cmp(amt(51_000)))
}

func TestDepositBorrowInvariants(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 100, 50_000)

	// 100 WETH at 2000 support at most 160k DAI at 80% LTV.
	_, err := b.DepositBorrow(context.Background(), pos, DepositBorrowArgs{
		BorrowAmount: amt(200_000),
	})
	var simErr *SimulationError
	require.ErrorAs(t, err, &simErr)
	assert.ErrorIs(t, err, simulate.ErrExceedsMaxLTV)
}

func TestArgumentErrorsRaisedBeforeQuoting(t *testing.T) {
	// A quoter that fails loudly proves validation short-circuits.
	quoter := swap.NewMockQuoter()
	quoter.Fail(errors.New("quoter must not be called"))
	b := newTestBuilder(t, quoter, newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})

	var argErr *ArgumentError

	_, err := b.Open(context.Background(), OpenArgs{
		CollateralToken: weth,
		DebtToken:       dai,
		DepositToken:    weth,
		DepositAmount:   token.Zero(),
		TargetRiskRatio: position.FromLTV(big.NewInt(5e17)),
		Slippage:        big.NewInt(1e16),
	})
	require.ErrorAs(t, err, &argErr, "zero deposit")

	_, err = b.Adjust(context.Background(), testPosition(t, 10, 1000), AdjustArgs{
		TargetRiskRatio: position.FromLTV(big.NewInt(5e17)),
		Slippage:        big.NewInt(-1),
	})
	require.ErrorAs(t, err, &argErr, "negative slippage")

	_, err = b.DepositBorrow(context.Background(), testPosition(t, 10, 1000), DepositBorrowArgs{
		DepositAmount: amt(5),
	})
	require.ErrorAs(t, err, &argErr, "deposit amount without deposit token")
	assert.Contains(t, err.Error(), "deposit token missing")
}

func TestQuoteErrorsCarryNoRoute(t *testing.T) {
	quoter := swap.NewMockQuoter() // no pairs priced
	b := newTestBuilder(t, quoter, newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})

	_, err := b.Adjust(context.Background(), testPosition(t, 100, 100_000), AdjustArgs{
		TargetRiskRatio: position.FromLTV(big.NewInt(25e16)),
		Slippage:        big.NewInt(1e16),
	})
	var quoteErr *QuoteError
	require.ErrorAs(t, err, &quoteErr)
	assert.ErrorIs(t, err, swap.ErrNoRoute)
}

func TestAdjustWithoutLendersUnsupported(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), nil)

	_, err := b.Adjust(context.Background(), testPosition(t, 100, 100_000), AdjustArgs{
		TargetRiskRatio: position.FromLTV(big.NewInt(25e16)),
		Slippage:        big.NewInt(1e16),
	})
	var unsErr *UnsupportedError
	require.ErrorAs(t, err, &unsErr)
}

func TestMigrate(t *testing.T) {
	spark := &mockAdapter{
		name: "Spark",
		pool: common.HexToAddress("0xee"),
		data: protocol.Data{
			OraclePrice: wad(2000),
			Category:    testCategory(),
		},
	}
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 100, 50_000)

	res, err := b.Migrate(context.Background(), pos, MigrateArgs{Target: spark})
	require.NoError(t, err)

	assert.Equal(t, "MigrateAaveV3ToSpark", res.Transaction.OperationName)
	require.Len(t, res.Transaction.Calls, 1)
	nested := res.Transaction.Calls[0].NestedCalls()
	assert.Equal(t, []string{
		"SetApproval", "AaveV3Payback", "AaveV3Withdraw",
		"SetApproval", "SparkDeposit", "SparkBorrow", "SendToken",
	}, actionNames(nested))

	// Balancer is free, so the migrated debt is unchanged.
	assert.Equal(t, 0, res.Simulation.Position.Debt.Cmp(pos.Debt))
	assert.Equal(t, 0, res.Simulation.Position.Collateral.Cmp(pos.Collateral))
}

func TestMigrateToSameProtocol(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})

	_, err := b.Migrate(context.Background(), testPosition(t, 100, 50_000), MigrateArgs{Target: newAaveAdapter()})
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestTransactionOperationRoundTrip(t *testing.T) {
	b := newTestBuilder(t, pricedQuoter(), newAaveAdapter(), []flashloan.Lender{flashloan.ProviderBalancer.Lender()})
	pos := testPosition(t, 100, 100_000)

	res, err := b.Adjust(context.Background(), pos, AdjustArgs{
		TargetRiskRatio: position.FromLTV(big.NewInt(25e16)),
		Slippage:        big.NewInt(1e16),
	})
	require.NoError(t, err)

	op, err := res.Transaction.Operation()
	require.NoError(t, err)

	encodedA, err := op.Encode()
	require.NoError(t, err)
	encodedB, err := op.Encode()
	require.NoError(t, err)
	assert.Equal(t, encodedA, encodedB)
	assert.NotEqual(t, common.Hash{}, op.SequenceHash())
}
