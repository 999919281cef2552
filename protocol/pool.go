package protocol

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
	"github.com/michaelpento.lv/leverage/utils/metrics"
)

// Aave v3 pool-family view ABI, shared by Spark.
const poolOracleABI = `[
	{
		"inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
		"name": "getAssetPrice",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const poolDataProviderABI = `[
	{
		"inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
		"name": "getReserveConfigurationData",
		"outputs": [
			{"internalType": "uint256", "name": "decimals", "type": "uint256"},
			{"internalType": "uint256", "name": "ltv", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidationThreshold", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidationBonus", "type": "uint256"},
			{"internalType": "uint256", "name": "reserveFactor", "type": "uint256"},
			{"internalType": "bool", "name": "usageAsCollateralEnabled", "type": "bool"},
			{"internalType": "bool", "name": "borrowingEnabled", "type": "bool"},
			{"internalType": "bool", "name": "stableBorrowRateEnabled", "type": "bool"},
			{"internalType": "bool", "name": "isActive", "type": "bool"},
			{"internalType": "bool", "name": "isFrozen", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "address", "name": "user", "type": "address"}
		],
		"name": "getUserReserveData",
		"outputs": [
			{"internalType": "uint256", "name": "currentATokenBalance", "type": "uint256"},
			{"internalType": "uint256", "name": "currentStableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "currentVariableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "principalStableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "scaledVariableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "stableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidityRate", "type": "uint256"},
			{"internalType": "uint40", "name": "stableRateLastUpdated", "type": "uint40"},
			{"internalType": "bool", "name": "usageAsCollateralEnabled", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// ltv/threshold scale used by the data provider (basis points).
var bpsScale = big.NewInt(10000)

// PoolConfig wires a pool-family adapter to one deployment.
type PoolConfig struct {
	Pool         common.Address
	Oracle       common.Address
	DataProvider common.Address
	// OracleBaseDecimals is the precision of getAssetPrice results
	// (8 for the canonical Aave v3 oracle).
	OracleBaseDecimals uint8
	FlashLoanFeeBps    int64
	// DustLimit is the minimum viable debt, wad-scaled in debt tokens.
	DustLimit *big.Int
}

func (c PoolConfig) validate() error {
	if c.Oracle == (common.Address{}) || c.DataProvider == (common.Address{}) {
		return fmt.Errorf("oracle and data provider addresses are required")
	}
	if c.OracleBaseDecimals > token.MaxDecimals {
		return fmt.Errorf("oracle base decimals %d out of range", c.OracleBaseDecimals)
	}
	if c.FlashLoanFeeBps < 0 {
		return fmt.Errorf("flash loan fee cannot be negative")
	}
	return nil
}

// PoolAdapter implements Adapter for Aave-v3-compatible deployments.
// The variant string tags the deployment and prefixes its registered
// executor action names ("AaveV3Deposit", "SparkDeposit", ...).
type PoolAdapter struct {
	variant string
	cfg     PoolConfig
	reader  ChainReader
	logger  *zap.Logger
	metrics *metrics.ChainMetrics

	oracleABI abi.ABI
	dataABI   abi.ABI
}

// WithMetrics attaches a chain metrics bundle. Every contract read goes
// through it, errors included.
func (a *PoolAdapter) WithMetrics(m *metrics.ChainMetrics) *PoolAdapter {
	a.metrics = m
	return a
}

// NewPoolAdapter builds an adapter for one pool deployment.
func NewPoolAdapter(variant string, cfg PoolConfig, reader ChainReader, logger *zap.Logger) (*PoolAdapter, error) {
	if variant == "" {
		return nil, fmt.Errorf("adapter variant cannot be empty")
	}
	if reader == nil {
		return nil, fmt.Errorf("chain reader cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("adapter %s: %w", variant, err)
	}

	oracleABI, err := abi.JSON(strings.NewReader(poolOracleABI))
	if err != nil {
		return nil, fmt.Errorf("parse oracle ABI: %w", err)
	}
	dataABI, err := abi.JSON(strings.NewReader(poolDataProviderABI))
	if err != nil {
		return nil, fmt.Errorf("parse data provider ABI: %w", err)
	}

	return &PoolAdapter{
		variant:   variant,
		cfg:       cfg,
		reader:    reader,
		logger:    logger,
		oracleABI: oracleABI,
		dataABI:   dataABI,
	}, nil
}

func (a *PoolAdapter) Name() string {
	return a.variant
}

func (a *PoolAdapter) ApprovalTarget() common.Address {
	return a.cfg.Pool
}

// GetProtocolData reads oracle prices for both legs and the collateral
// reserve configuration, and converts them into the engine's wad model.
func (a *PoolAdapter) GetProtocolData(ctx context.Context, collateral, debt token.Token) (Data, error) {
	collateralPrice, err := a.assetPrice(ctx, collateral)
	if err != nil {
		return Data{}, err
	}
	debtPrice, err := a.assetPrice(ctx, debt)
	if err != nil {
		return Data{}, err
	}
	if debtPrice.Sign() <= 0 || collateralPrice.Sign() <= 0 {
		return Data{}, fmt.Errorf("adapter %s: zero oracle price for %s/%s", a.variant, collateral, debt)
	}

	out, err := a.call(ctx, a.cfg.DataProvider, a.dataABI, "getReserveConfigurationData", collateral.Address)
	if err != nil {
		return Data{}, fmt.Errorf("adapter %s: reserve config for %s: %w", a.variant, collateral, err)
	}
	ltv := out[1].(*big.Int)
	threshold := out[2].(*big.Int)

	return Data{
		OraclePrice: fpmath.WadDiv(collateralPrice, debtPrice),
		Category: position.RiskCategory{
			MaxLTV:               fpmath.MulDiv(fpmath.Wad, ltv, bpsScale),
			LiquidationThreshold: fpmath.MulDiv(fpmath.Wad, threshold, bpsScale),
			DustLimit:            token.FromWad(a.cfg.DustLimit),
		},
		FlashLoanFeeBps: a.cfg.FlashLoanFeeBps,
	}, nil
}

// GetPosition reads the user's supplied collateral and outstanding debt
// (stable plus variable) for a pair.
func (a *PoolAdapter) GetPosition(ctx context.Context, user common.Address, collateral, debt token.Token) (position.Position, error) {
	supplied, err := a.call(ctx, a.cfg.DataProvider, a.dataABI, "getUserReserveData", collateral.Address, user)
	if err != nil {
		return position.Position{}, fmt.Errorf("adapter %s: user reserve %s: %w", a.variant, collateral, err)
	}
	borrowed, err := a.call(ctx, a.cfg.DataProvider, a.dataABI, "getUserReserveData", debt.Address, user)
	if err != nil {
		return position.Position{}, fmt.Errorf("adapter %s: user reserve %s: %w", a.variant, debt, err)
	}

	collateralAmt, err := token.FromNative(supplied[0].(*big.Int), collateral.Decimals)
	if err != nil {
		return position.Position{}, err
	}
	stable, err := token.FromNative(borrowed[1].(*big.Int), debt.Decimals)
	if err != nil {
		return position.Position{}, err
	}
	variable, err := token.FromNative(borrowed[2].(*big.Int), debt.Decimals)
	if err != nil {
		return position.Position{}, err
	}

	data, err := a.GetProtocolData(ctx, collateral, debt)
	if err != nil {
		return position.Position{}, err
	}

	return position.New(collateral, collateralAmt, debt, stable.Add(variable), data.OraclePrice, data.Category)
}

func (a *PoolAdapter) DepositAction(asset token.Token, amount token.Amount, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(
		a.variant+"Deposit",
		[]string{"address", "uint256"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals)},
		paramMap,
	)
}

func (a *PoolAdapter) BorrowAction(asset token.Token, amount token.Amount, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(
		a.variant+"Borrow",
		[]string{"address", "uint256"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals)},
		paramMap,
	)
}

func (a *PoolAdapter) PaybackAction(asset token.Token, amount token.Amount, paybackAll bool, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(
		a.variant+"Payback",
		[]string{"address", "uint256", "bool"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals), paybackAll},
		paramMap,
	)
}

func (a *PoolAdapter) WithdrawAction(asset token.Token, amount token.Amount, withdrawAll bool, paramMap []uint8) (executor.Action, error) {
	return executor.NewAction(
		a.variant+"Withdraw",
		[]string{"address", "uint256", "bool"},
		[]interface{}{asset.Address, amount.Native(asset.Decimals), withdrawAll},
		paramMap,
	)
}

func (a *PoolAdapter) assetPrice(ctx context.Context, asset token.Token) (*big.Int, error) {
	out, err := a.call(ctx, a.cfg.Oracle, a.oracleABI, "getAssetPrice", asset.Address)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: oracle price for %s: %w", a.variant, asset, err)
	}
	raw := out[0].(*big.Int)
	amt, err := token.FromNative(raw, a.cfg.OracleBaseDecimals)
	if err != nil {
		return nil, err
	}
	return amt.Wad(), nil
}

func (a *PoolAdapter) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	start := time.Now()
	out, err := a.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if a.metrics != nil {
		a.metrics.Calls.Inc()
		a.metrics.CallLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			a.metrics.CallErrors.Inc()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
