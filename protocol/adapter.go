// Package protocol abstracts the lending protocols a strategy can run
// against. The orchestrator depends only on the Adapter interface;
// per-protocol packages provide tagged variants so Aave-family forks
// (Aave v3, Spark) share one implementation instead of copy-pasted
// strategy code.
package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/position"
	"github.com/michaelpento.lv/leverage/token"
)

// ChainReader is the read-only view of the chain an adapter needs.
// The engine never owns an RPC client; callers inject whatever
// implements this (an ethclient, a multicall batcher, a test mock).
type ChainReader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Data is the per-pair protocol state a strategy invocation starts
// from. OraclePrice is wad debt-per-collateral.
type Data struct {
	OraclePrice     *big.Int
	Category        position.RiskCategory
	FlashLoanFeeBps int64
}

// Adapter exposes one lending protocol to the orchestrator.
type Adapter interface {
	// Name tags the protocol variant (used in operation names).
	Name() string

	// GetPosition reads the user's current position for a pair.
	GetPosition(ctx context.Context, user common.Address, collateral, debt token.Token) (position.Position, error)

	// GetProtocolData reads oracle price and reserve configuration for
	// a pair.
	GetProtocolData(ctx context.Context, collateral, debt token.Token) (Data, error)

	// ApprovalTarget is the contract that must be approved to pull
	// deposited funds (the pool for Aave-family protocols).
	ApprovalTarget() common.Address

	// Action builders produce the protocol-specific call units.
	DepositAction(asset token.Token, amount token.Amount, paramMap []uint8) (executor.Action, error)
	BorrowAction(asset token.Token, amount token.Amount, paramMap []uint8) (executor.Action, error)
	PaybackAction(asset token.Token, amount token.Amount, paybackAll bool, paramMap []uint8) (executor.Action, error)
	WithdrawAction(asset token.Token, amount token.Amount, withdrawAll bool, paramMap []uint8) (executor.Action, error)
}
