package strategy

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/swap"
	"github.com/michaelpento.lv/leverage/token"
)

// Registered names of the protocol-agnostic executor actions.
const (
	actionPullToken   = "PullToken"
	actionSendToken   = "SendToken"
	actionSetApproval = "SetApproval"
	actionSwap        = "SwapTokens"
	actionReturnFunds = "ReturnFunds"
)

var noMapping = []uint8{0, 0, 0}

// pullTokenAction transfers amount of t from the user wallet into the
// proxy. Skipped when the amount is zero so sequence layouts (and the
// storage slots later actions map against) stay fixed.
func pullTokenAction(t token.Token, from common.Address, amount token.Amount) (executor.Action, error) {
	a, err := executor.NewAction(actionPullToken,
		[]string{"address", "address", "uint256"},
		[]interface{}{t.Address, from, amount.Native(t.Decimals)},
		noMapping)
	if err != nil {
		return executor.Action{}, err
	}
	if amount.Sign() <= 0 {
		a = a.Skip()
	}
	return a, nil
}

func sendTokenAction(t token.Token, to common.Address, amount token.Amount) (executor.Action, error) {
	return executor.NewAction(actionSendToken,
		[]string{"address", "address", "uint256"},
		[]interface{}{t.Address, to, amount.Native(t.Decimals)},
		noMapping)
}

// setApprovalAction approves spender for amount of t. amountSlot, when
// non-zero, maps the amount argument to a previous action's output so
// the runtime value replaces the encoded literal.
func setApprovalAction(t token.Token, spender common.Address, amount token.Amount, amountSlot uint8) (executor.Action, error) {
	return executor.NewAction(actionSetApproval,
		[]string{"address", "address", "uint256"},
		[]interface{}{t.Address, spender, amount.Native(t.Decimals)},
		[]uint8{0, 0, amountSlot})
}

// swapAction executes the quoted swap through the exchange, forwarding
// the collaborator calldata. The action's output is the actual amount
// received, which later actions can map in.
func swapAction(q swap.Quote) (executor.Action, error) {
	return executor.NewAction(actionSwap,
		[]string{"address", "address", "uint256", "uint256", "bytes"},
		[]interface{}{
			q.From.Address,
			q.To.Address,
			q.FromAmount.Native(q.From.Decimals),
			q.MinToAmount.Native(q.To.Decimals),
			q.ExchangeCalldata,
		},
		noMapping)
}

// returnFundsAction sweeps the proxy's whole balance of t back to the
// user.
func returnFundsAction(t token.Token, to common.Address) (executor.Action, error) {
	return executor.NewAction(actionReturnFunds,
		[]string{"address", "address"},
		[]interface{}{t.Address, to},
		noMapping)
}

// flashloanAction wraps the nested callback body into the lender's
// take-loan action.
func flashloanAction(spec flashloan.Spec) (executor.Action, error) {
	if err := spec.Validate(); err != nil {
		return executor.Action{}, err
	}
	return executor.NewAction(spec.Lender.Provider.ActionName(),
		[]string{"address", "uint256", executor.CallsType},
		[]interface{}{
			spec.Token.Address,
			spec.Amount.Native(spec.Token.Decimals),
			spec.Calls,
		},
		noMapping)
}
