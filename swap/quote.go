// Package swap resolves token swaps against an external quoting
// collaborator and normalizes the response into the engine's quote
// shape: expected output, guaranteed minimum after slippage, and the
// protocol fee with the side it is collected from.
package swap

import (
	"context"
	"errors"
	"math/big"

	"github.com/michaelpento.lv/leverage/token"
)

// ErrNoRoute is returned when the quoting collaborator cannot price a
// pair or amount. Callers surface it as "no liquidity" rather than a
// bad-input failure.
var ErrNoRoute = errors.New("no swap route for pair")

// FeeSide designates which leg of a swap the protocol fee is collected
// from. It is decided before any amounts are known, so rounding can
// never influence the choice.
type FeeSide int

const (
	FeeOnSource FeeSide = iota
	FeeOnTarget
)

func (s FeeSide) String() string {
	if s == FeeOnTarget {
		return "target"
	}
	return "source"
}

// Data is the raw response of the external quoting collaborator.
// Amounts are token-native integers.
type Data struct {
	FromTokenAmount  *big.Int
	ToTokenAmount    *big.Int
	MinToTokenAmount *big.Int
	ExchangeCalldata []byte
}

// Quoter is the external price/routing collaborator. amount is a
// token-native integer of the from token; slippage is a wad fraction.
type Quoter interface {
	GetSwapData(ctx context.Context, from, to token.Token, amount *big.Int, slippage *big.Int) (Data, error)
}

// Quote is the canonical quote shape consumed by the strategy layer.
// FromAmount is the gross amount entering the swap leg, before any
// source-side fee deduction. MinToAmount is never above ToAmount.
type Quote struct {
	From token.Token
	To   token.Token

	FromAmount  token.Amount
	ToAmount    token.Amount
	MinToAmount token.Amount

	Fee     token.Amount
	FeeSide FeeSide
	// FeeSideFallback is set when neither token was in the accepted
	// fee-token list and the source side was used as a fallback. The
	// condition is reported rather than silently defaulted.
	FeeSideFallback bool

	ExchangeCalldata []byte
}

// ZeroQuote synthesizes the canonical no-swap quote used when the entry
// token already matches the target token.
func ZeroQuote(from, to token.Token) Quote {
	return Quote{
		From:        from,
		To:          to,
		FromAmount:  token.Zero(),
		ToAmount:    token.Zero(),
		MinToAmount: token.Zero(),
		Fee:         token.Zero(),
		FeeSide:     FeeOnSource,
	}
}

// IsZero reports whether the quote carries no swap.
func (q Quote) IsZero() bool {
	return q.FromAmount.IsZero() && q.ToAmount.IsZero()
}
