// Package token models ERC-20 token references and precision-tagged
// amounts. Amounts exist in three representations: token-native integer
// units, a human-normalized decimal, and the canonical 18-decimal fixed
// point used for all cross-token math. Conversions between them are
// always explicit; Amount itself only ever holds the canonical form.
package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// MaxDecimals is the highest token precision the engine supports.
// Canonical 18-decimal scaling is lossless for any precision up to this.
const MaxDecimals = 18

// Token is an immutable reference to an on-chain asset.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
	IsNative bool
}

// New builds a token reference. Decimals above MaxDecimals are rejected
// because native amounts could no longer round-trip through the
// canonical representation exactly.
func New(symbol string, addr common.Address, decimals uint8, native bool) (Token, error) {
	if symbol == "" {
		return Token{}, fmt.Errorf("token symbol cannot be empty")
	}
	if decimals > MaxDecimals {
		return Token{}, fmt.Errorf("token %s: %d decimals exceeds supported maximum %d", symbol, decimals, MaxDecimals)
	}
	return Token{Symbol: symbol, Address: addr, Decimals: decimals, IsNative: native}, nil
}

// MustNew is New for static token tables; it panics on invalid input.
func MustNew(symbol string, addr common.Address, decimals uint8, native bool) Token {
	t, err := New(symbol, addr, decimals, native)
	if err != nil {
		panic(err)
	}
	return t
}

// Equal reports whether two references denote the same asset.
func (t Token) Equal(o Token) bool {
	return t.Address == o.Address && t.Symbol == o.Symbol
}

func (t Token) String() string {
	return t.Symbol
}
