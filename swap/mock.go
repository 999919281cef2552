package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
)

// MockQuoter is the in-repo stand-in for the external quoting
// collaborator: it applies a fixed market price per pair and rounds
// down, which is all the strategy tests need.
type MockQuoter struct {
	mu     sync.RWMutex
	prices map[string]*big.Int // wad "to per from"
	err    error
}

// NewMockQuoter creates an empty mock; pairs must be priced with
// SetPrice before use.
func NewMockQuoter() *MockQuoter {
	return &MockQuoter{prices: make(map[string]*big.Int)}
}

// SetPrice fixes the wad "to per from" exchange rate for a pair.
func (m *MockQuoter) SetPrice(from, to token.Token, price *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[pairKey(from, to)] = fpmath.Clone(price)
}

// Fail makes every subsequent call return err, simulating a quoting
// outage.
func (m *MockQuoter) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetSwapData implements Quoter.
func (m *MockQuoter) GetSwapData(ctx context.Context, from, to token.Token, amount *big.Int, slippage *big.Int) (Data, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return Data{}, m.err
	}
	price, ok := m.prices[pairKey(from, to)]
	if !ok {
		return Data{}, fmt.Errorf("%w: %s->%s", ErrNoRoute, from, to)
	}

	fromAmt, err := token.FromNative(amount, from.Decimals)
	if err != nil {
		return Data{}, err
	}
	toAmt := fromAmt.MulWad(price)
	minTo := toAmt.MulWad(fpmath.OneMinusWad(slippage))

	return Data{
		FromTokenAmount:  fpmath.Clone(amount),
		ToTokenAmount:    toAmt.Native(to.Decimals),
		MinToTokenAmount: minTo.Native(to.Decimals),
		ExchangeCalldata: []byte{0xde, 0xad},
	}, nil
}

func pairKey(from, to token.Token) string {
	return from.Symbol + "/" + to.Symbol
}
