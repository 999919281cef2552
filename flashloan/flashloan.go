// Package flashloan models the flash-loan leg of a strategy: which
// lender to borrow from, how much, and the call list to run inside the
// loan callback. Sizing is deliberately asymmetric between the risk-up
// and risk-down paths; see the sizer functions.
package flashloan

import (
	"fmt"

	"github.com/michaelpento.lv/leverage/executor"
	"github.com/michaelpento.lv/leverage/swap"
	"github.com/michaelpento.lv/leverage/token"
)

// Provider identifies a supported flash-loan lender.
type Provider int

const (
	ProviderAaveV3 Provider = iota
	ProviderBalancer
	ProviderSpark
)

func (p Provider) String() string {
	switch p {
	case ProviderAaveV3:
		return "AaveV3"
	case ProviderBalancer:
		return "Balancer"
	case ProviderSpark:
		return "Spark"
	default:
		return fmt.Sprintf("Provider(%d)", int(p))
	}
}

// ActionName is the registered executor action that takes the loan.
func (p Provider) ActionName() string {
	return "TakeFlashloan" + p.String()
}

// Lender pairs a provider with the premium it actually charges. The
// premium always travels with the lender so sizing, simulation and the
// built repayment all read the same number.
type Lender struct {
	Provider Provider
	FeeBps   int64
}

func (l Lender) String() string {
	return l.Provider.String()
}

// Lender returns the provider with its well-known mainnet premium.
// Deployments with a configured or chain-read fee override it via
// WithProtocolFee or the config layer.
func (p Provider) Lender() Lender {
	switch p {
	case ProviderAaveV3:
		return Lender{Provider: p, FeeBps: 5} // 0.05%
	default:
		return Lender{Provider: p}
	}
}

// Cheapest selects the lowest-fee lender from candidates. Order breaks
// ties, so callers can express a preference by listing it first.
func Cheapest(candidates []Lender) (Lender, error) {
	if len(candidates) == 0 {
		return Lender{}, fmt.Errorf("no flash loan providers available")
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.FeeBps < best.FeeBps {
			best = c
		}
	}
	return best, nil
}

// WithProtocolFee returns a copy of lenders where any lender named like
// the protocol carries feeBps instead of its default premium.
func WithProtocolFee(lenders []Lender, protocolName string, feeBps int64) []Lender {
	out := make([]Lender, len(lenders))
	copy(out, lenders)
	for i := range out {
		if out[i].Provider.String() == protocolName {
			out[i].FeeBps = feeBps
		}
	}
	return out
}

// Spec describes one flash loan: the borrowed token and amount plus the
// nested call list executed inside the lender's callback. The last call
// must repay the loan or the on-chain executor reverts the whole
// transaction.
type Spec struct {
	Lender Lender
	Token  token.Token
	Amount token.Amount
	Calls  []executor.Action
}

// Validate checks the spec is executable.
func (s Spec) Validate() error {
	if s.Amount.Sign() <= 0 {
		return fmt.Errorf("flash loan amount must be positive, got %s", s.Amount)
	}
	if s.Lender.FeeBps < 0 {
		return fmt.Errorf("flash loan fee cannot be negative, got %d bps", s.Lender.FeeBps)
	}
	if len(s.Calls) == 0 {
		return fmt.Errorf("flash loan callback has no calls; the loan could never be repaid")
	}
	return nil
}

// Fee is the premium owed for the loan.
func (s Spec) Fee() token.Amount {
	return s.Amount.ApplyBps(s.Lender.FeeBps)
}

// SizeForRiskUp sizes the flash loan bridging a risk-increasing
// adjustment: the gross pre-fee swap input, i.e. the full debt-token
// amount that is borrowed, swapped to collateral and later covered by
// drawing new debt. Oversizing here only enlarges the repay-from-new-
// debt step, so the optimistic gross amount is safe.
func SizeForRiskUp(q swap.Quote) token.Amount {
	return q.FromAmount
}

// SizeForRiskDown sizes the flash loan bridging a risk-decreasing
// adjustment: the guaranteed minimum swap output. Undersizing the
// repayment source would leave the loan unrepayable under adverse
// slippage, so the pessimistic post-slippage amount is used.
func SizeForRiskDown(q swap.Quote) token.Amount {
	return q.MinToAmount
}
