package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
	"github.com/michaelpento.lv/leverage/utils/metrics"
)

// ResolverConfig carries the fee policy for quote resolution.
type ResolverConfig struct {
	// AcceptedFeeTokens lists token symbols the protocol prefers to
	// collect its fee in.
	AcceptedFeeTokens []string
	// FeeBps is the protocol swap fee in basis points.
	FeeBps int64
}

// Resolver turns collaborator swap data into canonical quotes: fee-side
// selection, protocol fee deduction, and the slippage floor.
type Resolver struct {
	quoter    Quoter
	feeTokens map[string]struct{}
	feeBps    int64
	logger    *zap.Logger
	metrics   *metrics.QuoteMetrics
}

// NewResolver wires a resolver around the external quoter.
func NewResolver(quoter Quoter, cfg ResolverConfig, logger *zap.Logger) (*Resolver, error) {
	if quoter == nil {
		return nil, fmt.Errorf("quoter cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.FeeBps < 0 || cfg.FeeBps >= fpmath.BpsDenominator {
		return nil, fmt.Errorf("swap fee %d bps out of range", cfg.FeeBps)
	}
	accepted := make(map[string]struct{}, len(cfg.AcceptedFeeTokens))
	for _, s := range cfg.AcceptedFeeTokens {
		accepted[s] = struct{}{}
	}
	return &Resolver{
		quoter:    quoter,
		feeTokens: accepted,
		feeBps:    cfg.FeeBps,
		logger:    logger,
	}, nil
}

// WithMetrics attaches a quote metrics bundle. Every collaborator round
// trip is counted and timed, no-route outcomes and fee-side fallbacks
// separately.
func (r *Resolver) WithMetrics(m *metrics.QuoteMetrics) *Resolver {
	r.metrics = m
	return r
}

// observe wraps the collaborator call with request counting and timing.
func (r *Resolver) observe(ctx context.Context, from, to token.Token, amount *big.Int, slippage *big.Int) (Data, error) {
	if r.metrics == nil {
		return r.quoter.GetSwapData(ctx, from, to, amount, slippage)
	}
	r.metrics.Requests.Inc()
	start := time.Now()
	data, err := r.quoter.GetSwapData(ctx, from, to, amount, slippage)
	r.metrics.QuoteLatency.Observe(time.Since(start).Seconds())
	if errors.Is(err, ErrNoRoute) {
		r.metrics.NoRoute.Inc()
	}
	return data, err
}

// FeeBps returns the configured protocol swap fee in basis points.
func (r *Resolver) FeeBps() int64 {
	return r.feeBps
}

// FeeSideFor selects which side of a swap the fee is collected from,
// before amounts are known. The side whose token is in the accepted
// list wins; the source side wins ties. When neither token is accepted
// the source side is used and fallback is true so the caller can see
// (and reject) the condition.
func (r *Resolver) FeeSideFor(from, to token.Token) (side FeeSide, fallback bool) {
	_, fromOK := r.feeTokens[from.Symbol]
	_, toOK := r.feeTokens[to.Symbol]
	switch {
	case fromOK:
		return FeeOnSource, false
	case toOK:
		return FeeOnTarget, false
	default:
		return FeeOnSource, true
	}
}

// Quote prices a swap of amount from->to with the given wad slippage
// tolerance. Same-token pairs synthesize a zero quote without calling
// the collaborator; collaborator failures propagate unchanged in cause.
func (r *Resolver) Quote(ctx context.Context, from, to token.Token, amount token.Amount, slippage *big.Int) (Quote, error) {
	if from.Equal(to) {
		return ZeroQuote(from, to), nil
	}
	if amount.Sign() <= 0 {
		return Quote{}, fmt.Errorf("swap %s->%s: amount must be positive, got %s", from, to, amount)
	}
	if err := validSlippage(slippage); err != nil {
		return Quote{}, fmt.Errorf("swap %s->%s: %w", from, to, err)
	}

	side, fallback := r.FeeSideFor(from, to)
	if fallback {
		if r.metrics != nil {
			r.metrics.FeeFallbacks.Inc()
		}
		r.logger.Warn("neither swap token accepted for fee collection, falling back to source side",
			zap.String("from", from.Symbol),
			zap.String("to", to.Symbol))
	}

	var fee token.Amount
	swapInput := amount
	if side == FeeOnSource {
		fee = amount.ApplyBps(r.feeBps)
		swapInput = amount.Sub(fee)
	}

	data, err := r.observe(ctx, from, to, swapInput.Native(from.Decimals), slippage)
	if err != nil {
		return Quote{}, fmt.Errorf("swap %s->%s: %w", from, to, err)
	}

	toAmount, err := token.FromNative(data.ToTokenAmount, to.Decimals)
	if err != nil {
		return Quote{}, fmt.Errorf("swap %s->%s: %w", from, to, err)
	}
	if side == FeeOnTarget {
		fee = toAmount.ApplyBps(r.feeBps)
		toAmount = toAmount.Sub(fee)
	}

	minTo := toAmount.MulWad(fpmath.OneMinusWad(slippage))

	return Quote{
		From:             from,
		To:               to,
		FromAmount:       amount,
		ToAmount:         toAmount,
		MinToAmount:      minTo,
		Fee:              fee,
		FeeSide:          side,
		FeeSideFallback:  fallback,
		ExchangeCalldata: data.ExchangeCalldata,
	}, nil
}

// MarketPrice observes the collaborator's exchange rate for a pair as a
// wad "to per from" price, quoting one whole source token. No fee is
// applied: this is the raw rate the simulator uses to estimate swap
// proceeds.
func (r *Resolver) MarketPrice(ctx context.Context, from, to token.Token) (*big.Int, error) {
	if from.Equal(to) {
		return fpmath.Clone(fpmath.Wad), nil
	}

	unit := fpmath.Pow10(from.Decimals) // one whole token, native units
	data, err := r.observe(ctx, from, to, unit, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("market price %s->%s: %w", from, to, err)
	}

	fromAmt, err := token.FromNative(data.FromTokenAmount, from.Decimals)
	if err != nil {
		return nil, err
	}
	toAmt, err := token.FromNative(data.ToTokenAmount, to.Decimals)
	if err != nil {
		return nil, err
	}
	if fromAmt.Sign() <= 0 || toAmt.Sign() <= 0 {
		if r.metrics != nil {
			r.metrics.NoRoute.Inc()
		}
		return nil, fmt.Errorf("market price %s->%s: %w", from, to, ErrNoRoute)
	}
	return fpmath.WadDiv(toAmt.Wad(), fromAmt.Wad()), nil
}

func validSlippage(slippage *big.Int) error {
	if slippage == nil || slippage.Sign() < 0 || slippage.Cmp(fpmath.Wad) >= 0 {
		return fmt.Errorf("slippage must be a wad fraction in [0,1)")
	}
	return nil
}
