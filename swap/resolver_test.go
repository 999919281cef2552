package swap

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/leverage/token"
	fpmath "github.com/michaelpento.lv/leverage/utils/math"
	"github.com/michaelpento.lv/leverage/utils/metrics"
)

var (
	weth = token.MustNew("WETH", common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), 18, false)
	usdc = token.MustNew("USDC", common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), 6, false)
	wbtc = token.MustNew("WBTC", common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), 8, false)
)

func wad(x int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(x), fpmath.Wad)
}

func newTestResolver(t *testing.T, q Quoter, feeTokens ...string) *Resolver {
	t.Helper()
	r, err := NewResolver(q, ResolverConfig{
		AcceptedFeeTokens: feeTokens,
		FeeBps:            20,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func TestFeeSideConsistency(t *testing.T) {
	r := newTestResolver(t, NewMockQuoter(), "USDC")

	// exactly one accepted token wins regardless of argument order
	side, fallback := r.FeeSideFor(usdc, weth)
	assert.Equal(t, FeeOnSource, side)
	assert.False(t, fallback)

	side, fallback = r.FeeSideFor(weth, usdc)
	assert.Equal(t, FeeOnTarget, side)
	assert.False(t, fallback)
}

func TestFeeSideTiePrefersSource(t *testing.T) {
	r := newTestResolver(t, NewMockQuoter(), "USDC", "WETH")
	side, fallback := r.FeeSideFor(weth, usdc)
	assert.Equal(t, FeeOnSource, side)
	assert.False(t, fallback)
}

func TestFeeSideFallbackIsExplicit(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(weth, wbtc, fpmath.WadDiv(wad(1), wad(20))) // 0.05 WBTC per WETH
	r := newTestResolver(t, q, "USDC")

	side, fallback := r.FeeSideFor(weth, wbtc)
	assert.Equal(t, FeeOnSource, side)
	assert.True(t, fallback)

	quote, err := r.Quote(context.Background(), weth, wbtc, token.FromWad(wad(2)), big.NewInt(0))
	require.NoError(t, err)
	assert.True(t, quote.FeeSideFallback, "fallback carried on the quote")
}

func TestQuoteAppliesSourceFeeBeforeSwap(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(usdc, weth, fpmath.WadDiv(wad(1), wad(2000))) // 1/2000 WETH per USDC
	r := newTestResolver(t, q, "USDC")

	amount := token.FromWad(wad(10000))
	quote, err := r.Quote(context.Background(), usdc, weth, amount, big.NewInt(0))
	require.NoError(t, err)

	assert.Equal(t, FeeOnSource, quote.FeeSide)
	assert.Equal(t, "20", quote.Fee.String(), "20 bps of 10000")
	assert.Equal(t, 0, quote.FromAmount.Cmp(amount), "FromAmount stays gross")
	assert.Equal(t, "4.99", quote.ToAmount.String(), "(10000-20)/2000")
}

func TestSlippageBound(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(weth, usdc, wad(2000))
	r := newTestResolver(t, q, "USDC")

	slippages := []*big.Int{
		big.NewInt(0),
		fpmath.ApplyBps(fpmath.Wad, 50),  // 0.5%
		fpmath.ApplyBps(fpmath.Wad, 777), // 7.77%
	}
	for _, s := range slippages {
		quote, err := r.Quote(context.Background(), weth, usdc, token.FromWad(wad(3)), s)
		require.NoError(t, err)

		assert.True(t, quote.MinToAmount.Cmp(quote.ToAmount) <= 0)

		// floor(to * (1-s)) can undershoot the exact bound by at most one unit
		exact := quote.ToAmount.MulWad(fpmath.OneMinusWad(s))
		diff := new(big.Int).Sub(exact.Wad(), quote.MinToAmount.Wad())
		assert.True(t, diff.Sign() >= 0 && diff.Cmp(big.NewInt(1)) <= 0, "slippage %s: diff %s", s, diff)
	}
}

func TestZeroSwapForSameToken(t *testing.T) {
	q := NewMockQuoter() // no prices configured: any collaborator call would fail
	r := newTestResolver(t, q, "USDC")

	quote, err := r.Quote(context.Background(), weth, weth, token.FromWad(wad(5)), big.NewInt(0))
	require.NoError(t, err)
	assert.True(t, quote.IsZero())
	assert.True(t, quote.MinToAmount.IsZero())
}

func TestQuoteErrorsPropagate(t *testing.T) {
	q := NewMockQuoter()
	r := newTestResolver(t, q, "USDC")

	_, err := r.Quote(context.Background(), weth, usdc, token.FromWad(wad(1)), big.NewInt(0))
	assert.ErrorIs(t, err, ErrNoRoute, "unpriced pair surfaces no-route")

	boom := errors.New("upstream down")
	q.Fail(boom)
	_, err = r.Quote(context.Background(), weth, usdc, token.FromWad(wad(1)), big.NewInt(0))
	assert.ErrorIs(t, err, boom)
}

func TestQuoteRejectsBadInput(t *testing.T) {
	r := newTestResolver(t, NewMockQuoter(), "USDC")

	_, err := r.Quote(context.Background(), weth, usdc, token.Zero(), big.NewInt(0))
	assert.Error(t, err, "zero amount for a real pair is a caller bug, not a zero swap")

	_, err = r.Quote(context.Background(), weth, usdc, token.FromWad(wad(1)), fpmath.Clone(fpmath.Wad))
	assert.Error(t, err, "slippage must be below 1")
}

func TestMarketPrice(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(weth, usdc, wad(2000))
	r := newTestResolver(t, q, "USDC")

	price, err := r.MarketPrice(context.Background(), weth, usdc)
	require.NoError(t, err)
	assert.Equal(t, wad(2000), price)

	same, err := r.MarketPrice(context.Background(), weth, weth)
	require.NoError(t, err)
	assert.Equal(t, fpmath.Wad, same)
}

func TestCachedQuoterServesWithinTTL(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(weth, usdc, wad(2000))

	cached, err := NewCachedQuoter(q, 16, time.Minute)
	require.NoError(t, err)

	first, err := cached.GetSwapData(context.Background(), weth, usdc, fpmath.Pow10(18), big.NewInt(0))
	require.NoError(t, err)

	// upstream failure is invisible while the entry is live
	q.Fail(errors.New("down"))
	second, err := cached.GetSwapData(context.Background(), weth, usdc, fpmath.Pow10(18), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, first.ToTokenAmount, second.ToTokenAmount)

	// a different amount misses the cache and hits the failing upstream
	_, err = cached.GetSwapData(context.Background(), weth, usdc, fpmath.Pow10(17), big.NewInt(0))
	assert.Error(t, err)
}

func TestResolverCountsQuoteTraffic(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(weth, usdc, wad(2000))
	q.SetPrice(weth, wbtc, fpmath.WadDiv(wad(1), wad(20)))
	m := metrics.NewQuoteMetrics("swap_resolver_wiring_test")
	r := newTestResolver(t, q, "USDC").WithMetrics(m)

	_, err := r.Quote(context.Background(), weth, usdc, token.FromWad(wad(3)), big.NewInt(0))
	require.NoError(t, err)
	_, err = r.MarketPrice(context.Background(), weth, usdc)
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Requests))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.NoRoute))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.FeeFallbacks))

	// unpriced pair counts as a no-route outcome
	_, err = r.Quote(context.Background(), usdc, wbtc, token.FromWad(wad(1)), big.NewInt(0))
	require.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NoRoute))

	// neither WETH nor WBTC collects the fee
	_, err = r.Quote(context.Background(), weth, wbtc, token.FromWad(wad(1)), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FeeFallbacks))

	// same-token shortcut never reaches the collaborator
	_, err = r.Quote(context.Background(), weth, weth, token.FromWad(wad(1)), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.Requests))
}

func TestCachedQuoterCountsHits(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(weth, usdc, wad(2000))
	m := metrics.NewQuoteMetrics("swap_cache_wiring_test")

	cached, err := NewCachedQuoter(q, 16, time.Minute)
	require.NoError(t, err)
	cached.WithMetrics(m)

	_, err = cached.GetSwapData(context.Background(), weth, usdc, fpmath.Pow10(18), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CacheHits), "first request fills the cache")

	_, err = cached.GetSwapData(context.Background(), weth, usdc, fpmath.Pow10(18), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
}

func TestRateLimitedQuoterHonorsContext(t *testing.T) {
	q := NewMockQuoter()
	q.SetPrice(weth, usdc, wad(2000))

	limited, err := NewRateLimitedQuoter(q, 1, 1)
	require.NoError(t, err)

	_, err = limited.GetSwapData(context.Background(), weth, usdc, fpmath.Pow10(18), big.NewInt(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limited.GetSwapData(ctx, weth, usdc, fpmath.Pow10(18), big.NewInt(0))
	assert.Error(t, err, "second call exceeds burst and the context is cancelled")
}
