package swap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/leverage/cache"
	"github.com/michaelpento.lv/leverage/token"
	"github.com/michaelpento.lv/leverage/utils/metrics"
)

// RateLimitedQuoter throttles calls to the external collaborator.
type RateLimitedQuoter struct {
	inner   Quoter
	limiter *rate.Limiter
}

// NewRateLimitedQuoter allows rps requests per second with the given
// burst.
func NewRateLimitedQuoter(inner Quoter, rps float64, burst int) (*RateLimitedQuoter, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner quoter cannot be nil")
	}
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("invalid rate limit %v rps / burst %d", rps, burst)
	}
	return &RateLimitedQuoter{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// GetSwapData implements Quoter, blocking until the limiter admits the
// call or the context is done.
func (q *RateLimitedQuoter) GetSwapData(ctx context.Context, from, to token.Token, amount *big.Int, slippage *big.Int) (Data, error) {
	if err := q.limiter.Wait(ctx); err != nil {
		return Data{}, fmt.Errorf("quote rate limit: %w", err)
	}
	return q.inner.GetSwapData(ctx, from, to, amount, slippage)
}

// CachedQuoter memoizes collaborator responses for a short TTL. The
// cache is advisory: identical requests within the TTL return the
// cached data, and disabling the cache only changes latency, never a
// computed result.
type CachedQuoter struct {
	inner   Quoter
	cache   *cache.TTL
	metrics *metrics.QuoteMetrics
}

// WithMetrics attaches a quote metrics bundle so cache hits are counted.
func (q *CachedQuoter) WithMetrics(m *metrics.QuoteMetrics) *CachedQuoter {
	q.metrics = m
	return q
}

// NewCachedQuoter caches up to size responses for ttl.
func NewCachedQuoter(inner Quoter, size int, ttl time.Duration) (*CachedQuoter, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner quoter cannot be nil")
	}
	c, err := cache.NewTTL(size, ttl)
	if err != nil {
		return nil, err
	}
	return &CachedQuoter{inner: inner, cache: c}, nil
}

// GetSwapData implements Quoter.
func (q *CachedQuoter) GetSwapData(ctx context.Context, from, to token.Token, amount *big.Int, slippage *big.Int) (Data, error) {
	key := quoteKey(from, to, amount, slippage)
	if v, ok := q.cache.Get(key); ok {
		if q.metrics != nil {
			q.metrics.CacheHits.Inc()
		}
		return v.(Data), nil
	}
	data, err := q.inner.GetSwapData(ctx, from, to, amount, slippage)
	if err != nil {
		return Data{}, err
	}
	q.cache.Add(key, data)
	return data, nil
}

func quoteKey(from, to token.Token, amount, slippage *big.Int) uint64 {
	h := xxhash.New()
	_, _ = h.Write(from.Address.Bytes())
	_, _ = h.Write(to.Address.Bytes())
	_, _ = h.WriteString(amount.String())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(slippage.String())
	return h.Sum64()
}
