package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

var (
	registry = prometheus.NewRegistry()
	logger   *zap.Logger
)

type MetricsConfig struct {
	ReportInterval time.Duration
	LogMetrics     bool
}

func Initialize(cfg *MetricsConfig, log *zap.Logger) {
	logger = log
	prometheus.DefaultRegisterer = registry
}

type BuilderMetrics struct {
	Builds       *prometheus.CounterVec
	BuildErrors  *prometheus.CounterVec
	BuildLatency *prometheus.HistogramVec
	FlashLoans   *prometheus.CounterVec
	SwapVolume   prometheus.Counter
}

func NewBuilderMetrics(namespace string) *BuilderMetrics {
	return &BuilderMetrics{
		Builds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Total number of strategies built",
		}, []string{"strategy", "protocol"}),
		BuildErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_errors_total",
			Help:      "Total number of failed strategy builds by error class",
		}, []string{"class"}),
		BuildLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_latency_seconds",
			Help:      "Time taken to build a strategy",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		FlashLoans: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flash_loans_total",
			Help:      "Total number of flash loans taken by provider",
		}, []string{"provider"}),
		SwapVolume: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swap_volume_wad",
			Help:      "Cumulative swap input volume in wad units",
		}),
	}
}

// RecordBuild tracks one build attempt: a success increments the build
// counter, a failure increments the error counter under the given class.
func (m *BuilderMetrics) RecordBuild(strategy, protocol string, start time.Time, errClass string) {
	m.BuildLatency.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	if errClass != "" {
		m.BuildErrors.WithLabelValues(errClass).Inc()
		return
	}
	m.Builds.WithLabelValues(strategy, protocol).Inc()
}

// SuccessRate reads the build and error counters back and returns
// successes / (successes + failures), or zero before any build.
func (m *BuilderMetrics) SuccessRate() float64 {
	ok := counterVecSum(m.Builds)
	failed := counterVecSum(m.BuildErrors)
	total := ok + failed
	if total == 0 {
		return 0
	}
	return ok / total
}

func counterVecSum(vec *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	var sum float64
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}
		if c := pb.GetCounter(); c != nil {
			sum += c.GetValue()
		}
	}
	return sum
}

type QuoteMetrics struct {
	Requests     prometheus.Counter
	CacheHits    prometheus.Counter
	NoRoute      prometheus.Counter
	QuoteLatency prometheus.Histogram
	FeeFallbacks prometheus.Counter
}

func NewQuoteMetrics(namespace string) *QuoteMetrics {
	return &QuoteMetrics{
		Requests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of swap quote requests",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of quote requests served from cache",
		}),
		NoRoute: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_route_total",
			Help:      "Total number of quote requests with no route",
		}),
		QuoteLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_latency_seconds",
			Help:      "Quote round trip latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		FeeFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_fallbacks_total",
			Help:      "Total number of swaps where neither token was an accepted fee token",
		}),
	}
}

type ChainMetrics struct {
	Calls       prometheus.Counter
	CallErrors  prometheus.Counter
	CallLatency prometheus.Histogram
}

func NewChainMetrics(namespace string) *ChainMetrics {
	return &ChainMetrics{
		Calls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of read calls to the chain",
		}),
		CallErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "Total number of failed read calls",
		}),
		CallLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_seconds",
			Help:      "Read call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
