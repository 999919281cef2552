package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/leverage/flashloan"
	"github.com/michaelpento.lv/leverage/protocol"
	"github.com/michaelpento.lv/leverage/token"
	"github.com/michaelpento.lv/leverage/utils"
)

// Duration makes time.Duration YAML-decodable from strings like "3s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// Chain settings
	ChainID uint64 `yaml:"chain_id"`
	Network string `yaml:"network"`

	// Swap and fee policy
	SlippageBps       int64    `yaml:"slippage_bps"`
	SwapFeeBps        int64    `yaml:"swap_fee_bps"`
	AcceptedFeeTokens []string `yaml:"accepted_fee_tokens"`

	// Flash loan lenders, in preference order
	FlashLoanProviders []string `yaml:"flash_loan_providers"`

	// Quote caching and rate limiting
	QuoteCacheSize int             `yaml:"quote_cache_size"`
	QuoteCacheTTL  Duration        `yaml:"quote_cache_ttl"`
	QuoteRateLimit RateLimitConfig `yaml:"quote_rate_limit"`

	// Address book
	ExchangeAddress     string `yaml:"exchange_address"`
	FlashRepayerAddress string `yaml:"flash_repayer_address"`

	// Token table and protocol deployments
	Tokens    []TokenConfig             `yaml:"tokens"`
	Protocols map[string]ProtocolConfig `yaml:"protocols"`

	// Internal components
	Logger *zap.Logger `yaml:"-"`
}

type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	Native   bool   `yaml:"native"`
}

// ProtocolConfig is one lending protocol deployment. DustLimit is a
// decimal amount in debt-token units.
type ProtocolConfig struct {
	Pool               string `yaml:"pool"`
	Oracle             string `yaml:"oracle"`
	DataProvider       string `yaml:"data_provider"`
	OracleBaseDecimals uint8  `yaml:"oracle_base_decimals"`
	FlashLoanFeeBps    int64  `yaml:"flash_loan_fee_bps"`
	DustLimit          string `yaml:"dust_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	BurstSize         int           `yaml:"burst_size"`
	WaitTimeout       Duration      `yaml:"wait_timeout"`
}

func (r RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	return nil
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.SlippageBps < 0 || c.SlippageBps >= 10000 {
		errors = append(errors, "slippage_bps must be in [0,10000)")
	}
	if c.SwapFeeBps < 0 || c.SwapFeeBps >= 10000 {
		errors = append(errors, "swap_fee_bps must be in [0,10000)")
	}
	if len(c.FlashLoanProviders) == 0 {
		errors = append(errors, "at least one flash loan provider must be specified")
	}
	if _, err := c.Providers(); err != nil {
		errors = append(errors, err.Error())
	}
	if c.QuoteCacheSize <= 0 {
		errors = append(errors, "quote_cache_size must be positive")
	}
	if c.QuoteCacheTTL <= 0 {
		errors = append(errors, "quote_cache_ttl must be positive")
	}
	if err := c.QuoteRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("quote rate limit error: %v", err))
	}
	if !common.IsHexAddress(c.ExchangeAddress) {
		errors = append(errors, "exchange_address is not a valid address")
	}
	if !common.IsHexAddress(c.FlashRepayerAddress) {
		errors = append(errors, "flash_repayer_address is not a valid address")
	}
	for _, t := range c.Tokens {
		if t.Symbol == "" {
			errors = append(errors, "token with empty symbol")
			continue
		}
		if !common.IsHexAddress(t.Address) {
			errors = append(errors, fmt.Sprintf("token %s: invalid address", t.Symbol))
		}
		if t.Decimals > token.MaxDecimals {
			errors = append(errors, fmt.Sprintf("token %s: decimals above %d", t.Symbol, token.MaxDecimals))
		}
	}
	for name, p := range c.Protocols {
		if err := p.validate(); err != nil {
			errors = append(errors, fmt.Sprintf("protocol %s: %v", name, err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

func (p ProtocolConfig) validate() error {
	for _, addr := range []string{p.Pool, p.Oracle, p.DataProvider} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid contract address %q", addr)
		}
	}
	if p.OracleBaseDecimals > token.MaxDecimals {
		return fmt.Errorf("oracle base decimals above %d", token.MaxDecimals)
	}
	if p.FlashLoanFeeBps < 0 {
		return fmt.Errorf("flash loan fee cannot be negative")
	}
	if _, err := decimal.NewFromString(p.DustLimit); p.DustLimit != "" && err != nil {
		return fmt.Errorf("dust limit %q: %w", p.DustLimit, err)
	}
	return nil
}

// Token resolves a configured token by symbol.
func (c *Config) Token(symbol string) (token.Token, error) {
	for _, t := range c.Tokens {
		if t.Symbol == symbol {
			return token.New(t.Symbol, common.HexToAddress(t.Address), t.Decimals, t.Native)
		}
	}
	return token.Token{}, fmt.Errorf("token %s not configured", symbol)
}

// Providers resolves the configured flash-loan lender names. A lender
// backed by a configured protocol deployment takes its premium from
// that deployment instead of the built-in default.
func (c *Config) Providers() ([]flashloan.Lender, error) {
	lenders := make([]flashloan.Lender, 0, len(c.FlashLoanProviders))
	for _, name := range c.FlashLoanProviders {
		var provider flashloan.Provider
		switch name {
		case "AaveV3":
			provider = flashloan.ProviderAaveV3
		case "Balancer":
			provider = flashloan.ProviderBalancer
		case "Spark":
			provider = flashloan.ProviderSpark
		default:
			return nil, fmt.Errorf("unknown flash loan provider %q", name)
		}
		lender := provider.Lender()
		if pc, ok := c.Protocols[name]; ok {
			lender.FeeBps = pc.FlashLoanFeeBps
		}
		lenders = append(lenders, lender)
	}
	return lenders, nil
}

// PoolConfig converts a protocol deployment entry into the adapter's
// wiring form.
func (p ProtocolConfig) PoolConfig() (protocol.PoolConfig, error) {
	if err := p.validate(); err != nil {
		return protocol.PoolConfig{}, err
	}
	dust := token.Zero()
	if p.DustLimit != "" {
		d, err := decimal.NewFromString(p.DustLimit)
		if err != nil {
			return protocol.PoolConfig{}, err
		}
		dust = token.FromDecimal(d)
	}
	return protocol.PoolConfig{
		Pool:               common.HexToAddress(p.Pool),
		Oracle:             common.HexToAddress(p.Oracle),
		DataProvider:       common.HexToAddress(p.DataProvider),
		OracleBaseDecimals: p.OracleBaseDecimals,
		FlashLoanFeeBps:    p.FlashLoanFeeBps,
		DustLimit:          dust.Wad(),
	}, nil
}

// LoadConfig reads and validates a YAML config file, applying any
// environment overrides on top.
func LoadConfig(cfgFile string) (*Config, error) {
	raw, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	config.applyEnv()

	config.Logger = utils.InitLogger(os.Getenv(EnvDebug) != "")

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvNetwork); v != "" {
		c.Network = v
	}
	if v := os.Getenv(EnvExchangeAddress); v != "" {
		c.ExchangeAddress = v
	}
	if v := os.Getenv(EnvFlashRepayerAddress); v != "" {
		c.FlashRepayerAddress = v
	}
}

// NewConfig returns mainnet defaults; deployment addresses and the
// token table still have to come from the config file.
func NewConfig() *Config {
	return &Config{
		ChainID:            1,
		Network:            "mainnet",
		SlippageBps:        50, // 0.5%
		SwapFeeBps:         20, // 0.2%
		AcceptedFeeTokens:  []string{"USDC", "DAI", "USDT", "WETH"},
		FlashLoanProviders: []string{"Balancer", "AaveV3"},
		QuoteCacheSize:     512,
		QuoteCacheTTL:      Duration(3 * time.Second),
		QuoteRateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			BurstSize:         10,
			WaitTimeout:       Duration(time.Second),
		},
	}
}
