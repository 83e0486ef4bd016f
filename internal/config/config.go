package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the coin scanner.
type Config struct {
	// API keys. All are optional: CoinGecko and Binance work keyless at
	// lower limits, and news enrichment is disabled without a Brave key.
	CoinGeckoAPIKey    string `mapstructure:"coingecko_api_key"`
	CoinGeckoKeyHeader string `mapstructure:"coingecko_key_header"`
	BinanceAPIKey      string `mapstructure:"binance_api_key"`
	BraveSearchAPIKey  string `mapstructure:"brave_search_api_key"`

	// Base URLs for API endpoints (configurable for testing)
	CoinGeckoBaseURL string `mapstructure:"coingecko_base_url"`
	BinanceBaseURL   string `mapstructure:"binance_base_url"`
	BraveBaseURL     string `mapstructure:"brave_base_url"`

	// Ranking and enrichment
	TopN       int     `mapstructure:"top_n"`
	NewsCount  int     `mapstructure:"news_count"`
	QuoteAsset string  `mapstructure:"quote_asset"`
	VsCurrency string  `mapstructure:"vs_currency"`
	PerPage    int     `mapstructure:"per_page"`
	Pages      int     `mapstructure:"pages"`
	MinVolume  float64 `mapstructure:"min_volume"`

	// Request behaviour
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	CoinGeckoRPS   float64       `mapstructure:"coingecko_rps"`
	BinanceRPS     float64       `mapstructure:"binance_rps"`
	BraveRPS       float64       `mapstructure:"brave_rps"`

	// Output
	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`
	ServeAddr string `mapstructure:"serve_addr"`
	CSVPath   string `mapstructure:"csv_path"`
}

// MinVolumeDecimal returns the volume floor as a decimal.
func (c *Config) MinVolumeDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinVolume)
}

// NewsEnabled reports whether a search key is configured.
func (c *Config) NewsEnabled() bool {
	return c.BraveSearchAPIKey != ""
}

// NewFlagSet returns the command-line flags Load understands.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("csv", "", "write the report as CSV to this file or directory")
	fs.String("serve", "", "serve the HTTP API on this address instead of running once")
	fs.Int("top", 0, "number of gainers to keep")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	return fs
}

var flagKeys = map[string]string{
	"csv":       "csv_path",
	"serve":     "serve_addr",
	"top":       "top_n",
	"log-level": "log_level",
}

var envKeys = []string{
	"coingecko_api_key",
	"coingecko_key_header",
	"binance_api_key",
	"brave_search_api_key",
	"coingecko_base_url",
	"binance_base_url",
	"brave_base_url",
	"top_n",
	"news_count",
	"quote_asset",
	"vs_currency",
	"per_page",
	"pages",
	"min_volume",
	"max_concurrency",
	"request_timeout",
	"run_timeout",
	"coingecko_rps",
	"binance_rps",
	"brave_rps",
	"log_level",
	"log_file",
	"serve_addr",
	"csv_path",
}

// Load reads configuration from flags, environment variables, an optional
// .env file and an optional config file, in that order of precedence.
// flags may be nil.
//
// Environment variables are the upper-case form of each key, for example
// COINGECKO_API_KEY, BRAVE_SEARCH_API_KEY, TOP_N or REQUEST_TIMEOUT.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	v := viper.New()

	v.SetDefault("coingecko_key_header", "x-cg-demo-api-key")
	v.SetDefault("coingecko_base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("binance_base_url", "https://api.binance.com")
	v.SetDefault("brave_base_url", "https://api.search.brave.com")
	v.SetDefault("top_n", 10)
	v.SetDefault("news_count", 3)
	v.SetDefault("quote_asset", "USDT")
	v.SetDefault("vs_currency", "usd")
	v.SetDefault("per_page", 250)
	v.SetDefault("pages", 1)
	v.SetDefault("min_volume", 0)
	v.SetDefault("max_concurrency", 5)
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("run_timeout", "2m")
	v.SetDefault("coingecko_rps", 0.5)
	v.SetDefault("binance_rps", 10)
	v.SetDefault("brave_rps", 1)
	v.SetDefault("log_level", "info")

	// Optionally read from config file if it exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.coinscanner")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, key := range envKeys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and reports every problem at once.
func (c *Config) Validate() error {
	var invalid []string

	if c.TopN < 1 || c.TopN > 250 {
		invalid = append(invalid, "TOP_N must be between 1 and 250")
	}
	if c.NewsCount < 1 || c.NewsCount > 20 {
		invalid = append(invalid, "NEWS_COUNT must be between 1 and 20")
	}
	if c.PerPage < 1 || c.PerPage > 250 {
		invalid = append(invalid, "PER_PAGE must be between 1 and 250")
	}
	if c.Pages < 1 {
		invalid = append(invalid, "PAGES must be at least 1")
	}
	if c.MinVolume < 0 {
		invalid = append(invalid, "MIN_VOLUME must not be negative")
	}
	if c.MaxConcurrency < 1 {
		invalid = append(invalid, "MAX_CONCURRENCY must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		invalid = append(invalid, "REQUEST_TIMEOUT must be positive")
	}
	if c.RunTimeout < 0 {
		invalid = append(invalid, "RUN_TIMEOUT must not be negative")
	}
	if strings.TrimSpace(c.QuoteAsset) == "" {
		invalid = append(invalid, "QUOTE_ASSET is required")
	}
	if strings.TrimSpace(c.VsCurrency) == "" {
		invalid = append(invalid, "VS_CURRENCY is required")
	}
	for name, url := range map[string]string{
		"COINGECKO_BASE_URL": c.CoinGeckoBaseURL,
		"BINANCE_BASE_URL":   c.BinanceBaseURL,
		"BRAVE_BASE_URL":     c.BraveBaseURL,
	} {
		if url == "" {
			invalid = append(invalid, name+" is required")
		}
	}

	if len(invalid) > 0 {
		slices.Sort(invalid)
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
	}
	return nil
}
