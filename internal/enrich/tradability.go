// Package enrich attaches exchange tradability and news to a ranked list.
// Every lookup is per coin: a failure degrades that coin's annotation and
// never removes, reorders or blocks the others.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"coinscanner/internal/binance"
	"coinscanner/internal/fetcher"
	"coinscanner/internal/market"
)

// DefaultConcurrency bounds in-flight lookups per stage.
const DefaultConcurrency = 5

// TickerSource is the exchange the checker consults.
type TickerSource interface {
	Ticker(ctx context.Context, pair string) (binance.Ticker24h, error)
	TradingPairs(ctx context.Context, quote string) (map[string]struct{}, error)
}

// TradabilityChecker looks each ranked coin up as <SYMBOL><QUOTE>.
type TradabilityChecker struct {
	source      TickerSource
	quote       string
	concurrency int
	logger      *slog.Logger
}

// NewTradabilityChecker creates a checker quoting every coin against quote.
func NewTradabilityChecker(source TickerSource, quote string, concurrency int, logger *slog.Logger) *TradabilityChecker {
	if quote == "" {
		quote = "USDT"
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TradabilityChecker{
		source:      source,
		quote:       quote,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Check returns one Tradability per coin, index-aligned with coins. Once a
// lookup is throttled the remaining coins are marked unknown without a call.
func (c *TradabilityChecker) Check(ctx context.Context, coins []market.RankedCoin) []market.Tradability {
	out := make([]market.Tradability, len(coins))
	if len(coins) == 0 {
		return out
	}

	var throttled atomic.Bool

	universe, err := c.source.TradingPairs(ctx, c.quote)
	if err != nil {
		c.logger.Warn("pair universe unavailable, falling back to ticker lookups", "error", err)
		universe = nil
		if errors.Is(err, fetcher.ErrRateLimited) {
			throttled.Store(true)
		}
	}

	p := pool.New().WithMaxGoroutines(c.concurrency)
	for i, coin := range coins {
		p.Go(func() {
			out[i] = c.checkOne(ctx, coin, universe, &throttled)
		})
	}
	p.Wait()

	return out
}

func (c *TradabilityChecker) checkOne(ctx context.Context, coin market.RankedCoin, universe map[string]struct{}, throttled *atomic.Bool) market.Tradability {
	pair := binance.PairSymbol(coin.Symbol, c.quote)

	if throttled.Load() {
		return market.Tradability{
			Status: market.TradabilityUnknown,
			Pair:   pair,
			Err:    fetcher.NewRateLimitError("binance", 0, "skipped after upstream throttling"),
		}
	}

	if universe != nil {
		if _, listed := universe[pair]; !listed {
			return market.Tradability{Status: market.TradabilityNotListed, Pair: pair}
		}
	}

	ticker, err := c.source.Ticker(ctx, pair)
	switch {
	case err == nil:
		return market.Tradability{
			Status:      market.TradabilityTradable,
			Pair:        pair,
			Price:       ticker.LastPrice,
			QuoteVolume: ticker.QuoteVolume,
		}
	case errors.Is(err, fetcher.ErrNoMatch):
		return market.Tradability{Status: market.TradabilityNotListed, Pair: pair}
	default:
		if errors.Is(err, fetcher.ErrRateLimited) {
			throttled.Store(true)
		}
		c.logger.Warn("tradability lookup failed", "coin", coin.ID, "pair", pair, "error", err)
		return market.Tradability{Status: market.TradabilityUnknown, Pair: pair, Err: err}
	}
}
