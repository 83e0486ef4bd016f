package enrich

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"coinscanner/internal/fetcher"
	"coinscanner/internal/market"
)

// DefaultNewsCount is the number of results kept per coin.
const DefaultNewsCount = 3

// NewsSource is the search provider the enricher consults.
type NewsSource interface {
	Search(ctx context.Context, query string, count int) ([]market.NewsItem, error)
}

// NewsEnricher searches recent news for each ranked coin.
type NewsEnricher struct {
	source      NewsSource
	count       int
	concurrency int
	logger      *slog.Logger
}

// NewNewsEnricher creates an enricher. A nil source disables it: every coin
// then gets an empty result and no request is made.
func NewNewsEnricher(source NewsSource, count, concurrency int, logger *slog.Logger) *NewsEnricher {
	if count <= 0 {
		count = DefaultNewsCount
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NewsEnricher{
		source:      source,
		count:       count,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Enabled reports whether a search provider is configured.
func (e *NewsEnricher) Enabled() bool {
	return e != nil && e.source != nil
}

// Query builds the search string for a coin.
func Query(coin market.Coin) string {
	name := strings.TrimSpace(coin.Name)
	if name == "" {
		name = strings.ToUpper(coin.Symbol)
	}
	return name + " coin news"
}

// Enrich returns one NewsResult per coin, index-aligned with coins.
func (e *NewsEnricher) Enrich(ctx context.Context, coins []market.RankedCoin) []market.NewsResult {
	out := make([]market.NewsResult, len(coins))
	for i := range out {
		out[i].Items = []market.NewsItem{}
	}
	if !e.Enabled() || len(coins) == 0 {
		return out
	}

	// Set once the provider throttles us or rejects the key; the rest are skipped.
	var halted atomic.Pointer[error]

	p := pool.New().WithMaxGoroutines(e.concurrency)
	for i, coin := range coins {
		p.Go(func() {
			if reason := halted.Load(); reason != nil {
				out[i].Err = *reason
				return
			}

			items, err := e.source.Search(ctx, Query(coin.Coin), e.count)
			if err != nil {
				if haltsEnrichment(err) {
					halted.CompareAndSwap(nil, &err)
				}
				e.logger.Warn("news lookup failed", "coin", coin.ID, "error", err)
				out[i].Err = err
				return
			}
			if len(items) > e.count {
				items = items[:e.count]
			}
			if items != nil {
				out[i].Items = items
			}
		})
	}
	p.Wait()

	return out
}

// haltsEnrichment reports whether err makes every further search pointless.
func haltsEnrichment(err error) bool {
	return errors.Is(err, fetcher.ErrRateLimited) ||
		errors.Is(err, fetcher.ErrCredentialRejected) ||
		errors.Is(err, fetcher.ErrCredentialMissing)
}
