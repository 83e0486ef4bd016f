package market

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultLimit is the size of the top-gainers list when none is configured.
const DefaultLimit = 10

// RankOptions controls Rank.
type RankOptions struct {
	// Limit caps the list length. Non-positive means DefaultLimit.
	Limit int
	// MinVolume drops coins whose 24h volume does not exceed it. Zero disables the floor.
	MinVolume decimal.Decimal
}

// Rank returns the top gainers of a snapshot: coins with a strictly positive
// 24h change, ordered by change descending, then market cap descending, then
// ID ascending. The result never holds more than Limit entries and is never
// padded. The input slice is left untouched.
func Rank(coins []Coin, opts RankOptions) []RankedCoin {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	gainers := make([]Coin, 0, len(coins))
	for _, c := range coins {
		if !c.Change24h.IsPositive() {
			continue
		}
		if opts.MinVolume.IsPositive() && !c.Volume24h.GreaterThan(opts.MinVolume) {
			continue
		}
		gainers = append(gainers, c)
	}

	slices.SortStableFunc(gainers, compareGainers)

	if len(gainers) > limit {
		gainers = gainers[:limit]
	}

	ranked := make([]RankedCoin, len(gainers))
	for i, c := range gainers {
		ranked[i] = RankedCoin{Coin: c, Rank: i + 1}
	}
	return ranked
}

func compareGainers(a, b Coin) int {
	if c := b.Change24h.Cmp(a.Change24h); c != 0 {
		return c
	}
	if c := b.MarketCap.Cmp(a.MarketCap); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
