// Package market defines the values that flow through a scanner run, from
// the raw snapshot to the enriched, ranked list handed to presentation.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Coin is one entry of the market snapshot. It is never mutated after the
// snapshot fetcher builds it.
type Coin struct {
	ID        string
	Symbol    string
	Name      string
	Price     decimal.Decimal
	Change24h decimal.Decimal // signed percentage
	MarketCap decimal.Decimal
	Volume24h decimal.Decimal
}

// RankedCoin is a Coin with its 1-based position in the top-gainers list.
type RankedCoin struct {
	Coin
	Rank int
}

// TradabilityStatus is the outcome of a pair lookup.
type TradabilityStatus string

const (
	// TradabilityTradable means the pair is listed and a ticker was returned.
	TradabilityTradable TradabilityStatus = "tradable"
	// TradabilityNotListed means the exchange has no active pair for the coin.
	TradabilityNotListed TradabilityStatus = "not_listed"
	// TradabilityUnknown means the lookup failed or was skipped.
	TradabilityUnknown TradabilityStatus = "unknown"
)

// Tradability annotates a ranked coin with the exchange lookup result.
// Price and QuoteVolume are only meaningful when Status is tradable; Err is
// only set when Status is unknown.
type Tradability struct {
	Status      TradabilityStatus
	Pair        string
	Price       decimal.Decimal
	QuoteVolume decimal.Decimal
	Err         error
}

// Tradable reports whether the pair was found on the exchange.
func (t Tradability) Tradable() bool {
	return t.Status == TradabilityTradable
}

// NewsItem is a single search hit.
type NewsItem struct {
	Title       string
	URL         string
	Description string
	Source      string
}

// NewsResult holds the search hits for one coin. An empty Items slice with a
// nil Err is a normal outcome.
type NewsResult struct {
	Items []NewsItem
	Err   error
}

// EnrichedCoin is the unit handed to presentation.
type EnrichedCoin struct {
	RankedCoin
	Tradability Tradability
	News        NewsResult
}

// Report is the output of one completed run.
type Report struct {
	RunID       string
	FetchedAt   time.Time
	NewsEnabled bool
	Coins       []EnrichedCoin
}
