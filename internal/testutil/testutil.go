package testutil

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"coinscanner/internal/binance"
	"coinscanner/internal/fetcher"
	"coinscanner/internal/market"
)

// MockMarketSource is a mock snapshot source for testing
type MockMarketSource struct {
	FetchFunc func(ctx context.Context) ([]market.Coin, error)
}

// FetchMarkets implements the snapshot source interface
func (m *MockMarketSource) FetchMarkets(ctx context.Context) ([]market.Coin, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return []market.Coin{}, nil
}

// NewMockMarketSource creates a snapshot source with predefined values
func NewMockMarketSource(coins []market.Coin, err error) *MockMarketSource {
	return &MockMarketSource{
		FetchFunc: func(ctx context.Context) ([]market.Coin, error) {
			return coins, err
		},
	}
}

// MockTickerSource is a mock exchange for testing
type MockTickerSource struct {
	TickerFunc       func(ctx context.Context, pair string) (binance.Ticker24h, error)
	TradingPairsFunc func(ctx context.Context, quote string) (map[string]struct{}, error)
}

// Ticker implements the exchange interface
func (m *MockTickerSource) Ticker(ctx context.Context, pair string) (binance.Ticker24h, error) {
	if m.TickerFunc != nil {
		return m.TickerFunc(ctx, pair)
	}
	return binance.Ticker24h{}, fetcher.ErrNoMatch
}

// TradingPairs implements the exchange interface. Without a func it reports
// the universe as unavailable so every coin goes through Ticker.
func (m *MockTickerSource) TradingPairs(ctx context.Context, quote string) (map[string]struct{}, error) {
	if m.TradingPairsFunc != nil {
		return m.TradingPairsFunc(ctx, quote)
	}
	return nil, fetcher.NewServerError("mock", 503)
}

// NewMockTickerSource creates an exchange that knows the given pairs.
// Pairs mapped to an error return it from Ticker.
func NewMockTickerSource(tickers map[string]binance.Ticker24h, failures map[string]error) *MockTickerSource {
	return &MockTickerSource{
		TickerFunc: func(ctx context.Context, pair string) (binance.Ticker24h, error) {
			if err, ok := failures[pair]; ok {
				return binance.Ticker24h{}, err
			}
			if t, ok := tickers[pair]; ok {
				return t, nil
			}
			return binance.Ticker24h{}, fetcher.ErrNoMatch
		},
	}
}

// MockNewsSource is a mock search provider for testing
type MockNewsSource struct {
	SearchFunc func(ctx context.Context, query string, count int) ([]market.NewsItem, error)
}

// Search implements the search interface
func (m *MockNewsSource) Search(ctx context.Context, query string, count int) ([]market.NewsItem, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query, count)
	}
	return []market.NewsItem{}, nil
}

// Coin builds a snapshot entry from float values.
func Coin(id, symbol string, change, marketCap float64) market.Coin {
	return market.Coin{
		ID:        id,
		Symbol:    symbol,
		Name:      fmt.Sprintf("%s coin", id),
		Price:     decimal.NewFromFloat(1.5),
		Change24h: decimal.NewFromFloat(change),
		MarketCap: decimal.NewFromFloat(marketCap),
		Volume24h: decimal.NewFromInt(10_000_000),
	}
}

// Ticker builds an exchange ticker from float values.
func Ticker(pair string, price, quoteVolume float64) binance.Ticker24h {
	return binance.Ticker24h{
		Symbol:      pair,
		LastPrice:   decimal.NewFromFloat(price),
		QuoteVolume: decimal.NewFromFloat(quoteVolume),
	}
}
