// Package coingecko fetches the market snapshot from the CoinGecko API.
package coingecko

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"coinscanner/internal/fetcher"
	"coinscanner/internal/market"
	"coinscanner/internal/ratelimit"
)

const (
	source       = string(ratelimit.APICoinGecko)
	marketsPath  = "/coins/markets"
	maxPerPage   = 250
	demoKeyField = "x-cg-demo-api-key"
)

// MarketEntry represents one element of the /coins/markets response
type MarketEntry struct {
	ID                                 string              `json:"id"`
	Symbol                             string              `json:"symbol"`
	Name                               string              `json:"name"`
	CurrentPrice                       decimal.NullDecimal `json:"current_price"`
	MarketCap                          decimal.NullDecimal `json:"market_cap"`
	TotalVolume                        decimal.NullDecimal `json:"total_volume"`
	PriceChangePercentage24h           decimal.NullDecimal `json:"price_change_percentage_24h"`
	PriceChangePercentage24hInCurrency decimal.NullDecimal `json:"price_change_percentage_24h_in_currency"`
}

// MarketParams holds the listing parameters
type MarketParams struct {
	VsCurrency string
	PerPage    int
	Pages      int
	// KeyHeader names the header carrying the API key. Pro keys use x-cg-pro-api-key.
	KeyHeader string
}

// MarketClient fetches the market snapshot
type MarketClient struct {
	apiKey  string
	params  MarketParams
	client  *resty.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewMarketClient creates a new market snapshot client. The API key is optional.
func NewMarketClient(client *resty.Client, limiter *ratelimit.Limiter, apiKey string, params MarketParams, logger *slog.Logger) *MarketClient {
	if params.VsCurrency == "" {
		params.VsCurrency = "usd"
	}
	if params.PerPage <= 0 || params.PerPage > maxPerPage {
		params.PerPage = maxPerPage
	}
	if params.Pages <= 0 {
		params.Pages = 1
	}
	if params.KeyHeader == "" {
		params.KeyHeader = demoKeyField
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MarketClient{
		apiKey:  apiKey,
		params:  params,
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

// FetchMarkets retrieves the listing ordered by market cap. A failure on the
// first page fails the call; a failure on a later page keeps what was
// collected so far. Coins repeated across pages keep their first position and
// their last seen values.
func (c *MarketClient) FetchMarkets(ctx context.Context) ([]market.Coin, error) {
	var coins []market.Coin
	index := make(map[string]int)

	for page := 1; page <= c.params.Pages; page++ {
		entries, err := c.fetchPage(ctx, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			c.logger.Warn("market page failed, continuing with collected data",
				"page", page,
				"collected", len(coins),
				"error", err)
			break
		}

		for _, entry := range entries {
			coin, ok, err := entry.toCoin()
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if i, seen := index[coin.ID]; seen {
				coins[i] = coin
				continue
			}
			index[coin.ID] = len(coins)
			coins = append(coins, coin)
		}

		if len(entries) < c.params.PerPage {
			break
		}
	}

	if coins == nil {
		coins = []market.Coin{}
	}
	return coins, nil
}

func (c *MarketClient) fetchPage(ctx context.Context, page int) ([]MarketEntry, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APICoinGecko); err != nil {
		return nil, fetcher.WaitError(source, err)
	}

	var result []MarketEntry

	req := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency":             c.params.VsCurrency,
			"order":                   "market_cap_desc",
			"per_page":                strconv.Itoa(c.params.PerPage),
			"page":                    strconv.Itoa(page),
			"sparkline":               "false",
			"price_change_percentage": "24h",
		}).
		SetResult(&result)
	if c.apiKey != "" {
		req.SetHeader(c.params.KeyHeader, c.apiKey)
	}

	resp, err := req.Get(marketsPath)
	if err := fetcher.Classify(source, resp, err); err != nil {
		return nil, fmt.Errorf("fetch markets page %d: %w", page, err)
	}

	// An empty JSON array decodes to a non-nil slice; nil means null or no body.
	if result == nil {
		return nil, fetcher.NewBadResponseError(source, resp.StatusCode(), "markets response is not a list", nil)
	}

	return result, nil
}

// toCoin converts a listing entry. ok is false for entries that carry no 24h
// change and therefore cannot be ranked.
func (e MarketEntry) toCoin() (market.Coin, bool, error) {
	if e.ID == "" || e.Symbol == "" {
		return market.Coin{}, false, fetcher.NewBadResponseError(source, 0,
			fmt.Sprintf("market entry missing id or symbol (id=%q symbol=%q)", e.ID, e.Symbol), nil)
	}

	change := e.PriceChangePercentage24hInCurrency
	if !change.Valid {
		change = e.PriceChangePercentage24h
	}
	if !change.Valid {
		return market.Coin{}, false, nil
	}

	name := e.Name
	if name == "" {
		name = e.Symbol
	}

	return market.Coin{
		ID:        e.ID,
		Symbol:    e.Symbol,
		Name:      name,
		Price:     e.CurrentPrice.Decimal,
		Change24h: change.Decimal,
		MarketCap: e.MarketCap.Decimal,
		Volume24h: e.TotalVolume.Decimal,
	}, true, nil
}
