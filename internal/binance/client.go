// Package binance looks up spot trading pairs on the Binance public API.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"coinscanner/internal/fetcher"
	"coinscanner/internal/ratelimit"
)

const (
	source           = string(ratelimit.APIBinance)
	tickerPath       = "/api/v3/ticker/24hr"
	exchangeInfoPath = "/api/v3/exchangeInfo"

	statusTrading = "TRADING"

	// codeInvalidSymbol is returned with HTTP 400 for unknown pairs.
	codeInvalidSymbol = -1121
)

// Ticker24h represents the 24h rolling window statistics of a pair
type Ticker24h struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
}

// APIError is the error body Binance sends with 4xx responses
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// ExchangeInfoResponse represents the subset of /exchangeInfo we use
type ExchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

// Client queries pair tickers and the exchange's pair universe
type Client struct {
	apiKey  string
	client  *resty.Client
	limiter *ratelimit.Limiter
}

// NewClient creates a new Binance client. The public endpoints work without a
// key; when one is given it is sent as X-MBX-APIKEY.
func NewClient(client *resty.Client, limiter *ratelimit.Limiter, apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		client:  client,
		limiter: limiter,
	}
}

// PairSymbol builds the exchange symbol for a base asset against a quote asset.
func PairSymbol(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + strings.ToUpper(strings.TrimSpace(quote))
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.client.R().SetContext(ctx)
	if c.apiKey != "" {
		req.SetHeader("X-MBX-APIKEY", c.apiKey)
	}
	return req
}

// Ticker fetches 24h statistics for pair. It returns fetcher.ErrNoMatch when
// the pair is not listed: a 404, an empty body, or Binance's invalid symbol
// error.
func (c *Client) Ticker(ctx context.Context, pair string) (Ticker24h, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIBinance); err != nil {
		return Ticker24h{}, fetcher.WaitError(source, err)
	}

	var result Ticker24h
	var apiErr APIError

	resp, err := c.request(ctx).
		SetQueryParam("symbol", pair).
		SetResult(&result).
		SetError(&apiErr).
		Get(tickerPath)

	if resp != nil {
		switch {
		// A 404 means not listed whatever its body says.
		case resp.StatusCode() == http.StatusNotFound:
			return Ticker24h{}, fetcher.ErrNoMatch
		case resp.IsSuccess() && resp.RawResponse != nil && resp.RawResponse.ContentLength == 0:
			return Ticker24h{}, fetcher.ErrNoMatch
		case err == nil && resp.StatusCode() == http.StatusBadRequest && apiErr.Code == codeInvalidSymbol:
			return Ticker24h{}, fetcher.ErrNoMatch
		}
	}

	if err := fetcher.Classify(source, resp, err); err != nil {
		return Ticker24h{}, fmt.Errorf("ticker %s: %w", pair, err)
	}

	if result.Symbol == "" {
		return Ticker24h{}, fetcher.ErrNoMatch
	}

	return result, nil
}

// TradingPairs returns the set of pairs quoted in quote whose status is TRADING.
func (c *Client) TradingPairs(ctx context.Context, quote string) (map[string]struct{}, error) {
	if err := c.limiter.Wait(ctx, ratelimit.APIBinance); err != nil {
		return nil, fetcher.WaitError(source, err)
	}

	var result ExchangeInfoResponse

	resp, err := c.request(ctx).
		SetResult(&result).
		Get(exchangeInfoPath)
	if err := fetcher.Classify(source, resp, err); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	if len(result.Symbols) == 0 {
		return nil, fetcher.NewBadResponseError(source, resp.StatusCode(), "exchange info lists no symbols", nil)
	}

	quote = strings.ToUpper(quote)
	pairs := make(map[string]struct{})
	for _, s := range result.Symbols {
		if s.QuoteAsset == quote && s.Status == statusTrading {
			pairs[s.Symbol] = struct{}{}
		}
	}
	return pairs, nil
}
