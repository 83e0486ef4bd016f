package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinscanner/internal/fetcher"
	"coinscanner/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, apiKey string, params MarketParams) *MarketClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	httpClient := fetcher.NewHTTPClient(server.URL, fetcher.ClientOptions{
		Timeout:   2 * time.Second,
		RetryWait: 10 * time.Millisecond,
	})
	return NewMarketClient(httpClient, ratelimit.Unlimited(), apiKey, params, nil)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestFetchMarkets_Success(t *testing.T) {
	var gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-cg-demo-api-key")
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "market_cap_desc", r.URL.Query().Get("order"))
		assert.Equal(t, "250", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, `[
			{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":65000.5,"market_cap":1280000000000,
			 "total_volume":31000000000,"price_change_percentage_24h":2.5,"price_change_percentage_24h_in_currency":2.51},
			{"id":"pepe","symbol":"pepe","name":"Pepe","current_price":0.00001234,"market_cap":5000000000,
			 "total_volume":900000000,"price_change_percentage_24h":18.2}
		]`)
	}, "demo-key", MarketParams{})

	coins, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 2)

	assert.Equal(t, "demo-key", gotKey)
	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.Equal(t, "btc", coins[0].Symbol)
	assert.True(t, coins[0].Change24h.Equal(decimal.RequireFromString("2.51")), "in-currency change preferred")
	assert.True(t, coins[0].Price.Equal(decimal.RequireFromString("65000.5")))
	assert.True(t, coins[1].Change24h.Equal(decimal.RequireFromString("18.2")), "falls back to plain 24h change")
	assert.True(t, coins[1].Price.Equal(decimal.RequireFromString("0.00001234")))
}

func TestFetchMarkets_NoKeyOmitsHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("x-cg-demo-api-key"))
		writeJSON(w, http.StatusOK, `[]`)
	}, "", MarketParams{})

	coins, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, coins)
}

func TestFetchMarkets_CustomKeyHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pro-key", r.Header.Get("x-cg-pro-api-key"))
		writeJSON(w, http.StatusOK, `[]`)
	}, "pro-key", MarketParams{KeyHeader: "x-cg-pro-api-key"})

	_, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
}

func TestFetchMarkets_SkipsNullChange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[
			{"id":"a","symbol":"a","name":"A","current_price":1,"price_change_percentage_24h":null},
			{"id":"b","symbol":"b","name":"B","current_price":1,"price_change_percentage_24h":3}
		]`)
	}, "", MarketParams{})

	coins, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "b", coins[0].ID)
}

func TestFetchMarkets_MissingIDIsBadResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `[{"symbol":"x","price_change_percentage_24h":1}]`)
	}, "", MarketParams{})

	_, err := client.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrBadResponse)
}

func TestFetchMarkets_MalformedPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":{"error_code":1}}`)
	}, "", MarketParams{})

	_, err := client.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrBadResponse)
}

func TestFetchMarkets_NullPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `null`)
	}, "", MarketParams{})

	_, err := client.FetchMarkets(context.Background())
	assert.ErrorIs(t, err, fetcher.ErrBadResponse)
}

func TestFetchMarkets_RateLimitedRetriesOnce(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, "", MarketParams{})

	_, err := client.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrRateLimited)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchMarkets_RateLimitRecovers(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, `[{"id":"a","symbol":"a","name":"A","price_change_percentage_24h":1}]`)
	}, "", MarketParams{})

	coins, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, coins, 1)
}

func TestFetchMarkets_InvalidKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"status":{"error_code":10002,"error_message":"invalid key"}}`)
	}, "bad", MarketParams{})

	_, err := client.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrCredentialRejected)
	assert.Contains(t, err.Error(), "credential rejected")
}

func TestFetchMarkets_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, "", MarketParams{})

	_, err := client.FetchMarkets(context.Background())
	assert.ErrorIs(t, err, fetcher.ErrUnavailable)
}

func TestFetchMarkets_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	httpClient := fetcher.NewHTTPClient(server.URL, fetcher.ClientOptions{Timeout: 50 * time.Millisecond})
	client := NewMarketClient(httpClient, ratelimit.Unlimited(), "", MarketParams{}, nil)

	_, err := client.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrUnavailable)
}

func TestFetchMarkets_Pagination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, http.StatusOK, `[
				{"id":"a","symbol":"a","name":"A","price_change_percentage_24h":1},
				{"id":"b","symbol":"b","name":"B","price_change_percentage_24h":2}
			]`)
		case "2":
			// b shows up again with fresher values.
			writeJSON(w, http.StatusOK, `[
				{"id":"b","symbol":"b","name":"B","price_change_percentage_24h":9},
				{"id":"c","symbol":"c","name":"C","price_change_percentage_24h":3}
			]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}, "", MarketParams{PerPage: 2, Pages: 2})

	coins, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{coins[0].ID, coins[1].ID, coins[2].ID})
	assert.True(t, coins[1].Change24h.Equal(decimal.NewFromInt(9)))
}

func TestFetchMarkets_ShortPageStopsPaging(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, `[{"id":"a","symbol":"a","name":"A","price_change_percentage_24h":1}]`)
	}, "", MarketParams{PerPage: 2, Pages: 3})

	_, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchMarkets_LaterPageFailureKeepsCollected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, `[
			{"id":"a","symbol":"a","name":"A","price_change_percentage_24h":1},
			{"id":"b","symbol":"b","name":"B","price_change_percentage_24h":2}
		]`)
	}, "", MarketParams{PerPage: 2, Pages: 2})

	coins, err := client.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, coins, 2)
}

func TestFetchMarkets_ContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, "", MarketParams{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchMarkets(ctx)
	assert.Error(t, err)
}
