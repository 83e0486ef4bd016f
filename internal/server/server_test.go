package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinscanner/internal/coordinator"
	"coinscanner/internal/market"
	"coinscanner/internal/observability"
	"coinscanner/internal/report"
	"coinscanner/internal/testutil"
)

type fakeRunner struct {
	triggerFunc func(ctx context.Context) (*market.Report, error)
	latest      *market.Report
}

func (f *fakeRunner) Trigger(ctx context.Context) (*market.Report, error) {
	rep, err := f.triggerFunc(ctx)
	if err == nil {
		f.latest = rep
	}
	return rep, err
}

func (f *fakeRunner) Latest() *market.Report {
	return f.latest
}

func sampleReport() *market.Report {
	return &market.Report{
		RunID:     "run-42",
		FetchedAt: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Coins: []market.EnrichedCoin{
			{
				RankedCoin:  market.RankedCoin{Coin: testutil.Coin("d", "d", 8, 50), Rank: 1},
				Tradability: market.Tradability{Status: market.TradabilityNotListed},
				News:        market.NewsResult{Items: []market.NewsItem{}},
			},
		},
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := New(&fakeRunner{}, nil, nil)
	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGainers_NoRunYet(t *testing.T) {
	h := New(&fakeRunner{}, nil, nil)

	for _, path := range []string{"/api/gainers", "/api/gainers.csv", "/api/chart"} {
		rec := do(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "no completed run yet", path)
	}
}

func TestRefreshThenRead(t *testing.T) {
	runner := &fakeRunner{triggerFunc: func(ctx context.Context) (*market.Report, error) {
		return sampleReport(), nil
	}}
	h := New(runner, nil, nil)

	rec := do(t, h, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GainersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-42", resp.RunID)
	require.Len(t, resp.Coins, 1)
	assert.Equal(t, "not_listed", resp.Coins[0].BinanceStatus)
	assert.Empty(t, resp.Coins[0].BinancePrice)

	rec = do(t, h, http.MethodGet, "/api/gainers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-42"`)

	rec = do(t, h, http.MethodGet, "/api/gainers.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "top_gainers_20260506_070809.csv")
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, report.Columns, records[0])

	rec = do(t, h, http.MethodGet, "/api/chart")
	require.Equal(t, http.StatusOK, rec.Code)
	var points []report.Point
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Equal(t, []report.Point{{ID: "d", Symbol: "D", Change: 8}}, points)
}

func TestRefresh_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"superseded", coordinator.ErrSuperseded, http.StatusConflict},
		{"upstream failure", &coordinator.RunError{RunID: "r", Stage: coordinator.StateFetching, Err: errors.New("snapshot down")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{triggerFunc: func(ctx context.Context) (*market.Report, error) {
				return nil, tt.err
			}}
			rec := do(t, New(runner, nil, nil), http.MethodPost, "/api/refresh")

			assert.Equal(t, tt.status, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body.Error)
			assert.Nil(t, runner.Latest())
		})
	}
}

func TestRefresh_WrongMethod(t *testing.T) {
	rec := do(t, New(&fakeRunner{}, nil, nil), http.MethodGet, "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := observability.NewMetrics("test")
	metrics.ObserveSizes(3, 1)

	rec := do(t, New(&fakeRunner{}, metrics, nil), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_pipeline_ranked_coins 1")

	rec = do(t, New(&fakeRunner{}, nil, nil), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
