package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/engine"
	"market_cache/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
}

func (s *stubPrices) set(price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = decimal.RequireFromString(price)
}

func (s *stubPrices) FetchPrices(ctx context.Context, from, to []string) (domain.PriceTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t := domain.PriceTable{}
	for _, f := range from {
		for _, t2 := range to {
			t[domain.NewCurrencyPair(f, t2)] = domain.PriceSnapshot{
				Price:            s.price,
				LastUpdate:       1700000000,
				ChangePercent24h: decimal.RequireFromString("-7.0615698861978414"),
			}
		}
	}
	return t, nil
}

type stubHistory struct{}

func (stubHistory) FetchHistory(ctx context.Context, from, to string, c domain.Cadence, limit int) (domain.HistorySeries, error) {
	price := "0.39"
	if from == "EUR" {
		price = "1.2"
	}
	return domain.HistorySeries{{Time: 86400, Price: decimal.RequireFromString(price)}}, nil
}

type stubPools struct{}

func (stubPools) FetchPools(ctx context.Context) ([]domain.StakePool, error) {
	return []domain.StakePool{
		{PoolID: "pool1a", Name: "Alpha", Img: "https://example.invalid/a.png"},
		{PoolID: "pool1b", Name: "Beta"},
		{PoolID: "pool1c", Name: "Alpha Two"},
	}, nil
}

type stubCollections struct{}

func (stubCollections) ListCollections(ctx context.Context) ([]domain.CollectionListing, error) {
	return []domain.CollectionListing{{ID: 1, Name: "One", PolicyID: "p1"}, {ID: 2, Name: "Two", PolicyID: "p2"}}, nil
}

func (stubCollections) FetchDetail(ctx context.Context, policyID string) (*domain.CollectionDetail, error) {
	return &domain.CollectionDetail{
		Policy:      policyID,
		TotalTx:     3,
		TotalVolume: decimal.RequireFromString("1234567.25"),
		FloorPrice:  decimal.RequireFromString("45"),
		HighestSale: &domain.HighestSale{Name: "Top", Price: decimal.RequireFromString("9000.5")},
	}, nil
}

type stubLogos struct{ path string }

func (l stubLogos) Fetch(ctx context.Context, id, src string) (string, error) {
	if src == "" {
		return "", errors.New("no logo")
	}
	return l.path, nil
}

type stubRuns struct{}

func (stubRuns) Recent(dataset string, n int) ([]domain.RefreshRun, error) {
	return []domain.RefreshRun{{ID: "r1", Dataset: "prices"}}, nil
}

func (stubRuns) LastSuccess(dataset string) (*domain.RefreshRun, error) {
	if dataset != "prices" {
		return nil, nil
	}
	return &domain.RefreshRun{ID: "r1", Dataset: "prices", Kind: domain.KindNone}, nil
}

type fixture struct {
	cfg    *infra.Config
	prices *stubPrices
	orch   *engine.Orchestrator
	server *Server
}

func newFixture(t *testing.T, mutate func(*infra.Config)) *fixture {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.Currencies.From = []string{"ADA"}
	cfg.Currencies.To = []string{"USD", "EUR"}
	cfg.Currencies.Base = "USD"
	cfg.Refresh.OnDemandTimeoutSec = 1
	cfg.Refresh.EnrichPerSecond = 0
	cfg.Server.RequestsPerSec = 1000
	cfg.Server.Burst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	logo := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(logo, []byte("png"), 0644))

	prices := &stubPrices{price: decimal.RequireFromString("52.46429523400001")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := infra.NewMetrics()
	orch := engine.NewOrchestrator(cfg, engine.Sources{
		Prices:      prices,
		History:     stubHistory{},
		Pools:       stubPools{},
		Collections: stubCollections{},
	}, metrics, nil, logger)

	return &fixture{
		cfg:    cfg,
		prices: prices,
		orch:   orch,
		server: NewServer(cfg, orch, metrics, stubRuns{}, stubLogos{path: logo}, logger),
	}
}

func (f *fixture) refresh(t *testing.T, datasets ...string) {
	t.Helper()
	for _, d := range datasets {
		require.NoError(t, f.orch.Trigger(context.Background(), d), d)
	}
}

func (f *fixture) get(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestGetPrice(t *testing.T) {
	t.Run("not yet available", func(t *testing.T) {
		f := newFixture(t, nil)
		f.prices.err = domain.NewTransientError("stub", "prices", 503, errors.New("down"))

		rec := f.get(t, "/v1/getPrice")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"error":"data not yet available"}`, rec.Body.String())
	})

	t.Run("on-demand refresh", func(t *testing.T) {
		f := newFixture(t, nil)

		rec := f.get(t, "/v1/getPrice")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]map[string]map[string]any
		decode(t, rec, &body)
		assert.Len(t, body["ADA"], 2)
	})

	t.Run("significant digits", func(t *testing.T) {
		f := newFixture(t, nil)
		f.refresh(t, engine.DatasetPrices)

		rec := f.get(t, "/v1/getPrice?from=ada&to=usd")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"price":52.464295234`)
		assert.Contains(t, rec.Body.String(), `"changePercent24h":-7.06156988619784`)
		assert.Contains(t, rec.Body.String(), `"direction":"negative"`)
	})

	t.Run("unknown pair", func(t *testing.T) {
		f := newFixture(t, nil)
		f.refresh(t, engine.DatasetPrices)

		assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/getPrice?from=ADA&to=GBP").Code)
		assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/getPrice?from=XRP").Code)
	})
}

func TestHistory(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/history?from=ADA").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/history?from=ADA&to=EUR&cadence=weekly").Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/v1/history?from=ADA&to=EUR").Code)

	f.refresh(t, engine.DatasetHistoryDaily, engine.DatasetHistoryHourly)

	rec := f.get(t, "/v1/history?from=ADA&to=EUR&cadence=hourly")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Cadence string `json:"cadence"`
		Points  []struct {
			Time  int64       `json:"time"`
			Price json.Number `json:"price"`
		} `json:"points"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "hourly", body.Cadence)
	require.Len(t, body.Points, 1)
	assert.Equal(t, "0.325", body.Points[0].Price.String())

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/history?from=ADA&to=GBP").Code)
}

func TestPools(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/v1/pools").Code)

	f.refresh(t, engine.DatasetPools)

	rec := f.get(t, "/v1/pools?search=alpha&offset=1&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Total int                `json:"total"`
		Pools []domain.StakePool `json:"pools"`
	}
	decode(t, rec, &page)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Pools, 1)
	assert.Equal(t, "pool1c", page.Pools[0].PoolID)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/pools?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/pools?offset=-2").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/pools?limit=abc").Code)
}

func TestPoolLogo(t *testing.T) {
	f := newFixture(t, nil)
	f.refresh(t, engine.DatasetPools)

	rec := f.get(t, "/v1/pools/pool1a/logo")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/pools/pool1b/logo").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/pools/nope/logo").Code)
}

func TestCollections(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/v1/collections").Code)

	f.refresh(t, engine.DatasetListing, engine.DatasetEnrich)

	rec := f.get(t, "/v1/collections")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Collections []domain.Collection `json:"collections"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Collections, 2)

	rec = f.get(t, "/v1/collections/p2")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"total_volume":1234567.25`)
	assert.Contains(t, body, `"floor_price":45`)
	assert.Contains(t, body, `"first_sale":0`)
	assert.Contains(t, body, `"price":9000.5`)

	var c domain.Collection
	decode(t, rec, &c)
	assert.Equal(t, "Two", c.Name)
	require.NotNil(t, c.Detail)
	assert.Equal(t, int64(3), c.Detail.TotalTx)
	assert.True(t, decimal.RequireFromString("1234567.25").Equal(c.Detail.TotalVolume))
	assert.NotNil(t, c.LastEnriched)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/collections/p9").Code)
}

func TestStatusAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.refresh(t, engine.DatasetPrices)

	rec := f.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		Jobs        []engine.JobStatus           `json:"jobs"`
		RecentRuns  []domain.RefreshRun          `json:"recentRuns"`
		LastSuccess map[string]domain.RefreshRun `json:"lastSuccess"`
	}
	decode(t, rec, &st)
	assert.Len(t, st.Jobs, 6)
	assert.Len(t, st.RecentRuns, 1)
	require.Len(t, st.LastSuccess, 1)
	assert.Equal(t, "r1", st.LastSuccess["prices"].ID)
	for _, j := range st.Jobs {
		if j.Dataset == engine.DatasetPrices {
			assert.NotZero(t, j.UpdatedAt)
		} else {
			assert.Zero(t, j.UpdatedAt, j.Dataset)
		}
	}

	rec = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "market_cache_http_requests_total")
	assert.Contains(t, body, `market_cache_refresh_cycles_total{dataset="prices",kind="ok"} 1`)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *infra.Config) {
		cfg.Server.RequestsPerSec = 0.001
		cfg.Server.Burst = 1
	})

	assert.Equal(t, http.StatusOK, f.get(t, "/v1/status").Code)
	rec := f.get(t, "/v1/status")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Outside /v1 is not limited
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz").Code)
}

func TestPriceStream(t *testing.T) {
	f := newFixture(t, nil)
	f.refresh(t, engine.DatasetPrices)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream/prices"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"price":52.464295234`)

	require.Eventually(t, func() bool { return f.server.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	f.prices.set("1.5")
	f.refresh(t, engine.DatasetPrices)

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"price":1.5`)
}
