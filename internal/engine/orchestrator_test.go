package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/infra"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	mu    sync.Mutex
	block chan struct{}
	err   error
	calls int
}

func (s *stubPrices) FetchPrices(ctx context.Context, from, to []string) (domain.PriceTable, error) {
	s.mu.Lock()
	s.calls++
	block, err := s.block, s.err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	t := domain.PriceTable{}
	for _, f := range from {
		for _, t2 := range to {
			t[domain.NewCurrencyPair(f, t2)] = domain.PriceSnapshot{Price: decimal.NewFromInt(2), LastUpdate: 1}
		}
	}
	return t, nil
}

type stubHistory struct{}

func (stubHistory) FetchHistory(ctx context.Context, from, to string, c domain.Cadence, limit int) (domain.HistorySeries, error) {
	return domain.HistorySeries{
		{Time: 100, Price: decimal.NewFromInt(2)},
		{Time: 200, Price: decimal.NewFromInt(4)},
	}, nil
}

type stubPools struct{}

func (stubPools) FetchPools(ctx context.Context) ([]domain.StakePool, error) {
	return []domain.StakePool{{PoolID: "pool1", Name: "One"}}, nil
}

type stubCollections struct{}

func (stubCollections) ListCollections(ctx context.Context) ([]domain.CollectionListing, error) {
	out := make([]domain.CollectionListing, 5)
	for i := range out {
		out[i] = domain.CollectionListing{ID: int64(i), PolicyID: fmt.Sprintf("p%d", i)}
	}
	return out, nil
}

func (stubCollections) FetchDetail(ctx context.Context, policyID string) (*domain.CollectionDetail, error) {
	return &domain.CollectionDetail{Policy: policyID}, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs []domain.RefreshRun
}

func (m *memRuns) Record(run *domain.RefreshRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memRuns) Prune(cutoff time.Time) (int64, error) { return 0, nil }

func (m *memRuns) All() []domain.RefreshRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RefreshRun(nil), m.runs...)
}

func testConfig() *infra.Config {
	cfg := infra.DefaultConfig()
	cfg.Currencies.From = []string{"ADA", "ETH"}
	cfg.Currencies.To = []string{"USD", "EUR"}
	cfg.Currencies.Base = "USD"
	cfg.Refresh.PriceIntervalMS = 20
	cfg.Refresh.DailyIntervalMS = 20
	cfg.Refresh.HourlyIntervalMS = 20
	cfg.Refresh.PoolsIntervalMS = 20
	cfg.Refresh.ListingIntervalMS = 20
	cfg.Refresh.EnrichIntervalMS = 20
	cfg.Refresh.EnrichWindow = 2
	cfg.Refresh.EnrichPerSecond = 0
	cfg.Refresh.OnDemandTimeoutSec = 1
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSources(p *stubPrices) Sources {
	return Sources{Prices: p, History: stubHistory{}, Pools: stubPools{}, Collections: stubCollections{}}
}

func TestOrchestrator_StartPopulatesCaches(t *testing.T) {
	runs := &memRuns{}
	metrics := infra.NewMetrics()
	o := NewOrchestrator(testConfig(), testSources(&stubPrices{}), metrics, runs, discardLogger())

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	require.Eventually(t, func() bool {
		_, enriched := o.Collections.Stats()
		return o.Prices.Len() == 4 &&
			o.Daily.Pairs() > 0 &&
			o.Hourly.Pairs() > 0 &&
			o.Pools.Len() == 1 &&
			enriched == 5
	}, 3*time.Second, 10*time.Millisecond)

	recorded := runs.All()
	require.NotEmpty(t, recorded)
	for _, r := range recorded {
		assert.NotEmpty(t, r.CycleID)
		assert.True(t, r.Succeeded(), "%s: %s", r.Dataset, r.Error)
	}

	byName := map[string]infra.DatasetSnapshot{}
	for _, s := range metrics.Snapshot() {
		byName[s.Dataset] = s
	}
	for _, name := range []string{DatasetPrices, DatasetHistoryDaily, DatasetHistoryHourly, DatasetPools, DatasetListing, DatasetEnrich} {
		assert.NotZero(t, byName[name].Successes, name)
	}

	status := o.Status()
	require.Len(t, status, 6)
	assert.Equal(t, DatasetEnrich, status[0].Dataset)
	for _, st := range status {
		if st.Dataset == DatasetEnrich {
			assert.Zero(t, st.UpdatedAt)
			continue
		}
		assert.NotZero(t, st.UpdatedAt, st.Dataset)
	}
}

func TestOrchestrator_TriggerCoalesces(t *testing.T) {
	prices := &stubPrices{block: make(chan struct{})}
	metrics := infra.NewMetrics()
	o := NewOrchestrator(testConfig(), testSources(prices), metrics, nil, discardLogger())

	done := make(chan error, 1)
	go func() { done <- o.Trigger(context.Background(), DatasetPrices) }()

	require.Eventually(t, func() bool {
		state, _ := o.byName[DatasetPrices].job.State()
		return state == StatePending
	}, time.Second, 5*time.Millisecond)

	err := o.Trigger(context.Background(), DatasetPrices)
	assert.ErrorIs(t, err, ErrInFlight)

	close(prices.block)
	require.NoError(t, <-done)

	var snap infra.DatasetSnapshot
	for _, s := range metrics.Snapshot() {
		if s.Dataset == DatasetPrices {
			snap = s
		}
	}
	assert.Equal(t, uint64(1), snap.Coalesced)
	assert.Equal(t, uint64(1), snap.Successes)
	assert.Equal(t, 1, prices.calls)
}

func TestOrchestrator_EnsurePrices(t *testing.T) {
	t.Run("on-demand refresh fills empty cache", func(t *testing.T) {
		o := NewOrchestrator(testConfig(), testSources(&stubPrices{}), nil, nil, discardLogger())

		table, err := o.EnsurePrices(context.Background())
		require.NoError(t, err)
		assert.Len(t, table, 4)
	})

	t.Run("bounded when upstream is down", func(t *testing.T) {
		prices := &stubPrices{err: domain.NewTransientError("stub", "prices", 503, errors.New("down"))}
		o := NewOrchestrator(testConfig(), testSources(prices), nil, nil, discardLogger())

		start := time.Now()
		_, err := o.EnsurePrices(context.Background())
		assert.ErrorIs(t, err, domain.ErrNotReady)
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}

func TestOrchestrator_UnknownDataset(t *testing.T) {
	o := NewOrchestrator(testConfig(), testSources(&stubPrices{}), nil, nil, discardLogger())
	assert.ErrorIs(t, o.Trigger(context.Background(), "nope"), domain.ErrNotFound)
}

func TestOrchestrator_RealignmentSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Refresh.RealignGraceSec = 90
	o := NewOrchestrator(cfg, testSources(&stubPrices{}), nil, nil, discardLogger())

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	from := time.Date(2024, 3, 10, 10, 15, 0, 0, time.UTC)

	daily, err := parser.Parse(o.dailySpec)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 1, 30, 0, time.UTC), daily.Next(from))

	hourly, err := parser.Parse(o.hourlySpec)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 11, 1, 30, 0, time.UTC), hourly.Next(from))
}
