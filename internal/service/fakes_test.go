package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"market_cache/internal/domain"

	"github.com/shopspring/decimal"
)

var errUpstream = domain.NewTransientError("fake", "op", 503, errors.New("unavailable"))

type fakePriceSource struct {
	mu    sync.Mutex
	table domain.PriceTable
	err   error
	calls int
}

func (f *fakePriceSource) FetchPrices(ctx context.Context, from, to []string) (domain.PriceTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.table, nil
}

type fakeHistorySource struct {
	mu     sync.Mutex
	series map[string]domain.HistorySeries // "FROM/TO"
	err    map[string]error
	calls  []string
}

func (f *fakeHistorySource) FetchHistory(ctx context.Context, from, to string, cadence domain.Cadence, limit int) (domain.HistorySeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := from + "/" + to
	f.calls = append(f.calls, key)
	if err := f.err[key]; err != nil {
		return nil, err
	}
	s, ok := f.series[key]
	if !ok {
		return nil, domain.NewContractError("fake", "hist", 200, fmt.Errorf("no series for %s", key))
	}
	return s, nil
}

func (f *fakeHistorySource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePoolSource struct {
	pools []domain.StakePool
	err   error
}

func (f *fakePoolSource) FetchPools(ctx context.Context) ([]domain.StakePool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pools, nil
}

type fakeCollectionSource struct {
	mu        sync.Mutex
	listing   []domain.CollectionListing
	listErr   error
	failing   map[string]bool
	requested []string
}

func (f *fakeCollectionSource) ListCollections(ctx context.Context) ([]domain.CollectionListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listing, nil
}

func (f *fakeCollectionSource) FetchDetail(ctx context.Context, policyID string) (*domain.CollectionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, policyID)
	if f.failing[policyID] {
		return nil, errUpstream
	}
	return &domain.CollectionDetail{Policy: policyID, TotalTx: int64(len(f.requested))}, nil
}

func (f *fakeCollectionSource) Requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.requested
	f.requested = nil
	return out
}

func series(times []int64, prices ...string) domain.HistorySeries {
	out := make(domain.HistorySeries, len(times))
	for i, ts := range times {
		out[i] = domain.HistoryPoint{Time: ts, Price: decimal.RequireFromString(prices[i])}
	}
	return out
}

func listing(n int) []domain.CollectionListing {
	out := make([]domain.CollectionListing, n)
	for i := range out {
		out[i] = domain.CollectionListing{ID: int64(i + 1), Name: fmt.Sprintf("Collection %d", i+1), PolicyID: fmt.Sprintf("policy%03d", i)}
	}
	return out
}
