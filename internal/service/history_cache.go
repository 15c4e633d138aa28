package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"market_cache/internal/domain"

	"github.com/shopspring/decimal"
)

type historyTable map[domain.CurrencyPair]domain.HistorySeries

// HistoryCache holds one cadence of historical series for every supported
// pair. Only key->base series are fetched; every other pair is derived as
// a pointwise ratio against the base.
type HistoryCache struct {
	source  domain.HistorySource
	cadence domain.Cadence
	from    []string
	to      []string
	base    string
	limit   int

	series    atomic.Pointer[historyTable]
	updatedAt atomic.Int64
}

// NewHistoryCache creates an empty cache. limit is clamped to the cadence's
// point bound.
func NewHistoryCache(source domain.HistorySource, cadence domain.Cadence, from, to []string, base string, limit int) *HistoryCache {
	if limit <= 0 || limit > cadence.MaxPoints() {
		limit = cadence.MaxPoints()
	}
	return &HistoryCache{
		source:  source,
		cadence: cadence,
		from:    append([]string(nil), from...),
		to:      append([]string(nil), to...),
		base:    base,
		limit:   limit,
	}
}

// QueryKeys returns from ∪ (to \ {base}) without duplicates, in first-seen
// order. Each key costs exactly one upstream call against base.
func QueryKeys(from, to []string, base string) []string {
	seen := make(map[string]struct{}, len(from)+len(to))
	keys := make([]string, 0, len(from)+len(to))
	add := func(s string) {
		if s == base {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		keys = append(keys, s)
	}
	for _, f := range from {
		add(f)
	}
	for _, t := range to {
		add(t)
	}
	return keys
}

// Cadence returns the resolution this cache holds.
func (c *HistoryCache) Cadence() domain.Cadence { return c.cadence }

// Refresh fetches key->base for every query key, derives all key->to pairs
// and publishes the new set in one store. Any failure, including a
// misaligned series or a zero base price, leaves the previous set in place.
func (c *HistoryCache) Refresh(ctx context.Context) error {
	keys := QueryKeys(c.from, c.to, c.base)

	direct := make(map[string]domain.HistorySeries, len(keys))
	for _, k := range keys {
		s, err := c.source.FetchHistory(ctx, k, c.base, c.cadence, c.limit)
		if err != nil {
			return fmt.Errorf("%s history %s/%s: %w", c.cadence, k, c.base, err)
		}
		direct[k] = s.Truncate(c.limit)
	}

	next, err := c.derive(keys, direct)
	if err != nil {
		return fmt.Errorf("%s history: %w", c.cadence, err)
	}

	c.series.Store(&next)
	c.updatedAt.Store(time.Now().UnixMilli())
	return nil
}

// derive builds the complete table in isolation from the direct series.
func (c *HistoryCache) derive(keys []string, direct map[string]domain.HistorySeries) (historyTable, error) {
	next := make(historyTable, (len(keys)+1)*len(c.to))

	for _, k := range keys {
		for _, t := range c.to {
			pair := domain.NewCurrencyPair(k, t)
			if t == c.base {
				next[pair] = direct[k]
				continue
			}
			derived, err := domain.CrossSeries(direct[k], direct[t])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pair, err)
			}
			next[pair] = derived
		}
	}

	// A from-currency equal to the base is priced as 1 base unit
	if domain.Contains(c.from, c.base) {
		for _, t := range c.to {
			if t == c.base {
				continue
			}
			pair := domain.NewCurrencyPair(c.base, t)
			derived, err := domain.CrossSeries(unitSeries(direct[t]), direct[t])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pair, err)
			}
			next[pair] = derived
		}
	}
	return next, nil
}

func unitSeries(like domain.HistorySeries) domain.HistorySeries {
	out := make(domain.HistorySeries, len(like))
	for i, p := range like {
		out[i] = domain.HistoryPoint{Time: p.Time, Price: decimal.NewFromInt(1)}
	}
	return out
}

// Get returns the series for from/to. The slice must not be modified.
func (c *HistoryCache) Get(from, to string) (domain.HistorySeries, error) {
	p := c.series.Load()
	if p == nil {
		return nil, domain.ErrNotReady
	}
	s, ok := (*p)[domain.NewCurrencyPair(from, to)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownPair, from, to)
	}
	return s, nil
}

// Pairs returns how many series are cached.
func (c *HistoryCache) Pairs() int {
	p := c.series.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}

// UpdatedAt returns when the set was last replaced, zero if never.
func (c *HistoryCache) UpdatedAt() time.Time {
	ms := c.updatedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
