package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"market_cache/internal/domain"
)

// PriceCache holds the latest spot price of every supported pair. The whole
// table is replaced in one atomic store; a failed refresh leaves the previous
// table in place.
type PriceCache struct {
	source domain.PriceSource
	from   []string
	to     []string

	table     atomic.Pointer[domain.PriceTable]
	updatedAt atomic.Int64 // Unix millis of the last successful refresh

	mu        sync.RWMutex
	listeners []func(domain.PriceTable)
}

// NewPriceCache creates an empty cache for the from x to product.
func NewPriceCache(source domain.PriceSource, from, to []string) *PriceCache {
	return &PriceCache{
		source: source,
		from:   append([]string(nil), from...),
		to:     append([]string(nil), to...),
	}
}

// OnUpdate registers fn to receive every newly published table.
func (c *PriceCache) OnUpdate(fn func(domain.PriceTable)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Refresh fetches all pairs in one upstream call and publishes them.
func (c *PriceCache) Refresh(ctx context.Context) error {
	table, err := c.source.FetchPrices(ctx, c.from, c.to)
	if err != nil {
		return fmt.Errorf("price refresh: %w", err)
	}

	// No partial tables: every pair must be present before publishing
	for _, f := range c.from {
		for _, t := range c.to {
			if _, ok := table.Get(f, t); !ok {
				return fmt.Errorf("price refresh: %w", &domain.InvariantError{
					Op:  "price table",
					Err: fmt.Errorf("%w: %s/%s", domain.ErrUnknownPair, f, t),
				})
			}
		}
	}

	c.table.Store(&table)
	c.updatedAt.Store(time.Now().UnixMilli())

	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(table)
	}
	return nil
}

// Table returns the current table. It must not be modified.
func (c *PriceCache) Table() (domain.PriceTable, bool) {
	p := c.table.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Get returns one pair, ErrNotReady before the first refresh, or
// ErrUnknownPair for an unsupported pair.
func (c *PriceCache) Get(from, to string) (domain.PriceSnapshot, error) {
	table, ok := c.Table()
	if !ok {
		return domain.PriceSnapshot{}, domain.ErrNotReady
	}
	snap, ok := table.Get(from, to)
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("%w: %s/%s", domain.ErrUnknownPair, from, to)
	}
	return snap, nil
}

// Len returns the number of cached pairs.
func (c *PriceCache) Len() int {
	t, _ := c.Table()
	return len(t)
}

// UpdatedAt returns when the table was last replaced, zero if never.
func (c *PriceCache) UpdatedAt() time.Time {
	ms := c.updatedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
