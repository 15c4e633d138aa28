package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"market_cache/internal/domain"

	"golang.org/x/time/rate"
)

// EnrichReport summarizes one enrichment tick.
type EnrichReport struct {
	Keys    int // key count observed at tick start
	Start   int // cursor at tick start
	End     int // exclusive end of the window
	Touched int // detail requests issued
	Failed  int
	Next    int // cursor after the tick
}

// CollectionCache holds NFT collections keyed by policy id. A coarse listing
// job maintains identity fields; an incremental job walks the key set in
// windows and attaches per-policy detail.
type CollectionCache struct {
	source  domain.CollectionSource
	window  int
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]domain.Collection
	cursor  int

	listed    atomic.Bool
	updatedAt atomic.Int64
}

// NewCollectionCache creates an empty cache. perSecond <= 0 disables pacing
// of detail requests.
func NewCollectionCache(source domain.CollectionSource, window int, perSecond float64) *CollectionCache {
	if window < 1 {
		window = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &CollectionCache{
		source:  source,
		window:  window,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		entries: make(map[string]domain.Collection),
	}
}

// RefreshListing upserts every listed collection. Entries still listed keep
// their detail and enrichment time; entries no longer listed are dropped.
func (c *CollectionCache) RefreshListing(ctx context.Context) error {
	listing, err := c.source.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("collection listing: %w", err)
	}

	c.mu.Lock()
	next := make(map[string]domain.Collection, len(listing))
	for _, l := range listing {
		e := c.entries[l.PolicyID]
		e.ID = l.ID
		e.Name = l.Name
		e.PolicyID = l.PolicyID
		next[l.PolicyID] = e
	}
	c.entries = next
	c.mu.Unlock()

	c.listed.Store(true)
	c.updatedAt.Store(c.now().UnixMilli())
	return nil
}

// EnrichTick fetches detail for the window [cursor, min(cursor+window, K))
// of the sorted key set, then advances the cursor by window, resetting it
// to 0 once it reaches K. A failed key is skipped; the tick then returns a
// *domain.PartialError.
func (c *CollectionCache) EnrichTick(ctx context.Context) (EnrichReport, error) {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	start := c.cursor
	c.mu.RUnlock()
	sort.Strings(keys)

	rep := EnrichReport{Keys: len(keys)}
	if len(keys) == 0 {
		c.setCursor(0)
		return rep, nil
	}
	if start >= len(keys) {
		start = 0
	}
	end := start + c.window
	if end > len(keys) {
		end = len(keys)
	}
	rep.Start, rep.End = start, end

	var errs []error
	for _, key := range keys[start:end] {
		if err := c.limiter.Wait(ctx); err != nil {
			return rep, fmt.Errorf("collection enrichment: %w", err)
		}
		rep.Touched++
		detail, err := c.source.FetchDetail(ctx, key)
		if err != nil {
			rep.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		c.applyDetail(key, detail)
	}

	rep.Next = start + c.window
	if rep.Next >= len(keys) {
		rep.Next = 0
	}
	c.setCursor(rep.Next)

	if rep.Failed > 0 {
		return rep, &domain.PartialError{Failed: rep.Failed, Total: rep.Touched, Err: errors.Join(errs...)}
	}
	return rep, nil
}

// applyDetail replaces one entry's detail, keeping its identity fields. A key
// dropped by a listing refresh since the tick started is ignored.
func (c *CollectionCache) applyDetail(key string, detail *domain.CollectionDetail) {
	ts := c.now().UnixMilli()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.Detail = detail
	e.LastEnriched = &ts
	c.entries[key] = e
}

func (c *CollectionCache) setCursor(n int) {
	c.mu.Lock()
	c.cursor = n
	c.mu.Unlock()
}

// Cursor returns the start of the next enrichment window.
func (c *CollectionCache) Cursor() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor
}

// Get returns a copy of one entry.
func (c *CollectionCache) Get(policyID string) (domain.Collection, error) {
	if !c.listed.Load() {
		return domain.Collection{}, domain.ErrNotReady
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[policyID]
	if !ok {
		return domain.Collection{}, fmt.Errorf("%w: policy %s", domain.ErrNotFound, policyID)
	}
	return e, nil
}

// List returns copies of all entries sorted by policy id.
func (c *CollectionCache) List() ([]domain.Collection, error) {
	if !c.listed.Load() {
		return nil, domain.ErrNotReady
	}
	c.mu.RLock()
	out := make([]domain.Collection, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PolicyID < out[j].PolicyID
	})
	return out, nil
}

// Stats returns the entry count and how many have been enriched.
func (c *CollectionCache) Stats() (total, enriched int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.IsEnriched() {
			enriched++
		}
	}
	return len(c.entries), enriched
}

// UpdatedAt returns when the listing was last applied, zero if never.
func (c *CollectionCache) UpdatedAt() time.Time {
	ms := c.updatedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
