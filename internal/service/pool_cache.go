package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"market_cache/internal/domain"
)

// PoolCache holds the full stake pool listing in upstream order.
type PoolCache struct {
	source domain.PoolSource

	pools     atomic.Pointer[[]domain.StakePool]
	updatedAt atomic.Int64
}

func NewPoolCache(source domain.PoolSource) *PoolCache {
	return &PoolCache{source: source}
}

// Refresh replaces the listing wholesale.
func (c *PoolCache) Refresh(ctx context.Context) error {
	pools, err := c.source.FetchPools(ctx)
	if err != nil {
		return fmt.Errorf("pool refresh: %w", err)
	}
	if pools == nil {
		pools = []domain.StakePool{}
	}
	c.pools.Store(&pools)
	c.updatedAt.Store(time.Now().UnixMilli())
	return nil
}

// All returns the listing. It must not be modified.
func (c *PoolCache) All() ([]domain.StakePool, bool) {
	p := c.pools.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Search filters by name, pool id or id hash and returns the page
// [offset, offset+limit) of the matches together with the match count.
// limit <= 0 returns every match from offset on.
func (c *PoolCache) Search(query string, offset, limit int) ([]domain.StakePool, int, error) {
	all, ok := c.All()
	if !ok {
		return nil, 0, domain.ErrNotReady
	}
	if offset < 0 {
		return nil, 0, fmt.Errorf("%w: offset %d", domain.ErrInvalidParam, offset)
	}

	matches := make([]domain.StakePool, 0, len(all))
	for _, p := range all {
		if p.Matches(query) {
			matches = append(matches, p)
		}
	}

	total := len(matches)
	if offset >= total {
		return []domain.StakePool{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matches[offset:end], total, nil
}

// Find returns the pool with the given id or id hash.
func (c *PoolCache) Find(id string) (domain.StakePool, error) {
	all, ok := c.All()
	if !ok {
		return domain.StakePool{}, domain.ErrNotReady
	}
	for _, p := range all {
		if p.PoolID == id || p.PoolIDHash == id {
			return p, nil
		}
	}
	return domain.StakePool{}, fmt.Errorf("%w: pool %s", domain.ErrNotFound, id)
}

// Len returns the number of cached pools.
func (c *PoolCache) Len() int {
	all, _ := c.All()
	return len(all)
}

// UpdatedAt returns when the listing was last replaced, zero if never.
func (c *PoolCache) UpdatedAt() time.Time {
	ms := c.updatedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
