package domain

import "context"

// PriceSource fetches the full from x to spot price table in one call.
type PriceSource interface {
	FetchPrices(ctx context.Context, from, to []string) (PriceTable, error)
}

// HistorySource fetches one historical series for from/to.
type HistorySource interface {
	FetchHistory(ctx context.Context, from, to string, cadence Cadence, limit int) (HistorySeries, error)
}

// PoolSource fetches the complete stake pool listing in upstream order.
type PoolSource interface {
	FetchPools(ctx context.Context) ([]StakePool, error)
}

// CollectionSource lists NFT collections and fetches per-policy detail.
type CollectionSource interface {
	ListCollections(ctx context.Context) ([]CollectionListing, error)
	FetchDetail(ctx context.Context, policyID string) (*CollectionDetail, error)
}
