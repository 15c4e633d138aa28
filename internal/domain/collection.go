package domain

import "github.com/shopspring/decimal"

// CollectionListing is the identity of one NFT collection as reported by the
// coarse catalog listing.
type CollectionListing struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	PolicyID string `json:"policies"`
}

// HighestSale is the top sale of a collection.
type HighestSale struct {
	AssetName string          `json:"asset_name"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
}

// CollectionDetail is the per-policy statistics record.
type CollectionDetail struct {
	Attribution           string          `json:"attribution"`
	Policy                string          `json:"policy"`
	Thumbnail             string          `json:"thumbnail"`
	TotalVolume           decimal.Decimal `json:"total_volume"`
	FirstSale             decimal.Decimal `json:"first_sale"`
	TotalTx               int64           `json:"total_tx"`
	TotalAssetsSold       int64           `json:"total_assets_sold"`
	AssetMinted           int64           `json:"asset_minted"`
	AssetHolders          int64           `json:"asset_holders"`
	HighestSale           *HighestSale    `json:"highest_sale,omitempty"`
	FloorPrice            decimal.Decimal `json:"floor_price"`
	FloorPriceMarketplace string          `json:"floor_price_marketplace"`
}

// Collection is a cache entry keyed by PolicyID. Detail and LastEnriched are
// nil until the first successful enrichment.
type Collection struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	PolicyID     string            `json:"policies"`
	Detail       *CollectionDetail `json:"data,omitempty"`
	LastEnriched *int64            `json:"lastUpdatedTimestamp,omitempty"` // Unix millis
}

// IsEnriched reports whether a detail record has been attached.
func (c Collection) IsEnriched() bool {
	return c.Detail != nil && c.LastEnriched != nil
}
