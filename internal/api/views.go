package api

import (
	"encoding/json"

	"market_cache/internal/domain"

	"github.com/shopspring/decimal"
)

// number renders d with the client-safe number of significant digits as a
// bare JSON number.
func number(d decimal.Decimal) json.Number {
	return json.Number(domain.FormatSignificant(d, domain.SafePrecision))
}

type priceView struct {
	Price            json.Number `json:"price"`
	LastUpdate       int64       `json:"lastUpdate"`
	ChangePercent24h json.Number `json:"changePercent24h"`
	Direction        string      `json:"direction"`
}

// priceTableView is from -> to -> price.
type priceTableView map[string]map[string]priceView

func newPriceTableView(t domain.PriceTable) priceTableView {
	out := make(priceTableView)
	for from, row := range t.Nested() {
		r := make(map[string]priceView, len(row))
		for to, s := range row {
			r[to] = priceView{
				Price:            number(s.Price),
				LastUpdate:       s.LastUpdate,
				ChangePercent24h: number(s.ChangePercent24h),
				Direction:        s.Direction(),
			}
		}
		out[from] = r
	}
	return out
}

type historyPointView struct {
	Time  int64       `json:"time"`
	Price json.Number `json:"price"`
}

type historyView struct {
	From    string             `json:"from"`
	To      string             `json:"to"`
	Cadence string             `json:"cadence"`
	Points  []historyPointView `json:"points"`
}

func newHistoryView(from, to string, c domain.Cadence, s domain.HistorySeries) historyView {
	points := make([]historyPointView, len(s))
	for i, p := range s {
		points[i] = historyPointView{Time: p.Time, Price: number(p.Price)}
	}
	return historyView{From: from, To: to, Cadence: c.String(), Points: points}
}

type poolPageView struct {
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
	Pools  []domain.StakePool `json:"pools"`
}

type highestSaleView struct {
	AssetName string      `json:"asset_name"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
}

type collectionDetailView struct {
	Attribution           string           `json:"attribution"`
	Policy                string           `json:"policy"`
	Thumbnail             string           `json:"thumbnail"`
	TotalVolume           json.Number      `json:"total_volume"`
	FirstSale             json.Number      `json:"first_sale"`
	TotalTx               int64            `json:"total_tx"`
	TotalAssetsSold       int64            `json:"total_assets_sold"`
	AssetMinted           int64            `json:"asset_minted"`
	AssetHolders          int64            `json:"asset_holders"`
	HighestSale           *highestSaleView `json:"highest_sale,omitempty"`
	FloorPrice            json.Number      `json:"floor_price"`
	FloorPriceMarketplace string           `json:"floor_price_marketplace"`
}

type collectionView struct {
	ID           int64                 `json:"id"`
	Name         string                `json:"name"`
	PolicyID     string                `json:"policies"`
	Detail       *collectionDetailView `json:"data,omitempty"`
	LastEnriched *int64                `json:"lastUpdatedTimestamp,omitempty"`
}

func newCollectionView(c domain.Collection) collectionView {
	v := collectionView{ID: c.ID, Name: c.Name, PolicyID: c.PolicyID, LastEnriched: c.LastEnriched}
	if d := c.Detail; d != nil {
		v.Detail = &collectionDetailView{
			Attribution:           d.Attribution,
			Policy:                d.Policy,
			Thumbnail:             d.Thumbnail,
			TotalVolume:           number(d.TotalVolume),
			FirstSale:             number(d.FirstSale),
			TotalTx:               d.TotalTx,
			TotalAssetsSold:       d.TotalAssetsSold,
			AssetMinted:           d.AssetMinted,
			AssetHolders:          d.AssetHolders,
			FloorPrice:            number(d.FloorPrice),
			FloorPriceMarketplace: d.FloorPriceMarketplace,
		}
		if hs := d.HighestSale; hs != nil {
			v.Detail.HighestSale = &highestSaleView{AssetName: hs.AssetName, Name: hs.Name, Price: number(hs.Price)}
		}
	}
	return v
}

func newCollectionViews(list []domain.Collection) []collectionView {
	out := make([]collectionView, len(list))
	for i, c := range list {
		out[i] = newCollectionView(c)
	}
	return out
}
