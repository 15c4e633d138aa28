package domain

import "github.com/shopspring/decimal"

// PriceSnapshot is the current quote for one currency pair.
type PriceSnapshot struct {
	Price            decimal.Decimal `json:"price"`
	LastUpdate       int64           `json:"lastUpdate"` // Unix seconds
	ChangePercent24h decimal.Decimal `json:"changePercent24h"`
}

// PriceTable holds one snapshot per supported pair. It is treated as
// immutable once published.
type PriceTable map[CurrencyPair]PriceSnapshot

// Get returns the snapshot for from/to.
func (t PriceTable) Get(from, to string) (PriceSnapshot, bool) {
	s, ok := t[NewCurrencyPair(from, to)]
	return s, ok
}

// Nested renders the table as from -> to -> snapshot, the shape clients expect.
func (t PriceTable) Nested() map[string]map[string]PriceSnapshot {
	out := make(map[string]map[string]PriceSnapshot)
	for pair, snap := range t {
		row, ok := out[pair.From]
		if !ok {
			row = make(map[string]PriceSnapshot)
			out[pair.From] = row
		}
		row[pair.To] = snap
	}
	return out
}

// Direction returns "positive", "negative", or "neutral" for the 24h change.
func (s PriceSnapshot) Direction() string {
	if s.ChangePercent24h.IsPositive() {
		return "positive"
	}
	if s.ChangePercent24h.IsNegative() {
		return "negative"
	}
	return "neutral"
}
