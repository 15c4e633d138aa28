package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// StakePool is one entry of the stake pool listing. Numeric fields that the
// upstream sends as strings are kept verbatim.
type StakePool struct {
	PoolID         string          `json:"pool_id"`
	Name           string          `json:"name"`
	Stake          string          `json:"stake"`
	PoolIDHash     string          `json:"pool_id_hash"`
	TaxRatio       string          `json:"tax_ratio"`
	TaxFix         string          `json:"tax_fix"`
	BlocksEpoch    string          `json:"blocks_epoch"`
	BlocksLifetime string          `json:"blocks_lifetime"`
	RoaShort       string          `json:"roa_short"`
	RoaLifetime    string          `json:"roa_lifetime"`
	Pledge         string          `json:"pledge"`
	Delegators     string          `json:"delegators"`
	Homepage       string          `json:"homepage"`
	Saturation     decimal.Decimal `json:"saturation"`
	Img            string          `json:"img"`
	URL            string          `json:"url"`
}

// Matches reports whether the pool name, id or id hash contains the query
// (case-insensitive). An empty query matches everything.
func (p StakePool) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.PoolID), q) ||
		strings.Contains(strings.ToLower(p.PoolIDHash), q)
}
