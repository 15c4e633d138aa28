package infra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"market_cache/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const adaPoolsSource = "adapools"

// AdaPoolsClient fetches the stake pool listing.
type AdaPoolsClient struct {
	upstream
	baseURL string
	apiKey  string
	network string
}

// NewAdaPoolsClient creates a client for the given API root and network.
func NewAdaPoolsClient(baseURL, apiKey, network string, timeout time.Duration) *AdaPoolsClient {
	return &AdaPoolsClient{
		upstream: newUpstream(adaPoolsSource, timeout),
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		network:  network,
	}
}

// FetchPools returns the pool listing in upstream order.
func (c *AdaPoolsClient) FetchPools(ctx context.Context) ([]domain.StakePool, error) {
	const op = "dcspark_list"

	header := http.Header{}
	header.Set("x-network", c.network)
	header.Set("x-api-key", c.apiKey)

	body, err := c.get(ctx, op, c.baseURL+"/v1/individual/dcspark_list", header)
	if err != nil {
		return nil, err
	}
	return ParsePools(body)
}

// ParsePools reads the data section of a dcspark_list body. The section may
// be an object keyed by pool id or an array; either way the document order
// is kept.
func ParsePools(body []byte) ([]domain.StakePool, error) {
	const op = "dcspark_list"

	if !gjson.ValidBytes(body) {
		return nil, domain.NewContractError(adaPoolsSource, op, 200, errors.New("invalid JSON"))
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsObject() && !data.IsArray() {
		return nil, domain.NewContractError(adaPoolsSource, op, 200, errors.New("data section missing"))
	}

	var (
		pools  []domain.StakePool
		perr   error
		isObj  = data.IsObject()
		parsed int
	)
	data.ForEach(func(key, value gjson.Result) bool {
		parsed++
		if !value.IsObject() {
			perr = fmt.Errorf("entry %d is not an object", parsed)
			return false
		}
		p, err := parsePool(value)
		if err != nil {
			perr = fmt.Errorf("entry %d: %w", parsed, err)
			return false
		}
		if p.PoolID == "" && isObj {
			p.PoolID = key.String()
		}
		pools = append(pools, p)
		return true
	})
	if perr != nil {
		return nil, domain.NewContractError(adaPoolsSource, op, 200, perr)
	}
	if pools == nil {
		pools = []domain.StakePool{}
	}
	return pools, nil
}

// parsePool keeps numeric fields as the literal text the upstream sent.
func parsePool(v gjson.Result) (domain.StakePool, error) {
	p := domain.StakePool{
		PoolID:         v.Get("pool_id").String(),
		Name:           v.Get("name").String(),
		Stake:          v.Get("stake").String(),
		PoolIDHash:     v.Get("pool_id_hash").String(),
		TaxRatio:       v.Get("tax_ratio").String(),
		TaxFix:         v.Get("tax_fix").String(),
		BlocksEpoch:    v.Get("blocks_epoch").String(),
		BlocksLifetime: v.Get("blocks_lifetime").String(),
		RoaShort:       v.Get("roa_short").String(),
		RoaLifetime:    v.Get("roa_lifetime").String(),
		Pledge:         v.Get("pledge").String(),
		Delegators:     v.Get("delegators").String(),
		Homepage:       v.Get("homepage").String(),
		Img:            v.Get("img").String(),
		URL:            v.Get("url").String(),
	}

	switch sat := v.Get("saturation"); sat.Type {
	case gjson.Number:
		d, err := decimal.NewFromString(sat.Raw)
		if err != nil {
			return p, fmt.Errorf("saturation: %w", err)
		}
		p.Saturation = d
	case gjson.String:
		if sat.Str != "" {
			d, err := decimal.NewFromString(sat.Str)
			if err != nil {
				return p, fmt.Errorf("saturation: %w", err)
			}
			p.Saturation = d
		}
	}
	return p, nil
}
