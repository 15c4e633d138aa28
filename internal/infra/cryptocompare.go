package infra

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"market_cache/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const cryptoCompareSource = "cryptocompare"

// CryptoCompareClient fetches spot prices and price history.
type CryptoCompareClient struct {
	upstream
	baseURL string
	apiKey  string
}

// NewCryptoCompareClient creates a client for the given API root.
func NewCryptoCompareClient(baseURL, apiKey string, timeout time.Duration) *CryptoCompareClient {
	return &CryptoCompareClient{
		upstream: newUpstream(cryptoCompareSource, timeout),
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
	}
}

// PriceURL builds the pricemultifull request for the full from x to product.
func (c *CryptoCompareClient) PriceURL(from, to []string) string {
	q := url.Values{}
	q.Set("fsyms", strings.Join(from, ","))
	q.Set("tsyms", strings.Join(to, ","))
	q.Set("api_key", c.apiKey)
	return c.baseURL + "/data/pricemultifull?" + q.Encode()
}

// HistoryURL builds the histoday/histohour request for one pair.
func (c *CryptoCompareClient) HistoryURL(from, to string, cadence domain.Cadence, limit int) string {
	endpoint := "histoday"
	if cadence == domain.CadenceHourly {
		endpoint = "histohour"
	}
	q := url.Values{}
	q.Set("fsym", from)
	q.Set("tsym", to)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("api_key", c.apiKey)
	return c.baseURL + "/data/v2/" + endpoint + "?" + q.Encode()
}

// FetchPrices issues one request and returns every requested pair, or an
// error if any pair is missing or malformed.
func (c *CryptoCompareClient) FetchPrices(ctx context.Context, from, to []string) (domain.PriceTable, error) {
	const op = "pricemultifull"

	body, err := c.get(ctx, op, c.PriceURL(from, to), nil)
	if err != nil {
		return nil, err
	}
	return ParsePriceMultiFull(body, from, to)
}

// ParsePriceMultiFull validates the RAW section of a pricemultifull body.
func ParsePriceMultiFull(body []byte, from, to []string) (domain.PriceTable, error) {
	const op = "pricemultifull"

	if !gjson.ValidBytes(body) {
		return nil, domain.NewContractError(cryptoCompareSource, op, 200, errors.New("invalid JSON"))
	}
	raw := gjson.GetBytes(body, "RAW")
	if !raw.Exists() || !raw.IsObject() {
		return nil, domain.NewContractError(cryptoCompareSource, op, 200, errors.New("RAW response missing"))
	}

	table := make(domain.PriceTable, len(from)*len(to))
	for _, f := range from {
		for _, t := range to {
			entry := raw.Get(gjson.Escape(f) + "." + gjson.Escape(t))
			if !entry.IsObject() {
				return nil, domain.NewContractError(cryptoCompareSource, op, 200, fmt.Errorf("missing pair %s/%s", f, t))
			}
			snap, err := parsePriceEntry(entry)
			if err != nil {
				return nil, domain.NewContractError(cryptoCompareSource, op, 200, fmt.Errorf("pair %s/%s: %w", f, t, err))
			}
			table[domain.NewCurrencyPair(f, t)] = snap
		}
	}
	return table, nil
}

func parsePriceEntry(entry gjson.Result) (domain.PriceSnapshot, error) {
	price, err := decimalField(entry, "PRICE")
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	change, err := decimalField(entry, "CHANGEPCT24HOUR")
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	last := entry.Get("LASTUPDATE")
	if last.Type != gjson.Number {
		return domain.PriceSnapshot{}, errors.New("LASTUPDATE missing")
	}
	return domain.PriceSnapshot{
		Price:            price,
		LastUpdate:       last.Int(),
		ChangePercent24h: change,
	}, nil
}

// decimalField parses a numeric field from its literal JSON text, so no
// digits are lost to float64 conversion.
func decimalField(r gjson.Result, path string) (decimal.Decimal, error) {
	v := r.Get(path)
	if v.Type != gjson.Number {
		return decimal.Zero, fmt.Errorf("%s missing or not a number", path)
	}
	return decimal.NewFromString(v.Raw)
}

// FetchHistory returns at most limit points of from/to, oldest first.
func (c *CryptoCompareClient) FetchHistory(ctx context.Context, from, to string, cadence domain.Cadence, limit int) (domain.HistorySeries, error) {
	op := "hist" + cadence.String()

	body, err := c.get(ctx, op, c.HistoryURL(from, to, cadence, limit), nil)
	if err != nil {
		return nil, err
	}
	series, err := ParseHistory(body, op)
	if err != nil {
		return nil, err
	}
	return series.Truncate(limit), nil
}

// ParseHistory validates a v2 histoday/histohour body and keeps the open
// price of each entry.
func ParseHistory(body []byte, op string) (domain.HistorySeries, error) {
	if !gjson.ValidBytes(body) {
		return nil, domain.NewContractError(cryptoCompareSource, op, 200, errors.New("invalid JSON"))
	}
	doc := gjson.ParseBytes(body)
	if resp := doc.Get("Response").String(); resp != "" && resp != "Success" {
		return nil, domain.NewContractError(cryptoCompareSource, op, 200, fmt.Errorf("response %s: %s", resp, doc.Get("Message").String()))
	}
	data := doc.Get("Data.Data")
	if !data.IsArray() {
		return nil, domain.NewContractError(cryptoCompareSource, op, 200, errors.New("Data.Data missing"))
	}

	entries := data.Array()
	series := make(domain.HistorySeries, 0, len(entries))
	for i, e := range entries {
		ts := e.Get("time")
		if ts.Type != gjson.Number {
			return nil, domain.NewContractError(cryptoCompareSource, op, 200, fmt.Errorf("entry %d: time missing", i))
		}
		open, err := decimalField(e, "open")
		if err != nil {
			return nil, domain.NewContractError(cryptoCompareSource, op, 200, fmt.Errorf("entry %d: %w", i, err))
		}
		series = append(series, domain.HistoryPoint{Time: ts.Int(), Price: open})
	}
	return series, nil
}
