package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"market_cache/internal/domain"

	"github.com/tidwall/gjson"
)

const collectionsSource = "collections"

// CollectionsClient reads the coarse collection listing and the per-policy
// statistics endpoint.
type CollectionsClient struct {
	upstream
	listingURL string
	detailURL  string
}

// NewCollectionsClient creates a client for the listing and detail roots.
func NewCollectionsClient(listingURL, detailURL string, timeout time.Duration) *CollectionsClient {
	return &CollectionsClient{
		upstream:   newUpstream(collectionsSource, timeout),
		listingURL: listingURL,
		detailURL:  strings.TrimRight(detailURL, "/"),
	}
}

// ListCollections returns the listing; a body without success=true is a
// contract failure.
func (c *CollectionsClient) ListCollections(ctx context.Context) ([]domain.CollectionListing, error) {
	body, err := c.get(ctx, "listing", c.listingURL, nil)
	if err != nil {
		return nil, err
	}
	return ParseListing(body)
}

// ParseListing validates a listing body.
func ParseListing(body []byte) ([]domain.CollectionListing, error) {
	const op = "listing"

	if !gjson.ValidBytes(body) {
		return nil, domain.NewContractError(collectionsSource, op, 200, errors.New("invalid JSON"))
	}
	doc := gjson.ParseBytes(body)
	if !doc.Get("success").Bool() {
		return nil, domain.NewContractError(collectionsSource, op, 200, errors.New("success flag not set"))
	}
	entries := doc.Get("collections")
	if !entries.IsArray() {
		return nil, domain.NewContractError(collectionsSource, op, 200, errors.New("collections missing"))
	}

	out := make([]domain.CollectionListing, 0, len(entries.Array()))
	for i, e := range entries.Array() {
		policy := e.Get("policies").String()
		if policy == "" {
			return nil, domain.NewContractError(collectionsSource, op, 200, fmt.Errorf("entry %d: policies missing", i))
		}
		out = append(out, domain.CollectionListing{
			ID:       e.Get("id").Int(),
			Name:     e.Get("name").String(),
			PolicyID: policy,
		})
	}
	return out, nil
}

// FetchDetail returns the statistics record for one policy id.
func (c *CollectionsClient) FetchDetail(ctx context.Context, policyID string) (*domain.CollectionDetail, error) {
	const op = "detail"

	body, err := c.get(ctx, op, c.detailURL+"/"+url.PathEscape(policyID), nil)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, domain.NewContractError(collectionsSource, op, 200, errors.New("detail is not an object"))
	}

	var detail domain.CollectionDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, domain.NewContractError(collectionsSource, op, 200, err)
	}
	if detail.Policy == "" {
		detail.Policy = policyID
	}
	return &detail, nil
}
