package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"market_cache/internal/domain"
)

// maxBodyBytes bounds any single upstream response.
const maxBodyBytes = 32 << 20

// upstream is the transport shared by all external data clients.
type upstream struct {
	source     string
	httpClient *http.Client
	logger     *slog.Logger
}

func newUpstream(source string, timeout time.Duration) upstream {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 20
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return upstream{
		source: source,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: slog.Default().With("module", source),
	}
}

// get performs a GET and returns the body of a 200 response. Any other
// outcome is mapped to a domain.UpstreamError.
func (u upstream) get(ctx context.Context, op, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewContractError(u.source, op, 0, err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewTransientError(u.source, op, 0, err)
	}
	defer resp.Body.Close()

	u.logger.Debug("upstream request", slog.String("op", op), slog.Int("status", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewTransientError(u.source, op, resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, u.statusError(op, resp.StatusCode)
	}
	return body, nil
}

func (u upstream) statusError(op string, status int) error {
	switch {
	case status == http.StatusNotFound:
		return domain.NewContractError(u.source, op, status, errors.New("not found"))
	case status == http.StatusBadRequest:
		return domain.NewContractError(u.source, op, status, errors.New("request issue"))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewContractError(u.source, op, status, errors.New("forbidden, check that the API key is valid"))
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewTransientError(u.source, op, status, fmt.Errorf("server error: status %d", status))
	default:
		return domain.NewContractError(u.source, op, status, fmt.Errorf("unexpected status code: %d", status))
	}
}
