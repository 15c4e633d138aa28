package infra

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/singleflight"
)

// LogoDownloader fetches pool logos and keeps resized copies on disk.
type LogoDownloader struct {
	basePath string
	size     int
	client   *http.Client
	flight   singleflight.Group
}

// NewLogoDownloader creates the logo directory if needed.
func NewLogoDownloader(dir string, size int) (*LogoDownloader, error) {
	if dir == "" {
		return nil, fmt.Errorf("logo directory is required")
	}
	if size <= 0 {
		size = 64
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logo directory: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 20
	transport.MaxConnsPerHost = 4
	transport.IdleConnTimeout = 30 * time.Second

	return &LogoDownloader{
		basePath: dir,
		size:     size,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Path returns where the logo for id is stored, or "" for an id with no
// usable characters.
func (d *LogoDownloader) Path(id string) string {
	safe := sanitizeID(id)
	if safe == "" {
		return ""
	}
	return filepath.Join(d.basePath, strings.ToLower(safe)+".png")
}

// Fetch downloads src once and returns the local path of the resized copy.
// Concurrent calls for the same id share one download.
func (d *LogoDownloader) Fetch(ctx context.Context, id, src string) (string, error) {
	filePath := d.Path(id)
	if filePath == "" {
		return "", fmt.Errorf("invalid pool id: %q", id)
	}
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil
	}
	if src == "" {
		return "", fmt.Errorf("pool %s has no logo", id)
	}

	v, err, _ := d.flight.Do(filePath, func() (any, error) {
		// A flight that finished between the stat above and here already stored it
		if _, err := os.Stat(filePath); err == nil {
			return filePath, nil
		}
		return filePath, d.download(ctx, src, filePath)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (d *LogoDownloader) download(ctx context.Context, src, filePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}
	resized := imaging.Fill(img, d.size, d.size, imaging.Center, imaging.Lanczos)

	// Unique temp file so readers only ever see a complete logo
	tmp, err := os.CreateTemp(d.basePath, "logo-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp logo: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, resized, imaging.PNG); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode logo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save logo: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to store logo: %w", err)
	}
	return nil
}

func sanitizeID(id string) string {
	res := make([]rune, 0, len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			res = append(res, r)
		}
	}
	return string(res)
}
