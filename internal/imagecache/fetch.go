package imagecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher downloads one image.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// HTTPFetcher downloads images over HTTP. Any non-2xx status is an error.
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPFetcher returns a fetcher with a per-request timeout and a 10 MiB
// size cap.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: 10 << 20,
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, "", fmt.Errorf("fetch %s: larger than %d bytes", url, f.MaxBytes)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}
