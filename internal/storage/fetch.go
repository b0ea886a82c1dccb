package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxFetchBytes caps downloaded source assets.
const DefaultMaxFetchBytes = 20 << 20

// ErrFetch is returned when a source asset cannot be downloaded.
var ErrFetch = errors.New("storage: fetch failed")

// Fetcher downloads assets by URL with a finite timeout.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher uses client when given, otherwise a client bounded by timeout.
func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Fetcher{client: client, maxBytes: DefaultMaxFetchBytes}
}

// Get returns the body and content type of url.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetch, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s returned %d", ErrFetch, url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrFetch, url, f.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %s is empty", ErrFetch, url)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
