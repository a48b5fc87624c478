// Package artwork downloads album covers for recognized songs.
package artwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	_ "golang.org/x/image/webp"

	"enseek/internal/song"
)

// MaxSize bounds the body read for one cover.
const MaxSize = 10 << 20

// ErrNotImage is returned when the body is not a known image format.
var ErrNotImage = errors.New("artwork: response is not an image")

// ErrTooLarge is returned when the body exceeds MaxSize.
var ErrTooLarge = errors.New("artwork: image too large")

// Fetcher performs a single best-effort GET per cover.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher. A nil client means http.DefaultClient,
// which has no timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch downloads and sniffs the image at url. It does not retry.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*song.Artwork, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("artwork request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artwork download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artwork download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("artwork read: %w", err)
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, MaxSize)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	return &song.Artwork{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
