package display

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrLoadTimeout is wrapped by a DisplayLoadError when the load outlived LoadTimeout
var ErrLoadTimeout = errors.New("image load timed out")

// DisplayLoadError is reported when an announced image cannot be shown
type DisplayLoadError struct {
	URL string
	Err error
}

func (e *DisplayLoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.URL, e.Err)
}

func (e *DisplayLoadError) Unwrap() error {
	return e.Err
}

// Loader fetches and decodes an image
type Loader interface {
	Load(ctx context.Context, url string) (image.Image, error)
}

// HTTPLoader loads images over HTTP(S)
type HTTPLoader struct {
	Client  *http.Client
	MaxSize int64 // bytes, default 32 MiB
}

func (l HTTPLoader) Load(ctx context.Context, url string) (image.Image, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	limit := l.MaxSize
	if limit <= 0 {
		limit = 32 << 20
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
