package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedwatch/internal/model"
)

// HTTPFetcher 通过 HTTP GET 获取订阅文档
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

func NewHTTPFetcher(timeout time.Duration, userAgent string, maxBodyBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch 返回原始文档; 任何非 2xx 响应都视为 ErrFetch
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", model.ErrFetch, err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status code %d", model.ErrFetch, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBodyBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBodyBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", model.ErrFetch, err)
	}
	if f.maxBodyBytes > 0 && int64(len(data)) > f.maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", model.ErrFetch, f.maxBodyBytes)
	}

	return data, nil
}
