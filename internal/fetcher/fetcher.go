// Package fetcher downloads post images into the pending bucket. One
// failed download is absorbed; it never blocks the other images of the
// same post.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Client fetches image bytes over HTTP.
type Client struct {
	httpClient *http.Client
	log        logger.Logger
}

// New creates a fetcher with the given timeout.
func New(timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Fetch downloads one image. The referer matches the platform the URL
// came from; the CDNs reject requests without it.
func (c *Client) Fetch(ctx context.Context, url, referer string) ([]byte, error) {
	const op = "fetcher.Fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, crawlerrors.Wrap(crawlerrors.KindDownloadFailed, op, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, crawlerrors.Wrap(crawlerrors.KindDownloadFailed, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, crawlerrors.E(crawlerrors.KindDownloadFailed, op,
			fmt.Sprintf("download returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, crawlerrors.Wrap(crawlerrors.KindDownloadFailed, op, err)
	}

	c.log.DebugWithFields("image downloaded", map[string]interface{}{
		"url":      url,
		"size":     len(data),
		"duration": time.Since(start),
	})
	return data, nil
}
