package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
)

// HTTPProvider is a Provider for server-rendered, page-parameter
// paginated listings. Scroll advances the page query parameter and
// refetches. Sources that need a real browser (infinite scroll behind
// scripting, interactive login) use an external provider instead.
type HTTPProvider struct {
	client    *http.Client
	headers   map[string]string
	pageParam string

	baseURL  string
	location string
	page     int
	html     string
	log      logger.Logger
}

// NewHTTPProvider builds a provider that paginates via the given query
// parameter (typically "page").
func NewHTTPProvider(pageParam string, timeout time.Duration, log logger.Logger) *HTTPProvider {
	if log == nil {
		log = logger.Nop()
	}
	return &HTTPProvider{
		client: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		},
		pageParam: pageParam,
		page:      1,
		log:       log,
	}
}

// SetHeader sets a request header for subsequent fetches.
func (p *HTTPProvider) SetHeader(key, value string) {
	p.headers[key] = value
}

func (p *HTTPProvider) Navigate(ctx context.Context, target string) error {
	p.baseURL = target
	p.page = 1
	return p.fetch(ctx, target)
}

func (p *HTTPProvider) CurrentLocation() string {
	return p.location
}

func (p *HTTPProvider) PageHTML(ctx context.Context) (string, error) {
	return p.html, nil
}

// Scroll turns the page: it bumps the page parameter and refetches the
// listing.
func (p *HTTPProvider) Scroll(ctx context.Context) error {
	if p.baseURL == "" {
		return crawlerrors.E(crawlerrors.KindSessionAborted, "session.Scroll", "no page open")
	}
	p.page++

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return crawlerrors.Wrap(crawlerrors.KindSessionAborted, "session.Scroll", err)
	}
	q := u.Query()
	q.Set(p.pageParam, fmt.Sprintf("%d", p.page))
	u.RawQuery = q.Encode()

	return p.fetch(ctx, u.String())
}

// AwaitReady is immediate: a plain HTTP session has no interactive login
// step to confirm.
func (p *HTTPProvider) AwaitReady(ctx context.Context) error {
	return ctx.Err()
}

func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) fetch(ctx context.Context, target string) error {
	const op = "session.fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return crawlerrors.E(crawlerrors.KindSessionAborted, op,
			fmt.Sprintf("listing fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return crawlerrors.Wrap(crawlerrors.KindSessionAborted, op, err)
	}

	p.html = string(body)
	if resp.Request != nil && resp.Request.URL != nil {
		p.location = resp.Request.URL.String()
	} else {
		p.location = target
	}

	p.log.DebugWithFields("page fetched", map[string]interface{}{
		"url":  p.location,
		"size": len(body),
	})
	return nil
}
