package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crawlerrors "github.com/reblisbiver/emotional-crawler/pkg/errors"
)

func TestHTTPProviderPagination(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		fmt.Fprintf(w, "<html><body>page %s</body></html>", r.URL.Query().Get("page"))
	}))
	defer server.Close()

	provider := NewHTTPProvider("page", 5*time.Second, nil)
	ctx := context.Background()

	require.NoError(t, provider.Navigate(ctx, server.URL+"/search?q=test"))
	require.NoError(t, provider.Scroll(ctx))
	require.NoError(t, provider.Scroll(ctx))

	// Navigate keeps the original URL; each scroll turns the page.
	assert.Equal(t, []string{"", "2", "3"}, pages)

	html, err := provider.PageHTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "page 3")
}

func TestHTTPProviderSendsHeaders(t *testing.T) {
	var gotUA, gotRef string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotRef = r.Header.Get("Referer")
		fmt.Fprint(w, "<html></html>")
	}))
	defer server.Close()

	provider := NewHTTPProvider("page", 5*time.Second, nil)
	provider.SetHeader("Referer", "https://example.com/")

	require.NoError(t, provider.Navigate(context.Background(), server.URL))
	assert.Contains(t, gotUA, "Mozilla")
	assert.Equal(t, "https://example.com/", gotRef)
}

func TestHTTPProviderNon200Aborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	provider := NewHTTPProvider("page", 5*time.Second, nil)
	err := provider.Navigate(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, crawlerrors.Is(err, crawlerrors.KindSessionAborted))
}

func TestHTTPProviderScrollWithoutNavigate(t *testing.T) {
	provider := NewHTTPProvider("page", 5*time.Second, nil)
	err := provider.Scroll(context.Background())
	require.Error(t, err)
	assert.True(t, crawlerrors.Is(err, crawlerrors.KindSessionAborted))
}
