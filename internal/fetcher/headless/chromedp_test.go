package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	require.Equal(t, 2, cap(fetcher.limiter))
	require.Equal(t, defaultScrollPause, fetcher.cfg.ScrollPause)
}

func TestFetcherNavTimeout(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, defaultNavTimeout, fetcher.navTimeout(0))
	fetcher.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, fetcher.navTimeout(0))
	require.Equal(t, 3*time.Second, fetcher.navTimeout(3*time.Second))
}

func TestFetchRejectsInvalidURLWithoutBrowser(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{})
	require.NoError(t, err)
	defer fetcher.Close()

	_, err = fetcher.Fetch(context.Background(), scraper.FetchRequest{URL: "not a url"})
	kind, _ := scraper.KindOf(err)
	require.Equal(t, scraper.FailureInvalidURL, kind)
	require.Empty(t, fetcher.allocators)
}

func TestAllocatorCachedPerProxy(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{})
	require.NoError(t, err)

	direct := fetcher.allocatorFor("")
	require.Same(t, direct, fetcher.allocatorFor(""))
	proxied := fetcher.allocatorFor("http://proxy.test:3128")
	require.NotSame(t, direct, proxied)
	require.Len(t, fetcher.allocators, 2)

	fetcher.Close()
	require.Empty(t, fetcher.allocators)
}

func TestAllocatorOptionsIncludeProxy(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{})
	require.NoError(t, err)
	require.Len(t, fetcher.allocatorOptions("http://proxy.test:3128"), len(fetcher.allocatorOptions(""))+1)
}

func TestClassifyBrowserError(t *testing.T) {
	t.Parallel()

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	require.Equal(t, scraper.FailureTimeout, classifyBrowserError(expired, errors.New("boom")).Kind)
	require.Equal(t, scraper.FailureTimeout,
		classifyBrowserError(context.Background(), fmt.Errorf("run: %w", context.DeadlineExceeded)).Kind)
	require.Equal(t, scraper.FailureNetwork,
		classifyBrowserError(context.Background(), errors.New("page load error net::ERR_CONNECTION_REFUSED")).Kind)
	require.Equal(t, scraper.FailureRender,
		classifyBrowserError(context.Background(), errors.New("could not find node")).Kind)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	got := toNetworkHeaders(http.Header{"X-Test": {"a", "b"}, "Accept": {"text/html"}, "Empty": {}})
	require.Equal(t, "a, b", got["X-Test"])
	require.Equal(t, "text/html", got["Accept"])
	require.NotContains(t, got, "Empty")
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.capture(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	// later frame documents do not overwrite the main response
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example.com/frame"},
	})
	meta.capture(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.js"},
	})
	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 404, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://example.com/rendered", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)
}
