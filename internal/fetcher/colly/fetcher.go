// Package collyfetcher implements the static fetch backend using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	// Timeout applies when a request carries none.
	Timeout time.Duration
}

// Fetcher implements scraper.Fetcher using one Colly collector per attempt.
// Transports are cached per proxy so connections are pooled across attempts.
type Fetcher struct {
	cfg Config

	mu         sync.Mutex
	transports map[string]*http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:        cfg,
		transports: make(map[string]*http.Transport),
	}
}

// Fetch executes a single HTTP GET using Colly. It never retries.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.Content, error) {
	target, err := url.Parse(request.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return scraper.Content{}, &scraper.FetchError{
			Kind: scraper.FailureInvalidURL,
			Err:  fmt.Errorf("unsupported url %q", request.URL),
		}
	}

	transport, err := f.transportFor(request.Identity.Proxy)
	if err != nil {
		return scraper.Content{}, &scraper.FetchError{Kind: scraper.FailureNetwork, Err: err}
	}

	var (
		result   scraper.Content
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, transport)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return scraper.Content{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(request scraper.FetchRequest, transport http.RoundTripper) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = true
	if request.Identity.UserAgent != "" {
		collector.UserAgent = request.Identity.UserAgent
	}
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	collector.WithTransport(transport)
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.Content,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Identity.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = scraper.Content{
			URL:        request.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = scraper.NewHTTPError(r.StatusCode)
			return
		}
		*fetchErr = scraper.Classify(err)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return scraper.Classify(fmt.Errorf("colly fetch: %w", ctx.Err()))
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return scraper.Classify(fmt.Errorf("colly visit: %w", err))
		}
		return nil
	}
}

func (f *Fetcher) transportFor(proxy string) (*http.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[proxy]; ok {
		return t, nil
	}
	t := newHTTPTransport()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", proxy)
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}
	f.transports[proxy] = t
	return t, nil
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
