// Package headless contains the dynamic fetch backend that executes JavaScript via a browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultScrollPause = time.Second
	defaultSettle      = 500 * time.Millisecond

	scrollHeightJS = `document.documentElement.scrollHeight`
	scrollToEndJS  = `window.scrollTo(0, document.documentElement.scrollHeight); true`
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel bounds open tabs across all workers. Zero means unbounded.
	MaxParallel       int
	NavigationTimeout time.Duration
	// ScrollPause is how long to wait for lazy content after each scroll.
	ScrollPause time.Duration
	// ExecPath overrides the browser binary lookup.
	ExecPath string
}

// Fetcher implements scraper.Fetcher using chromedp and headless Chrome.
// One browser allocator is kept per proxy endpoint; each attempt opens a fresh tab.
type Fetcher struct {
	cfg     Config
	limiter chan struct{}

	mu         sync.Mutex
	allocators map[string]allocator
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = defaultScrollPause
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Fetcher{
		cfg:        cfg,
		limiter:    limiter,
		allocators: make(map[string]allocator),
	}, nil
}

// Close shuts down every browser started by the fetcher.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, a := range f.allocators {
		a.cancel()
		delete(f.allocators, key)
	}
}

// Fetch navigates with a headless browser and returns the rendered DOM after
// the requested number of scrolls.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.Content, error) {
	target, err := url.Parse(request.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return scraper.Content{}, &scraper.FetchError{
			Kind: scraper.FailureInvalidURL,
			Err:  fmt.Errorf("unsupported url %q", request.URL),
		}
	}
	if err := f.acquire(ctx); err != nil {
		return scraper.Content{}, scraper.Classify(err)
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocatorFor(request.Identity.Proxy))
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout(request.Timeout))
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	page, err := f.runHeadless(taskCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return scraper.Content{}, &scraper.FetchError{Kind: scraper.FailureCanceled, Err: ctx.Err()}
		}
		return scraper.Content{}, classifyBrowserError(taskCtx, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, page.finalURL)
	if status >= http.StatusBadRequest {
		return scraper.Content{}, scraper.NewHTTPError(status)
	}
	if headers == nil {
		headers = http.Header{}
	}

	return scraper.Content{
		URL:           request.URL,
		FinalURL:      responseURL,
		StatusCode:    status,
		Headers:       headers,
		Body:          []byte(page.html),
		Duration:      time.Since(start),
		UsedBrowser:   true,
		MoreAvailable: page.more,
	}, nil
}

type renderedPage struct {
	html     string
	finalURL string
	more     bool
}

func (f *Fetcher) runHeadless(ctx context.Context, request scraper.FetchRequest) (renderedPage, error) {
	var page renderedPage
	actions := []chromedp.Action{
		f.networkSetupAction(request.Identity),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(defaultSettle),
	}
	for range request.Scrolls {
		actions = append(actions, f.scrollAction(nil))
	}
	actions = append(actions,
		chromedp.Location(&page.finalURL),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
		f.scrollAction(&page.more),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return renderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

// scrollAction scrolls to the bottom, waits for lazy content and reports
// whether the document grew.
func (f *Fetcher) scrollAction(grew *bool) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var before, after float64
		var ok bool
		if err := chromedp.Evaluate(scrollHeightJS, &before).Do(ctx); err != nil {
			return fmt.Errorf("read scroll height: %w", err)
		}
		if err := chromedp.Evaluate(scrollToEndJS, &ok).Do(ctx); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if err := chromedp.Sleep(f.cfg.ScrollPause).Do(ctx); err != nil {
			return fmt.Errorf("scroll pause: %w", err)
		}
		if err := chromedp.Evaluate(scrollHeightJS, &after).Do(ctx); err != nil {
			return fmt.Errorf("read scroll height: %w", err)
		}
		if grew != nil {
			*grew = after > before
		}
		return nil
	})
}

func (f *Fetcher) networkSetupAction(identity scraper.Identity) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if identity.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(identity.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(identity.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(identity.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) allocatorFor(proxy string) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.allocators[proxy]; ok {
		return a.ctx
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions(proxy)...)
	f.allocators[proxy] = allocator{ctx: ctx, cancel: cancel}
	return ctx
}

func (f *Fetcher) allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func classifyBrowserError(taskCtx context.Context, err error) *scraper.FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		return &scraper.FetchError{Kind: scraper.FailureTimeout, Err: err}
	}
	if strings.Contains(err.Error(), "net::ERR_") {
		return &scraper.FetchError{Kind: scraper.FailureNetwork, Err: err}
	}
	return &scraper.FetchError{Kind: scraper.FailureRender, Err: err}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// keep the first document response; later ones are frames or client-side loads
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) snapshot() (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.headers.Clone(), m.url
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := m.snapshot()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}

	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = strings.Join(values, ", ")
		}
	}
	return headers
}
