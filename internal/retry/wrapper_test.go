package retry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/backoff"
	"github.com/JakeFAU/webscraper/internal/identity"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	errs    []error
	calls   int
	proxies []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, req scraper.FetchRequest) (scraper.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.proxies = append(f.proxies, req.Identity.Proxy)
	if f.calls <= len(f.errs) {
		return scraper.Content{}, f.errs[f.calls-1]
	}
	return scraper.Content{URL: req.URL, StatusCode: http.StatusOK, Body: []byte("ok")}, nil
}

type recordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		return ctx.Err()
	}
	return nil
}

func newWrapper(f scraper.Fetcher, sleeper Sleeper, maxRetries int) *Wrapper {
	policy := backoff.New(backoff.Config{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		MaxRetries: maxRetries,
		Jitter:     0.2,
		Seed:       1,
	})
	rotator := identity.New(identity.Config{Proxies: []string{"http://p1", "http://p2"}})
	return New(f, rotator, policy, nil, Config{Timeout: time.Second, Sleeper: sleeper}, zap.NewNop())
}

func TestAttemptFetchRecoversAfterTwo503s(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{scraper.NewHTTPError(503), scraper.NewHTTPError(503)}}
	sleeper := &recordingSleeper{}
	w := newWrapper(fetcher, sleeper, 3)

	var progress []int
	res := w.AttemptFetch(context.Background(), scraper.FrontierEntry{URL: "http://example.test/p"}, func(n int) {
		progress = append(progress, n)
	})

	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 2, res.Retries)
	require.Equal(t, []int{1, 2, 3}, progress)
	require.Len(t, sleeper.waits, 2)
	require.InDelta(t, float64(time.Second), float64(sleeper.waits[0]), float64(200*time.Millisecond))
	require.InDelta(t, float64(2*time.Second), float64(sleeper.waits[1]), float64(400*time.Millisecond))
	// each attempt draws a fresh identity
	require.Equal(t, []string{"http://p1", "http://p2", "http://p1"}, fetcher.proxies)
}

func TestAttemptFetchGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	transient := errors.New("connection reset")
	fetcher := &scriptedFetcher{errs: []error{transient, transient, transient, transient, transient}}
	w := newWrapper(fetcher, &recordingSleeper{}, 3)

	res := w.AttemptFetch(context.Background(), scraper.FrontierEntry{URL: "http://example.test/p"}, nil)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, 4, res.Attempts)
	require.Equal(t, 4, fetcher.calls)
	require.Equal(t, scraper.FailureNetwork, res.Kind)
	require.ErrorIs(t, res.Err, transient)
}

func TestAttemptFetchNonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{scraper.NewHTTPError(http.StatusForbidden)}}
	sleeper := &recordingSleeper{}
	w := newWrapper(fetcher, sleeper, 3)

	res := w.AttemptFetch(context.Background(), scraper.FrontierEntry{URL: "http://example.test/p"}, nil)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, scraper.FailureHTTP, res.Kind)
	require.Equal(t, http.StatusForbidden, res.HTTPStatus)
	require.Empty(t, sleeper.waits)
}

func TestAttemptFetchInterruptedDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &scriptedFetcher{errs: []error{scraper.NewHTTPError(503)}}
	w := newWrapper(fetcher, &recordingSleeper{cancel: cancel}, 3)

	res := w.AttemptFetch(ctx, scraper.FrontierEntry{URL: "http://example.test/p"}, nil)
	require.Equal(t, StatusInterrupted, res.Status)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 1, fetcher.calls)
}

func TestAttemptFetchContinuesFromPreviousAttempts(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{scraper.NewHTTPError(503)}}
	w := newWrapper(fetcher, &recordingSleeper{}, 3)

	// two attempts were spent before the job paused; one retry remains
	res := w.AttemptFetch(context.Background(), scraper.FrontierEntry{URL: "http://example.test/p", Attempts: 2}, nil)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, 4, res.Attempts)

	exhausted := &scriptedFetcher{errs: []error{scraper.NewHTTPError(503)}}
	w = newWrapper(exhausted, &recordingSleeper{}, 3)
	res = w.AttemptFetch(context.Background(), scraper.FrontierEntry{URL: "http://example.test/p", Attempts: 3}, nil)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, 4, res.Attempts)
}

func TestAttemptFetchCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &scriptedFetcher{}
	w := newWrapper(fetcher, &recordingSleeper{}, 3)

	res := w.AttemptFetch(ctx, scraper.FrontierEntry{URL: "http://example.test/p", Attempts: 1}, nil)
	require.Equal(t, StatusInterrupted, res.Status)
	require.Equal(t, 1, res.Attempts)
	require.Zero(t, fetcher.calls)
}

func TestTimerSleeperCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.Error(t, TimerSleeper{}.Sleep(ctx, 5*time.Second))
	require.Less(t, time.Since(start), time.Second)
	require.NoError(t, TimerSleeper{}.Sleep(context.Background(), time.Millisecond))
}
