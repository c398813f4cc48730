// Package retry drives a fetch backend through the backoff policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/backoff"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

const defaultTimeout = 30 * time.Second

// Status is the terminal state of one AttemptFetch call.
type Status string

// Result statuses.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusInterrupted means the job was cancelled before the entry resolved.
	StatusInterrupted Status = "interrupted"
)

// Result describes how an entry's fetch resolved.
type Result struct {
	Status  Status
	Content scraper.Content
	// Attempts is the cumulative attempt count, including attempts made before a resume.
	Attempts int
	// Retries counts the backoff waits taken during this call.
	Retries int
	// Kind is the last failure kind seen, also set on success after retries.
	Kind       scraper.FailureKind
	HTTPStatus int
	Err        error
}

// Policy decides whether to retry a failed attempt.
type Policy interface {
	Decide(attempt int, kind scraper.FailureKind, status int) backoff.Decision
}

// Limiter gates request starts.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Sleeper suspends for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper waits on a timer and the context.
type TimerSleeper struct{}

// Sleep implements Sleeper.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// AttemptObserver receives the result of every single fetch attempt.
type AttemptObserver func(err error, duration time.Duration)

// Config controls the Wrapper.
type Config struct {
	// Timeout bounds each attempt independently of job cancellation.
	Timeout  time.Duration
	Sleeper  Sleeper
	Observer AttemptObserver
}

// Wrapper retries fetches with fresh identities until success, GiveUp or cancellation.
type Wrapper struct {
	fetcher    scraper.Fetcher
	identities scraper.IdentitySource
	policy     Policy
	limiter    Limiter
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Wrapper. limiter may be nil.
func New(
	fetcher scraper.Fetcher,
	identities scraper.IdentitySource,
	policy Policy,
	limiter Limiter,
	cfg Config,
	logger *zap.Logger,
) *Wrapper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = TimerSleeper{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wrapper{
		fetcher:    fetcher,
		identities: identities,
		policy:     policy,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

// AttemptFetch fetches entry, retrying per the policy. progress, when set, is
// called with the cumulative attempt count before each attempt starts.
// Attempts continue from entry.Attempts so resumed entries keep their schedule.
func (w *Wrapper) AttemptFetch(ctx context.Context, entry scraper.FrontierEntry, progress func(attempts int)) Result {
	attempts := entry.Attempts
	retries := 0
	var lastKind scraper.FailureKind
	for {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return Result{Status: StatusInterrupted, Attempts: attempts, Retries: retries, Err: err}
			}
		} else if ctx.Err() != nil {
			return Result{Status: StatusInterrupted, Attempts: attempts, Retries: retries, Err: ctx.Err()}
		}

		attempts++
		if progress != nil {
			progress(attempts)
		}

		content, err := w.fetchOnce(ctx, entry)
		if err == nil {
			return Result{Status: StatusSuccess, Content: content, Attempts: attempts, Retries: retries, Kind: lastKind}
		}

		failure := scraper.Classify(err)
		lastKind = failure.Kind
		decision := w.policy.Decide(attempts, failure.Kind, failure.Status)
		if decision.GiveUp {
			w.logger.Debug("giving up on page",
				zap.String("url", entry.URL),
				zap.Int("attempts", attempts),
				zap.String("kind", string(failure.Kind)),
				zap.Error(err),
			)
			return Result{
				Status:     StatusFailed,
				Attempts:   attempts,
				Retries:    retries,
				Kind:       failure.Kind,
				HTTPStatus: failure.Status,
				Err:        err,
			}
		}

		w.logger.Debug("retrying page",
			zap.String("url", entry.URL),
			zap.Int("attempt", attempts),
			zap.Duration("wait", decision.Wait),
			zap.String("kind", string(failure.Kind)),
			zap.Error(err),
		)
		retries++
		if err := w.cfg.Sleeper.Sleep(ctx, decision.Wait); err != nil {
			return Result{
				Status:     StatusInterrupted,
				Attempts:   attempts,
				Retries:    retries,
				Kind:       failure.Kind,
				HTTPStatus: failure.Status,
				Err:        err,
			}
		}
	}
}

func (w *Wrapper) fetchOnce(ctx context.Context, entry scraper.FrontierEntry) (scraper.Content, error) {
	// in-flight requests outlive job cancellation and are bounded by the timeout
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	content, err := w.fetcher.Fetch(fetchCtx, scraper.FetchRequest{
		URL:      entry.URL,
		Identity: w.identities.Next(),
		Timeout:  w.cfg.Timeout,
		Scrolls:  entry.Scrolls,
	})
	if w.cfg.Observer != nil {
		w.cfg.Observer(err, time.Since(start))
	}
	if err != nil {
		return scraper.Content{}, fmt.Errorf("fetch %s: %w", entry.URL, err)
	}
	return content, nil
}
