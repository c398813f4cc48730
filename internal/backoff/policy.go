// Package backoff decides whether and how long to wait before retrying a failed fetch.
package backoff

import (
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Config configures a Policy.
type Config struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
	// Jitter is the symmetric fraction applied to each wait (0.2 means ±20%).
	Jitter float64
	Seed   int64
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Wait   time.Duration
	GiveUp bool
}

// Policy implements capped exponential backoff with jitter.
// Decisions are deterministic for a given seed and call sequence.
type Policy struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Policy. A zero MaxDelay disables the cap.
func New(cfg Config) *Policy {
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	return &Policy{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // jitter only
	}
}

// MaxRetries reports the configured retry budget.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// Decide maps the number of the attempt that just failed (1-based) and its
// failure classification to a wait or GiveUp.
func (p *Policy) Decide(attempt int, kind scraper.FailureKind, status int) Decision {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > p.cfg.MaxRetries || !Retryable(kind, status) {
		return Decision{GiveUp: true}
	}
	return Decision{Wait: p.wait(attempt)}
}

func (p *Policy) wait(attempt int) time.Duration {
	raw := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	limit := float64(p.cfg.MaxDelay)
	if limit > 0 && raw >= limit {
		return p.cfg.MaxDelay
	}

	p.mu.Lock()
	r := p.rng.Float64()
	p.mu.Unlock()

	jittered := raw * (1 + p.cfg.Jitter*(2*r-1))
	if limit > 0 && jittered > limit {
		jittered = limit
	}
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Retryable reports whether a failure of kind (with HTTP status, when relevant)
// may be retried.
func Retryable(kind scraper.FailureKind, status int) bool {
	switch kind {
	case scraper.FailureNetwork, scraper.FailureTimeout, scraper.FailureRender:
		return true
	case scraper.FailureHTTP:
		switch {
		case status >= 500:
			return true
		case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
			return true
		default:
			return false
		}
	default:
		return false
	}
}
