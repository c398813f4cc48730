// Package ratelimit provides the request-start budget shared by every worker of a job.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// Interval is the minimum spacing between request starts. Zero disables limiting.
	Interval time.Duration
	Burst    int
	// Observe, when set, receives the delay of every wait that actually blocked.
	Observe func(time.Duration)
}

// Limiter is a single token bucket shared across workers.
type Limiter struct {
	limiter *rate.Limiter
	observe func(time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.Interval > 0 {
		r = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(r, burst),
		observe: cfg.Observe,
	}
}

// Wait blocks until a request may start, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.observe != nil {
		if d := time.Since(start); d > time.Millisecond {
			l.observe(d)
		}
	}
	return nil
}
