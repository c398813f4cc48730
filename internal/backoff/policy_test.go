package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

func TestDecideExponentialWithinJitter(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 5, Jitter: 0.2, Seed: 7})
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Decide(attempt, scraper.FailureHTTP, 503)
		require.False(t, d.GiveUp)
		raw := time.Second << (attempt - 1)
		require.GreaterOrEqual(t, d.Wait, time.Duration(float64(raw)*0.8))
		require.LessOrEqual(t, d.Wait, time.Duration(float64(raw)*1.2))
	}
}

func TestDecideMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	for seed := int64(1); seed <= 50; seed++ {
		p := New(Config{BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, MaxRetries: 12, Jitter: 0.2, Seed: seed})
		var prev time.Duration
		for attempt := 1; attempt <= 12; attempt++ {
			d := p.Decide(attempt, scraper.FailureNetwork, 0)
			require.False(t, d.GiveUp)
			require.GreaterOrEqual(t, d.Wait, prev, "seed %d attempt %d", seed, attempt)
			require.LessOrEqual(t, d.Wait, 10*time.Second)
			prev = d.Wait
		}
		require.Equal(t, 10*time.Second, prev)
	}
}

func TestDecideGiveUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 3})
	for attempt := 1; attempt <= 3; attempt++ {
		require.False(t, p.Decide(attempt, scraper.FailureTimeout, 0).GiveUp)
	}
	require.True(t, p.Decide(4, scraper.FailureTimeout, 0).GiveUp)
}

func TestDecideDeterministicForSeed(t *testing.T) {
	t.Parallel()

	a := New(Config{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 4, Jitter: 0.2, Seed: 99})
	b := New(Config{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 4, Jitter: 0.2, Seed: 99})
	for attempt := 1; attempt <= 4; attempt++ {
		require.Equal(t, a.Decide(attempt, scraper.FailureNetwork, 0), b.Decide(attempt, scraper.FailureNetwork, 0))
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   scraper.FailureKind
		status int
		want   bool
	}{
		{scraper.FailureNetwork, 0, true},
		{scraper.FailureTimeout, 0, true},
		{scraper.FailureRender, 0, true},
		{scraper.FailureHTTP, 500, true},
		{scraper.FailureHTTP, 503, true},
		{scraper.FailureHTTP, 429, true},
		{scraper.FailureHTTP, 408, true},
		{scraper.FailureHTTP, 404, false},
		{scraper.FailureHTTP, 403, false},
		{scraper.FailureHTTP, 401, false},
		{scraper.FailureInvalidURL, 0, false},
		{scraper.FailureCanceled, 0, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Retryable(tt.kind, tt.status), "%s %d", tt.kind, tt.status)
	}
}

func TestDecideNonRetryableGivesUpImmediately(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseDelay: time.Second, MaxRetries: 3})
	require.True(t, p.Decide(1, scraper.FailureHTTP, 404).GiveUp)
}
