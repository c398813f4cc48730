package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotatorEmptyPools(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	id := r.Next()
	require.Equal(t, DefaultUserAgent, id.UserAgent)
	require.Empty(t, id.Proxy)
	require.Equal(t, "en-US,en;q=0.5", id.Headers.Get("Accept-Language"))
}

func TestRotatorRoundRobinProxies(t *testing.T) {
	t.Parallel()

	r := New(Config{Proxies: []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"}})
	var got []string
	for range 6 {
		got = append(got, r.Next().Proxy)
	}
	require.Equal(t, []string{
		"http://p1:8080", "http://p2:8080", "http://p3:8080",
		"http://p1:8080", "http://p2:8080", "http://p3:8080",
	}, got)
}

func TestRotatorFixedUserAgent(t *testing.T) {
	t.Parallel()

	r := New(Config{UserAgents: []string{"ua-a", "ua-b"}, Rotate: false})
	for range 10 {
		require.Equal(t, "ua-a", r.Next().UserAgent)
	}
}

func TestRotatorRandomUserAgentFromPool(t *testing.T) {
	t.Parallel()

	pool := []string{"ua-a", "ua-b", "ua-c"}
	r := New(Config{UserAgents: pool, Rotate: true, Seed: 42})
	seen := map[string]bool{}
	for range 100 {
		ua := r.Next().UserAgent
		require.Contains(t, pool, ua)
		seen[ua] = true
	}
	require.Len(t, seen, 3)
}

func TestRotatorHeadersNotShared(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	a := r.Next()
	a.Headers.Set("X-Test", "1")
	require.Empty(t, r.Next().Headers.Get("X-Test"))
}

func TestRotatorConcurrentUse(t *testing.T) {
	t.Parallel()

	r := New(Config{Proxies: []string{"a", "b"}, UserAgents: DefaultUserAgents, Rotate: true})
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = r.Next()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1000, r.next)
}
