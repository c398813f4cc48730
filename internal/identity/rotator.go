// Package identity supplies the outbound request identity used for each fetch attempt.
package identity

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// DefaultUserAgents is the built-in desktop browser pool.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// DefaultUserAgent is used when the configured pool is empty.
var DefaultUserAgent = DefaultUserAgents[0]

// DefaultHeaders returns the browser-like headers sent with every request.
func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	return h
}

// Config configures a Rotator.
type Config struct {
	UserAgents []string
	Proxies    []string
	// Rotate picks a random User-Agent per attempt; otherwise the first entry is used.
	Rotate bool
	Seed   int64
}

// Rotator hands out identities: round-robin over proxies and random or fixed
// User-Agents. It is safe for concurrent use.
type Rotator struct {
	mu         sync.Mutex
	userAgents []string
	proxies    []string
	rotate     bool
	next       int
	rng        *rand.Rand
}

// New builds a Rotator from cfg.
func New(cfg Config) *Rotator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Rotator{
		userAgents: append([]string(nil), cfg.UserAgents...),
		proxies:    append([]string(nil), cfg.Proxies...),
		rotate:     cfg.Rotate,
		rng:        rand.New(rand.NewSource(seed)), //nolint:gosec // identity choice is not security sensitive
	}
}

// Next returns the identity for the next attempt. It never fails.
func (r *Rotator) Next() scraper.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := scraper.Identity{
		UserAgent: DefaultUserAgent,
		Headers:   DefaultHeaders(),
	}
	if len(r.userAgents) > 0 {
		if r.rotate {
			id.UserAgent = r.userAgents[r.rng.Intn(len(r.userAgents))]
		} else {
			id.UserAgent = r.userAgents[0]
		}
	}
	if len(r.proxies) > 0 {
		id.Proxy = r.proxies[r.next%len(r.proxies)]
		r.next++
	}
	return id
}
