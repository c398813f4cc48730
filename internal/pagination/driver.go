// Package pagination computes the next frontier entries for a fetched page.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Strategy selects how the next page of a branch is discovered.
type Strategy string

// Supported strategies.
const (
	StrategyNone           Strategy = "none"
	StrategyNextButton     Strategy = "next_button"
	StrategyPageParam      Strategy = "page_param"
	StrategyInfiniteScroll Strategy = "infinite_scroll"
)

// ParseStrategy maps a configured name to a Strategy. "page_number" is an
// alias for page_param and an empty name means none.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return StrategyNone, nil
	case "next_button":
		return StrategyNextButton, nil
	case "page_param", "page_number":
		return StrategyPageParam, nil
	case "infinite_scroll":
		return StrategyInfiniteScroll, nil
	default:
		return "", fmt.Errorf("unknown pagination strategy %q", name)
	}
}

// Config configures a Driver.
type Config struct {
	Strategy Strategy
	// NextSelector locates the next link for next_button.
	NextSelector string
	// PageParam is the query parameter incremented by page_param.
	PageParam string
	// MaxPages caps pages per branch. Zero means unbounded.
	MaxPages int
}

// Driver produces the next entries of a traversal branch.
type Driver struct {
	cfg   Config
	links scraper.LinkFinder
}

// New builds a Driver. links is required for next_button.
func New(cfg Config, links scraper.LinkFinder) (*Driver, error) {
	switch cfg.Strategy {
	case StrategyNone, StrategyInfiniteScroll:
	case StrategyNextButton:
		if cfg.NextSelector == "" || links == nil {
			return nil, fmt.Errorf("next_button requires a selector and link finder")
		}
	case StrategyPageParam:
		if cfg.PageParam == "" {
			return nil, fmt.Errorf("page_param requires a parameter name")
		}
	default:
		return nil, fmt.Errorf("unknown pagination strategy %q", cfg.Strategy)
	}
	return &Driver{cfg: cfg, links: links}, nil
}

// Strategy reports the configured strategy.
func (d *Driver) Strategy() Strategy {
	return d.cfg.Strategy
}

// MaxPages reports the per-branch ceiling.
func (d *Driver) MaxPages() int {
	return d.cfg.MaxPages
}

// Seed returns the root entry of a branch starting at rawURL.
func Seed(rawURL string) (scraper.FrontierEntry, error) {
	key, err := scraper.EntryKey(rawURL, 0)
	if err != nil {
		return scraper.FrontierEntry{}, err
	}
	return scraper.FrontierEntry{
		URL:       rawURL,
		Key:       key,
		PageIndex: 1,
		Branch:    key,
		BranchURL: rawURL,
		Source:    scraper.SourceSeed,
	}, nil
}

// Next returns the entries that follow entry given its fetched page. A missing
// or malformed next link ends the branch and is not an error.
func (d *Driver) Next(entry scraper.FrontierEntry, page scraper.Content) []scraper.FrontierEntry {
	if d.cfg.MaxPages > 0 && entry.PageIndex >= d.cfg.MaxPages {
		return nil
	}
	var (
		next scraper.FrontierEntry
		ok   bool
	)
	switch d.cfg.Strategy {
	case StrategyNextButton:
		next, ok = d.nextButton(entry, page)
	case StrategyPageParam:
		next, ok = d.pageParam(entry)
	case StrategyInfiniteScroll:
		next, ok = d.infiniteScroll(entry, page)
	default:
		return nil
	}
	if !ok {
		return nil
	}
	return []scraper.FrontierEntry{next}
}

func (d *Driver) nextButton(entry scraper.FrontierEntry, page scraper.Content) (scraper.FrontierEntry, bool) {
	href, ok := d.links.FindLink(page, d.cfg.NextSelector)
	if !ok {
		return scraper.FrontierEntry{}, false
	}
	key, err := scraper.EntryKey(href, 0)
	if err != nil || key == entry.Key {
		return scraper.FrontierEntry{}, false
	}
	return scraper.FrontierEntry{
		URL:       href,
		Key:       key,
		PageIndex: entry.PageIndex + 1,
		Branch:    entry.Branch,
		BranchURL: entry.BranchURL,
		Source:    scraper.SourceNextButton,
	}, true
}

func (d *Driver) pageParam(entry scraper.FrontierEntry) (scraper.FrontierEntry, bool) {
	// Branch is a dedup key and may differ from the served path.
	root := entry.BranchURL
	if root == "" {
		root = entry.Branch
	}
	if root == "" {
		root = entry.URL
	}
	u, err := url.Parse(root)
	if err != nil {
		return scraper.FrontierEntry{}, false
	}
	q := u.Query()
	start := 1
	if v, err := strconv.Atoi(q.Get(d.cfg.PageParam)); err == nil {
		start = v
	}
	q.Set(d.cfg.PageParam, strconv.Itoa(start+entry.PageIndex))
	u.RawQuery = q.Encode()

	next := u.String()
	key, err := scraper.EntryKey(next, 0)
	if err != nil {
		return scraper.FrontierEntry{}, false
	}
	return scraper.FrontierEntry{
		URL:       next,
		Key:       key,
		PageIndex: entry.PageIndex + 1,
		Branch:    entry.Branch,
		BranchURL: root,
		Source:    scraper.SourcePageParam,
	}, true
}

func (d *Driver) infiniteScroll(entry scraper.FrontierEntry, page scraper.Content) (scraper.FrontierEntry, bool) {
	if !page.MoreAvailable {
		return scraper.FrontierEntry{}, false
	}
	scrolls := entry.Scrolls + 1
	key, err := scraper.EntryKey(entry.URL, scrolls)
	if err != nil {
		return scraper.FrontierEntry{}, false
	}
	return scraper.FrontierEntry{
		URL:       entry.URL,
		Key:       key,
		PageIndex: entry.PageIndex + 1,
		Branch:    entry.Branch,
		BranchURL: entry.BranchURL,
		Source:    scraper.SourceInfiniteScroll,
		Scrolls:   scrolls,
	}, true
}
