package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errNotAbsolute = errors.New("url must be absolute http(s)")

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, drops the fragment,
// trims trailing slashes from non-root paths and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("normalize %q: %w", rawURL, errNotAbsolute)
	}

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}
	u.RawPath = ""

	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// EntryKey returns the dedup key for a frontier entry. Synthetic infinite
// scroll entries share their page URL and are told apart by the scroll count.
func EntryKey(rawURL string, scrolls int) (string, error) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	if scrolls > 0 {
		key = fmt.Sprintf("%s#scroll=%d", key, scrolls)
	}
	return key, nil
}

// ResolveURL resolves href against base and returns an absolute http(s) URL.
func ResolveURL(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("resolve: empty href")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("resolve %q: %w", href, errNotAbsolute)
	}
	return resolved.String(), nil
}
