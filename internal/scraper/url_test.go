package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "case folded", in: "HTTP://Example.TEST/p1", want: "http://example.test/p1"},
		{name: "default http port", in: "http://example.test:80/p1", want: "http://example.test/p1"},
		{name: "default https port", in: "https://example.test:443/p1", want: "https://example.test/p1"},
		{name: "custom port kept", in: "http://example.test:8080/p1", want: "http://example.test:8080/p1"},
		{name: "trailing slash", in: "http://example.test/list/", want: "http://example.test/list"},
		{name: "root path", in: "http://example.test", want: "http://example.test/"},
		{name: "query sorted", in: "http://example.test/s?b=2&a=1", want: "http://example.test/s?a=1&b=2"},
		{name: "fragment dropped", in: "http://example.test/p#top", want: "http://example.test/p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/relative/path")
	require.Error(t, err)
	_, err = NormalizeURL("mailto:someone@example.test")
	require.Error(t, err)
}

func TestEntryKeyScrollSuffix(t *testing.T) {
	t.Parallel()

	key, err := EntryKey("http://example.test/feed", 0)
	require.NoError(t, err)
	require.Equal(t, "http://example.test/feed", key)

	key, err = EntryKey("http://example.test/feed", 2)
	require.NoError(t, err)
	require.Equal(t, "http://example.test/feed#scroll=2", key)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	got, err := ResolveURL("http://example.test/catalogue/page-1.html", "page-2.html")
	require.NoError(t, err)
	require.Equal(t, "http://example.test/catalogue/page-2.html", got)

	_, err = ResolveURL("http://example.test/", "javascript:void(0)")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	kind, status := KindOf(NewHTTPError(503))
	require.Equal(t, FailureHTTP, kind)
	require.Equal(t, 503, status)

	fe := Classify(&FetchError{Kind: FailureRender})
	require.Equal(t, FailureRender, fe.Kind)

	require.Nil(t, Classify(nil))
}
