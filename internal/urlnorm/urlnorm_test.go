package urlnorm

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		opts CanonicalizeOptions
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "strips default https port",
			in:   "https://example.com:443/a",
			want: "https://example.com/a",
		},
		{
			name: "keeps non-default port",
			in:   "https://example.com:8443/a",
			want: "https://example.com:8443/a",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/a#section",
			want: "https://example.com/a",
		},
		{
			name: "empty path becomes slash",
			in:   "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "sorts query when requested",
			in:   "https://example.com/a?b=2&a=1",
			opts: CanonicalizeOptions{SortQuery: true},
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "preserves query order when not sorting",
			in:   "https://example.com/a?b=2&a=1",
			want: "https://example.com/a?b=2&a=1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in, tc.opts)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	raw := "HTTPS://Example.COM:443/a/b?z=1&a=2#frag"
	opts := CanonicalizeOptions{SortQuery: true}

	once, err := Canonicalize(raw, opts)
	require.NoError(t, err)

	twice, err := Canonicalize(once, opts)
	require.NoError(t, err)

	require.Equal(t, once, twice)
}

func TestSplitHostPortIPv6(t *testing.T) {
	// parsePort must not mistake the bracketed literal's colons for a
	// host:port separator.
	require.Equal(t, 0, parsePort("[::1]"))
	require.Equal(t, 8080, parsePort("[::1]:8080"))
	require.Equal(t, 443, parsePort("example.com:443"))
}

func TestRegistrableDomain(t *testing.T) {
	require.Equal(t, "example.com", RegistrableDomain("a.b.example.com"))
	require.Equal(t, "example.co.uk", RegistrableDomain("www.example.co.uk"))
}

func TestSameHostOrSubdomain(t *testing.T) {
	require.True(t, SameHostOrSubdomain("example.com", "example.com"))
	require.True(t, SameHostOrSubdomain("blog.example.com", "example.com"))
	require.False(t, SameHostOrSubdomain("evil.com", "example.com"))
}

func TestIsBinaryMedia(t *testing.T) {
	require.True(t, IsBinaryMedia("https://example.com/file.pdf"))
	require.True(t, IsBinaryMedia("https://example.com/image.PNG"))
	require.False(t, IsBinaryMedia("https://example.com/page.html"))
	require.False(t, IsBinaryMedia("https://example.com/page"))
}

func TestMatchesAnyAndNone(t *testing.T) {
	require.True(t, MatchesAny(nil, "/anything"))
	require.True(t, MatchesAny([]string{"/blog"}, "/blog/post-1"))
	require.False(t, MatchesAny([]string{"/docs"}, "/blog/post-1"))

	require.True(t, MatchesNone(nil, "/anything"))
	require.False(t, MatchesNone([]string{"/admin"}, "/admin/settings"))
	require.True(t, MatchesNone([]string{"/admin"}, "/blog"))
}

func TestIsPrefixExtension(t *testing.T) {
	require.True(t, IsPrefixExtension("/blog", "/blog/post-1"))
	require.True(t, IsPrefixExtension("/blog", "/blog"))
	require.False(t, IsPrefixExtension("/blog", "/docs"))
}

func TestAdmissible(t *testing.T) {
	base := AdmitOptions{
		RootHost: "example.com",
		RootPath: "/blog",
		Depth:    1,
		MaxDepth: 3,
	}

	ok, reason := Admissible("https://example.com/blog/post-1", base)
	require.True(t, ok)
	require.Empty(t, reason)

	ok, reason = Admissible("ftp://example.com/blog/post-1", base)
	require.False(t, ok)
	require.Equal(t, "scheme", reason)

	ok, reason = Admissible("https://other.com/blog/post-1", base)
	require.False(t, ok)
	require.Equal(t, "external", reason)

	ok, reason = Admissible("https://example.com/blog/file.zip", base)
	require.False(t, ok)
	require.Equal(t, "binary_media", reason)

	ok, reason = Admissible("https://example.com/docs/guide", base)
	require.False(t, ok)
	require.Equal(t, "backward_link", reason)

	deep := base
	deep.Depth = 5
	ok, reason = Admissible("https://example.com/blog/post-1", deep)
	require.False(t, ok)
	require.Equal(t, "max_depth", reason)

	denied := base
	denied.RobotsAllowed = func(u *url.URL) bool { return false }
	ok, reason = Admissible("https://example.com/blog/post-1", denied)
	require.False(t, ok)
	require.Equal(t, "robots", reason)

	included := base
	included.IncludePaths = []string{"/blog/allowed"}
	ok, reason = Admissible("https://example.com/blog/post-1", included)
	require.False(t, ok)
	require.Equal(t, "include_paths", reason)

	excluded := base
	excluded.ExcludePaths = []string{"/blog/post-1"}
	ok, reason = Admissible("https://example.com/blog/post-1", excluded)
	require.False(t, ok)
	require.Equal(t, "exclude_paths", reason)
}
