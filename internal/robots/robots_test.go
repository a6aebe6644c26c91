package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowedRespectsDisallowRule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /admin\n"))
	}))
	defer srv.Close()

	c := New(time.Minute, "scrapeforge-test/1.0", nil)

	allowedURL, _ := url.Parse(srv.URL + "/blog/post-1")
	require.True(t, c.Allowed(context.Background(), allowedURL))

	disallowedURL, _ := url.Parse(srv.URL + "/admin/settings")
	require.False(t, c.Allowed(context.Background(), disallowedURL))
}

func TestAllowedFailsOpenWhenRobotsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(time.Minute, "scrapeforge-test/1.0", nil)
	u, _ := url.Parse(srv.URL + "/anything")
	require.True(t, c.Allowed(context.Background(), u))
}

func TestAllowedFailsOpenOnFetchError(t *testing.T) {
	c := New(time.Minute, "scrapeforge-test/1.0", nil)
	// Nothing listens on this port: the fetch must fail, and Allowed must
	// still return true (fail-open).
	u, _ := url.Parse("http://127.0.0.1:1/anything")
	require.True(t, c.Allowed(context.Background(), u))
}

func TestGroupForCachesWithinTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("User-agent: *\nDisallow: /admin\n"))
	}))
	defer srv.Close()

	c := New(time.Minute, "scrapeforge-test/1.0", nil)
	u, _ := url.Parse(srv.URL + "/page")

	_, err := c.groupFor(context.Background(), u)
	require.NoError(t, err)
	_, err = c.groupFor(context.Background(), u)
	require.NoError(t, err)

	require.Equal(t, 1, calls, "a second lookup within TTL must not re-fetch robots.txt")
}
