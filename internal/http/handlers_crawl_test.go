package http

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCrawlOptionsFromRequestDefaultsScrapeOptions(t *testing.T) {
	opts := crawlOptionsFromRequest(CrawlRequest{URL: "https://example.com"})
	require.True(t, opts.Scrape.OnlyMainContent)
	require.Equal(t, []string{"markdown"}, opts.Scrape.Formats)
	require.False(t, opts.AllowBackward)
	require.False(t, opts.AllowExternal)
}

func TestCrawlOptionsFromRequestHonorsExplicitFlags(t *testing.T) {
	maxDepth, limit, maxConcurrency := 5, 100, 3
	allowBackward, allowExternal, ignoreRobots, ignoreSitemap := true, true, true, true
	opts := crawlOptionsFromRequest(CrawlRequest{
		URL:                "https://example.com",
		MaxDepth:           &maxDepth,
		Limit:              &limit,
		MaxConcurrency:     &maxConcurrency,
		AllowBackwardLinks: &allowBackward,
		AllowExternalLinks: &allowExternal,
		IgnoreRobotsTxt:    &ignoreRobots,
		IgnoreSitemap:      &ignoreSitemap,
		IncludePaths:       []string{"/blog"},
		ExcludePaths:       []string{"/admin"},
	})
	require.Equal(t, 5, opts.MaxDepth)
	require.Equal(t, 100, opts.Limit)
	require.Equal(t, 3, opts.MaxConcurrency)
	require.True(t, opts.AllowBackward)
	require.True(t, opts.AllowExternal)
	require.True(t, opts.IgnoreRobots)
	require.True(t, opts.IgnoreSitemap)
	require.Equal(t, []string{"/blog"}, opts.IncludePaths)
	require.Equal(t, []string{"/admin"}, opts.ExcludePaths)
}

func TestCrawlOptionsFromRequestPropagatesNestedScrapeOptions(t *testing.T) {
	onlyMain := false
	opts := crawlOptionsFromRequest(CrawlRequest{
		URL: "https://example.com",
		ScrapeOptions: &ScrapeRequest{
			Formats:         []any{"markdown", "summary"},
			OnlyMainContent: &onlyMain,
		},
	})
	require.False(t, opts.Scrape.OnlyMainContent)
	require.True(t, opts.Scrape.WantSummary)
}
