package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scrapeforge/internal/apperr"
)

func TestScrapeOptionsFromRequestDefaults(t *testing.T) {
	opts := scrapeOptionsFromRequest(ScrapeRequest{URL: "https://example.com"})
	require.True(t, opts.OnlyMainContent, "onlyMainContent defaults to true when unset")
	require.False(t, opts.WantSummary)
	require.False(t, opts.WantBranding)
}

func TestScrapeOptionsFromRequestHonorsExplicitOnlyMainContent(t *testing.T) {
	no := false
	opts := scrapeOptionsFromRequest(ScrapeRequest{URL: "https://example.com", OnlyMainContent: &no})
	require.False(t, opts.OnlyMainContent)
}

func TestScrapeOptionsFromRequestParsesSummaryFormat(t *testing.T) {
	opts := scrapeOptionsFromRequest(ScrapeRequest{
		URL:     "https://example.com",
		Formats: []any{"markdown", "summary"},
	})
	require.True(t, opts.WantSummary)
	require.Equal(t, []string{"markdown", "summary"}, opts.Formats)
}

func TestScrapeOptionsFromRequestParsesBrandingFormatWithPrompt(t *testing.T) {
	opts := scrapeOptionsFromRequest(ScrapeRequest{
		URL: "https://example.com",
		Formats: []any{
			map[string]any{"type": "branding", "prompt": "focus on the logo"},
		},
	})
	require.True(t, opts.WantBranding)
	require.Equal(t, "focus on the logo", opts.BrandingPrompt)
}

func TestScrapeOptionsFromRequestParsesObjectJSONFormat(t *testing.T) {
	opts := scrapeOptionsFromRequest(ScrapeRequest{
		URL: "https://example.com",
		Formats: []any{
			map[string]any{
				"type":   "json",
				"prompt": "extract the price",
				"schema": map[string]any{
					"properties": map[string]any{"price": map[string]any{"type": "number"}},
				},
			},
		},
	})
	require.Equal(t, "extract the price", opts.ExtractPrompt)
	require.NotNil(t, opts.ExtractSchema)
}

func TestScrapeOptionsFromRequestTopLevelExtractFieldsWinOverFormats(t *testing.T) {
	topSchema := map[string]any{"properties": map[string]any{"title": map[string]any{"type": "string"}}}
	opts := scrapeOptionsFromRequest(ScrapeRequest{
		URL:           "https://example.com",
		ExtractPrompt: "top level prompt",
		ExtractSchema: topSchema,
		Formats: []any{
			map[string]any{"type": "json", "prompt": "format prompt", "schema": map[string]any{}},
		},
	})
	require.Equal(t, "top level prompt", opts.ExtractPrompt)
	require.Equal(t, topSchema, opts.ExtractSchema)
}

func TestScrapeOptionsFromRequestParsesMaxAge(t *testing.T) {
	maxAge := int64(60_000)
	opts := scrapeOptionsFromRequest(ScrapeRequest{URL: "https://example.com", MaxAge: &maxAge})
	require.Equal(t, 60*time.Second, opts.MaxAge)
}

func TestScrapeOptionsFromRequestIgnoresZeroMaxAge(t *testing.T) {
	zero := int64(0)
	opts := scrapeOptionsFromRequest(ScrapeRequest{URL: "https://example.com", MaxAge: &zero})
	require.Equal(t, time.Duration(0), opts.MaxAge)
}

func TestWriteScrapeErrorMapsCodesToStatus(t *testing.T) {
	cases := []struct {
		code apperr.Code
		want int
	}{
		{apperr.CodeInvalidURL, 400},
		{apperr.CodeBlocked, 403},
		{apperr.CodeNotFound, 404},
		{apperr.CodeInvalidContent, 422},
		{apperr.CodeTimeout, 504},
		{apperr.CodeFetchFailed, 502},
		{apperr.CodeLimitExceeded, 429},
		{apperr.CodeTransformFailed, 422},
		{apperr.CodeExtractFailed, 422},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusForCode(tc.code))
	}
}
