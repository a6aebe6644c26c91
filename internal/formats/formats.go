package formats

import (
	"strings"

	"scrapeforge/internal/scrapeutil"
)

// Format represents a logical output format produced by the Content
// Pipeline, aligned with Firecrawl-style format identifiers.
type Format string

const (
	FormatMarkdown   Format = "markdown"
	FormatHTML       Format = "html"
	FormatRawHTML    Format = "rawHtml"
	FormatLinks      Format = "links"
	FormatImages     Format = "images"
	FormatSummary    Format = "summary"
	FormatJSON       Format = "json"
	FormatBranding   Format = "branding"
	FormatScreenshot Format = "screenshot"
)

// HasFormat reports whether the given Firecrawl-style formats array
// contains the specified format name.
func HasFormat(formats []any, name string) bool {
	return scrapeutil.WantsFormat(formats, name)
}

// normalizeFormatName converts a Firecrawl-style format descriptor (either
// a string or {type: string}) into a lowercased name.
func normalizeFormatName(f any) string {
	switch v := f.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case map[string]any:
		if t, ok := v["type"].(string); ok {
			return strings.ToLower(strings.TrimSpace(t))
		}
	}
	return ""
}

// Names converts a formats array into its lowercased string names,
// skipping entries that don't resolve to a known shape.
func Names(formats []any) []string {
	names := make([]string, 0, len(formats))
	for _, f := range formats {
		if name := normalizeFormatName(f); name != "" {
			names = append(names, name)
		}
	}
	return names
}
