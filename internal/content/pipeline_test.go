package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<title>Example Page</title>
<meta name="description" content="An example page for tests">
<meta property="og:title" content="Example OG Title">
</head>
<body>
<nav><a href="/nav-link">Nav</a></nav>
<article>
<h1>Hello World</h1>
<p>This is a <a href="/relative">relative link</a> and some body text that is long enough
for the readability extractor to consider this the main content block of the page, rather
than discarding it as boilerplate navigation chrome.</p>
<img src="/images/pic.png">
<img src="data:image/png;base64,AAAA">
</article>
</body>
</html>`

func TestRunProducesMarkdownTextAndLinks(t *testing.T) {
	doc, err := Run(Input{HTML: sampleHTML, FinalURL: "https://example.com/page", StatusCode: 200}, Options{
		RemoveBase64Images: true,
	})
	require.NoError(t, err)

	require.Contains(t, doc.Markdown, "Hello World")
	require.Contains(t, doc.Text, "Hello World")
	require.NotEmpty(t, doc.ContentHash)
	require.Equal(t, "Example Page", doc.Metadata.Title)
	require.Equal(t, "An example page for tests", doc.Metadata.Description)
	require.Equal(t, "Example OG Title", doc.Metadata.OgTitle)
	require.Equal(t, 200, doc.Metadata.StatusCode)
}

func TestRunResolvesRelativeLinksAgainstFinalURL(t *testing.T) {
	doc, err := Run(Input{HTML: sampleHTML, FinalURL: "https://example.com/page"}, Options{})
	require.NoError(t, err)

	for _, l := range doc.Links {
		require.True(t, strings.HasPrefix(l, "https://example.com"), "link %q must be absolute", l)
	}
}

func TestRunStripsBase64Images(t *testing.T) {
	doc, err := Run(Input{HTML: sampleHTML, FinalURL: "https://example.com/page"}, Options{RemoveBase64Images: true})
	require.NoError(t, err)
	require.NotContains(t, doc.HTML, "data:image")
}

func TestRunSameDomainLinkFilter(t *testing.T) {
	html := `<html><body>
<a href="https://example.com/a">A</a>
<a href="https://other.com/b">B</a>
</body></html>`

	doc, err := Run(Input{HTML: html, FinalURL: "https://example.com/page"}, Options{LinksSameDomainOnly: true})
	require.NoError(t, err)
	require.Len(t, doc.Links, 1)
	require.Equal(t, "https://example.com/a", doc.Links[0])
}

func TestRunRespectsMaxLinksPerDocument(t *testing.T) {
	html := `<html><body>
<a href="https://example.com/a">A</a>
<a href="https://example.com/b">B</a>
<a href="https://example.com/c">C</a>
</body></html>`

	doc, err := Run(Input{HTML: html, FinalURL: "https://example.com/page"}, Options{LinksMaxPerDocument: 2})
	require.NoError(t, err)
	require.Len(t, doc.Links, 2)
}

func TestRunIsDeterministic(t *testing.T) {
	doc1, err := Run(Input{HTML: sampleHTML, FinalURL: "https://example.com/page"}, Options{})
	require.NoError(t, err)
	doc2, err := Run(Input{HTML: sampleHTML, FinalURL: "https://example.com/page"}, Options{})
	require.NoError(t, err)

	require.Equal(t, doc1.Markdown, doc2.Markdown)
	require.Equal(t, doc1.ContentHash, doc2.ContentHash)
}

func TestMarkdownToTextStripsFormatting(t *testing.T) {
	text := MarkdownToText("# Heading\n\nSome **bold** and _italic_ text.")
	require.Contains(t, text, "Heading")
	require.Contains(t, text, "Some")
	require.Contains(t, text, "bold")
	require.NotContains(t, text, "**")
	require.NotContains(t, text, "#")
}

func TestToMarkdownConvertsBasicHTML(t *testing.T) {
	md, err := ToMarkdown(`<h1>Title</h1><p>Body text</p>`, "https://example.com")
	require.NoError(t, err)
	require.Contains(t, md, "Title")
	require.Contains(t, md, "Body text")
}

func TestApplyIncludeAndExcludeTags(t *testing.T) {
	doc, err := Run(Input{
		HTML:     `<html><body><div class="ad">Advertisement</div><main>Keep me</main></body></html>`,
		FinalURL: "https://example.com/page",
	}, Options{ExcludeTags: []string{".ad"}, IncludeTags: []string{"main"}})
	require.NoError(t, err)

	require.Contains(t, doc.HTML, "Keep me")
	require.NotContains(t, doc.HTML, "Advertisement")
}
