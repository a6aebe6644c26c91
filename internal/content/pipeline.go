// Package content implements the Content Pipeline (spec.md §4.C): a fixed
// sequence of pure transforms turning raw HTML into a Document — tag
// filtering, readability extraction, base64-image stripping, URL
// resolution, link/metadata collection, Markdown conversion, and plain-text
// derivation.
package content

import (
	"bytes"
	"encoding/hex"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"lukechampine.com/blake3"

	"scrapeforge/internal/model"
)

// Options mirrors the subset of ScrapeOptions the pipeline needs.
type Options struct {
	OnlyMainContent   bool
	IncludeTags       []string
	ExcludeTags       []string
	RemoveBase64Images bool
	LinksSameDomainOnly bool
	LinksMaxPerDocument int
}

// Input is the pipeline's entry point: one fetch's raw output.
type Input struct {
	HTML       string
	FinalURL   string
	StatusCode int
}

// Run executes the fixed pipeline ordering from spec.md §4.C and returns a
// Document with markdown/text/html/links/metadata populated. It never
// performs network I/O.
func Run(in Input, opts Options) (*model.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err != nil {
		return nil, err
	}

	// Step 2: excludeTags then includeTags.
	applyExcludeTags(doc, opts.ExcludeTags)
	applyIncludeTags(doc, opts.IncludeTags)

	// Step 3: onlyMainContent readability extraction, within whatever the
	// tag selectors retained (per spec.md's Open Question resolution below).
	if opts.OnlyMainContent {
		if mainHTML, ok := extractMainContent(doc, in.FinalURL); ok {
			doc, err = goquery.NewDocumentFromReader(strings.NewReader(mainHTML))
			if err != nil {
				return nil, err
			}
		}
	}

	// Step 4: base64 image stripping, after structural selection.
	if opts.RemoveBase64Images {
		removeBase64Images(doc)
	}

	// Step 5: resolve every relative URL against finalUrl.
	resolveURLs(doc, in.FinalURL)

	// Step 6: collect links from the retained subtree.
	links, linkMeta := collectLinks(doc, in.FinalURL, opts.LinksSameDomainOnly, opts.LinksMaxPerDocument)

	// Step 7: collect metadata.
	meta := collectMetadata(doc, in.FinalURL, in.StatusCode)

	// Step 8: serialize cleaned HTML, convert to Markdown.
	cleanedHTML, err := doc.Html()
	if err != nil {
		return nil, err
	}
	markdown, err := ToMarkdown(cleanedHTML, in.FinalURL)
	if err != nil {
		markdown = doc.Text()
	}

	// Step 9: derive plain text by stripping Markdown formatting.
	text := MarkdownToText(markdown)

	images := extractImages(doc, in.FinalURL)

	return &model.Document{
		Markdown:     markdown,
		Text:         text,
		HTML:         cleanedHTML,
		RawHTML:      in.HTML,
		Links:        links,
		LinkMetadata: linkMeta,
		Images:       images,
		Metadata:     meta,
		ContentHash:  hashCleanedHTML(cleanedHTML),
	}, nil
}

// hashCleanedHTML blake3-hashes the cleaned HTML into Document.ContentHash,
// so two documents can be compared without diffing text. No caller in the
// crawl or scrape paths compares these hashes.
func hashCleanedHTML(cleanedHTML string) string {
	sum := blake3.Sum256([]byte(cleanedHTML))
	return hex.EncodeToString(sum[:])
}

// ToMarkdown is the opaque html->markdown function from spec.md §6: it must
// be deterministic and must not perform network I/O. One converter instance
// is built per call, scoped to the document's domain, matching the
// teacher's per-request `htmlmd.NewConverter(hostname, true, nil)` pattern.
func ToMarkdown(html, finalURL string) (string, error) {
	domain := finalURL
	if u := hostOf(finalURL); u != "" {
		domain = u
	}
	converter := htmlmd.NewConverter(domain, true, nil)
	return converter.ConvertString(html)
}

// MarkdownToText derives plain text from Markdown by walking the goldmark
// AST and concatenating literal text nodes — deterministic, and immune to
// accidentally stripping text that merely resembles Markdown syntax.
func MarkdownToText(markdown string) string {
	src := []byte(markdown)
	root := goldmark.DefaultParser().Parse(gmtext.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading:
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.Paragraph, *ast.Heading:
			// handled via Text children; add a separating blank line on exit
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(collapseBlankLines(b.String()))
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

func applyExcludeTags(doc *goquery.Document, selectors []string) {
	for _, sel := range selectors {
		compiled, err := cascadia.Compile(sel)
		if err != nil {
			continue
		}
		doc.FindMatcher(compiled).Remove()
	}
}

func applyIncludeTags(doc *goquery.Document, selectors []string) {
	if len(selectors) == 0 {
		return
	}
	var kept []*goquery.Selection
	for _, sel := range selectors {
		compiled, err := cascadia.Compile(sel)
		if err != nil {
			continue
		}
		s := doc.FindMatcher(compiled)
		if s.Length() > 0 {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return
	}

	var buf bytes.Buffer
	buf.WriteString("<html><head></head><body>")
	for _, s := range kept {
		s.Each(func(_ int, sel *goquery.Selection) {
			if h, err := goquery.OuterHtml(sel); err == nil {
				buf.WriteString(h)
			}
		})
	}
	buf.WriteString("</body></html>")

	if newDoc, err := goquery.NewDocumentFromReader(&buf); err == nil {
		*doc = *newDoc
	}
}

func removeBase64Images(doc *goquery.Document) {
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok && strings.HasPrefix(strings.TrimSpace(src), "data:") {
			sel.Remove()
		}
	})
}

// extractMainContent runs go-shiori/go-readability's scoring algorithm and
// returns the serialized main-content subtree. It returns go-readability's
// single top candidate as-is; no tie-break of its own is applied between
// candidates with equal scores.
func extractMainContent(doc *goquery.Document, finalURL string) (string, bool) {
	htmlStr, err := doc.Html()
	if err != nil {
		return "", false
	}

	article, err := readability.FromReader(strings.NewReader(htmlStr), parseURL(finalURL))
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return "", false
	}

	if article.Title != "" {
		return "<html><head><title>" + article.Title + "</title></head><body>" + article.Content + "</body></html>", true
	}
	return "<html><body>" + article.Content + "</body></html>", true
}
