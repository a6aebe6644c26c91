package content

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scrapeforge/internal/model"
	"scrapeforge/internal/scrapeutil"
)

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func parseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return u
}

// resolveURLs rewrites href/src attributes to absolute URLs, resolved
// against finalURL, per spec.md §4.C step 5.
func resolveURLs(doc *goquery.Document, finalURL string) {
	base, err := url.Parse(finalURL)
	if err != nil {
		return
	}

	resolve := func(sel *goquery.Selection, attr string) {
		raw, ok := sel.Attr(attr)
		if !ok {
			return
		}
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil {
			return
		}
		if ref.IsAbs() {
			return
		}
		sel.SetAttr(attr, base.ResolveReference(ref).String())
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) { resolve(s, "href") })
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) { resolve(s, "src") })
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) { resolve(s, "href") })
}

// collectLinks returns the ordered, unique list of absolute http(s) URLs
// from <a href> in the retained subtree, per spec.md §4.C step 6.
func collectLinks(doc *goquery.Document, finalURL string, sameDomainOnly bool, maxPerDocument int) ([]string, []model.LinkMetadata) {
	base, _ := url.Parse(finalURL)
	var baseHost string
	if base != nil {
		baseHost = strings.ToLower(base.Hostname())
	}

	seen := make(map[string]struct{})
	var links []string
	var linkMeta []model.LinkMetadata

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		u, err := url.Parse(href)
		if err != nil || !u.IsAbs() {
			return true
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return true
		}
		if sameDomainOnly && baseHost != "" && strings.ToLower(u.Hostname()) != baseHost {
			return true
		}
		u.Fragment = ""
		final := u.String()
		if _, dup := seen[final]; dup {
			return true
		}
		seen[final] = struct{}{}
		links = append(links, final)
		linkMeta = append(linkMeta, model.LinkMetadata{
			URL:  final,
			Text: strings.TrimSpace(sel.Text()),
			Rel:  strings.TrimSpace(sel.AttrOr("rel", "")),
		})
		return true
	})

	// Re-apply same-domain/cap rules through the shared helper so the
	// URL-level filtering logic has one home; trim linkMeta to match.
	filtered := scrapeutil.FilterLinks(links, finalURL, sameDomainOnly, maxPerDocument)
	kept := make(map[string]struct{}, len(filtered))
	for _, l := range filtered {
		kept[l] = struct{}{}
	}
	trimmedMeta := linkMeta[:0]
	for _, m := range linkMeta {
		if _, ok := kept[m.URL]; ok {
			trimmedMeta = append(trimmedMeta, m)
		}
	}
	return filtered, trimmedMeta
}

// extractImages collects absolute image URLs from <img src> and
// <source srcset>, grounded on the teacher's ExtractImages helper.
func extractImages(doc *goquery.Document, finalURL string) []string {
	base, _ := url.Parse(finalURL)
	seen := make(map[string]struct{})
	var images []string

	resolve := func(src string) string {
		src = strings.TrimSpace(src)
		if src == "" {
			return ""
		}
		u, err := url.Parse(src)
		if err != nil {
			return ""
		}
		if base != nil && !u.IsAbs() {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return ""
		}
		u.Fragment = ""
		return u.String()
	}

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		if u := resolve(sel.AttrOr("src", "")); u != "" {
			if _, dup := seen[u]; !dup {
				seen[u] = struct{}{}
				images = append(images, u)
			}
		}
	})

	doc.Find("source[srcset]").Each(func(_ int, sel *goquery.Selection) {
		srcset := strings.TrimSpace(sel.AttrOr("srcset", ""))
		if srcset == "" {
			return
		}
		first := strings.Fields(strings.TrimSpace(strings.Split(srcset, ",")[0]))
		if len(first) == 0 {
			return
		}
		if u := resolve(first[0]); u != "" {
			if _, dup := seen[u]; !dup {
				seen[u] = struct{}{}
				images = append(images, u)
			}
		}
	})

	return images
}

// collectMetadata gathers <title>, description, Open Graph tags, and
// language, per spec.md §4.C step 7.
func collectMetadata(doc *goquery.Document, finalURL string, statusCode int) model.Metadata {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	lang, _ := doc.Find("html").First().Attr("lang")

	return model.Metadata{
		Title:         title,
		Description:   doc.Find(`meta[name="description"]`).AttrOr("content", ""),
		Language:      lang,
		Keywords:      doc.Find(`meta[name="keywords"]`).AttrOr("content", ""),
		Robots:        doc.Find(`meta[name="robots"]`).AttrOr("content", ""),
		OgTitle:       doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		OgDescription: doc.Find(`meta[property="og:description"]`).AttrOr("content", ""),
		OgURL:         doc.Find(`meta[property="og:url"]`).AttrOr("content", ""),
		OgImage:       doc.Find(`meta[property="og:image"]`).AttrOr("content", ""),
		OgSiteName:    doc.Find(`meta[property="og:site_name"]`).AttrOr("content", ""),
		SourceURL:     finalURL,
		StatusCode:    statusCode,
	}
}
