package crawlctl

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
)

type sitemapURLSet struct {
	XMLName xml.Name      `xml:"urlset"`
	URLs    []sitemapURL  `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

type sitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// fetchSitemap retrieves and parses a sitemap (or sitemap index, one level
// of nesting) at rawURL, returning the page URLs it lists.
func fetchSitemap(ctx context.Context, client *http.Client, rawURL, userAgent string) ([]string, error) {
	body, err := fetchBody(ctx, client, rawURL, userAgent)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, sm := range index.Sitemaps {
			// Nested entries are read as plain urlsets only; an index that
			// points at another index is not followed further.
			nestedBody, err := fetchBody(ctx, client, sm.Loc, userAgent)
			if err != nil {
				continue
			}
			var nested sitemapURLSet
			if xml.Unmarshal(nestedBody, &nested) != nil {
				continue
			}
			for _, u := range nested.URLs {
				if u.Loc != "" {
					urls = append(urls, u.Loc)
				}
			}
		}
		return urls, nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc != "" {
			urls = append(urls, u.Loc)
		}
	}
	return urls, nil
}

func fetchBody(ctx context.Context, client *http.Client, rawURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errStatus(resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 5<<20))
}

type errStatus int

func (e errStatus) Error() string {
	return "sitemap fetch status error"
}
