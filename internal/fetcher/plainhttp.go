package fetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/aybabtme/iocontrol"

	"scrapeforge/internal/model"
)

// maxRedirects bounds PlainHttp's own redirect following, per spec.md §4.A
// ("follows up to 10 redirects").
const maxRedirects = 10

// PlainHttp is the cheapest fetcher strategy: a single GET with no JS
// execution, grounded on the teacher's HTTPScraper.Scrape.
type PlainHttp struct {
	userAgent         string
	maxBytesPerSecond int64
	maxRetries        int
	client            *http.Client
}

// NewPlainHttp builds a PlainHttp strategy. maxBytesPerSecond <= 0 disables
// bandwidth throttling.
func NewPlainHttp(userAgent string, maxBytesPerSecond int64, maxRetries int) *PlainHttp {
	base := &http.Transport{
		TLSClientConfig: &tls.Config{},
	}

	var rt http.RoundTripper = base
	if maxRetries > 0 {
		rt = rehttp.NewTransport(base,
			rehttp.RetryAll(
				rehttp.RetryMaxRetries(maxRetries),
				rehttp.RetryAny(
					rehttp.RetryStatuses(http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout),
					rehttp.RetryTemporaryErr(),
				),
			),
			rehttp.ExpJitterDelay(200*time.Millisecond, 5*time.Second),
		)
	}

	return &PlainHttp{
		userAgent:         userAgent,
		maxBytesPerSecond: maxBytesPerSecond,
		maxRetries:        maxRetries,
		client: &http.Client{
			Transport: rt,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

func (p *PlainHttp) Name() string { return "plain_http" }

func (p *PlainHttp) Capabilities() model.FetcherCapability {
	return model.FetcherCapability{}
}

func (p *PlainHttp) Fetch(ctx context.Context, rawURL string, opts Options) (*FetchResult, error) {
	start := time.Now()

	client := p.client
	if opts.SkipTLSVerify {
		client = cloneInsecure(p.client)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Class: model.FailureFatal, Err: err}
	}

	ua := p.userAgent
	if ua == "" {
		ua = "scrapeforge/1.0"
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		class := model.FailureTransient
		if ctx.Err() != nil {
			class = model.FailureTransient
		}
		return nil, &FetchError{Class: class, Err: err}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if p.maxBytesPerSecond > 0 {
		reader = iocontrol.NewMeteredReader(&throttledReader{r: resp.Body, bytesPerSecond: p.maxBytesPerSecond}, func(int64, time.Duration) {})
	}

	body, err := io.ReadAll(io.LimitReader(reader, 50<<20))
	if err != nil {
		return nil, &FetchError{Class: model.FailureTransient, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &FetchError{Class: model.FailureNotFound, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{Class: model.FailureBlocked, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &FetchError{Class: model.FailureTransient, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	ct := resp.Header.Get("Content-Type")
	if len(body) == 0 || (ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text")) {
		return nil, &FetchError{Class: model.FailureInvalidContent, Err: fmt.Errorf("content-type %q", ct)}
	}

	if looksBlocked(body) {
		return nil, &FetchError{Class: model.FailureBlocked, Err: fmt.Errorf("challenge page detected")}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &FetchResult{
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Timing:     time.Since(start),
	}, nil
}

// looksBlocked recognizes common bot-challenge markers in a response body
// that returned 200 but is not real content, per spec.md §4.C step 3's
// note about "Cloudflare challenge HTML" being treated as Blocked.
func looksBlocked(body []byte) bool {
	if len(body) > 8192 {
		return false
	}
	lower := bytes.ToLower(body)
	markers := [][]byte{
		[]byte("checking your browser before accessing"),
		[]byte("cf-browser-verification"),
		[]byte("attention required! | cloudflare"),
	}
	for _, m := range markers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func cloneInsecure(c *http.Client) *http.Client {
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		return c
	}
	clone := tr.Clone()
	if clone.TLSClientConfig == nil {
		clone.TLSClientConfig = &tls.Config{}
	}
	clone.TLSClientConfig.InsecureSkipVerify = true
	return &http.Client{Transport: clone, CheckRedirect: c.CheckRedirect}
}

// throttledReader limits read throughput to bytesPerSecond, used to bound
// per-fetch bandwidth so one huge page cannot starve a worker's share.
type throttledReader struct {
	r              io.Reader
	bytesPerSecond int64
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if len(p) > int(t.bytesPerSecond) {
		p = p[:t.bytesPerSecond]
	}
	start := time.Now()
	n, err := t.r.Read(p)
	elapsed := time.Since(start)
	minDuration := time.Duration(float64(n) / float64(t.bytesPerSecond) * float64(time.Second))
	if elapsed < minDuration {
		time.Sleep(minDuration - elapsed)
	}
	return n, err
}
