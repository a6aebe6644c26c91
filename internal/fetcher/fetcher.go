// Package fetcher implements the multi-strategy fetching layer: one
// Strategy per retrieval method (plain HTTP, headless browser, stealth
// proxy, external rendering service), and a Selector that tries them in
// order with fallback on classified failure.
package fetcher

import (
	"context"
	"time"

	"scrapeforge/internal/model"
)

// FetchResult is what one Strategy.Fetch call returns on success.
type FetchResult struct {
	FinalURL   string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Screenshot []byte
	Timing     time.Duration
}

// Options carries the subset of ScrapeOptions a Strategy needs to perform
// one fetch.
type Options struct {
	Headers       map[string]string
	WaitForMs     int
	TimeoutMs     int
	Mobile        bool
	SkipTLSVerify bool
	BlockAds      bool
	NeedsScreenshot bool
	Proxy         string // "none", "basic", "stealth"
}

// Strategy is the polymorphic fetcher interface from spec.md §4.A:
// fetch(url, options) -> FetchResult, capabilities() -> FetcherCapability.
type Strategy interface {
	Name() string
	Capabilities() model.FetcherCapability
	Fetch(ctx context.Context, url string, opts Options) (*FetchResult, error)
}

// FetchError wraps an error from a Strategy with its FailureClass so the
// Selector can decide whether to fall back.
type FetchError struct {
	Class model.FailureClass
	Err   error
}

func (e *FetchError) Error() string { return e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// ClassOf extracts the FailureClass from err, defaulting to FailureFatal
// for errors that were never classified (so unknown failures never loop
// indefinitely through the fallback chain).
func ClassOf(err error) model.FailureClass {
	if fe, ok := err.(*FetchError); ok {
		return fe.Class
	}
	return model.FailureFatal
}
