package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scrapeforge/internal/model"
)

// FireEngine calls an external rendering/anti-bot proxy service over HTTPS,
// for sites that defeat PlainHttp and Headless. It is the strategy of last
// resort in the fallback chain.
type FireEngine struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFireEngine builds a FireEngine strategy. client may be overridden in
// tests via an injectable http.RoundTripper, the same pattern the teacher
// uses to keep RodScraper's browser launch an injectable seam.
func NewFireEngine(baseURL, apiKey string, client *http.Client) *FireEngine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FireEngine{baseURL: baseURL, apiKey: apiKey, httpClient: client}
}

func (f *FireEngine) Name() string { return "fire_engine" }

func (f *FireEngine) Capabilities() model.FetcherCapability {
	return model.FetcherCapability{RendersJS: true, EvadesBlocks: true, SupportsProxy: true}
}

type fireEngineRequest struct {
	URL       string            `json:"url"`
	WaitForMs int               `json:"waitFor,omitempty"`
	Mobile    bool              `json:"mobile,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

type fireEngineResponse struct {
	FinalURL   string `json:"finalUrl"`
	StatusCode int    `json:"statusCode"`
	HTML       string `json:"html"`
}

func (f *FireEngine) Fetch(ctx context.Context, rawURL string, opts Options) (*FetchResult, error) {
	start := time.Now()

	payload, err := json.Marshal(fireEngineRequest{
		URL:       rawURL,
		WaitForMs: opts.WaitForMs,
		Mobile:    opts.Mobile,
		Headers:   opts.Headers,
	})
	if err != nil {
		return nil, &FetchError{Class: model.FailureFatal, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v0/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, &FetchError{Class: model.FailureFatal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Class: model.FailureTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return nil, &FetchError{Class: model.FailureBlocked, Err: fmt.Errorf("fire engine status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, &FetchError{Class: model.FailureTransient, Err: fmt.Errorf("fire engine status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &FetchError{Class: model.FailureFatal, Err: fmt.Errorf("fire engine status %d", resp.StatusCode)}
	}

	var out fireEngineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &FetchError{Class: model.FailureInvalidContent, Err: err}
	}

	return &FetchResult{
		FinalURL:   out.FinalURL,
		StatusCode: out.StatusCode,
		Body:       []byte(out.HTML),
		Timing:     time.Since(start),
	}, nil
}
