// Package model holds the data types shared across the scrape/crawl engine:
// documents, options, jobs, and crawl state.
package model

import "time"

// Metadata is a trimmed version of Firecrawl's metadata block.
type Metadata struct {
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	Language      string         `json:"language,omitempty"`
	Keywords      string         `json:"keywords,omitempty"`
	Robots        string         `json:"robots,omitempty"`
	OgTitle       string         `json:"ogTitle,omitempty"`
	OgDescription string         `json:"ogDescription,omitempty"`
	OgURL         string         `json:"ogUrl,omitempty"`
	OgImage       string         `json:"ogImage,omitempty"`
	OgLocaleAlt   []string       `json:"ogLocaleAlternate,omitempty"`
	OgSiteName    string         `json:"ogSiteName,omitempty"`
	SourceURL     string         `json:"sourceURL,omitempty"`
	StatusCode    int            `json:"statusCode"`
	Summary       string         `json:"summary,omitempty"`
	JSON          map[string]any `json:"json,omitempty"`
	Branding      map[string]any `json:"branding,omitempty"`
}

// LinkMetadata captures additional information about an outbound link.
type LinkMetadata struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
	Rel  string `json:"rel,omitempty"`
}

// Document is the result of running one URL through the content pipeline.
type Document struct {
	Markdown     string         `json:"markdown,omitempty"`
	Text         string         `json:"text,omitempty"`
	HTML         string         `json:"html,omitempty"`
	RawHTML      string         `json:"rawHtml,omitempty"`
	Links        []string       `json:"links,omitempty"`
	LinkMetadata []LinkMetadata `json:"linkMetadata,omitempty"`
	Images       []string       `json:"images,omitempty"`
	Screenshot   string         `json:"screenshot,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	JSON         map[string]any `json:"json,omitempty"`
	Branding     map[string]any `json:"branding,omitempty"`
	Engine       string         `json:"engine,omitempty"`
	Metadata     Metadata       `json:"metadata"`

	// ContentHash is a blake3 digest of the cleaned HTML. It is not
	// serialized, and the crawl does not use it to skip or deduplicate pages.
	ContentHash string `json:"-"`

	FetchedAt time.Time `json:"-"`
}

// FetcherCapability describes what a fetcher strategy can do, used by the
// Selector to decide whether a strategy is worth trying for a given request.
type FetcherCapability struct {
	RendersJS     bool
	EvadesBlocks  bool
	SupportsProxy bool
}

// FailureClass buckets a fetch failure so the Selector and the Job Queue's
// retry policy can react appropriately.
type FailureClass int

const (
	// FailureUnknown is the zero value and should never be returned deliberately.
	FailureUnknown FailureClass = iota
	// FailureTransient covers timeouts, connection resets, 5xx — worth retrying,
	// including with the same strategy.
	FailureTransient
	// FailureBlocked covers 403/429/CAPTCHA pages — worth falling back to a
	// stronger fetcher strategy, not worth retrying with the same one.
	FailureBlocked
	// FailureNotFound covers 404/410 — terminal, no fallback helps.
	FailureNotFound
	// FailureInvalidContent covers non-HTML/binary/empty bodies — terminal for
	// this strategy, but a different strategy might still help.
	FailureInvalidContent
	// FailureFatal covers malformed URLs, disallowed schemes, robots denial —
	// never retried, never escalated.
	FailureFatal
)

func (f FailureClass) String() string {
	switch f {
	case FailureTransient:
		return "transient"
	case FailureBlocked:
		return "blocked"
	case FailureNotFound:
		return "not_found"
	case FailureInvalidContent:
		return "invalid_content"
	case FailureFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ScrapeOptions configures one fetch+content-pipeline pass over a URL.
type ScrapeOptions struct {
	Formats         []string       `json:"formats,omitempty"`
	OnlyMainContent bool           `json:"onlyMainContent,omitempty"`
	IncludeTags     []string       `json:"includeTags,omitempty"`
	ExcludeTags     []string       `json:"excludeTags,omitempty"`
	WaitForMs       int            `json:"waitFor,omitempty"`
	TimeoutMs       int            `json:"timeout,omitempty"`
	Mobile          bool           `json:"mobile,omitempty"`
	SkipTLSVerify   bool           `json:"skipTlsVerification,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	ExtractPrompt   string         `json:"extractPrompt,omitempty"`
	ExtractSchema   map[string]any `json:"extractSchema,omitempty"`
	// WantSummary/WantBranding request the optional LLM-derived formats
	// from the "summary"/"branding" entries of a Firecrawl-style formats
	// array; BrandingPrompt carries that entry's custom prompt, if any.
	WantSummary    bool   `json:"-"`
	WantBranding   bool   `json:"-"`
	BrandingPrompt string `json:"-"`
	// MaxAge, when > 0, allows serving a previously stored document for the
	// same canonical URL if younger than MaxAge instead of re-fetching.
	MaxAge time.Duration `json:"maxAge,omitempty"`
}

// CrawlOptions configures a multi-page crawl rooted at one URL.
type CrawlOptions struct {
	MaxDepth        int      `json:"maxDepth,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	IncludePaths    []string `json:"includePaths,omitempty"`
	ExcludePaths    []string `json:"excludePaths,omitempty"`
	AllowBackward   bool     `json:"allowBackwardLinks,omitempty"`
	AllowExternal   bool     `json:"allowExternalLinks,omitempty"`
	IgnoreRobots    bool     `json:"ignoreRobotsTxt,omitempty"`
	IgnoreSitemap   bool     `json:"ignoreSitemap,omitempty"`
	Scrape          ScrapeOptions `json:"scrapeOptions,omitempty"`
	MaxConcurrency  int      `json:"maxConcurrency,omitempty"`
}

// JobStatus enumerates the lifecycle of one leasable unit of work in the
// Job Queue.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobLeased    JobStatus = "leased"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobKind distinguishes the three shapes of work the Job Queue carries,
// per spec.md §3. A crawl itself has no queued Job of its own — the Crawl
// Controller drives it directly — so JobKindCrawl never appears on an
// actual Job today; it is kept for completeness with the spec's enum and
// for a future root-level crawl job.
type JobKind string

const (
	JobKindScrape    JobKind = "scrape"
	JobKindCrawl     JobKind = "crawl"
	JobKindCrawlPage JobKind = "crawlPage"
)

// Job is one leasable unit of work: fetch+process a single URL belonging
// to a crawl (or a standalone scrape).
type Job struct {
	ID          string
	Kind        JobKind
	CrawlID     string
	TenantID    string
	URL         string
	Depth       int
	Priority    int
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	LeaseOwner  string
	LeaseUntil  time.Time
	NotBefore   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Error       string
	// Options carries the ScrapeOptions for a standalone JobKindScrape job;
	// a crawlPage job instead reads its CrawlState's shared CrawlOptions.Scrape.
	Options ScrapeOptions
}

// CrawlPhase enumerates the Crawl Controller's state machine.
type CrawlPhase string

const (
	CrawlCreated   CrawlPhase = "created"
	CrawlActive    CrawlPhase = "active"
	CrawlDraining  CrawlPhase = "draining"
	CrawlCompleted CrawlPhase = "completed"
	CrawlCancelled CrawlPhase = "cancelled"
	CrawlFailed    CrawlPhase = "failed"
)

// CrawlState tracks one crawl's progress: how many URLs are queued,
// in-flight, visited, and failed, plus the dedup set of canonical URLs
// already seen.
type CrawlState struct {
	ID          string
	TenantID    string
	RootURL     string
	Phase       CrawlPhase
	Options     CrawlOptions
	Queued      int
	InFlight    int
	Completed   int
	Failed      int
	Visited     map[string]struct{}
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Error       string
}

// ProgressEvent is published as a crawl advances, for subscribers of
// JobQueue.Subscribe.
type ProgressEvent struct {
	CrawlID   string    `json:"crawlId"`
	JobID     string    `json:"jobId"`
	URL       string    `json:"url"`
	Status    JobStatus `json:"status"`
	Completed int       `json:"completed"`
	Queued    int       `json:"queued"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
	Terminal  bool      `json:"terminal"`
}
