// Package metrics implements a minimal in-memory Prometheus-style exporter,
// kept deliberately hand-rolled per spec.md's "metrics sinks" out-of-scope
// note — this just counts things, no sink to wire.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	fetchAttemptsTotal = make(map[fetchKey]int64)
	jobsLeasedTotal    = make(map[string]int64)
	jobsFailedTotal    = make(map[string]int64)
	crawlPagesTotal    = make(map[crawlPageKey]int64)

	llmExtracts = make(map[llmKey]int64)

	retentionJobsDeleted      = make(map[string]int64)
	retentionDocumentsDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type fetchKey struct {
	Strategy string
	Class    string
}

type crawlPageKey struct {
	Outcome string
}

type llmKey struct {
	Provider string
	Model    string
	Success  string
}

// RecordRequest increments the request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()
	requestsTotal[reqKey{method, path, status}]++
	lk := latKey{method, path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordFetchAttempt counts one Fetcher Strategy invocation, keyed by
// strategy name and outcome class ("success" or a FailureClass string).
func RecordFetchAttempt(strategy, class string) {
	mu.Lock()
	defer mu.Unlock()
	fetchAttemptsTotal[fetchKey{strategy, class}]++
}

// RecordJobLeased counts one Job Queue lease by job kind.
func RecordJobLeased(kind string) {
	mu.Lock()
	defer mu.Unlock()
	jobsLeasedTotal[kind]++
}

// RecordJobFailed counts one terminal job failure by job kind.
func RecordJobFailed(kind string) {
	mu.Lock()
	defer mu.Unlock()
	jobsFailedTotal[kind]++
}

// RecordCrawlPage counts one crawlPage job outcome ("completed" or "failed").
func RecordCrawlPage(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	crawlPagesTotal[crawlPageKey{outcome}]++
}

// RecordLLMExtract increments LLM extract counters.
func RecordLLMExtract(provider, model string, success bool) {
	mu.Lock()
	defer mu.Unlock()
	s := "false"
	if success {
		s = "true"
	}
	llmExtracts[llmKey{provider, model, s}]++
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL for a
// given job type.
func RecordRetentionJobs(jobType string, deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionJobsDeleted[jobType] += deleted
}

// RecordRetentionDocuments increments the counter of documents deleted by
// TTL cleanup.
func RecordRetentionDocuments(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionDocumentsDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP scrapeforge_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE scrapeforge_http_requests_total counter\n")
	for _, k := range sortedReqKeys() {
		fmt.Fprintf(&b, "scrapeforge_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP scrapeforge_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE scrapeforge_http_request_duration_ms_sum counter\n")
	for _, k := range sortedLatKeys() {
		fmt.Fprintf(&b, "scrapeforge_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n", k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "scrapeforge_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n", k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP scrapeforge_fetch_attempts_total Fetcher strategy attempts by outcome class\n")
	b.WriteString("# TYPE scrapeforge_fetch_attempts_total counter\n")
	var fetchKeys []fetchKey
	for k := range fetchAttemptsTotal {
		fetchKeys = append(fetchKeys, k)
	}
	sort.Slice(fetchKeys, func(i, j int) bool {
		if fetchKeys[i].Strategy != fetchKeys[j].Strategy {
			return fetchKeys[i].Strategy < fetchKeys[j].Strategy
		}
		return fetchKeys[i].Class < fetchKeys[j].Class
	})
	for _, k := range fetchKeys {
		fmt.Fprintf(&b, "scrapeforge_fetch_attempts_total{strategy=\"%s\",class=\"%s\"} %d\n", k.Strategy, k.Class, fetchAttemptsTotal[k])
	}

	b.WriteString("# HELP scrapeforge_jobs_leased_total Jobs leased by kind\n")
	b.WriteString("# TYPE scrapeforge_jobs_leased_total counter\n")
	for _, kind := range sortedStringKeys(jobsLeasedTotal) {
		fmt.Fprintf(&b, "scrapeforge_jobs_leased_total{kind=\"%s\"} %d\n", kind, jobsLeasedTotal[kind])
	}

	b.WriteString("# HELP scrapeforge_jobs_failed_total Jobs terminally failed by kind\n")
	b.WriteString("# TYPE scrapeforge_jobs_failed_total counter\n")
	for _, kind := range sortedStringKeys(jobsFailedTotal) {
		fmt.Fprintf(&b, "scrapeforge_jobs_failed_total{kind=\"%s\"} %d\n", kind, jobsFailedTotal[kind])
	}

	b.WriteString("# HELP scrapeforge_crawl_pages_total Crawl pages by outcome\n")
	b.WriteString("# TYPE scrapeforge_crawl_pages_total counter\n")
	for k, v := range crawlPagesTotal {
		fmt.Fprintf(&b, "scrapeforge_crawl_pages_total{outcome=\"%s\"} %d\n", k.Outcome, v)
	}

	b.WriteString("# HELP scrapeforge_llm_extract_requests_total Total LLM extract requests\n")
	b.WriteString("# TYPE scrapeforge_llm_extract_requests_total counter\n")
	var llmKeys []llmKey
	for k := range llmExtracts {
		llmKeys = append(llmKeys, k)
	}
	sort.Slice(llmKeys, func(i, j int) bool {
		if llmKeys[i].Provider != llmKeys[j].Provider {
			return llmKeys[i].Provider < llmKeys[j].Provider
		}
		if llmKeys[i].Model != llmKeys[j].Model {
			return llmKeys[i].Model < llmKeys[j].Model
		}
		return llmKeys[i].Success < llmKeys[j].Success
	})
	for _, k := range llmKeys {
		fmt.Fprintf(&b, "scrapeforge_llm_extract_requests_total{provider=\"%s\",model=\"%s\",success=\"%s\"} %d\n",
			k.Provider, k.Model, k.Success, llmExtracts[k])
	}

	b.WriteString("# HELP scrapeforge_retention_jobs_deleted_total Total jobs deleted by TTL\n")
	b.WriteString("# TYPE scrapeforge_retention_jobs_deleted_total counter\n")
	for _, t := range sortedStringKeys(retentionJobsDeleted) {
		fmt.Fprintf(&b, "scrapeforge_retention_jobs_deleted_total{job_type=\"%s\"} %d\n", t, retentionJobsDeleted[t])
	}

	b.WriteString("# HELP scrapeforge_retention_documents_deleted_total Total documents deleted by TTL\n")
	b.WriteString("# TYPE scrapeforge_retention_documents_deleted_total counter\n")
	fmt.Fprintf(&b, "scrapeforge_retention_documents_deleted_total %d\n", retentionDocumentsDeleted)

	return b.String()
}

func sortedReqKeys() []reqKey {
	keys := make([]reqKey, 0, len(requestsTotal))
	for k := range requestsTotal {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Status < keys[j].Status
	})
	return keys
}

func sortedLatKeys() []latKey {
	keys := make([]latKey, 0, len(latencyMsSum))
	for k := range latencyMsSum {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Path < keys[j].Path
	})
	return keys
}

func sortedStringKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
