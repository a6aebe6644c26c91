package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	RecordRequest("GET", "/v1/scrape", 200, 42)

	out := Export()
	if !strings.Contains(out, "scrapeforge_http_requests_total{method=\"GET\",path=\"/v1/scrape\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for GET /v1/scrape in export, got:\n%s", out)
	}
	if !strings.Contains(out, "scrapeforge_http_request_duration_ms_sum") || !strings.Contains(out, "scrapeforge_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordFetchAttemptMetrics(t *testing.T) {
	RecordFetchAttempt("plainHttp", "success")
	RecordFetchAttempt("headless", "blocked")

	out := Export()
	if !strings.Contains(out, "scrapeforge_fetch_attempts_total{strategy=\"plainHttp\",class=\"success\"}") {
		t.Fatalf("expected fetch_attempts_total for plainHttp/success, got:\n%s", out)
	}
	if !strings.Contains(out, "scrapeforge_fetch_attempts_total{strategy=\"headless\",class=\"blocked\"}") {
		t.Fatalf("expected fetch_attempts_total for headless/blocked, got:\n%s", out)
	}
}

func TestRecordJobAndCrawlMetrics(t *testing.T) {
	RecordJobLeased("crawlPage")
	RecordJobFailed("crawlPage")
	RecordCrawlPage("completed")
	RecordCrawlPage("failed")

	out := Export()
	if !strings.Contains(out, "scrapeforge_jobs_leased_total{kind=\"crawlPage\"}") {
		t.Fatalf("expected jobs_leased_total for crawlPage, got:\n%s", out)
	}
	if !strings.Contains(out, "scrapeforge_jobs_failed_total{kind=\"crawlPage\"}") {
		t.Fatalf("expected jobs_failed_total for crawlPage, got:\n%s", out)
	}
	if !strings.Contains(out, "scrapeforge_crawl_pages_total{outcome=\"completed\"}") {
		t.Fatalf("expected crawl_pages_total completed, got:\n%s", out)
	}
	if !strings.Contains(out, "scrapeforge_crawl_pages_total{outcome=\"failed\"}") {
		t.Fatalf("expected crawl_pages_total failed, got:\n%s", out)
	}
}

func TestRecordLLMExtractMetrics(t *testing.T) {
	RecordLLMExtract("openai", "gpt-test", true)
	RecordLLMExtract("openai", "gpt-test", false)

	out := Export()
	if !strings.Contains(out, "scrapeforge_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"true\"}") {
		t.Fatalf("expected llm_extract_requests_total success for openai/gpt-test, got:\n%s", out)
	}
	if !strings.Contains(out, "scrapeforge_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"false\"}") {
		t.Fatalf("expected llm_extract_requests_total failure for openai/gpt-test, got:\n%s", out)
	}
}

func TestRecordRetentionMetrics(t *testing.T) {
	RecordRetentionJobs("default", 5)
	RecordRetentionDocuments(3)

	out := Export()
	if !strings.Contains(out, "scrapeforge_retention_jobs_deleted_total{job_type=\"default\"}") {
		t.Fatalf("expected retention_jobs_deleted_total for default, got:\n%s", out)
	}
	if !strings.Contains(out, "scrapeforge_retention_documents_deleted_total") {
		t.Fatalf("expected retention_documents_deleted_total, got:\n%s", out)
	}
}
