// Package config loads and validates the engine's YAML configuration,
// following the teacher's load-then-validate pattern.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ScraperConfig tunes the fetcher strategies and the shared Content Pipeline.
type ScraperConfig struct {
	UserAgent           string `yaml:"userAgent"`
	TimeoutMs           int    `yaml:"timeoutMs"`
	MaxBytesPerSecond   int64  `yaml:"maxBytesPerSecond"`
	MaxRetries          int    `yaml:"maxRetries"`
	LinksSameDomainOnly bool   `yaml:"linksSameDomainOnly"`
	LinksMaxPerDocument int    `yaml:"linksMaxPerDocument"`
}

// CrawlerConfig holds defaults applied when CrawlOptions leaves a field unset.
type CrawlerConfig struct {
	MaxDepthDefault       int `yaml:"maxDepthDefault"`
	MaxPagesDefault       int `yaml:"maxPagesDefault"`
	MaxConcurrencyDefault int `yaml:"maxConcurrencyDefault"`
	PolitenessDelayMs     int `yaml:"politenessDelayMs"`
}

type RobotsConfig struct {
	Respect  bool `yaml:"respect"`
	CacheTTLMinutes int `yaml:"cacheTTLMinutes"`
}

type RodConfig struct {
	Enabled bool   `yaml:"enabled"`
	WSURL   string `yaml:"wsUrl"`
}

// FireEngineConfig points at an optional external rendering/anti-bot proxy
// used by the FireEngine fetcher strategy.
type FireEngineConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig is intentionally minimal: a single static admin API key, since
// multi-tenant auth/billing is out of scope.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
}

// RateLimitConfig bounds requests per minute across all API callers.
type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute"`
}

type WorkerConfig struct {
	GlobalMaxConcurrency int `yaml:"globalMaxConcurrency"`
	TenantMaxConcurrency int `yaml:"tenantMaxConcurrency"`
	CrawlMaxConcurrency  int `yaml:"crawlMaxConcurrency"`
	PollIntervalMs       int `yaml:"pollIntervalMs"`
	LeaseDurationMs      int `yaml:"leaseDurationMs"`
	SyncJobWaitTimeoutMs int `yaml:"syncJobWaitTimeoutMs"`
}

// JobQueueConfig tunes retry/backoff behavior for the durable job queue.
type JobQueueConfig struct {
	MaxAttempts       int `yaml:"maxAttempts"`
	BaseBackoffMs     int `yaml:"baseBackoffMs"`
	MaxBackoffMs      int `yaml:"maxBackoffMs"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

type GoogleLLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// LLMConfig configures the opaque extract(text, schema) -> object collaborator.
type LLMConfig struct {
	DefaultProvider string          `yaml:"defaultProvider"`
	OpenAI          OpenAIConfig    `yaml:"openai"`
	Anthropic       AnthropicConfig `yaml:"anthropic"`
	Google          GoogleLLMConfig `yaml:"google"`
}

// JobTTLConfig controls per-job-type retention in days.
type JobTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
	ScrapeDays  int `yaml:"scrapeDays"`
	CrawlDays   int `yaml:"crawlDays"`
}

// DocumentTTLConfig controls retention for stored documents in days.
type DocumentTTLConfig struct {
	DefaultDays int `yaml:"defaultDays"`
}

// RetentionConfig controls TTL-like deletion of old jobs and documents.
type RetentionConfig struct {
	Enabled                bool              `yaml:"enabled"`
	CleanupIntervalMinutes int               `yaml:"cleanupIntervalMinutes"`
	Jobs                   JobTTLConfig      `yaml:"jobs"`
	Documents              DocumentTTLConfig `yaml:"documents"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Crawler    CrawlerConfig    `yaml:"crawler"`
	Robots     RobotsConfig     `yaml:"robots"`
	Rod        RodConfig        `yaml:"rod"`
	FireEngine FireEngineConfig `yaml:"fireEngine"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
	Worker     WorkerConfig     `yaml:"worker"`
	JobQueue   JobQueueConfig   `yaml:"jobQueue"`
	LLM        LLMConfig        `yaml:"llm"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// Load reads and decodes the YAML config at path. Unlike the teacher's
// version, it returns an error instead of calling log.Fatalf, so callers
// (notably the cobra CLI) can choose the process exit code.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Worker.GlobalMaxConcurrency <= 0 {
		cfg.Worker.GlobalMaxConcurrency = 50
	}
	if cfg.Worker.TenantMaxConcurrency <= 0 {
		cfg.Worker.TenantMaxConcurrency = 10
	}
	if cfg.Worker.CrawlMaxConcurrency <= 0 {
		cfg.Worker.CrawlMaxConcurrency = 5
	}
	if cfg.Worker.PollIntervalMs <= 0 {
		cfg.Worker.PollIntervalMs = 500
	}
	if cfg.Worker.LeaseDurationMs <= 0 {
		cfg.Worker.LeaseDurationMs = 30_000
	}
	if cfg.JobQueue.MaxAttempts <= 0 {
		cfg.JobQueue.MaxAttempts = 3
	}
	if cfg.JobQueue.BaseBackoffMs <= 0 {
		cfg.JobQueue.BaseBackoffMs = 500
	}
	if cfg.JobQueue.MaxBackoffMs <= 0 {
		cfg.JobQueue.MaxBackoffMs = 60_000
	}
	if cfg.Robots.CacheTTLMinutes <= 0 {
		cfg.Robots.CacheTTLMinutes = 60
	}
	if cfg.Crawler.MaxDepthDefault <= 0 {
		cfg.Crawler.MaxDepthDefault = 3
	}
	if cfg.Crawler.MaxPagesDefault <= 0 {
		cfg.Crawler.MaxPagesDefault = 100
	}
	if cfg.Crawler.MaxConcurrencyDefault <= 0 {
		cfg.Crawler.MaxConcurrencyDefault = 5
	}
}

// LeaseDuration returns the configured worker lease as a time.Duration.
func (cfg *Config) LeaseDuration() time.Duration {
	return time.Duration(cfg.Worker.LeaseDurationMs) * time.Millisecond
}

// RobotsCacheTTL returns the configured robots.txt cache TTL.
func (cfg *Config) RobotsCacheTTL() time.Duration {
	return time.Duration(cfg.Robots.CacheTTLMinutes) * time.Minute
}

// Validate performs sanity checks on the loaded configuration so that
// obviously broken setups fail fast at startup rather than on first use.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if cfg.LLM.DefaultProvider != "" {
		provider := strings.TrimSpace(cfg.LLM.DefaultProvider)
		switch provider {
		case "openai":
			if cfg.LLM.OpenAI.APIKey == "" || cfg.LLM.OpenAI.Model == "" {
				return errors.New("openai llm provider is not fully configured")
			}
		case "anthropic":
			if cfg.LLM.Anthropic.APIKey == "" || cfg.LLM.Anthropic.Model == "" {
				return errors.New("anthropic llm provider is not fully configured")
			}
		case "google":
			if cfg.LLM.Google.APIKey == "" || cfg.LLM.Google.Model == "" {
				return errors.New("google llm provider is not fully configured")
			}
		default:
			return fmt.Errorf("unsupported llm.defaultProvider: %s", provider)
		}
	}

	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.APIKey) == "" {
		return errors.New("auth.enabled is true but auth.apiKey is empty")
	}

	if cfg.Worker.TenantMaxConcurrency > cfg.Worker.GlobalMaxConcurrency {
		return errors.New("worker.tenantMaxConcurrency cannot exceed worker.globalMaxConcurrency")
	}
	if cfg.Worker.CrawlMaxConcurrency > cfg.Worker.TenantMaxConcurrency {
		return errors.New("worker.crawlMaxConcurrency cannot exceed worker.tenantMaxConcurrency")
	}

	return nil
}
