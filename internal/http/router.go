package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"scrapeforge/internal/config"
	"scrapeforge/internal/metrics"
	"scrapeforge/internal/robots"
	"scrapeforge/internal/store"
)

// Server is the fiber-backed HTTP surface for spec.md §6's four
// operations: submit scrape, submit crawl, crawl status, crawl cancel.
type Server struct {
	app      *fiber.App
	config   *config.Config
	store    *store.Store
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// NewServer wires the Fetcher Selector, Content Pipeline, Job Queue,
// Worker Pool, and Crawl Controller Registry behind the four routes, and
// starts the worker pool's background loops bound to runCtx.
func NewServer(runCtx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Scraper.TimeoutMs+10_000) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Scraper.TimeoutMs+10_000) * time.Millisecond,
	})

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		}
	}

	var robotsCache *robots.Cache
	if cfg.Robots.Respect {
		robotsCache = robots.New(cfg.RobotsCacheTTL(), cfg.Scraper.UserAgent, rdb)
	}

	var cache documentCache
	if st != nil {
		cache = st
	}
	engine := NewEngine(cfg, robotsCache, cache, logger)
	crawlEngine := NewCrawlEngine(runCtx, cfg, st, engine, robotsCache, logger)

	app.Use(requestLoggingMiddleware(logger))

	app.Get("/healthz", healthzHandler(cfg, st, rdb))
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	authMw := authMiddleware(cfg)
	var rateMw fiber.Handler
	if rdb != nil {
		rateMw = rateLimitMiddleware(cfg, rdb, cfg.RateLimit.PerMinute)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	publicBaseURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	v1 := app.Group("/v1", authMw, rateMw)
	v1.Post("/scrape", scrapeHandler(crawlEngine))
	v1.Post("/crawl", crawlSubmitHandler(crawlEngine, publicBaseURL))
	v1.Get("/crawl/:id", crawlStatusHandler(crawlEngine, st, publicBaseURL))
	v1.Delete("/crawl/:id", crawlCancelHandler(crawlEngine))

	return &Server{
		app:    app,
		config: cfg,
		store:  st,
		logger: logger,
		shutdown: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	}
}

// Listen blocks serving HTTP on the configured host:port.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests, bounded by ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.shutdown(ctx)
}

func requestLoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}

		return err
	}
}

func healthzHandler(cfg *config.Config, st *store.Store, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if st == nil {
			dbStatus = "disabled"
		} else if err := st.Ping(ctx); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		rodStatus := "disabled"
		if cfg.Rod.Enabled {
			rodStatus = "enabled"
		}

		status := "ok"
		if dbStatus == "error" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
			"rod":    rodStatus,
		})
	}
}
