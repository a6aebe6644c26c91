package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"scrapeforge/internal/config"
	server "scrapeforge/internal/http"
	"scrapeforge/internal/migrate"
	"scrapeforge/internal/model"
	"scrapeforge/internal/retention"
	"scrapeforge/internal/robots"
	"scrapeforge/internal/store"
)

// Exit codes per the engine's operational contract: 0 normal shutdown,
// 1 configuration error, 2 a required dependency (the database: migration,
// open or ping) is unavailable at startup.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitDependencyErr = 2
)

var configPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	root := &cobra.Command{
		Use:   "scrapeforge",
		Short: "Fetch, transform, and crawl web content",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file")

	root.AddCommand(serveCmd(logger))
	root.AddCommand(workerCmd(logger))
	root.AddCommand(scrapeCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(exitConfigError)
	}
}

func loadConfig(logger *slog.Logger) (*config.Config, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		return nil, exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		return nil, exitConfigError
	}
	return cfg, exitOK
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, int) {
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		logger.Error("run migrations", "err", err)
		return nil, exitDependencyErr
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("open database", "err", err)
		return nil, exitDependencyErr
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)
	if err := st.Ping(ctx); err != nil {
		logger.Error("ping database", "err", err)
		return nil, exitDependencyErr
	}
	return st, exitOK
}

// serveCmd runs the HTTP API, the crawl worker pool, and the retention
// sweep in one process, draining in-flight work for up to 30s on signal.
func serveCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and crawl worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, code := loadConfig(logger)
			if cfg == nil {
				os.Exit(code)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, code := openStore(ctx, cfg, logger)
			if st == nil {
				os.Exit(code)
			}
			defer st.Close()

			srv := server.NewServer(ctx, cfg, st, logger)

			sweeper := retention.New(st, cfg.Retention, logger)
			go sweeper.Run(ctx)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Listen()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					logger.Error("server exited", "err", err)
					os.Exit(exitDependencyErr)
				}
			case <-ctx.Done():
				logger.Info("shutdown signal received, draining")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("graceful shutdown failed", "err", err)
				}
			}
			return nil
		},
	}
}

// workerCmd runs only the crawl worker pool against an already-running
// API process's database, for horizontally scaling crawl throughput.
func workerCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone crawl worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, code := loadConfig(logger)
			if cfg == nil {
				os.Exit(code)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, code := openStore(ctx, cfg, logger)
			if st == nil {
				os.Exit(code)
			}
			defer st.Close()

			var robotsCache *robots.Cache
			if cfg.Robots.Respect {
				robotsCache = robots.New(cfg.RobotsCacheTTL(), cfg.Scraper.UserAgent, nil)
			}
			engine := server.NewEngine(cfg, robotsCache, st, logger)
			server.NewCrawlEngine(ctx, cfg, st, engine, robotsCache, logger)

			logger.Info("worker started")
			<-ctx.Done()
			logger.Info("shutdown signal received")
			return nil
		},
	}
}

// scrapeCmd runs a single synchronous scrape from the CLI, without
// starting the HTTP server — useful for local testing and scripting.
func scrapeCmd(logger *slog.Logger) *cobra.Command {
	var timeoutMs int
	cmd := &cobra.Command{
		Use:   "scrape [url]",
		Short: "Scrape a single URL and print the resulting document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, code := loadConfig(logger)
			if cfg == nil {
				os.Exit(code)
			}

			var robotsCache *robots.Cache
			if cfg.Robots.Respect {
				robotsCache = robots.New(cfg.RobotsCacheTTL(), cfg.Scraper.UserAgent, nil)
			}
			// No store: a one-shot CLI scrape never serves from or saves to
			// the MaxAge document cache.
			engine := server.NewEngine(cfg, robotsCache, nil, logger)

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
			defer cancel()

			doc, err := engine.Scrape(ctx, args[0], model.ScrapeOptions{
				Formats:         []string{"markdown"},
				OnlyMainContent: true,
			})
			if err != nil {
				logger.Error("scrape failed", "url", args[0], "err", err)
				os.Exit(exitDependencyErr)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("encode document: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&timeoutMs, "timeout", 30_000, "scrape timeout in milliseconds")
	return cmd
}
