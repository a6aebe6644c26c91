package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"scrapeforge/internal/config"
)

// authMiddleware checks a single static API key, since auth/billing is out
// of scope here — spec.md names "authentication" only as an external
// collaborator, not a module to design.
func authMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Auth.Enabled {
			return c.Next()
		}

		rawAuth := c.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
		if token == "" || token != cfg.Auth.APIKey {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Success: false,
				Error:   "missing or invalid API key",
			})
		}
		return c.Next()
	}
}

// rateLimitMiddleware enforces a fixed-window per-minute limit shared
// across all callers, backed by Redis so it survives process restarts.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client, perMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || perMinute <= 0 {
			return c.Next()
		}

		now := time.Now().UTC()
		window := now.Format("200601021504")
		key := fmt.Sprintf("scrapeforge:rl:%s", window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Error:   fmt.Sprintf("rate limit increment failed: %v", err),
			})
		}
		if count == 1 {
			_ = rdb.Expire(ctx, key, time.Minute)
		}
		if count > int64(perMinute) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Error:   "rate limit exceeded, try again later",
			})
		}
		return c.Next()
	}
}
