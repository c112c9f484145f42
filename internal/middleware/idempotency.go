package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const idempotencyKeyPrefix = "idempotency:"

// IdempotencyMiddleware replays cached responses for repeated mutating
// requests carrying the same X-Correlation-ID. NAS forwarders and payment
// callers both retry on timeouts; this keeps those retries from running the
// operation twice.
func IdempotencyMiddleware(redisClient *redis.Client, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		default:
			return c.Next()
		}

		correlationID := c.Get("X-Correlation-ID")
		if correlationID == "" {
			// No correlation ID, no idempotency guarantee.
			return c.Next()
		}

		key := idempotencyKeyPrefix + correlationID
		cached, err := redisClient.Get(c.UserContext(), key).Bytes()
		if err == nil && len(cached) > 0 {
			c.Set("X-Idempotent-Replay", "true")
			c.Set("Content-Type", "application/json")
			return c.Send(cached)
		}

		if err := c.Next(); err != nil {
			return err
		}

		// Only successful outcomes are safe to replay; a 5xx should be
		// retried for real.
		statusCode := c.Response().StatusCode()
		if statusCode >= 200 && statusCode < 300 {
			if body := c.Response().Body(); len(body) > 0 {
				stored := make([]byte, len(body))
				copy(stored, body)
				go func() {
					bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					redisClient.Set(bgCtx, key, stored, ttl)
				}()
			}
		}

		return nil
	}
}
