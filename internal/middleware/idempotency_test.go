package middleware

import (
	"io"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var hits atomic.Int32
	app := fiber.New()
	app.Use(IdempotencyMiddleware(client, time.Minute))
	app.Post("/charge", func(c *fiber.Ctx) error {
		n := hits.Add(1)
		return c.JSON(fiber.Map{"success": true, "hit": n})
	})
	app.Get("/charge", func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.JSON(fiber.Map{"success": true})
	})

	t.Run("retries replay the first response", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/charge", nil)
		req.Header.Set("X-Correlation-ID", "corr-1")
		resp, err := app.Test(req)
		require.NoError(t, err)
		first, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Empty(t, resp.Header.Get("X-Idempotent-Replay"))

		// The response is cached asynchronously.
		require.Eventually(t, func() bool {
			return mr.Exists(idempotencyKeyPrefix + "corr-1")
		}, time.Second, 10*time.Millisecond)

		req = httptest.NewRequest("POST", "/charge", nil)
		req.Header.Set("X-Correlation-ID", "corr-1")
		resp, err = app.Test(req)
		require.NoError(t, err)
		replayed, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, "true", resp.Header.Get("X-Idempotent-Replay"))
		assert.Equal(t, string(first), string(replayed))
		assert.Equal(t, int32(1), hits.Load(), "the handler ran once")
	})

	t.Run("distinct correlation ids run the handler", func(t *testing.T) {
		before := hits.Load()
		req := httptest.NewRequest("POST", "/charge", nil)
		req.Header.Set("X-Correlation-ID", "corr-2")
		_, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, before+1, hits.Load())
	})

	t.Run("missing correlation id bypasses the cache", func(t *testing.T) {
		before := hits.Load()
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("POST", "/charge", nil)
			_, err := app.Test(req)
			require.NoError(t, err)
		}
		assert.Equal(t, before+2, hits.Load())
	})

	t.Run("reads are never cached", func(t *testing.T) {
		before := hits.Load()
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("GET", "/charge", nil)
			req.Header.Set("X-Correlation-ID", "corr-3")
			_, err := app.Test(req)
			require.NoError(t, err)
		}
		assert.Equal(t, before+2, hits.Load())
	})
}
