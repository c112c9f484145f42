package handler

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/service"
)

// AccountingHandler ingests RADIUS accounting records forwarded by the NAS
// fleet. Authenticated by the shared NAS secret, not operator JWTs.
type AccountingHandler struct {
	usage     *service.UsageService
	nasSecret string
}

// NewAccountingHandler creates a new AccountingHandler
func NewAccountingHandler(usage *service.UsageService, nasSecret string) *AccountingHandler {
	return &AccountingHandler{usage: usage, nasSecret: nasSecret}
}

// Ingest handles POST /api/accounting
// Accepts start, interim and stop records; replays are acknowledged without
// double counting.
func (h *AccountingHandler) Ingest(c *fiber.Ctx) error {
	ctx := c.UserContext()

	secret := c.Get("X-NAS-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.nasSecret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid NAS secret",
		})
	}

	var rec domain.AccountingRecord
	if err := c.BodyParser(&rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if rec.Username == "" || rec.StartedAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "username and started_at are required",
		})
	}
	switch rec.Type {
	case domain.AccountingStart, domain.AccountingInterim, domain.AccountingStop:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "type must be start, interim or stop",
		})
	}

	if err := h.usage.IngestAccounting(ctx, &rec); err != nil {
		// The NAS retries on non-2xx; only genuine processing failures
		// should trigger that.
		log.Printf("[Accounting] Ingest failed for %s: %v", rec.Username, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to process accounting record",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "accepted",
	})
}
