package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/service"
)

// WebhookHandler handles external payment gateway callbacks
type WebhookHandler struct {
	payments *service.PaymentService
	apiKey   string
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(payments *service.PaymentService, apiKey string) *WebhookHandler {
	return &WebhookHandler{payments: payments, apiKey: apiKey}
}

// IPAYMUWebhookRequest represents the webhook payload from iPaymu
type IPAYMUWebhookRequest struct {
	SID         string `json:"sid"`          // Session ID
	VA          string `json:"va"`           // Virtual Account number
	Status      string `json:"status"`       // "berhasil", "pending", "expired", "gagal"
	ReferenceID string `json:"reference_id"` // Our payment ID
	TrxID       int64  `json:"trx_id"`       // iPaymu transaction ID
	Amount      int64  `json:"amount"`       // Payment amount
	Signature   string `json:"signature"`    // HMAC signature for verification
}

// IPAYMUWebhook handles POST /api/payments/webhook/ipaymu
// This is a public endpoint - no authentication required
func (h *WebhookHandler) IPAYMUWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req IPAYMUWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		log.Printf("[Webhook] Failed to parse body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	log.Printf("[Webhook] Received callback: sid=%s, status=%s, va=%s, amount=%d",
		req.SID, req.Status, req.VA, req.Amount)

	if !h.verifySignature(req.VA, req.SID, req.Status, req.Signature) {
		log.Printf("[Webhook] Signature verification failed for sid=%s", req.SID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"error":   "invalid signature",
		})
	}

	err := h.payments.HandleGatewayEvent(ctx, service.GatewayEvent{
		SessionID: req.SID,
		TrxID:     req.TrxID,
		Status:    req.Status,
		Amount:    req.Amount,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("[Webhook] Payment not found for sid=%s", req.SID)
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "payment not found",
			})
		}
		log.Printf("[Webhook] Failed to process callback sid=%s: %v", req.SID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to process callback",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "processed",
	})
}

// verifySignature validates the HMAC-SHA256 signature from iPaymu
// Formula: hmac_sha256(apiKey, va + "." + sid + "." + status)
func (h *WebhookHandler) verifySignature(va, sid, status, providedSig string) bool {
	if providedSig == "" {
		return false
	}

	stringToSign := va + "." + sid + "." + status
	mac := hmac.New(sha256.New, []byte(h.apiKey))
	mac.Write([]byte(stringToSign))
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expectedSig), []byte(providedSig))
}
