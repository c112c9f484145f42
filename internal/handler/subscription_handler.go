package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/service"
)

// SubscriptionHandler handles subscription lifecycle API endpoints
type SubscriptionHandler struct {
	subs    *service.SubscriptionService
	usage   *service.UsageService
	subRepo domain.SubscriptionRepository
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(subs *service.SubscriptionService, usage *service.UsageService, subRepo domain.SubscriptionRepository) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, usage: usage, subRepo: subRepo}
}

// Get handles GET /api/subscriptions/:id
func (h *SubscriptionHandler) Get(c *fiber.Ctx) error {
	ctx := c.UserContext()

	sub, err := h.subs.Get(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "subscription not found",
			})
		}
		log.Printf("[Subscription] Failed to get %s: %v", c.Params("id"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to get subscription",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    sub,
	})
}

// ListByCustomer handles GET /api/customers/:id/subscriptions
func (h *SubscriptionHandler) ListByCustomer(c *fiber.Ctx) error {
	ctx := c.UserContext()
	customerID := c.Params("id")

	subs, err := h.subRepo.GetByCustomerID(ctx, customerID)
	if err != nil {
		log.Printf("[Subscription] Failed to list for customer %s: %v", customerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to list subscriptions",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    subs,
	})
}

// transitionRequest carries the optional reason for suspends and blocks
type transitionRequest struct {
	Reason string `json:"reason"`
}

// Activate handles POST /api/subscriptions/:id/activate
func (h *SubscriptionHandler) Activate(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	sub, sync, err := h.subs.Activate(ctx, id)
	if err != nil {
		return h.transitionError(c, id, err)
	}
	return h.syncResponse(c, sub, sync)
}

// Suspend handles POST /api/subscriptions/:id/suspend
func (h *SubscriptionHandler) Suspend(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	var req transitionRequest
	_ = c.BodyParser(&req)
	if req.Reason == "" {
		req.Reason = "suspended by operator"
	}

	sub, sync, err := h.subs.Suspend(ctx, id, req.Reason)
	if err != nil {
		return h.transitionError(c, id, err)
	}
	return h.syncResponse(c, sub, sync)
}

// Resume handles POST /api/subscriptions/:id/resume
func (h *SubscriptionHandler) Resume(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	sub, sync, err := h.subs.Resume(ctx, id)
	if err != nil {
		return h.transitionError(c, id, err)
	}
	return h.syncResponse(c, sub, sync)
}

// Cancel handles POST /api/subscriptions/:id/cancel
func (h *SubscriptionHandler) Cancel(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	var req transitionRequest
	_ = c.BodyParser(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	sub, sync, err := h.subs.Cancel(ctx, id, req.Reason)
	if err != nil {
		return h.transitionError(c, id, err)
	}
	return h.syncResponse(c, sub, sync)
}

// Block handles POST /api/subscriptions/:id/block
func (h *SubscriptionHandler) Block(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	var req transitionRequest
	_ = c.BodyParser(&req)
	if req.Reason == "" {
		req.Reason = "blocked by operator"
	}

	sub, sync, err := h.subs.Block(ctx, id, req.Reason)
	if err != nil {
		return h.transitionError(c, id, err)
	}
	return h.syncResponse(c, sub, sync)
}

// RenewRequest represents the request body for a manual renewal
type RenewRequest struct {
	PackageID string `json:"package_id,omitempty"` // empty renews the current package
}

// Renew handles POST /api/subscriptions/:id/renew
func (h *SubscriptionHandler) Renew(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	var req RenewRequest
	_ = c.BodyParser(&req)

	sub, sync, err := h.subs.Renew(ctx, id, req.PackageID, nil)
	if err != nil {
		return h.transitionError(c, id, err)
	}
	return h.syncResponse(c, sub, sync)
}

// Resync handles POST /api/subscriptions/:id/resync
// Re-pushes the AAA binding without changing subscription state
func (h *SubscriptionHandler) Resync(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	sync, err := h.subs.UpdateAaaBinding(ctx, id)
	if err != nil {
		return h.transitionError(c, id, err)
	}

	sub, err := h.subRepo.GetByID(ctx, id)
	if err != nil {
		return h.transitionError(c, id, err)
	}
	return h.syncResponse(c, sub, sync)
}

// AssignTrialRequest represents the request body for a trial assignment
type AssignTrialRequest struct {
	CustomerID string `json:"customer_id"`
}

// AssignTrial handles POST /api/subscriptions/trial
func (h *SubscriptionHandler) AssignTrial(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req AssignTrialRequest
	if err := c.BodyParser(&req); err != nil || req.CustomerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "customer_id is required",
		})
	}

	sub, sync, err := h.subs.AssignTrial(ctx, req.CustomerID)
	if err != nil {
		return h.transitionError(c, req.CustomerID, err)
	}
	return h.syncResponse(c, sub, sync)
}

// Usage handles GET /api/subscriptions/:id/usage
// Returns the cached usage snapshot against the package cap
func (h *SubscriptionHandler) Usage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	snapshot, err := h.usage.Snapshot(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "subscription not found",
			})
		}
		log.Printf("[Subscription] Failed to build snapshot for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to build usage snapshot",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    snapshot,
	})
}

// DailyUsage handles GET /api/subscriptions/:id/usage/daily?from=&to=
func (h *SubscriptionHandler) DailyUsage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	from := c.Query("from")
	to := c.Query("to")

	records, err := h.usage.DailyUsage(ctx, id, from, to)
	if err != nil {
		log.Printf("[Subscription] Failed to list daily usage for %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to list daily usage",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    records,
	})
}

func (h *SubscriptionHandler) syncResponse(c *fiber.Ctx, sub *domain.Subscription, sync service.SyncResult) error {
	resp := fiber.Map{
		"success": true,
		"data":    sub,
		"synced":  sync.Synced,
	}
	if sync.SyncErr != nil {
		// The local transition committed; the AAA push will be retried by
		// the reconcile sweep. Degraded, not failed.
		resp["sync_error"] = sync.SyncErr.Error()
	}
	return c.JSON(resp)
}

func (h *SubscriptionHandler) transitionError(c *fiber.Ctx, id string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "subscription not found",
		})
	case domain.IsInvalidTransition(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "subscription was modified concurrently, retry",
		})
	case errors.Is(err, domain.ErrActiveSubscriptionExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "customer already has an active subscription",
		})
	default:
		log.Printf("[Subscription] Transition for %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "transition failed",
		})
	}
}
