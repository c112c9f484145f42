package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/service"
)

// SchedulerHandler exposes sweep summaries and a manual trigger for operators
type SchedulerHandler struct {
	scheduler *service.LifecycleScheduler
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(scheduler *service.LifecycleScheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler}
}

// LastRun handles GET /api/scheduler/runs/last
func (h *SchedulerHandler) LastRun(c *fiber.Ctx) error {
	ctx := c.UserContext()

	summary, err := h.scheduler.LastRun(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "no sweep has run yet",
			})
		}
		log.Printf("[Scheduler] Failed to read run summary: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to read run summary",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    summary,
	})
}

// SweepSummary handles GET /api/scheduler/sweeps/:name
func (h *SchedulerHandler) SweepSummary(c *fiber.Ctx) error {
	ctx := c.UserContext()
	name := c.Params("name")

	summary, err := h.scheduler.Summary(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "no summary for sweep " + name,
			})
		}
		log.Printf("[Scheduler] Failed to read %s summary: %v", name, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to read sweep summary",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    summary,
	})
}

// TriggerRun handles POST /api/scheduler/runs
// Runs one full pass immediately, subject to the cluster lock
func (h *SchedulerHandler) TriggerRun(c *fiber.Ctx) error {
	ctx := c.UserContext()

	summary, err := h.scheduler.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSchedulerBusy) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "a sweep is already running",
			})
		}
		log.Printf("[Scheduler] Manual run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "sweep failed",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    summary,
	})
}
