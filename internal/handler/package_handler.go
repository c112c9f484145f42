package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/service"
)

// PackageHandler handles rate plan API endpoints. Plan edits fan out to the
// plan's AAA group so every bound subscriber picks up the new attributes.
type PackageHandler struct {
	pkgRepo domain.PackageRepository
	aaa     *service.AaaAdapter
}

// NewPackageHandler creates a new PackageHandler
func NewPackageHandler(pkgRepo domain.PackageRepository, aaa *service.AaaAdapter) *PackageHandler {
	return &PackageHandler{pkgRepo: pkgRepo, aaa: aaa}
}

// PackageRequest represents the request body for plan creation and updates
type PackageRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Price             int64  `json:"price"`
	Currency          string `json:"currency,omitempty"`
	DurationUnit      string `json:"duration_unit"`
	DurationCount     int    `json:"duration_count"`
	BandwidthUpKbps   int64  `json:"bandwidth_up_kbps"`
	BandwidthDownKbps int64  `json:"bandwidth_down_kbps"`
	DataCapBytes      *int64 `json:"data_cap_bytes,omitempty"`
	SimultaneousUse   int    `json:"simultaneous_use,omitempty"`
	IdleTimeoutSec    int    `json:"idle_timeout_sec,omitempty"`
	VlanID            string `json:"vlan_id,omitempty"`
	IsTrial           bool   `json:"is_trial,omitempty"`
	IsActive          *bool  `json:"is_active,omitempty"`
}

// List handles GET /api/packages
func (h *PackageHandler) List(c *fiber.Ctx) error {
	ctx := c.UserContext()

	packages, err := h.pkgRepo.GetActivePackages(ctx)
	if err != nil {
		log.Printf("[Package] Failed to list: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to list packages",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    packages,
	})
}

// Get handles GET /api/packages/:id
func (h *PackageHandler) Get(c *fiber.Ctx) error {
	ctx := c.UserContext()

	pkg, err := h.pkgRepo.GetByID(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "package not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to get package",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    pkg,
	})
}

// Create handles POST /api/packages
func (h *PackageHandler) Create(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req PackageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.Name == "" || req.BandwidthUpKbps <= 0 || req.BandwidthDownKbps <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "name and positive bandwidth values are required",
		})
	}
	unit := domain.DurationUnit(req.DurationUnit)
	if !unit.IsValid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid duration_unit",
		})
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	currency := req.Currency
	if currency == "" {
		currency = "IDR"
	}

	pkg := &domain.Package{
		Name:              req.Name,
		Description:       req.Description,
		Price:             req.Price,
		Currency:          currency,
		DurationUnit:      unit,
		DurationCount:     req.DurationCount,
		BandwidthUpKbps:   req.BandwidthUpKbps,
		BandwidthDownKbps: req.BandwidthDownKbps,
		DataCapBytes:      req.DataCapBytes,
		SimultaneousUse:   req.SimultaneousUse,
		IdleTimeoutSec:    req.IdleTimeoutSec,
		VlanID:            req.VlanID,
		IsTrial:           req.IsTrial,
		IsActive:          active,
	}

	if err := h.pkgRepo.Create(ctx, pkg); err != nil {
		log.Printf("[Package] Failed to create: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to create package",
		})
	}

	// Mirror the plan into its AAA group so subscribers can bind to it.
	if err := h.aaa.SyncGroup(ctx, pkg); err != nil {
		log.Printf("[Package] AAA group sync for %s failed: %v", pkg.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    pkg,
	})
}

// Update handles PUT /api/packages/:id
// AAA-relevant attribute changes fan out through the group record
func (h *PackageHandler) Update(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	pkg, err := h.pkgRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "package not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to get package",
		})
	}

	var req PackageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.Name != "" {
		pkg.Name = req.Name
	}
	if req.Description != "" {
		pkg.Description = req.Description
	}
	if req.Price > 0 {
		pkg.Price = req.Price
	}
	if req.DurationUnit != "" {
		unit := domain.DurationUnit(req.DurationUnit)
		if !unit.IsValid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid duration_unit",
			})
		}
		pkg.DurationUnit = unit
	}
	if req.DurationCount > 0 {
		pkg.DurationCount = req.DurationCount
	}
	if req.BandwidthUpKbps > 0 {
		pkg.BandwidthUpKbps = req.BandwidthUpKbps
	}
	if req.BandwidthDownKbps > 0 {
		pkg.BandwidthDownKbps = req.BandwidthDownKbps
	}
	if req.DataCapBytes != nil {
		pkg.DataCapBytes = req.DataCapBytes
	}
	if req.SimultaneousUse > 0 {
		pkg.SimultaneousUse = req.SimultaneousUse
	}
	if req.IdleTimeoutSec > 0 {
		pkg.IdleTimeoutSec = req.IdleTimeoutSec
	}
	if req.VlanID != "" {
		pkg.VlanID = req.VlanID
	}
	if req.IsActive != nil {
		pkg.IsActive = *req.IsActive
	}

	if err := h.pkgRepo.Update(ctx, pkg); err != nil {
		log.Printf("[Package] Failed to update %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to update package",
		})
	}

	synced := true
	if err := h.aaa.SyncGroup(ctx, pkg); err != nil {
		log.Printf("[Package] AAA group sync for %s failed: %v", id, err)
		synced = false
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    pkg,
		"synced":  synced,
	})
}

// Delete handles DELETE /api/packages/:id
// Refuses while any subscription still references the plan
func (h *PackageHandler) Delete(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	pkg, err := h.pkgRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "package not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to get package",
		})
	}

	if err := h.aaa.DeleteGroup(ctx, pkg); err != nil {
		if errors.Is(err, domain.ErrPackageInUse) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "package is still referenced by subscriptions",
			})
		}
		log.Printf("[Package] AAA group delete for %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to release package group",
		})
	}

	if err := h.pkgRepo.Delete(ctx, id); err != nil {
		log.Printf("[Package] Failed to delete %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to delete package",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "package deleted",
	})
}
