package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nusawave/prepaidnet/internal/domain"
)

// CustomerHandler handles subscriber account API endpoints
type CustomerHandler struct {
	customerRepo domain.CustomerRepository
	dispatcher   domain.Dispatcher
}

// NewCustomerHandler creates a new CustomerHandler
func NewCustomerHandler(customerRepo domain.CustomerRepository, dispatcher domain.Dispatcher) *CustomerHandler {
	return &CustomerHandler{customerRepo: customerRepo, dispatcher: dispatcher}
}

// CreateCustomerRequest represents the request body for customer creation
type CreateCustomerRequest struct {
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Create handles POST /api/customers
func (h *CustomerHandler) Create(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req CreateCustomerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.Phone == "" || req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "phone, username and password are required",
		})
	}

	customer := &domain.Customer{
		Phone:    req.Phone,
		Email:    req.Email,
		FullName: req.FullName,
		Username: req.Username,
		Password: req.Password,
		Status:   domain.CustomerActive,
	}

	if err := h.customerRepo.Create(ctx, customer); err != nil {
		if errors.Is(err, domain.ErrDuplicatePhone) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "phone number already registered",
			})
		}
		log.Printf("[Customer] Failed to create: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to create customer",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    customer,
	})
}

// Get handles GET /api/customers/:id
func (h *CustomerHandler) Get(c *fiber.Ctx) error {
	ctx := c.UserContext()

	customer, err := h.customerRepo.GetByID(ctx, c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "customer not found",
			})
		}
		log.Printf("[Customer] Failed to get %s: %v", c.Params("id"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to get customer",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    customer,
	})
}

// UpdateCustomerRequest represents the request body for a customer update
type UpdateCustomerRequest struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
	Password *string `json:"password,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// Update handles PUT /api/customers/:id
func (h *CustomerHandler) Update(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	customer, err := h.customerRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "customer not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to get customer",
		})
	}

	var req UpdateCustomerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.Email != nil {
		customer.Email = *req.Email
	}
	if req.FullName != nil {
		customer.FullName = *req.FullName
	}
	if req.Password != nil {
		customer.Password = *req.Password
	}
	if req.Status != nil {
		customer.Status = domain.CustomerStatus(*req.Status)
	}

	if err := h.customerRepo.Update(ctx, customer); err != nil {
		log.Printf("[Customer] Failed to update %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to update customer",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    customer,
	})
}

// Delete handles DELETE /api/customers/:id
// Emits CustomerDeleted first so the AAA rows keyed by the username are
// released before the account disappears.
func (h *CustomerHandler) Delete(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	customer, err := h.customerRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "customer not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to get customer",
		})
	}

	h.dispatcher.Dispatch(ctx, domain.CustomerDeleted{Customer: customer})

	if err := h.customerRepo.Delete(ctx, id); err != nil {
		log.Printf("[Customer] Failed to delete %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to delete customer",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "customer deleted",
	})
}
