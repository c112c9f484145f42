package handler

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/service"
)

// PaymentHandler handles payment and refund API endpoints
type PaymentHandler struct {
	payments    *service.PaymentService
	paymentRepo domain.PaymentRepository
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments *service.PaymentService, paymentRepo domain.PaymentRepository) *PaymentHandler {
	return &PaymentHandler{payments: payments, paymentRepo: paymentRepo}
}

// CheckoutRequest represents the request body for checkout
type CheckoutRequest struct {
	CustomerID    string `json:"customer_id"`
	PackageID     string `json:"package_id"`
	PaymentMethod string `json:"payment_method"` // BCA, Mandiri, BNI
	AutoRenew     bool   `json:"auto_renew"`
}

// CheckoutResponse represents the checkout response with VA details
type CheckoutResponse struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	VANumber       string `json:"va_number"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PaymentMethod  string `json:"payment_method"`
	ExpiryDate     string `json:"expiry_date,omitempty"` // ISO 8601 format
	Status         string `json:"status"`
}

// Checkout handles POST /api/payments/checkout
// Creates or returns the existing pending payment with a VA number
func (h *PaymentHandler) Checkout(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.CustomerID == "" || req.PackageID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "customer_id and package_id are required",
		})
	}

	validMethods := map[string]bool{"BCA": true, "Mandiri": true, "BNI": true}
	if !validMethods[req.PaymentMethod] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid payment_method, must be BCA, Mandiri, or BNI",
		})
	}

	payment, err := h.payments.Checkout(ctx, req.CustomerID, req.PackageID, req.PaymentMethod, req.AutoRenew)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "customer or package not found",
			})
		}
		if errors.Is(err, domain.ErrActiveSubscriptionExists) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "customer already has an active subscription",
			})
		}
		log.Printf("[Payment] Checkout failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "checkout failed",
		})
	}

	resp := CheckoutResponse{
		ID:             payment.ID,
		SubscriptionID: payment.SubscriptionID,
		VANumber:       payment.VANumber,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		PaymentMethod:  req.PaymentMethod,
		Status:         string(payment.Status),
	}
	if payment.ExpiryDate != nil {
		resp.ExpiryDate = payment.ExpiryDate.Format(time.RFC3339)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    resp,
	})
}

// GetPayment handles GET /api/payments/:id
// Returns the payment together with its refund rows and refundable balance
func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	agg, err := h.payments.GetAggregate(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "payment not found",
			})
		}
		log.Printf("[Payment] Failed to load %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to load payment",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"payment":            agg.Payment,
			"refunds":            agg.Refunds,
			"refundable_balance": agg.RefundableBalance(),
		},
	})
}

// ListCustomerPayments handles GET /api/customers/:id/payments
func (h *PaymentHandler) ListCustomerPayments(c *fiber.Ctx) error {
	ctx := c.UserContext()
	customerID := c.Params("id")

	payments, err := h.paymentRepo.GetByCustomerID(ctx, customerID)
	if err != nil {
		log.Printf("[Payment] Failed to list payments for %s: %v", customerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to list payments",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    payments,
	})
}

// RefundRequest represents the request body for a refund
type RefundRequest struct {
	Amount int64  `json:"amount,omitempty"` // ignored for full refunds
	Reason string `json:"reason"`
	Method string `json:"method,omitempty"` // auto, manual, provider_api
}

// RefundFull handles POST /api/payments/:id/refund
func (h *PaymentHandler) RefundFull(c *fiber.Ctx) error {
	ctx := c.UserContext()
	paymentID := c.Params("id")
	actor, _ := c.Locals("userID").(string)

	req, ok := h.parseRefundRequest(c)
	if !ok {
		return nil
	}

	refund, err := h.payments.ProcessFullRefund(ctx, paymentID, req.Reason, actor, domain.RefundMethod(req.Method))
	if err != nil {
		return h.refundError(c, paymentID, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    refund,
	})
}

// RefundPartial handles POST /api/payments/:id/refund/partial
func (h *PaymentHandler) RefundPartial(c *fiber.Ctx) error {
	ctx := c.UserContext()
	paymentID := c.Params("id")
	actor, _ := c.Locals("userID").(string)

	req, ok := h.parseRefundRequest(c)
	if !ok {
		return nil
	}

	refund, err := h.payments.ProcessPartialRefund(ctx, paymentID, req.Amount, req.Reason, actor, domain.RefundMethod(req.Method))
	if err != nil {
		return h.refundError(c, paymentID, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    refund,
	})
}

func (h *PaymentHandler) parseRefundRequest(c *fiber.Ctx) (*RefundRequest, bool) {
	var req RefundRequest
	if err := c.BodyParser(&req); err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
		return nil, false
	}
	if req.Reason == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "reason is required",
		})
		return nil, false
	}
	return &req, true
}

func (h *PaymentHandler) refundError(c *fiber.Ctx, paymentID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "payment not found",
		})
	case errors.Is(err, domain.ErrInvalidRefundAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "refund amount must be positive",
		})
	case errors.Is(err, domain.ErrRefundExceedsBalance):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"success": false,
			"error":   "refund amount exceeds remaining balance",
		})
	case domain.IsInvalidTransition(err):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	default:
		log.Printf("[Payment] Refund for %s failed: %v", paymentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "refund failed",
		})
	}
}
