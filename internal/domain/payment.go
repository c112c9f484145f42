package domain

import (
	"context"
	"time"
)

// PaymentStatus is the lifecycle state of a purchase attempt.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

var paymentEdges = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentProcessing:        {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentCompleted:         {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded, PaymentPartiallyRefunded},
	PaymentFailed:            {},
	PaymentCancelled:         {},
	PaymentRefunded:          {},
}

// CanTransitionPayment reports whether the payment edge from -> to is permitted.
func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payment represents one purchase attempt for a package. The refund
// aggregates (TotalRefunded, LastRefundReference) are derived from the
// payment's refund rows by the reconciler and never hand-edited elsewhere.
type Payment struct {
	ID                string        `bson:"_id,omitempty" json:"id"`
	CustomerID        string        `bson:"customer_id,omitempty" json:"customer_id"`
	SubscriptionID    string        `bson:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	PackageID         string        `bson:"package_id,omitempty" json:"package_id"`
	Amount            int64         `bson:"amount,omitempty" json:"amount"` // smallest currency unit
	Currency          string        `bson:"currency,omitempty" json:"currency"`
	Method            string        `bson:"method,omitempty" json:"method"` // va:BCA, va:Mandiri, manual, ...
	ProviderSessionID string        `bson:"provider_session_id,omitempty" json:"provider_session_id,omitempty"`
	ProviderTrxID     string        `bson:"provider_trx_id,omitempty" json:"provider_trx_id,omitempty"`
	VANumber          string        `bson:"va_number,omitempty" json:"va_number,omitempty"`
	Status            PaymentStatus `bson:"status,omitempty" json:"status"`
	PaymentDate       *time.Time    `bson:"payment_date,omitempty" json:"payment_date,omitempty"`
	TotalRefunded     int64         `bson:"total_refunded" json:"total_refunded"`
	TotalReserved     int64         `bson:"total_reserved" json:"-"` // refund admission bookkeeping, see ReserveRefund
	LastRefundRef     string        `bson:"last_refund_ref,omitempty" json:"last_refund_ref,omitempty"`
	RenewalCycle      string        `bson:"renewal_cycle,omitempty" json:"renewal_cycle,omitempty"` // dedup key for auto-renew charges
	ExpiryDate        *time.Time    `bson:"expiry_date,omitempty" json:"expiry_date,omitempty"`
	CreatedAt         time.Time     `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt         time.Time     `bson:"updated_at,omitempty" json:"updated_at"`
}

// EnsureTransition validates the edge Status -> to without mutating.
func (p *Payment) EnsureTransition(to PaymentStatus) error {
	if !CanTransitionPayment(p.Status, to) {
		return &InvalidTransitionError{Entity: "payment", From: string(p.Status), To: string(to)}
	}
	return nil
}

// PaymentAggregate is a payment loaded together with its refund rows, so
// the refundable balance is computed over data already in hand instead of
// hidden per-call queries.
type PaymentAggregate struct {
	Payment *Payment
	Refunds []*PaymentRefund
}

// CompletedRefundTotal sums the completed refund rows.
func (a *PaymentAggregate) CompletedRefundTotal() int64 {
	var total int64
	for _, r := range a.Refunds {
		if r.Status == RefundCompleted {
			total += r.Amount
		}
	}
	return total
}

// RefundableBalance is the amount still eligible for refund.
func (a *PaymentAggregate) RefundableBalance() int64 {
	return a.Payment.Amount - a.CompletedRefundTotal()
}

// PaymentRepository defines persistence for payments and their refund rows.
type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByProviderSessionID(ctx context.Context, sessionID string) (*Payment, error)
	GetByCustomerID(ctx context.Context, customerID string) ([]*Payment, error)
	GetPendingByCustomerAndPackage(ctx context.Context, customerID, packageID string) (*Payment, error)

	// LoadAggregate fetches a payment together with all of its refund rows.
	LoadAggregate(ctx context.Context, paymentID string) (*PaymentAggregate, error)

	// SetProviderSession records the gateway session and VA details issued
	// for a pending payment.
	SetProviderSession(ctx context.Context, id, sessionID, vaNumber string, expiry *time.Time) error

	// TransitionStatus flips the payment status filtered on the current
	// status, so a terminal status is reached exactly once. Returns
	// ErrConcurrencyConflict when the row no longer holds from. trxID, when
	// non-empty, records the provider transaction identifier.
	TransitionStatus(ctx context.Context, id string, from, to PaymentStatus, paymentDate *time.Time, trxID string) error

	// SetRefundAggregates writes the derived refund fields and the resulting
	// payment status in one update.
	SetRefundAggregates(ctx context.Context, id string, totalRefunded int64, lastRef string, status PaymentStatus) error

	// ReserveRefund atomically admits a refund of amount against the payment:
	// the reserved total is incremented only while reserved+amount still fits
	// inside the payment amount, so of two racing refunds that each fit the
	// balance they last loaded, only one passes. Returns
	// ErrRefundExceedsBalance when the reservation does not fit.
	ReserveRefund(ctx context.Context, id string, amount int64) error

	// ReleaseRefundReservation returns a failed refund's amount to the
	// reservable pool.
	ReleaseRefundReservation(ctx context.Context, id string, amount int64) error

	// GetRenewalPayment looks up a renewal charge by its dedup cycle key.
	GetRenewalPayment(ctx context.Context, subscriptionID, cycle string) (*Payment, error)

	CreateRefund(ctx context.Context, r *PaymentRefund) error
	GetRefundByID(ctx context.Context, id string) (*PaymentRefund, error)
	ListRefundsByPayment(ctx context.Context, paymentID string) ([]*PaymentRefund, error)

	// TransitionRefundStatus flips a refund's status filtered on the current
	// status, mirroring TransitionStatus semantics.
	TransitionRefundStatus(ctx context.Context, id string, from, to RefundStatus, trxID string) error

	FindProcessingRefunds(ctx context.Context, olderThan time.Time) ([]*PaymentRefund, error)
}
