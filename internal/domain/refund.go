package domain

import "time"

// RefundStatus is the lifecycle state of a single refund attempt.
type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

var refundEdges = map[RefundStatus][]RefundStatus{
	RefundPending:    {RefundProcessing, RefundCompleted, RefundFailed},
	RefundProcessing: {RefundCompleted, RefundFailed},
	RefundCompleted:  {},
	RefundFailed:     {},
}

// CanTransitionRefund reports whether the refund edge from -> to is permitted.
func CanTransitionRefund(from, to RefundStatus) bool {
	for _, next := range refundEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RefundType distinguishes a full refund from a partial one.
type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

// RefundMethod records how the refund is executed.
type RefundMethod string

const (
	RefundAuto        RefundMethod = "auto"
	RefundManual      RefundMethod = "manual"
	RefundProviderAPI RefundMethod = "provider_api"
)

// PaymentRefund is a child row of a Payment recording one refund attempt.
// The sum of completed refunds for a payment never exceeds its amount; the
// reconciler enforces that before any row is written.
type PaymentRefund struct {
	ID            string       `bson:"_id,omitempty" json:"id"`
	PaymentID     string       `bson:"payment_id,omitempty" json:"payment_id"`
	Amount        int64        `bson:"amount,omitempty" json:"amount"`
	Reason        string       `bson:"reason,omitempty" json:"reason"`
	Type          RefundType   `bson:"type,omitempty" json:"type"`
	Method        RefundMethod `bson:"method,omitempty" json:"method"`
	Status        RefundStatus `bson:"status,omitempty" json:"status"`
	TransactionID string       `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	Reference     string       `bson:"reference,omitempty" json:"reference"` // unique, ULID
	ProcessedBy   string       `bson:"processed_by,omitempty" json:"processed_by"`
	ProcessedAt   *time.Time   `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
	CreatedAt     time.Time    `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt     time.Time    `bson:"updated_at,omitempty" json:"updated_at"`
}

// EnsureTransition validates the edge Status -> to without mutating.
func (r *PaymentRefund) EnsureTransition(to RefundStatus) error {
	if !CanTransitionRefund(r.Status, to) {
		return &InvalidTransitionError{Entity: "refund", From: string(r.Status), To: string(to)}
	}
	return nil
}
