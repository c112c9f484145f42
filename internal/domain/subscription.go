package domain

import (
	"context"
	"time"
)

// SubscriptionStatus is the lifecycle state of a subscription. Transitions
// are restricted to the edges in subscriptionEdges; anything else is an
// InvalidTransitionError.
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionBlocked   SubscriptionStatus = "blocked"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// subscriptionEdges enumerates the permitted status transitions. Blocked is
// reachable from every state (administrative or refund force). Expired and
// cancelled are terminal for the instance; renewal re-enters active through
// its own permitted-source check, not through this table.
var subscriptionEdges = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionPending:   {SubscriptionActive, SubscriptionCancelled, SubscriptionBlocked},
	SubscriptionActive:    {SubscriptionSuspended, SubscriptionExpired, SubscriptionBlocked, SubscriptionCancelled},
	SubscriptionSuspended: {SubscriptionActive, SubscriptionExpired, SubscriptionBlocked},
	SubscriptionExpired:   {SubscriptionBlocked},
	SubscriptionBlocked:   {},
	SubscriptionCancelled: {SubscriptionBlocked},
}

// CanTransition reports whether the edge from -> to is permitted.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, next := range subscriptionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// renewableFrom are the states Renew may be called from. Blocked and
// cancelled subscriptions stay dead.
var renewableFrom = map[SubscriptionStatus]bool{
	SubscriptionPending:   true,
	SubscriptionActive:    true,
	SubscriptionSuspended: true,
	SubscriptionExpired:   true,
}

// CanRenew reports whether a subscription in the given status may be renewed.
func CanRenew(from SubscriptionStatus) bool {
	return renewableFrom[from]
}

// Subscription is the central entity tying a customer's purchased package
// to its AAA projection. Local rows are the source of truth; the AAA side
// is derived and reconstructable. Version backs optimistic concurrency:
// every CAS write increments it, and a filter mismatch surfaces as
// ErrConcurrencyConflict.
type Subscription struct {
	ID                  string             `bson:"_id,omitempty" json:"id"`
	CustomerID          string             `bson:"customer_id,omitempty" json:"customer_id"`
	PackageID           string             `bson:"package_id,omitempty" json:"package_id"`
	Status              SubscriptionStatus `bson:"status,omitempty" json:"status"`
	StartsAt            *time.Time         `bson:"starts_at,omitempty" json:"starts_at,omitempty"`
	ExpiresAt           *time.Time         `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	DataUsed            int64              `bson:"data_used" json:"data_used"` // bytes, only ever increases
	SessionsUsed        int                `bson:"sessions_used" json:"sessions_used"`
	IsTrial             bool               `bson:"is_trial,omitempty" json:"is_trial"`
	AutoRenew           bool               `bson:"auto_renew,omitempty" json:"auto_renew"`
	RenewalPackageID    string             `bson:"renewal_package_id,omitempty" json:"renewal_package_id,omitempty"`
	SuspendReason       string             `bson:"suspend_reason,omitempty" json:"suspend_reason,omitempty"`
	ExpiryWarningSentAt *time.Time         `bson:"expiry_warning_sent_at,omitempty" json:"expiry_warning_sent_at,omitempty"`
	NeedsAaaSync        bool               `bson:"needs_aaa_sync,omitempty" json:"needs_aaa_sync"`
	LastSyncError       string             `bson:"last_sync_error,omitempty" json:"last_sync_error,omitempty"`
	Version             int64              `bson:"version" json:"-"`
	CreatedAt           time.Time          `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt           time.Time          `bson:"updated_at,omitempty" json:"updated_at"`
}

// EnsureTransition validates the edge Status -> to without mutating.
func (s *Subscription) EnsureTransition(to SubscriptionStatus) error {
	if !CanTransition(s.Status, to) {
		return &InvalidTransitionError{Entity: "subscription", From: string(s.Status), To: string(to)}
	}
	return nil
}

// IsExpiredAt reports whether the subscription's expiry has passed.
func (s *Subscription) IsExpiredAt(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// SubscriptionRepository defines persistence for subscriptions. All writes
// that touch Status go through CAS-style methods so that transitions on one
// row are totally ordered.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id string) (*Subscription, error)
	GetByCustomerID(ctx context.Context, customerID string) ([]*Subscription, error)
	GetActiveByCustomerID(ctx context.Context, customerID string) (*Subscription, error)

	// UpdateCAS persists sub's mutable fields filtered on {_id, version}.
	// On success sub.Version is incremented in place; on filter mismatch it
	// returns ErrConcurrencyConflict.
	UpdateCAS(ctx context.Context, sub *Subscription) error

	// AddUsage atomically increments data_used (and sessions_used) and
	// returns the new byte total.
	AddUsage(ctx context.Context, id string, bytes int64, sessions int) (int64, error)

	// ResetUsage zeroes data_used at the start of a new validity cycle
	// (renewal); within a cycle the counter only ever increases.
	ResetUsage(ctx context.Context, id string) error

	// CASStatus flips status from -> to only if the row still holds from.
	// Returns false (no error) when another writer got there first; this is
	// what makes the cap-breach suspension fire exactly once.
	CASStatus(ctx context.Context, id string, from, to SubscriptionStatus, reason string) (bool, error)

	SetNeedsAaaSync(ctx context.Context, id string, needs bool, syncErr string) error
	MarkExpiryWarningSent(ctx context.Context, id string, at time.Time) error

	FindDueForExpiry(ctx context.Context, now time.Time) ([]*Subscription, error)
	FindDueForAutoRenew(ctx context.Context, before time.Time) ([]*Subscription, error)
	FindNeedingAaaSync(ctx context.Context, limit int64) ([]*Subscription, error)
	FindDueForExpiryWarning(ctx context.Context, now, windowEnd time.Time) ([]*Subscription, error)
	CountByPackageID(ctx context.Context, packageID string) (int64, error)
}
