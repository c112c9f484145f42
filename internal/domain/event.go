package domain

import (
	"context"
	"time"
)

// Event is a typed domain event emitted by the state machine and the
// payment reconciler after a local commit. Side effects that do not need a
// synchronous result (notifications, deletion cascades) hang off these via
// the Dispatcher; nothing is wired through persistence hooks.
type Event interface {
	EventName() string
}

// SubscriptionCreated fires after a subscription row is first persisted.
type SubscriptionCreated struct {
	Subscription *Subscription
	Customer     *Customer
	Package      *Package
}

func (SubscriptionCreated) EventName() string { return "subscription.created" }

// SubscriptionStatusChanged fires after any committed status transition.
type SubscriptionStatusChanged struct {
	Subscription *Subscription
	From         SubscriptionStatus
	To           SubscriptionStatus
	Reason       string
	At           time.Time
}

func (SubscriptionStatusChanged) EventName() string { return "subscription.status_changed" }

// TrialAssigned fires after the trial-assignment path creates and activates
// a fresh trial subscription.
type TrialAssigned struct {
	Subscription *Subscription
	Customer     *Customer
	Package      *Package
}

func (TrialAssigned) EventName() string { return "subscription.trial_assigned" }

// PaymentSettled fires after a payment settles.
type PaymentSettled struct {
	Payment *Payment
}

func (PaymentSettled) EventName() string { return "payment.completed" }

// RefundSettled fires after a refund row reaches completed and the
// payment aggregates are recomputed.
type RefundSettled struct {
	Payment *Payment
	Refund  *PaymentRefund
}

func (RefundSettled) EventName() string { return "payment.refund_completed" }

// CustomerDeleted fires before the customer row is removed so the AAA rows
// keyed by its username can be released.
type CustomerDeleted struct {
	Customer *Customer
}

func (CustomerDeleted) EventName() string { return "customer.deleted" }

// Dispatcher delivers events to their handlers. Handler failures are the
// handler's problem to log; Dispatch never fails the emitting operation.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event)
}

// NopDispatcher discards all events. Useful in tests and tools.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Event) {}
