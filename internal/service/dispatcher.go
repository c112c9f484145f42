package service

import (
	"context"
	"log"

	"github.com/nusawave/prepaidnet/internal/domain"
)

// EventDispatcher routes domain events to their side effects: notifications
// and the customer-deletion AAA cascade. Handlers run inline on the emitting
// goroutine after the local commit; their failures are logged, never
// propagated back into the emitting operation.
type EventDispatcher struct {
	notifier Notifier
	aaa      *AaaAdapter
}

// NewEventDispatcher creates the event dispatcher
func NewEventDispatcher(notifier Notifier, aaa *AaaAdapter) *EventDispatcher {
	return &EventDispatcher{notifier: notifier, aaa: aaa}
}

func (d *EventDispatcher) Dispatch(ctx context.Context, event domain.Event) {
	switch e := event.(type) {
	case domain.SubscriptionStatusChanged:
		d.onStatusChanged(ctx, e)
	case domain.TrialAssigned:
		d.notifier.SubscriptionActivated(ctx, e.Subscription)
	case domain.PaymentSettled:
		d.notifier.PaymentReceived(ctx, e.Payment)
	case domain.RefundSettled:
		d.notifier.RefundIssued(ctx, e.Payment, e.Refund)
	case domain.CustomerDeleted:
		d.onCustomerDeleted(ctx, e)
	case domain.SubscriptionCreated:
		// Nothing to notify; the subscriber hears about activation instead.
	default:
		log.Printf("[Dispatcher] Unhandled event %s", event.EventName())
	}
}

func (d *EventDispatcher) onStatusChanged(ctx context.Context, e domain.SubscriptionStatusChanged) {
	switch e.To {
	case domain.SubscriptionActive:
		d.notifier.SubscriptionActivated(ctx, e.Subscription)
	case domain.SubscriptionSuspended:
		d.notifier.SubscriptionSuspended(ctx, e.Subscription, e.Reason)
	case domain.SubscriptionExpired:
		d.notifier.SubscriptionExpired(ctx, e.Subscription)
	}
}

// onCustomerDeleted releases the customer's AAA user row so the username
// cannot authenticate after the account is gone.
func (d *EventDispatcher) onCustomerDeleted(ctx context.Context, e domain.CustomerDeleted) {
	if e.Customer.Username == "" {
		return
	}
	if err := d.aaa.Delete(ctx, e.Customer.Username); err != nil {
		log.Printf("[Dispatcher] Failed to release AAA user %s: %v", e.Customer.Username, err)
	}
}
