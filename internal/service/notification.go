package service

import (
	"context"
	"log"

	"github.com/nusawave/prepaidnet/internal/domain"
)

// Notifier delivers subscriber-facing messages. Delivery is best-effort;
// callers never fail an operation because a notification did not go out.
type Notifier interface {
	SubscriptionActivated(ctx context.Context, sub *domain.Subscription)
	SubscriptionSuspended(ctx context.Context, sub *domain.Subscription, reason string)
	SubscriptionExpired(ctx context.Context, sub *domain.Subscription)
	ExpiryWarning(ctx context.Context, sub *domain.Subscription)
	PaymentReceived(ctx context.Context, p *domain.Payment)
	RefundIssued(ctx context.Context, p *domain.Payment, r *domain.PaymentRefund)
}

// LogNotifier writes notifications to the application log. Stands in until
// an SMS or WhatsApp gateway is wired up.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (LogNotifier) SubscriptionActivated(_ context.Context, sub *domain.Subscription) {
	log.Printf("[Notify] Subscription %s activated for customer %s", sub.ID, sub.CustomerID)
}

func (LogNotifier) SubscriptionSuspended(_ context.Context, sub *domain.Subscription, reason string) {
	log.Printf("[Notify] Subscription %s suspended: %s", sub.ID, reason)
}

func (LogNotifier) SubscriptionExpired(_ context.Context, sub *domain.Subscription) {
	log.Printf("[Notify] Subscription %s expired", sub.ID)
}

func (LogNotifier) ExpiryWarning(_ context.Context, sub *domain.Subscription) {
	if sub.ExpiresAt != nil {
		log.Printf("[Notify] Subscription %s expires at %s", sub.ID, sub.ExpiresAt.Format("2006-01-02 15:04"))
		return
	}
	log.Printf("[Notify] Subscription %s is nearing expiry", sub.ID)
}

func (LogNotifier) PaymentReceived(_ context.Context, p *domain.Payment) {
	log.Printf("[Notify] Payment %s received: %d %s", p.ID, p.Amount, p.Currency)
}

func (LogNotifier) RefundIssued(_ context.Context, p *domain.Payment, r *domain.PaymentRefund) {
	log.Printf("[Notify] Refund %s of %d issued for payment %s", r.Reference, r.Amount, p.ID)
}
