package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/oklog/ulid/v2"
)

// refundProviderTimeout bounds the wait on a provider refund call. On
// expiry the refund stays processing and the reconcile sweep re-checks it.
const refundProviderTimeout = 15 * time.Second

// suspendFraction is the business policy threshold: a refund of at least
// this fraction of the payment suspends the linked subscription. Lives here
// and nowhere else.
const suspendFraction = 0.5

// PaymentService is the payment reconciler. It is the only writer of
// payment and refund rows, and it drives subscription transitions on
// settlement and refund events.
type PaymentService struct {
	paymentRepo  domain.PaymentRepository
	customerRepo domain.CustomerRepository
	pkgRepo      domain.PackageRepository
	subs         *SubscriptionService
	provider     PaymentProvider
	dispatcher   domain.Dispatcher
}

// NewPaymentService creates the payment reconciler
func NewPaymentService(
	paymentRepo domain.PaymentRepository,
	customerRepo domain.CustomerRepository,
	pkgRepo domain.PackageRepository,
	subs *SubscriptionService,
	provider PaymentProvider,
	dispatcher domain.Dispatcher,
) *PaymentService {
	return &PaymentService{
		paymentRepo:  paymentRepo,
		customerRepo: customerRepo,
		pkgRepo:      pkgRepo,
		subs:         subs,
		provider:     provider,
		dispatcher:   dispatcher,
	}
}

// Checkout opens (or returns the still-pending) payment for a package and
// provisions a VA at the gateway. The pending subscription is created up
// front and linked, so settlement only has to activate it.
func (s *PaymentService) Checkout(ctx context.Context, customerID, packageID, bank string, autoRenew bool) (*domain.Payment, error) {
	customer, err := s.customerRepo.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	pkg, err := s.pkgRepo.GetByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, fmt.Errorf("package %s is not purchasable", packageID)
	}

	// An unexpired pending invoice for the same package is reused so the
	// subscriber keeps one VA number.
	if existing, err := s.paymentRepo.GetPendingByCustomerAndPackage(ctx, customerID, packageID); err == nil {
		return existing, nil
	} else if err != domain.ErrNotFound {
		return nil, err
	}

	sub, err := s.subs.Create(ctx, customerID, packageID, autoRenew)
	if err != nil {
		return nil, err
	}

	p := &domain.Payment{
		CustomerID:     customerID,
		SubscriptionID: sub.ID,
		PackageID:      packageID,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		Method:         "va:" + bank,
		Status:         domain.PaymentPending,
	}
	if err := s.paymentRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	va, err := s.provider.GenerateVA(ctx, bank, p.Amount, customer, p.ID)
	if err != nil {
		return nil, err
	}

	p.VANumber = va.VANumber
	p.ProviderSessionID = va.SessionID
	p.ExpiryDate = &va.ExpiresAt
	if err := s.paymentRepo.SetProviderSession(ctx, p.ID, va.SessionID, va.VANumber, &va.ExpiresAt); err != nil {
		return nil, err
	}
	return p, nil
}

// GatewayEvent is a normalized payment-status event from the webhook layer.
type GatewayEvent struct {
	SessionID string
	TrxID     int64
	Status    string // "berhasil", "pending", "expired", "gagal"
	Amount    int64
}

// HandleGatewayEvent routes a verified webhook event into the reconciler.
// Duplicate deliveries of a settlement are acknowledged without reprocessing.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, evt GatewayEvent) error {
	p, err := s.paymentRepo.GetByProviderSessionID(ctx, evt.SessionID)
	if err != nil {
		return err
	}

	switch evt.Status {
	case "berhasil":
		if p.Status == domain.PaymentCompleted || p.Status == domain.PaymentRefunded || p.Status == domain.PaymentPartiallyRefunded {
			log.Printf("[Payment] Settlement for %s already processed", p.ID)
			return nil
		}
		return s.MarkCompleted(ctx, p.ID, strconv.FormatInt(evt.TrxID, 10))
	case "pending":
		if p.Status != domain.PaymentPending {
			return nil
		}
		return s.paymentRepo.TransitionStatus(ctx, p.ID, domain.PaymentPending, domain.PaymentProcessing, nil, "")
	case "expired":
		return s.markTerminal(ctx, p, domain.PaymentCancelled)
	case "gagal", "failed":
		return s.markTerminal(ctx, p, domain.PaymentFailed)
	default:
		log.Printf("[Payment] Ignoring gateway status %q for %s", evt.Status, p.ID)
		return nil
	}
}

func (s *PaymentService) markTerminal(ctx context.Context, p *domain.Payment, to domain.PaymentStatus) error {
	if err := p.EnsureTransition(to); err != nil {
		// Already terminal: a replayed webhook, not an error.
		log.Printf("[Payment] Skipping %s -> %s on %s: %v", p.Status, to, p.ID, err)
		return nil
	}
	return s.paymentRepo.TransitionStatus(ctx, p.ID, p.Status, to, nil, "")
}

// MarkCompleted settles the payment and applies the subscription effect:
// renewal payments renew, first purchases activate the pending record.
func (s *PaymentService) MarkCompleted(ctx context.Context, paymentID, trxID string) error {
	p, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if err := p.EnsureTransition(domain.PaymentCompleted); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.paymentRepo.TransitionStatus(ctx, p.ID, p.Status, domain.PaymentCompleted, &now, trxID); err != nil {
		return err
	}
	p.Status = domain.PaymentCompleted
	p.PaymentDate = &now
	p.ProviderTrxID = trxID

	s.dispatcher.Dispatch(ctx, domain.PaymentSettled{Payment: p})

	if p.SubscriptionID == "" {
		return nil
	}

	if p.RenewalCycle != "" {
		_, sync, err := s.subs.Renew(ctx, p.SubscriptionID, p.PackageID, nil)
		if err != nil {
			log.Printf("[Payment] Renewal after settlement of %s failed: %v", p.ID, err)
			return nil
		}
		if sync.SyncErr != nil {
			log.Printf("[Payment] Renewal of %s settled with degraded AAA sync: %v", p.SubscriptionID, sync.SyncErr)
		}
		return nil
	}

	sub, err := s.subs.Get(ctx, p.SubscriptionID)
	if err != nil {
		log.Printf("[Payment] Linked subscription %s missing for %s: %v", p.SubscriptionID, p.ID, err)
		return nil
	}
	if sub.Status != domain.SubscriptionPending {
		return nil
	}

	if _, sync, err := s.subs.Activate(ctx, p.SubscriptionID); err != nil {
		log.Printf("[Payment] Activation after settlement of %s failed: %v", p.ID, err)
	} else if sync.SyncErr != nil {
		log.Printf("[Payment] Activation of %s settled with degraded AAA sync: %v", p.SubscriptionID, sync.SyncErr)
	}
	return nil
}

// ProcessFullRefund refunds the entire remaining balance of a completed
// payment and suspends the linked subscription.
func (s *PaymentService) ProcessFullRefund(ctx context.Context, paymentID, reason, actor string, method domain.RefundMethod) (*domain.PaymentRefund, error) {
	agg, err := s.paymentRepo.LoadAggregate(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.processRefund(ctx, agg, agg.RefundableBalance(), domain.RefundFull, reason, actor, method)
}

// ProcessPartialRefund refunds part of a completed payment. Amounts at or
// above half of the payment suspend the linked subscription; smaller ones
// leave it untouched.
func (s *PaymentService) ProcessPartialRefund(ctx context.Context, paymentID string, amount int64, reason, actor string, method domain.RefundMethod) (*domain.PaymentRefund, error) {
	agg, err := s.paymentRepo.LoadAggregate(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return s.processRefund(ctx, agg, amount, domain.RefundPartial, reason, actor, method)
}

func (s *PaymentService) processRefund(ctx context.Context, agg *domain.PaymentAggregate, amount int64, rtype domain.RefundType, reason, actor string, method domain.RefundMethod) (*domain.PaymentRefund, error) {
	p := agg.Payment
	if p.Status != domain.PaymentCompleted && p.Status != domain.PaymentPartiallyRefunded {
		return nil, &domain.InvalidTransitionError{
			Entity: "payment", From: string(p.Status), To: string(domain.PaymentRefunded),
		}
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidRefundAmount
	}
	if amount > agg.RefundableBalance() {
		return nil, domain.ErrRefundExceedsBalance
	}
	if method == "" {
		method = domain.RefundManual
	}

	// Admission is serialized on the payment row itself: the reservation
	// increments only while reserved+amount still fits the payment amount,
	// so a refund racing this one over a stale aggregate is rejected here.
	if err := s.paymentRepo.ReserveRefund(ctx, p.ID, amount); err != nil {
		return nil, err
	}

	refund := &domain.PaymentRefund{
		PaymentID:   p.ID,
		Amount:      amount,
		Reason:      reason,
		Type:        rtype,
		Method:      method,
		Status:      domain.RefundPending,
		Reference:   "RFD-" + ulid.Make().String(),
		ProcessedBy: actor,
	}
	if err := s.paymentRepo.CreateRefund(ctx, refund); err != nil {
		if rerr := s.paymentRepo.ReleaseRefundReservation(ctx, p.ID, amount); rerr != nil {
			log.Printf("[Refund] Failed to release reservation on %s: %v", p.ID, rerr)
		}
		return nil, err
	}

	if method != domain.RefundProviderAPI {
		// Manual and auto refunds settle outside the gateway; complete now.
		if err := s.CompleteRefund(ctx, refund.ID, ""); err != nil {
			return nil, err
		}
		refund.Status = domain.RefundCompleted
		return refund, nil
	}

	// Provider refunds: mark processing, then call out with a bounded wait.
	if err := s.paymentRepo.TransitionRefundStatus(ctx, refund.ID, domain.RefundPending, domain.RefundProcessing, ""); err != nil {
		return nil, err
	}
	refund.Status = domain.RefundProcessing

	callCtx, cancel := context.WithTimeout(ctx, refundProviderTimeout)
	defer cancel()
	trxID, err := s.provider.Refund(callCtx, p.ProviderTrxID, amount, reason, refund.Reference)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			// Unknown outcome: stay processing, reconcile sweep re-checks.
			log.Printf("[Refund] Provider timed out for %s, leaving in processing", refund.Reference)
			return refund, nil
		}
		log.Printf("[Refund] Provider rejected %s: %v", refund.Reference, err)
		if ferr := s.FailRefund(ctx, refund.ID); ferr != nil {
			return nil, ferr
		}
		refund.Status = domain.RefundFailed
		return refund, nil
	}

	if err := s.CompleteRefund(ctx, refund.ID, trxID); err != nil {
		return nil, err
	}
	refund.Status = domain.RefundCompleted
	refund.TransactionID = trxID
	return refund, nil
}

// CompleteRefund closes a pending or processing refund, recomputes the
// payment's refund aggregates from its rows, and applies the
// refund-driven subscription effect.
func (s *PaymentService) CompleteRefund(ctx context.Context, refundID, trxID string) error {
	refund, err := s.paymentRepo.GetRefundByID(ctx, refundID)
	if err != nil {
		return err
	}
	if err := refund.EnsureTransition(domain.RefundCompleted); err != nil {
		return err
	}
	if err := s.paymentRepo.TransitionRefundStatus(ctx, refundID, refund.Status, domain.RefundCompleted, trxID); err != nil {
		return err
	}
	refund.Status = domain.RefundCompleted

	agg, err := s.paymentRepo.LoadAggregate(ctx, refund.PaymentID)
	if err != nil {
		return err
	}
	total := agg.CompletedRefundTotal()

	status := domain.PaymentPartiallyRefunded
	if total >= agg.Payment.Amount {
		status = domain.PaymentRefunded
	}
	if err := s.paymentRepo.SetRefundAggregates(ctx, agg.Payment.ID, total, refund.Reference, status); err != nil {
		return err
	}
	agg.Payment.TotalRefunded = total
	agg.Payment.Status = status

	s.dispatcher.Dispatch(ctx, domain.RefundSettled{Payment: agg.Payment, Refund: refund})
	s.applyRefundEffect(ctx, agg.Payment, total)
	return nil
}

// applyRefundEffect suspends the linked subscription when the refunded
// fraction crosses the policy threshold.
func (s *PaymentService) applyRefundEffect(ctx context.Context, p *domain.Payment, totalRefunded int64) {
	if p.SubscriptionID == "" || p.Amount <= 0 {
		return
	}

	fraction := float64(totalRefunded) / float64(p.Amount)
	if fraction < suspendFraction {
		return
	}

	reason := "refund threshold reached"
	if totalRefunded >= p.Amount {
		reason = "fully refunded"
	}

	if _, _, err := s.subs.Suspend(ctx, p.SubscriptionID, reason); err != nil {
		if domain.IsInvalidTransition(err) {
			// Not active anymore; nothing to suspend.
			log.Printf("[Refund] Subscription %s not suspendable: %v", p.SubscriptionID, err)
			return
		}
		log.Printf("[Refund] Failed to suspend %s after refund: %v", p.SubscriptionID, err)
	}
}

// FailRefund marks a refund attempt failed and returns its amount to the
// reservable pool. Aggregates are untouched since only completed rows count
// toward the refunded total.
func (s *PaymentService) FailRefund(ctx context.Context, refundID string) error {
	refund, err := s.paymentRepo.GetRefundByID(ctx, refundID)
	if err != nil {
		return err
	}
	if err := refund.EnsureTransition(domain.RefundFailed); err != nil {
		return err
	}
	if err := s.paymentRepo.TransitionRefundStatus(ctx, refundID, refund.Status, domain.RefundFailed, ""); err != nil {
		return err
	}
	return s.paymentRepo.ReleaseRefundReservation(ctx, refund.PaymentID, refund.Amount)
}

// ReconcilePendingRefunds re-checks provider refunds stuck in processing
// past the given age. Per-record failures are logged and skipped.
func (s *PaymentService) ReconcilePendingRefunds(ctx context.Context, olderThan time.Time) (checked, completed, failed int) {
	refunds, err := s.paymentRepo.FindProcessingRefunds(ctx, olderThan)
	if err != nil {
		log.Printf("[Refund] Failed to list processing refunds: %v", err)
		return 0, 0, 0
	}

	for _, refund := range refunds {
		checked++
		p, err := s.paymentRepo.GetByID(ctx, refund.PaymentID)
		if err != nil {
			log.Printf("[Refund] Parent payment %s missing for %s: %v", refund.PaymentID, refund.ID, err)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, refundProviderTimeout)
		status, err := s.provider.CheckTransaction(callCtx, p.ProviderTrxID)
		cancel()
		if err != nil {
			log.Printf("[Refund] Check failed for %s: %v", refund.Reference, err)
			continue
		}

		switch status {
		case "refunded", "berhasil":
			if err := s.CompleteRefund(ctx, refund.ID, ""); err != nil {
				log.Printf("[Refund] Failed to complete %s: %v", refund.Reference, err)
				continue
			}
			completed++
		case "expired", "gagal", "failed":
			if err := s.FailRefund(ctx, refund.ID); err != nil {
				log.Printf("[Refund] Failed to fail %s: %v", refund.Reference, err)
				continue
			}
			failed++
		default:
			// Still pending at the provider; check again next sweep.
		}
	}
	return checked, completed, failed
}

// EnsureRenewalPayment creates (or returns the already-existing) renewal
// charge for one expiry cycle of a subscription. The (subscription, cycle)
// key makes a second sweep in the same cycle a no-op: never double-charge.
func (s *PaymentService) EnsureRenewalPayment(ctx context.Context, sub *domain.Subscription, pkg *domain.Package) (*domain.Payment, bool, error) {
	cycle := "renew-" + strconv.FormatInt(sub.ExpiresAt.UTC().Unix(), 10)

	if existing, err := s.paymentRepo.GetRenewalPayment(ctx, sub.ID, cycle); err == nil {
		return existing, false, nil
	} else if err != domain.ErrNotFound {
		return nil, false, err
	}

	customer, err := s.customerRepo.GetByID(ctx, sub.CustomerID)
	if err != nil {
		return nil, false, err
	}

	p := &domain.Payment{
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		PackageID:      pkg.ID,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		Method:         "auto_renew",
		Status:         domain.PaymentPending,
		RenewalCycle:   cycle,
	}
	if err := s.paymentRepo.Create(ctx, p); err != nil {
		return nil, false, err
	}

	trxID, err := s.provider.Charge(ctx, customer, p.Amount, p.ID)
	if err != nil {
		if terr := s.paymentRepo.TransitionStatus(ctx, p.ID, domain.PaymentPending, domain.PaymentFailed, nil, ""); terr != nil {
			log.Printf("[Payment] Failed to mark renewal charge %s failed: %v", p.ID, terr)
		}
		return nil, false, fmt.Errorf("renewal charge declined: %w", err)
	}

	if err := s.MarkCompleted(ctx, p.ID, trxID); err != nil {
		return nil, false, err
	}
	p.Status = domain.PaymentCompleted
	return p, true, nil
}

// GetAggregate exposes the loaded payment aggregate for read models.
func (s *PaymentService) GetAggregate(ctx context.Context, paymentID string) (*domain.PaymentAggregate, error) {
	return s.paymentRepo.LoadAggregate(ctx, paymentID)
}
