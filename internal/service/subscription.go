package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nusawave/prepaidnet/internal/domain"
)

// SyncResult reports whether the AAA side caught up with a committed local
// transition. Synced=false is a degraded success: the local state is
// authoritative and the reconcile sweep retries the push.
type SyncResult struct {
	Synced  bool
	SyncErr error
}

func syncedOK() SyncResult { return SyncResult{Synced: true} }

// SubscriptionService owns the subscription state machine. It is the only
// writer of subscription status. Every operation commits the local
// transition first (CAS on the loaded version), then performs AAA I/O
// outside any storage transaction, then emits events.
type SubscriptionService struct {
	subRepo      domain.SubscriptionRepository
	customerRepo domain.CustomerRepository
	pkgRepo      domain.PackageRepository
	usageRepo    domain.UsageRepository
	acctRepo     domain.AccountingRepository
	aaa          *AaaAdapter
	dispatcher   domain.Dispatcher
}

// NewSubscriptionService creates the subscription state machine service
func NewSubscriptionService(
	subRepo domain.SubscriptionRepository,
	customerRepo domain.CustomerRepository,
	pkgRepo domain.PackageRepository,
	usageRepo domain.UsageRepository,
	acctRepo domain.AccountingRepository,
	aaa *AaaAdapter,
	dispatcher domain.Dispatcher,
) *SubscriptionService {
	return &SubscriptionService{
		subRepo:      subRepo,
		customerRepo: customerRepo,
		pkgRepo:      pkgRepo,
		usageRepo:    usageRepo,
		acctRepo:     acctRepo,
		aaa:          aaa,
		dispatcher:   dispatcher,
	}
}

func (s *SubscriptionService) loadParts(ctx context.Context, sub *domain.Subscription) (*domain.Customer, *domain.Package, error) {
	customer, err := s.customerRepo.GetByID(ctx, sub.CustomerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load customer %s: %w", sub.CustomerID, err)
	}
	pkg, err := s.pkgRepo.GetByID(ctx, sub.PackageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load package %s: %w", sub.PackageID, err)
	}
	return customer, pkg, nil
}

// pushUpsert re-projects the subscription into AAA after a commit. On
// failure the row is flagged for the reconcile sweep and the degraded
// result carries the sync error.
func (s *SubscriptionService) pushUpsert(ctx context.Context, sub *domain.Subscription, pkg *domain.Package, customer *domain.Customer) SyncResult {
	if err := s.aaa.Upsert(ctx, sub, pkg, customer); err != nil {
		log.Printf("[Subscription] AAA upsert failed for %s: %v", sub.ID, err)
		if flagErr := s.subRepo.SetNeedsAaaSync(ctx, sub.ID, true, err.Error()); flagErr != nil {
			log.Printf("[Subscription] Failed to flag %s for resync: %v", sub.ID, flagErr)
		}
		return SyncResult{SyncErr: err}
	}
	if sub.NeedsAaaSync {
		if err := s.subRepo.SetNeedsAaaSync(ctx, sub.ID, false, ""); err != nil {
			log.Printf("[Subscription] Failed to clear resync flag on %s: %v", sub.ID, err)
		}
	}
	return syncedOK()
}

func (s *SubscriptionService) pushDisable(ctx context.Context, sub *domain.Subscription, username string) SyncResult {
	if err := s.aaa.Disable(ctx, sub, username); err != nil {
		log.Printf("[Subscription] AAA disable failed for %s: %v", sub.ID, err)
		if flagErr := s.subRepo.SetNeedsAaaSync(ctx, sub.ID, true, err.Error()); flagErr != nil {
			log.Printf("[Subscription] Failed to flag %s for resync: %v", sub.ID, flagErr)
		}
		return SyncResult{SyncErr: err}
	}
	if sub.NeedsAaaSync {
		if err := s.subRepo.SetNeedsAaaSync(ctx, sub.ID, false, ""); err != nil {
			log.Printf("[Subscription] Failed to clear resync flag on %s: %v", sub.ID, err)
		}
	}
	return syncedOK()
}

func (s *SubscriptionService) emitStatusChange(ctx context.Context, sub *domain.Subscription, from domain.SubscriptionStatus, reason string) {
	s.dispatcher.Dispatch(ctx, domain.SubscriptionStatusChanged{
		Subscription: sub,
		From:         from,
		To:           sub.Status,
		Reason:       reason,
		At:           time.Now().UTC(),
	})
}

// Create opens a pending subscription for a purchased package. Non-trial
// packages enforce the single-active policy: one active subscription per
// customer at a time.
func (s *SubscriptionService) Create(ctx context.Context, customerID, packageID string, autoRenew bool) (*domain.Subscription, error) {
	customer, err := s.customerRepo.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	pkg, err := s.pkgRepo.GetByID(ctx, packageID)
	if err != nil {
		return nil, err
	}

	if !pkg.IsTrial {
		if _, err := s.subRepo.GetActiveByCustomerID(ctx, customerID); err == nil {
			return nil, domain.ErrActiveSubscriptionExists
		} else if err != domain.ErrNotFound {
			return nil, err
		}
	}

	sub := &domain.Subscription{
		CustomerID: customerID,
		PackageID:  packageID,
		Status:     domain.SubscriptionPending,
		IsTrial:    pkg.IsTrial,
		AutoRenew:  autoRenew,
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, domain.SubscriptionCreated{Subscription: sub, Customer: customer, Package: pkg})
	return sub, nil
}

// AssignTrial creates and immediately activates a fresh trial subscription,
// the one path that builds a new record instead of reusing one.
func (s *SubscriptionService) AssignTrial(ctx context.Context, customerID string) (*domain.Subscription, SyncResult, error) {
	customer, err := s.customerRepo.GetByID(ctx, customerID)
	if err != nil {
		return nil, SyncResult{}, err
	}
	pkg, err := s.pkgRepo.GetTrialPackage(ctx)
	if err != nil {
		return nil, SyncResult{}, fmt.Errorf("no active trial package: %w", err)
	}

	now := time.Now().UTC()
	expires := pkg.ExpiryFrom(now)
	sub := &domain.Subscription{
		CustomerID: customerID,
		PackageID:  pkg.ID,
		Status:     domain.SubscriptionActive,
		StartsAt:   &now,
		ExpiresAt:  &expires,
		IsTrial:    true,
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, SyncResult{}, err
	}

	sync := s.pushUpsert(ctx, sub, pkg, customer)
	s.dispatcher.Dispatch(ctx, domain.TrialAssigned{Subscription: sub, Customer: customer, Package: pkg})
	return sub, sync, nil
}

// Activate moves pending or suspended to active, stamping starts_at and
// expires_at on first activation. The local transition commits regardless
// of AAA availability; the SyncResult says whether the network side kept up.
func (s *SubscriptionService) Activate(ctx context.Context, id string) (*domain.Subscription, SyncResult, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if sub.Status != domain.SubscriptionPending && sub.Status != domain.SubscriptionSuspended {
		return nil, SyncResult{}, &domain.InvalidTransitionError{
			Entity: "subscription", From: string(sub.Status), To: string(domain.SubscriptionActive),
		}
	}
	customer, pkg, err := s.loadParts(ctx, sub)
	if err != nil {
		return nil, SyncResult{}, err
	}

	from := sub.Status
	now := time.Now().UTC()
	sub.Status = domain.SubscriptionActive
	sub.SuspendReason = ""
	if sub.StartsAt == nil {
		sub.StartsAt = &now
	}
	if sub.ExpiresAt == nil {
		expires := pkg.ExpiryFrom(now)
		sub.ExpiresAt = &expires
	}
	if err := s.subRepo.UpdateCAS(ctx, sub); err != nil {
		return nil, SyncResult{}, err
	}

	sync := s.pushUpsert(ctx, sub, pkg, customer)
	s.emitStatusChange(ctx, sub, from, "activated")
	return sub, sync, nil
}

// Suspend moves active to suspended, disables the AAA record, and
// best-effort terminates the subscription's open accounting sessions.
func (s *SubscriptionService) Suspend(ctx context.Context, id, reason string) (*domain.Subscription, SyncResult, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if sub.Status != domain.SubscriptionActive {
		return nil, SyncResult{}, &domain.InvalidTransitionError{
			Entity: "subscription", From: string(sub.Status), To: string(domain.SubscriptionSuspended),
		}
	}
	customer, _, err := s.loadParts(ctx, sub)
	if err != nil {
		return nil, SyncResult{}, err
	}

	from := sub.Status
	sub.Status = domain.SubscriptionSuspended
	sub.SuspendReason = reason
	if err := s.subRepo.UpdateCAS(ctx, sub); err != nil {
		return nil, SyncResult{}, err
	}

	sync := s.pushDisable(ctx, sub, customer.Username)
	s.terminateOpenSessions(ctx, sub.ID)
	s.emitStatusChange(ctx, sub, from, reason)
	return sub, sync, nil
}

// terminateOpenSessions closes the subscription's open accounting sessions.
// Best-effort: failures are logged, never fatal.
func (s *SubscriptionService) terminateOpenSessions(ctx context.Context, subID string) {
	sessions, err := s.acctRepo.FindOpenBySubscriptionIDs(ctx, []string{subID})
	if err != nil {
		log.Printf("[Subscription] Failed to list open sessions for %s: %v", subID, err)
		return
	}
	now := time.Now().UTC()
	for _, sess := range sessions {
		if err := s.acctRepo.CloseSession(ctx, sess.NaturalKey, now, domain.SessionTerminated); err != nil {
			log.Printf("[Subscription] Failed to terminate session %s: %v", sess.NaturalKey, err)
		}
	}
}

// Resume moves suspended back to active and re-enables the AAA record.
func (s *SubscriptionService) Resume(ctx context.Context, id string) (*domain.Subscription, SyncResult, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if sub.Status != domain.SubscriptionSuspended {
		return nil, SyncResult{}, &domain.InvalidTransitionError{
			Entity: "subscription", From: string(sub.Status), To: string(domain.SubscriptionActive),
		}
	}
	customer, pkg, err := s.loadParts(ctx, sub)
	if err != nil {
		return nil, SyncResult{}, err
	}

	from := sub.Status
	sub.Status = domain.SubscriptionActive
	sub.SuspendReason = ""
	if err := s.subRepo.UpdateCAS(ctx, sub); err != nil {
		return nil, SyncResult{}, err
	}

	sync := s.pushUpsert(ctx, sub, pkg, customer)
	s.emitStatusChange(ctx, sub, from, "resumed")
	return sub, sync, nil
}

// Expire moves active or suspended to expired once expires_at has passed.
func (s *SubscriptionService) Expire(ctx context.Context, id string) (*domain.Subscription, SyncResult, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if err := sub.EnsureTransition(domain.SubscriptionExpired); err != nil {
		return nil, SyncResult{}, err
	}
	if !sub.IsExpiredAt(time.Now().UTC()) {
		return nil, SyncResult{}, fmt.Errorf("subscription %s has not reached its expiry", sub.ID)
	}
	customer, _, err := s.loadParts(ctx, sub)
	if err != nil {
		return nil, SyncResult{}, err
	}

	from := sub.Status
	sub.Status = domain.SubscriptionExpired
	if err := s.subRepo.UpdateCAS(ctx, sub); err != nil {
		return nil, SyncResult{}, err
	}

	sync := s.pushDisable(ctx, sub, customer.Username)
	s.emitStatusChange(ctx, sub, from, "expired")
	return sub, sync, nil
}

// Renew re-enters active on the same record with a new package and expiry,
// starting a fresh usage cycle. Blocked and cancelled records stay dead.
func (s *SubscriptionService) Renew(ctx context.Context, id, newPackageID string, newExpiry *time.Time) (*domain.Subscription, SyncResult, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if !domain.CanRenew(sub.Status) {
		return nil, SyncResult{}, &domain.InvalidTransitionError{
			Entity: "subscription", From: string(sub.Status), To: string(domain.SubscriptionActive),
		}
	}

	if newPackageID == "" {
		newPackageID = sub.PackageID
	}
	pkg, err := s.pkgRepo.GetByID(ctx, newPackageID)
	if err != nil {
		return nil, SyncResult{}, err
	}
	customer, err := s.customerRepo.GetByID(ctx, sub.CustomerID)
	if err != nil {
		return nil, SyncResult{}, err
	}

	now := time.Now().UTC()
	expiry := pkg.ExpiryFrom(now)
	if newExpiry != nil {
		expiry = *newExpiry
	} else if sub.ExpiresAt != nil && sub.ExpiresAt.After(now) {
		// Renewing early stacks onto the remaining validity.
		expiry = pkg.ExpiryFrom(*sub.ExpiresAt)
	}
	if !expiry.After(now) {
		return nil, SyncResult{}, fmt.Errorf("renewal expiry %s is not in the future", expiry)
	}

	from := sub.Status
	sub.Status = domain.SubscriptionActive
	sub.PackageID = pkg.ID
	sub.ExpiresAt = &expiry
	sub.SuspendReason = ""
	sub.ExpiryWarningSentAt = nil
	if sub.StartsAt == nil {
		sub.StartsAt = &now
	}
	if err := s.subRepo.UpdateCAS(ctx, sub); err != nil {
		return nil, SyncResult{}, err
	}
	if err := s.subRepo.ResetUsage(ctx, sub.ID); err != nil {
		log.Printf("[Subscription] Failed to reset usage on renew of %s: %v", sub.ID, err)
	}

	sync := s.pushUpsert(ctx, sub, pkg, customer)
	s.emitStatusChange(ctx, sub, from, "renewed")
	return sub, sync, nil
}

// Cancel terminates the subscription instance from pending or active.
func (s *SubscriptionService) Cancel(ctx context.Context, id, reason string) (*domain.Subscription, SyncResult, error) {
	return s.forceOff(ctx, id, domain.SubscriptionCancelled, reason)
}

// Block force-disables the subscription; reachable from any state.
func (s *SubscriptionService) Block(ctx context.Context, id, reason string) (*domain.Subscription, SyncResult, error) {
	return s.forceOff(ctx, id, domain.SubscriptionBlocked, reason)
}

func (s *SubscriptionService) forceOff(ctx context.Context, id string, to domain.SubscriptionStatus, reason string) (*domain.Subscription, SyncResult, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, SyncResult{}, err
	}
	if err := sub.EnsureTransition(to); err != nil {
		return nil, SyncResult{}, err
	}
	customer, _, err := s.loadParts(ctx, sub)
	if err != nil {
		return nil, SyncResult{}, err
	}

	from := sub.Status
	sub.Status = to
	sub.SuspendReason = reason
	if err := s.subRepo.UpdateCAS(ctx, sub); err != nil {
		return nil, SyncResult{}, err
	}

	sync := s.pushDisable(ctx, sub, customer.Username)
	s.terminateOpenSessions(ctx, sub.ID)
	s.emitStatusChange(ctx, sub, from, reason)
	return sub, sync, nil
}

// UpdateAaaBinding idempotently re-projects the subscription into the AAA
// store: active rows are upserted, everything else disabled. Used after any
// attribute-relevant change and by the reconcile sweep.
func (s *SubscriptionService) UpdateAaaBinding(ctx context.Context, id string) (SyncResult, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	customer, pkg, err := s.loadParts(ctx, sub)
	if err != nil {
		return SyncResult{}, err
	}

	if sub.Status == domain.SubscriptionActive {
		return s.pushUpsert(ctx, sub, pkg, customer), nil
	}
	return s.pushDisable(ctx, sub, customer.Username), nil
}

// RecordUsage folds one usage increment into the daily aggregate and the
// subscription's lifetime counter, then enforces the package cap. The byte
// increment is a single atomic $inc, and the cap-breach suspension rides a
// status CAS, so two concurrent increments that jointly cross the cap both
// land but exactly one triggers the suspend.
func (s *SubscriptionService) RecordUsage(ctx context.Context, id, date string, delta domain.UsageDelta) error {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.usageRepo.UpsertDaily(ctx, id, date, delta); err != nil {
		return err
	}

	total, err := s.subRepo.AddUsage(ctx, id, delta.BytesUp+delta.BytesDown, delta.SessionDelta)
	if err != nil {
		return err
	}

	pkg, err := s.pkgRepo.GetByID(ctx, sub.PackageID)
	if err != nil {
		return err
	}
	if pkg.DataCapBytes == nil || total < *pkg.DataCapBytes {
		return nil
	}

	// Cap reached. Only the CAS winner disables the network side.
	won, err := s.subRepo.CASStatus(ctx, id, domain.SubscriptionActive, domain.SubscriptionSuspended, "data limit exceeded")
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	log.Printf("[Subscription] Data cap reached for %s (%d >= %d), suspending", id, total, *pkg.DataCapBytes)

	suspended, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	customer, err := s.customerRepo.GetByID(ctx, sub.CustomerID)
	if err != nil {
		return err
	}
	if res := s.pushDisable(ctx, suspended, customer.Username); res.SyncErr != nil {
		// Already flagged for resync; the local suspension stands.
		log.Printf("[Subscription] AAA disable after cap breach will be retried: %v", res.SyncErr)
	}
	s.terminateOpenSessions(ctx, id)
	s.emitStatusChange(ctx, suspended, domain.SubscriptionActive, "data limit exceeded")
	return nil
}

// Get returns a subscription by id.
func (s *SubscriptionService) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	return s.subRepo.GetByID(ctx, id)
}
