package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/nusawave/prepaidnet/internal/config"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/repository"
)

const sweepLockName = "scheduler:sweep"

// SweepSummary records what one named sweep did on its last run. Persisted
// to Redis so operators can read it from any instance.
type SweepSummary struct {
	Sweep     string    `json:"sweep"`
	RanAt     time.Time `json:"ran_at"`
	Scanned   int       `json:"scanned"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	// Pending counts rows checked but still awaiting an external outcome,
	// e.g. refunds the provider has not resolved yet. Not failures.
	Pending int    `json:"pending"`
	Elapsed string `json:"elapsed"`
}

// RunSummary aggregates one full scheduler pass.
type RunSummary struct {
	RanAt   time.Time      `json:"ran_at"`
	Sweeps  []SweepSummary `json:"sweeps"`
	Elapsed string         `json:"elapsed"`
}

// LifecycleScheduler drives time-based subscription transitions: expiry,
// auto-renewal, stale session cleanup, and the reconcile pass that retries
// degraded AAA syncs, sends expiry warnings, and re-checks stuck refunds.
// A Redis lock keeps exactly one instance sweeping at a time.
type LifecycleScheduler struct {
	subRepo        domain.SubscriptionRepository
	pkgRepo        domain.PackageRepository
	accountingRepo domain.AccountingRepository
	subs           *SubscriptionService
	payments       *PaymentService
	notifier       Notifier
	cache          *repository.RedisCacheRepository
	locker         *redsync.Redsync
	cfg            config.SchedulerConfig
}

// NewLifecycleScheduler creates the lifecycle scheduler
func NewLifecycleScheduler(
	subRepo domain.SubscriptionRepository,
	pkgRepo domain.PackageRepository,
	accountingRepo domain.AccountingRepository,
	subs *SubscriptionService,
	payments *PaymentService,
	notifier Notifier,
	cache *repository.RedisCacheRepository,
	locker *redsync.Redsync,
	cfg config.SchedulerConfig,
) *LifecycleScheduler {
	return &LifecycleScheduler{
		subRepo:        subRepo,
		pkgRepo:        pkgRepo,
		accountingRepo: accountingRepo,
		subs:           subs,
		payments:       payments,
		notifier:       notifier,
		cache:          cache,
		locker:         locker,
		cfg:            cfg,
	}
}

// Run ticks RunOnce until ctx is cancelled.
func (s *LifecycleScheduler) Run(ctx context.Context) {
	log.Printf("[Scheduler] Starting, interval %s", s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler] Stopping")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, domain.ErrSchedulerBusy) {
					// Another instance holds the lock; its sweep covers us.
					continue
				}
				log.Printf("[Scheduler] Sweep failed: %v", err)
			}
		}
	}
}

// RunOnce takes the cluster lock and runs all sweeps in order. Returns
// domain.ErrSchedulerBusy without sweeping when another instance holds it.
func (s *LifecycleScheduler) RunOnce(ctx context.Context) (*RunSummary, error) {
	mutex := s.locker.NewMutex(sweepLockName,
		redsync.WithExpiry(s.cfg.LockTTL),
		redsync.WithTries(1),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, domain.ErrSchedulerBusy
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			log.Printf("[Scheduler] Failed to release sweep lock: %v", err)
		}
	}()

	start := time.Now()
	summary := &RunSummary{RanAt: start.UTC()}

	summary.Sweeps = append(summary.Sweeps,
		s.ExpireSweep(ctx),
		s.AutoRenewSweep(ctx),
		s.SessionCleanupSweep(ctx),
		s.ReconcileSweep(ctx),
	)
	summary.Elapsed = time.Since(start).String()

	for _, sw := range summary.Sweeps {
		if err := s.cache.SetSweepSummary(ctx, sw.Sweep, sw); err != nil {
			log.Printf("[Scheduler] Failed to store %s summary: %v", sw.Sweep, err)
		}
	}
	if err := s.cache.SetSweepSummary(ctx, "run", summary); err != nil {
		log.Printf("[Scheduler] Failed to store run summary: %v", err)
	}
	return summary, nil
}

// ExpireSweep moves past-expiry active and suspended subscriptions to
// expired. Per-record failures are logged and skipped so one bad row never
// stalls the sweep.
func (s *LifecycleScheduler) ExpireSweep(ctx context.Context) SweepSummary {
	start := time.Now()
	summary := SweepSummary{Sweep: "expire", RanAt: start.UTC()}

	due, err := s.subRepo.FindDueForExpiry(ctx, start.UTC())
	if err != nil {
		log.Printf("[Scheduler] Expire sweep query failed: %v", err)
		summary.Elapsed = time.Since(start).String()
		return summary
	}

	for _, sub := range due {
		summary.Scanned++
		_, sync, err := s.subs.Expire(ctx, sub.ID)
		if err != nil {
			if domain.IsInvalidTransition(err) || errors.Is(err, domain.ErrConcurrencyConflict) {
				// Raced with a renewal or another writer; not a failure.
				continue
			}
			log.Printf("[Scheduler] Failed to expire %s: %v", sub.ID, err)
			summary.Failed++
			continue
		}
		if sync.SyncErr != nil {
			log.Printf("[Scheduler] Expired %s with degraded AAA sync: %v", sub.ID, sync.SyncErr)
		}
		summary.Succeeded++
	}
	summary.Elapsed = time.Since(start).String()
	return summary
}

// AutoRenewSweep charges and renews auto-renew subscriptions inside the
// renewal window. The per-cycle payment key makes a repeat sweep in the same
// cycle a no-op, so a subscriber is never charged twice. A declined charge
// leaves the subscription to fall through to the expire sweep.
func (s *LifecycleScheduler) AutoRenewSweep(ctx context.Context) SweepSummary {
	start := time.Now()
	summary := SweepSummary{Sweep: "auto_renew", RanAt: start.UTC()}

	due, err := s.subRepo.FindDueForAutoRenew(ctx, start.UTC().Add(s.cfg.AutoRenewWindow))
	if err != nil {
		log.Printf("[Scheduler] Auto-renew sweep query failed: %v", err)
		summary.Elapsed = time.Since(start).String()
		return summary
	}

	for _, sub := range due {
		summary.Scanned++

		pkgID := sub.PackageID
		if sub.RenewalPackageID != "" {
			pkgID = sub.RenewalPackageID
		}
		pkg, err := s.pkgRepo.GetByID(ctx, pkgID)
		if err != nil {
			log.Printf("[Scheduler] Renewal package %s missing for %s: %v", pkgID, sub.ID, err)
			summary.Failed++
			continue
		}

		_, charged, err := s.payments.EnsureRenewalPayment(ctx, sub, pkg)
		if err != nil {
			log.Printf("[Scheduler] Renewal charge for %s declined: %v", sub.ID, err)
			summary.Failed++
			continue
		}
		if !charged {
			// Already handled in this cycle.
			continue
		}
		summary.Succeeded++
	}
	summary.Elapsed = time.Since(start).String()
	return summary
}

// SessionCleanupSweep terminates accounting sessions left open on
// subscriptions that are no longer active. A NAS that missed the disconnect
// keeps sending interims; their counters must stop landing.
func (s *LifecycleScheduler) SessionCleanupSweep(ctx context.Context) SweepSummary {
	start := time.Now()
	summary := SweepSummary{Sweep: "session_cleanup", RanAt: start.UTC()}

	sessions, err := s.accountingRepo.FindOpenSessions(ctx, s.cfg.ReconcileBatchMax)
	if err != nil {
		log.Printf("[Scheduler] Session cleanup query failed: %v", err)
		summary.Elapsed = time.Since(start).String()
		return summary
	}

	for _, sess := range sessions {
		summary.Scanned++
		sub, err := s.subRepo.GetByID(ctx, sess.SubscriptionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				if cerr := s.accountingRepo.CloseSession(ctx, sess.NaturalKey, start.UTC(), domain.SessionTerminated); cerr != nil {
					summary.Failed++
					continue
				}
				summary.Succeeded++
			}
			continue
		}
		if sub.Status == domain.SubscriptionActive {
			continue
		}
		if err := s.accountingRepo.CloseSession(ctx, sess.NaturalKey, start.UTC(), domain.SessionTerminated); err != nil {
			log.Printf("[Scheduler] Failed to terminate session %s: %v", sess.NaturalKey, err)
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}
	summary.Elapsed = time.Since(start).String()
	return summary
}

// ReconcileSweep retries degraded AAA syncs, sends expiry warnings, and
// re-checks refunds stuck in processing at the provider.
func (s *LifecycleScheduler) ReconcileSweep(ctx context.Context) SweepSummary {
	start := time.Now()
	summary := SweepSummary{Sweep: "reconcile", RanAt: start.UTC()}

	// Rows whose last AAA push failed get replayed until one lands.
	stale, err := s.subRepo.FindNeedingAaaSync(ctx, s.cfg.ReconcileBatchMax)
	if err != nil {
		log.Printf("[Scheduler] AAA reconcile query failed: %v", err)
	} else {
		for _, sub := range stale {
			summary.Scanned++
			sync, err := s.subs.UpdateAaaBinding(ctx, sub.ID)
			if err != nil {
				log.Printf("[Scheduler] AAA reconcile of %s failed: %v", sub.ID, err)
				summary.Failed++
				continue
			}
			if !sync.Synced {
				summary.Failed++
				continue
			}
			summary.Succeeded++
		}
	}

	// Expiry warnings, once per validity cycle.
	warnable, err := s.subRepo.FindDueForExpiryWarning(ctx, start.UTC(), start.UTC().Add(s.cfg.ExpiryWarnWindow))
	if err != nil {
		log.Printf("[Scheduler] Expiry warning query failed: %v", err)
	} else {
		for _, sub := range warnable {
			summary.Scanned++
			s.notifier.ExpiryWarning(ctx, sub)
			if err := s.subRepo.MarkExpiryWarningSent(ctx, sub.ID, start.UTC()); err != nil {
				log.Printf("[Scheduler] Failed to mark warning sent for %s: %v", sub.ID, err)
				summary.Failed++
				continue
			}
			summary.Succeeded++
		}
	}

	// Completed and failed are both resolved outcomes; rows the provider
	// still has in flight are pending, not sweep failures.
	checked, completed, failed := s.payments.ReconcilePendingRefunds(ctx, start.UTC().Add(-s.cfg.RefundRecheckAge))
	summary.Scanned += checked
	summary.Succeeded += completed + failed
	summary.Pending += checked - completed - failed

	summary.Elapsed = time.Since(start).String()
	return summary
}

// Summary reads the stored summary for a named sweep ("expire",
// "auto_renew", "session_cleanup", "reconcile", or "run").
func (s *LifecycleScheduler) Summary(ctx context.Context, sweep string) (*SweepSummary, error) {
	var summary SweepSummary
	if err := s.cache.GetSweepSummary(ctx, sweep, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// LastRun reads the stored summary of the last full pass.
func (s *LifecycleScheduler) LastRun(ctx context.Context) (*RunSummary, error) {
	var summary RunSummary
	if err := s.cache.GetSweepSummary(ctx, "run", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
