package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nusawave/prepaidnet/internal/config"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/repository"
)

// UsageService turns raw NAS accounting records into daily usage aggregates
// and drives cap enforcement through the subscription state machine. The
// session bookkeeping (natural keys, forward-only counters) makes replayed
// and out-of-order records harmless.
type UsageService struct {
	accountingRepo domain.AccountingRepository
	usageRepo      domain.UsageRepository
	customerRepo   domain.CustomerRepository
	subRepo        domain.SubscriptionRepository
	pkgRepo        domain.PackageRepository
	subs           *SubscriptionService
	cache          *repository.RedisCacheRepository
	cfg            config.UsageConfig
}

// NewUsageService creates the usage aggregator
func NewUsageService(
	accountingRepo domain.AccountingRepository,
	usageRepo domain.UsageRepository,
	customerRepo domain.CustomerRepository,
	subRepo domain.SubscriptionRepository,
	pkgRepo domain.PackageRepository,
	subs *SubscriptionService,
	cache *repository.RedisCacheRepository,
	cfg config.UsageConfig,
) *UsageService {
	return &UsageService{
		accountingRepo: accountingRepo,
		usageRepo:      usageRepo,
		customerRepo:   customerRepo,
		subRepo:        subRepo,
		pkgRepo:        pkgRepo,
		subs:           subs,
		cache:          cache,
		cfg:            cfg,
	}
}

// IngestAccounting processes one raw accounting record end to end: session
// bookkeeping, daily aggregation, and cap enforcement. A record for an
// unknown username or a customer without an active subscription is dropped
// with a log line; the NAS is not the place to surface billing state.
func (s *UsageService) IngestAccounting(ctx context.Context, rec *domain.AccountingRecord) error {
	if rec.Username == "" {
		return fmt.Errorf("accounting record missing username")
	}

	customer, err := s.customerRepo.GetByUsername(ctx, rec.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("[Usage] Dropping accounting for unknown username %s", rec.Username)
			return nil
		}
		return err
	}

	sub, err := s.subRepo.GetActiveByCustomerID(ctx, customer.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("[Usage] Dropping accounting for %s: no active subscription", rec.Username)
			return nil
		}
		return err
	}

	switch rec.Type {
	case domain.AccountingStart:
		return s.handleStart(ctx, rec, sub)
	case domain.AccountingInterim, domain.AccountingStop:
		return s.handleUpdate(ctx, rec, sub)
	default:
		return fmt.Errorf("unknown accounting type %q", rec.Type)
	}
}

func (s *UsageService) handleStart(ctx context.Context, rec *domain.AccountingRecord, sub *domain.Subscription) error {
	session := &domain.AccountingSession{
		NaturalKey:     rec.NaturalKey(),
		Username:       rec.Username,
		SubscriptionID: sub.ID,
		NasID:          rec.NasID,
		SessionID:      rec.SessionID,
		State:          domain.SessionOpen,
		StartedAt:      rec.StartedAt.UTC(),
		LastSeenAt:     time.Now().UTC(),
	}

	if err := s.accountingRepo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, domain.ErrDuplicateAccounting) {
			// Replayed start; the session is already tracked.
			return nil
		}
		return err
	}

	concurrent, err := s.accountingRepo.CountOpenByUsername(ctx, rec.Username)
	if err != nil {
		log.Printf("[Usage] Failed to count open sessions for %s: %v", rec.Username, err)
		concurrent = 1
	}

	return s.applyDelta(ctx, sub, rec.StartedAt, domain.UsageDelta{
		SessionDelta:  1,
		ConcurrentNow: int(concurrent),
	})
}

func (s *UsageService) handleUpdate(ctx context.Context, rec *domain.AccountingRecord, sub *domain.Subscription) error {
	key := rec.NaturalKey()

	session, err := s.accountingRepo.GetByNaturalKey(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		// The start record never arrived (NAS reboot, lost packet). Create
		// the session on the fly so the counters still land somewhere.
		session = &domain.AccountingSession{
			NaturalKey:     key,
			Username:       rec.Username,
			SubscriptionID: sub.ID,
			NasID:          rec.NasID,
			SessionID:      rec.SessionID,
			State:          domain.SessionOpen,
			StartedAt:      rec.StartedAt.UTC(),
			LastSeenAt:     time.Now().UTC(),
		}
		if err := s.accountingRepo.CreateSession(ctx, session); err != nil && !errors.Is(err, domain.ErrDuplicateAccounting) {
			return err
		}
	}

	inDelta, outDelta, err := s.accountingRepo.AdvanceCounters(ctx, key, rec.BytesIn, rec.BytesOut, time.Now().UTC())
	if err != nil {
		return err
	}

	delta := domain.UsageDelta{
		BytesUp:   inDelta,
		BytesDown: outDelta,
	}

	if rec.Type == domain.AccountingStop {
		stoppedAt := time.Now().UTC()
		if rec.StoppedAt != nil {
			stoppedAt = rec.StoppedAt.UTC()
		}
		// Session seconds are counted once, on the stop record.
		if secs := int64(stoppedAt.Sub(rec.StartedAt.UTC()).Seconds()); secs > 0 {
			delta.SecondsDelta = secs
		}
		if err := s.accountingRepo.CloseSession(ctx, key, stoppedAt, domain.SessionClosed); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Printf("[Usage] Failed to close session %s: %v", key, err)
		}
	}

	if delta.BytesUp == 0 && delta.BytesDown == 0 && delta.SecondsDelta == 0 {
		// Replayed or reordered record; nothing new to fold in.
		return nil
	}

	at := time.Now().UTC()
	if rec.StoppedAt != nil {
		at = rec.StoppedAt.UTC()
	}
	return s.applyDelta(ctx, sub, at, delta)
}

// applyDelta folds a usage increment into the daily aggregate and the
// subscription counters, then drops the cached snapshot.
func (s *UsageService) applyDelta(ctx context.Context, sub *domain.Subscription, at time.Time, delta domain.UsageDelta) error {
	date := at.UTC().Format(domain.UsageDateLayout)

	if err := s.subs.RecordUsage(ctx, sub.ID, date, delta); err != nil {
		return err
	}

	if err := s.cache.InvalidateUsageSnapshot(ctx, sub.ID); err != nil {
		log.Printf("[Usage] Failed to invalidate snapshot for %s: %v", sub.ID, err)
	}
	return nil
}

// Snapshot returns the current usage against the package cap, served from
// the Redis cache when fresh.
func (s *UsageService) Snapshot(ctx context.Context, subscriptionID string) (*domain.UsageSnapshot, error) {
	if cached, err := s.cache.GetUsageSnapshot(ctx, subscriptionID); err == nil {
		return cached, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Printf("[Usage] Snapshot cache read failed for %s: %v", subscriptionID, err)
	}

	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	pkg, err := s.pkgRepo.GetByID(ctx, sub.PackageID)
	if err != nil {
		return nil, err
	}

	snapshot := &domain.UsageSnapshot{
		SubscriptionID: subscriptionID,
		UsedBytes:      sub.DataUsed,
		CapBytes:       pkg.DataCapBytes,
	}
	if pkg.DataCapBytes != nil && *pkg.DataCapBytes > 0 {
		snapshot.Percent = float64(sub.DataUsed) / float64(*pkg.DataCapBytes) * 100
		snapshot.Approaching = snapshot.Percent >= s.cfg.ApproachingPercent
		snapshot.Over = snapshot.Percent >= 100
	}

	if err := s.cache.SetUsageSnapshot(ctx, snapshot, s.cfg.SnapshotTTL); err != nil {
		log.Printf("[Usage] Failed to cache snapshot for %s: %v", subscriptionID, err)
	}
	return snapshot, nil
}

// DailyUsage returns the stored daily aggregates for a subscription over an
// inclusive date range.
func (s *UsageService) DailyUsage(ctx context.Context, subscriptionID, from, to string) ([]*domain.DataUsageRecord, error) {
	return s.usageRepo.ListBySubscription(ctx, subscriptionID, from, to)
}
