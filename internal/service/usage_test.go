package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nusawave/prepaidnet/internal/config"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/repository"
)

type usageEnv struct {
	*coreEnv
	cache *repository.RedisCacheRepository
	usage *UsageService
}

func newUsageEnv(t *testing.T) *usageEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	core := newCoreEnv()
	cache := repository.NewRedisCacheRepository(client)
	cfg := config.UsageConfig{ApproachingPercent: 80, SnapshotTTL: time.Minute}
	return &usageEnv{
		coreEnv: core,
		cache:   cache,
		usage:   NewUsageService(core.acctRepo, core.usageRepo, core.custRepo, core.subRepo, core.pkgRepo, core.subs, cache, cfg),
	}
}

func TestIngestSessionLifecycle(t *testing.T) {
	env := newUsageEnv(t)
	ctx := context.Background()
	customer := env.seedCustomer(t, "wawan")
	pkg := env.seedPackage(t, nil)
	sub := env.seedActiveSub(t, customer, pkg)

	startedAt := time.Now().UTC().Add(-30 * time.Minute)
	start := &domain.AccountingRecord{
		Type:      domain.AccountingStart,
		Username:  customer.Username,
		NasID:     "nas-1",
		SessionID: "8100000a",
		StartedAt: startedAt,
	}
	require.NoError(t, env.usage.IngestAccounting(ctx, start))

	date := startedAt.Format(domain.UsageDateLayout)
	daily, err := env.usageRepo.GetDaily(ctx, sub.ID, date)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.SessionCount)
	assert.Equal(t, 1, daily.PeakConcurrent)

	// A replayed start is absorbed without a second session count.
	require.NoError(t, env.usage.IngestAccounting(ctx, start))
	daily, err = env.usageRepo.GetDaily(ctx, sub.ID, date)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.SessionCount)

	interim := &domain.AccountingRecord{
		Type:      domain.AccountingInterim,
		Username:  customer.Username,
		NasID:     "nas-1",
		SessionID: "8100000a",
		StartedAt: startedAt,
		BytesIn:   1000,
		BytesOut:  5000,
	}
	require.NoError(t, env.usage.IngestAccounting(ctx, interim))

	stored, err := env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), stored.DataUsed)

	// The same interim again: cumulative counters have not moved, so
	// nothing is double counted.
	require.NoError(t, env.usage.IngestAccounting(ctx, interim))
	stored, err = env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), stored.DataUsed)

	// An out-of-order interim with lower counters applies a zero delta.
	stale := *interim
	stale.BytesIn = 500
	stale.BytesOut = 2000
	require.NoError(t, env.usage.IngestAccounting(ctx, &stale))
	stored, err = env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), stored.DataUsed)

	stoppedAt := startedAt.Add(25 * time.Minute)
	stop := &domain.AccountingRecord{
		Type:      domain.AccountingStop,
		Username:  customer.Username,
		NasID:     "nas-1",
		SessionID: "8100000a",
		StartedAt: startedAt,
		StoppedAt: &stoppedAt,
		BytesIn:   1500,
		BytesOut:  9000,
	}
	require.NoError(t, env.usage.IngestAccounting(ctx, stop))

	stored, err = env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10500), stored.DataUsed)

	session, err := env.acctRepo.GetByNaturalKey(ctx, stop.NaturalKey())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionClosed, session.State)
	require.NotNil(t, session.StoppedAt)

	daily, err = env.usageRepo.GetDaily(ctx, sub.ID, stoppedAt.Format(domain.UsageDateLayout))
	require.NoError(t, err)
	assert.Equal(t, int64(25*60), daily.SessionSeconds, "seconds are counted once, on the stop")
}

func TestIngestUnknownUsernameDropped(t *testing.T) {
	env := newUsageEnv(t)
	ctx := context.Background()

	rec := &domain.AccountingRecord{
		Type:      domain.AccountingStart,
		Username:  "ghost",
		NasID:     "nas-1",
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, env.usage.IngestAccounting(ctx, rec), "unknown usernames are dropped, not errors")

	_, err := env.acctRepo.GetByNaturalKey(ctx, rec.NaturalKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIngestWithoutActiveSubscriptionDropped(t *testing.T) {
	env := newUsageEnv(t)
	ctx := context.Background()
	customer := env.seedCustomer(t, "xena")

	rec := &domain.AccountingRecord{
		Type:      domain.AccountingStart,
		Username:  customer.Username,
		NasID:     "nas-1",
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, env.usage.IngestAccounting(ctx, rec))

	_, err := env.acctRepo.GetByNaturalKey(ctx, rec.NaturalKey())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInterimWithoutStartCreatesSession(t *testing.T) {
	env := newUsageEnv(t)
	ctx := context.Background()
	customer := env.seedCustomer(t, "yani")
	pkg := env.seedPackage(t, nil)
	sub := env.seedActiveSub(t, customer, pkg)

	// The start record was lost; the interim still has to land somewhere.
	rec := &domain.AccountingRecord{
		Type:      domain.AccountingInterim,
		Username:  customer.Username,
		NasID:     "nas-2",
		SessionID: "8100000b",
		StartedAt: time.Now().UTC().Add(-10 * time.Minute),
		BytesIn:   2000,
		BytesOut:  8000,
	}
	require.NoError(t, env.usage.IngestAccounting(ctx, rec))

	session, err := env.acctRepo.GetByNaturalKey(ctx, rec.NaturalKey())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionOpen, session.State)
	assert.Equal(t, sub.ID, session.SubscriptionID)

	stored, err := env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stored.DataUsed)
}

func TestSnapshotThresholdsAndCache(t *testing.T) {
	env := newUsageEnv(t)
	ctx := context.Background()
	customer := env.seedCustomer(t, "zain")
	capBytes := int64(10000)
	pkg := env.seedPackage(t, func(p *domain.Package) {
		p.DataCapBytes = &capBytes
	})
	sub := env.seedActiveSub(t, customer, pkg)

	_, err := env.subRepo.AddUsage(ctx, sub.ID, 8500, 1)
	require.NoError(t, err)

	snap, err := env.usage.Snapshot(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8500), snap.UsedBytes)
	assert.InDelta(t, 85.0, snap.Percent, 0.01)
	assert.True(t, snap.Approaching)
	assert.False(t, snap.Over)

	// Served from cache until an ingest invalidates it.
	_, err = env.subRepo.AddUsage(ctx, sub.ID, 3000, 0)
	require.NoError(t, err)
	cached, err := env.usage.Snapshot(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8500), cached.UsedBytes)

	require.NoError(t, env.cache.InvalidateUsageSnapshot(ctx, sub.ID))
	fresh, err := env.usage.Snapshot(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11500), fresh.UsedBytes)
	assert.True(t, fresh.Over)
}

func TestSnapshotUnlimitedPackage(t *testing.T) {
	env := newUsageEnv(t)
	ctx := context.Background()
	customer := env.seedCustomer(t, "adi")
	pkg := env.seedPackage(t, nil) // no cap
	sub := env.seedActiveSub(t, customer, pkg)

	_, err := env.subRepo.AddUsage(ctx, sub.ID, 5_000_000_000, 1)
	require.NoError(t, err)

	snap, err := env.usage.Snapshot(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.CapBytes)
	assert.Zero(t, snap.Percent)
	assert.False(t, snap.Approaching)
	assert.False(t, snap.Over)
}
