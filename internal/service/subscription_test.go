package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nusawave/prepaidnet/internal/domain"
)

func TestActivateStampsExpiryAndProvisions(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "budi")
	pkg := env.seedPackage(t, nil)

	sub, err := env.subs.Create(ctx, customer.ID, pkg.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPending, sub.Status)
	assert.Nil(t, sub.ExpiresAt)

	activated, sync, err := env.subs.Activate(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, sync.Synced)
	assert.Equal(t, domain.SubscriptionActive, activated.Status)
	require.NotNil(t, activated.StartsAt)
	require.NotNil(t, activated.ExpiresAt)
	assert.WithinDuration(t, pkg.ExpiryFrom(*activated.StartsAt), *activated.ExpiresAt, time.Second)

	// The AAA projection: user bound to the package group, group carrying
	// the rate limit.
	user, ok := env.store.User(customer.Username)
	require.True(t, ok)
	assert.Equal(t, pkg.GroupName(), user.GroupName)
	group, ok := env.store.Group(pkg.GroupName())
	require.True(t, ok)
	found := false
	for _, attr := range group.ReplyAttrs {
		if attr.Name == "Mikrotik-Rate-Limit" {
			found = true
			assert.Equal(t, "2048k/10240k", attr.Value)
		}
	}
	assert.True(t, found, "group should carry Mikrotik-Rate-Limit")
}

func TestActivateCommitsLocallyWhenAaaDown(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "siti")
	pkg := env.seedPackage(t, nil)

	sub, err := env.subs.Create(ctx, customer.ID, pkg.ID, false)
	require.NoError(t, err)

	env.store.FailWith = errors.New("radius unreachable")
	activated, sync, err := env.subs.Activate(ctx, sub.ID)
	require.NoError(t, err, "local commit must succeed without AAA")
	assert.False(t, sync.Synced)
	assert.Error(t, sync.SyncErr)
	var syncErr *domain.ExternalSyncError
	assert.True(t, errors.As(sync.SyncErr, &syncErr))
	assert.Equal(t, domain.SubscriptionActive, activated.Status)

	stored, err := env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, stored.NeedsAaaSync)
	assert.NotEmpty(t, stored.LastSyncError)

	// AAA comes back; the reconcile path clears the flag.
	env.store.FailWith = nil
	res, err := env.subs.UpdateAaaBinding(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, res.Synced)
	stored, err = env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, stored.NeedsAaaSync)
	_, ok := env.store.User(customer.Username)
	assert.True(t, ok)
}

func TestCreateEnforcesSingleActive(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "agus")
	pkg := env.seedPackage(t, nil)
	env.seedActiveSub(t, customer, pkg)

	_, err := env.subs.Create(ctx, customer.ID, pkg.ID, false)
	assert.ErrorIs(t, err, domain.ErrActiveSubscriptionExists)

	// Trials are exempt from the single-active policy.
	trial := env.seedPackage(t, func(p *domain.Package) {
		p.Name = "Trial 6 Jam"
		p.Price = 0
		p.DurationUnit = domain.DurationTrial
		p.DurationCount = 6
		p.IsTrial = true
	})
	_, err = env.subs.Create(ctx, customer.ID, trial.ID, false)
	assert.NoError(t, err)
}

func TestSuspendDisablesAndTerminatesSessions(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "dewi")
	pkg := env.seedPackage(t, nil)
	sub := env.seedActiveSub(t, customer, pkg)

	session := &domain.AccountingSession{
		NaturalKey:     "dewi|1700000000|nas-1",
		Username:       customer.Username,
		SubscriptionID: sub.ID,
		State:          domain.SessionOpen,
		StartedAt:      time.Now().UTC(),
	}
	require.NoError(t, env.acctRepo.CreateSession(ctx, session))

	suspended, sync, err := env.subs.Suspend(ctx, sub.ID, "unpaid invoice")
	require.NoError(t, err)
	assert.True(t, sync.Synced)
	assert.Equal(t, domain.SubscriptionSuspended, suspended.Status)
	assert.Equal(t, "unpaid invoice", suspended.SuspendReason)
	assert.True(t, env.store.IsDisabled(customer.Username))

	stored, err := env.acctRepo.GetByNaturalKey(ctx, session.NaturalKey)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionTerminated, stored.State)

	// Resume clears the reason and re-enables the network side.
	resumed, sync, err := env.subs.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, sync.Synced)
	assert.Equal(t, domain.SubscriptionActive, resumed.Status)
	assert.Empty(t, resumed.SuspendReason)
	assert.False(t, env.store.IsDisabled(customer.Username))
}

func TestSuspendRequiresActive(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "eko")
	pkg := env.seedPackage(t, nil)

	sub, err := env.subs.Create(ctx, customer.ID, pkg.ID, false)
	require.NoError(t, err)

	_, _, err = env.subs.Suspend(ctx, sub.ID, "whatever")
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestRenewResetsUsageAndStacksExpiry(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "fajar")
	pkg := env.seedPackage(t, nil)
	sub := env.seedActiveSub(t, customer, pkg)
	oldExpiry := *sub.ExpiresAt

	_, err := env.subRepo.AddUsage(ctx, sub.ID, 42_000_000, 3)
	require.NoError(t, err)
	warnAt := time.Now().UTC()
	require.NoError(t, env.subRepo.MarkExpiryWarningSent(ctx, sub.ID, warnAt))

	renewed, sync, err := env.subs.Renew(ctx, sub.ID, "", nil)
	require.NoError(t, err)
	assert.True(t, sync.Synced)
	assert.Equal(t, domain.SubscriptionActive, renewed.Status)
	// Renewing before expiry stacks the new cycle onto the remaining time.
	assert.WithinDuration(t, pkg.ExpiryFrom(oldExpiry), *renewed.ExpiresAt, time.Second)
	assert.Nil(t, renewed.ExpiryWarningSentAt)

	stored, err := env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.DataUsed, "renewal starts a fresh usage cycle")
	assert.Zero(t, stored.SessionsUsed)
}

func TestRenewFromExpiredStartsFreshCycle(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "gita")
	pkg := env.seedPackage(t, nil)
	sub := env.seedActiveSub(t, customer, pkg)

	past := time.Now().UTC().Add(-48 * time.Hour)
	sub.Status = domain.SubscriptionExpired
	sub.ExpiresAt = &past
	require.NoError(t, env.subRepo.UpdateCAS(ctx, sub))

	renewed, _, err := env.subs.Renew(ctx, sub.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, renewed.Status)
	assert.True(t, renewed.ExpiresAt.After(time.Now().UTC()))
}

func TestRenewBlockedStaysDead(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "hadi")
	pkg := env.seedPackage(t, nil)
	sub := env.seedActiveSub(t, customer, pkg)

	_, _, err := env.subs.Block(ctx, sub.ID, "fraud")
	require.NoError(t, err)

	_, _, err = env.subs.Renew(ctx, sub.ID, "", nil)
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestRecordUsageCapSuspendsExactlyOnce(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "indra")
	capBytes := int64(1000)
	pkg := env.seedPackage(t, func(p *domain.Package) {
		p.Name = "Kuota Kecil"
		p.DataCapBytes = &capBytes
	})
	sub := env.seedActiveSub(t, customer, pkg)
	date := time.Now().UTC().Format(domain.UsageDateLayout)

	require.NoError(t, env.subs.RecordUsage(ctx, sub.ID, date, domain.UsageDelta{BytesDown: 600}))
	stored, err := env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, stored.Status, "below cap stays active")

	require.NoError(t, env.subs.RecordUsage(ctx, sub.ID, date, domain.UsageDelta{BytesDown: 600}))
	stored, err = env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionSuspended, stored.Status)
	assert.Equal(t, "data limit exceeded", stored.SuspendReason)
	assert.Equal(t, int64(1200), stored.DataUsed, "the crossing increment still lands")

	// A straggling record after the suspension must not disable twice.
	require.NoError(t, env.subs.RecordUsage(ctx, sub.ID, date, domain.UsageDelta{BytesDown: 100}))
	assert.Equal(t, 1, env.store.OpCount("disable_user:"+customer.Username))
}

func TestRecordUsageConcurrentCapBreach(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "indra2")
	capBytes := int64(1000)
	pkg := env.seedPackage(t, func(p *domain.Package) {
		p.Name = "Kuota Kecil"
		p.DataCapBytes = &capBytes
	})
	sub := env.seedActiveSub(t, customer, pkg)
	date := time.Now().UTC().Format(domain.UsageDateLayout)

	// Two NAS interims land at once and together cross the cap. Whatever
	// totals each writer observes, the status CAS admits one suspension and
	// one network disable.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.subs.RecordUsage(ctx, sub.ID, date, domain.UsageDelta{BytesDown: 600})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	stored, err := env.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionSuspended, stored.Status)
	assert.Equal(t, "data limit exceeded", stored.SuspendReason)
	assert.Equal(t, int64(1200), stored.DataUsed, "both increments land")
	assert.Equal(t, 1, env.store.OpCount("disable_user:"+customer.Username))
}

func TestAssignTrial(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "joko")
	env.seedPackage(t, func(p *domain.Package) {
		p.Name = "Trial 6 Jam"
		p.Price = 0
		p.DurationUnit = domain.DurationTrial
		p.DurationCount = 6
		p.IsTrial = true
	})

	sub, sync, err := env.subs.AssignTrial(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, sync.Synced)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.True(t, sub.IsTrial)
	require.NotNil(t, sub.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(6*time.Hour), *sub.ExpiresAt, time.Minute)

	_, ok := env.store.User(customer.Username)
	assert.True(t, ok)
	assert.Contains(t, env.dispatcher.names(), "subscription.trial_assigned")
}

func TestCancelFromActive(t *testing.T) {
	env := newCoreEnv()
	ctx := context.Background()
	customer := env.seedCustomer(t, "kiki")
	pkg := env.seedPackage(t, nil)
	sub := env.seedActiveSub(t, customer, pkg)

	cancelled, _, err := env.subs.Cancel(ctx, sub.ID, "moved away")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCancelled, cancelled.Status)
	assert.True(t, env.store.IsDisabled(customer.Username))

	// Cancelled is terminal for everything but block.
	_, _, err = env.subs.Activate(ctx, sub.ID)
	assert.True(t, domain.IsInvalidTransition(err))
}
