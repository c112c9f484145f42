package service

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/nusawave/prepaidnet/internal/config"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/infrastructure/radius"
)

// NewAaaStore returns the configured AAA provisioning store. Without a
// provisioning API URL it falls back to the in-memory mock for development.
func NewAaaStore(cfg config.RadiusConfig) radius.Store {
	if cfg.BaseURL == "" {
		log.Println("[AAA] Using in-memory mock store (no provisioning API configured)")
		return radius.NewInMemory()
	}

	log.Printf("[AAA] Using provisioning API at %s", cfg.BaseURL)
	return radius.NewClient(radius.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
	})
}

// AaaAdapter translates (Subscription, Package, Customer) into the record
// sets the AAA backend needs and applies them idempotently keyed by
// username. The local rows stay authoritative: every failure comes back as
// a *domain.ExternalSyncError for the caller to surface and the reconcile
// sweep to retry, and is never swallowed here.
type AaaAdapter struct {
	store   radius.Store
	subRepo domain.SubscriptionRepository
}

// NewAaaAdapter creates a new AAA adapter
func NewAaaAdapter(store radius.Store, subRepo domain.SubscriptionRepository) *AaaAdapter {
	return &AaaAdapter{store: store, subRepo: subRepo}
}

// userRecord builds the deterministic per-user projection: credential check
// row plus the group binding. Everything package-shaped lives on the group
// so plan edits fan out without per-user writes.
func userRecord(customer *domain.Customer, pkg *domain.Package) radius.UserRecord {
	return radius.UserRecord{
		Username: customer.Username,
		CheckAttrs: []radius.Attribute{
			{Name: "Cleartext-Password", Op: ":=", Value: customer.Password},
		},
		GroupName: pkg.GroupName(),
	}
}

// groupRecord builds the package-level attribute set.
func groupRecord(pkg *domain.Package) radius.GroupRecord {
	rec := radius.GroupRecord{
		Name: pkg.GroupName(),
		CheckAttrs: []radius.Attribute{
			{Name: "Simultaneous-Use", Op: ":=", Value: strconv.Itoa(pkg.SimultaneousUse)},
		},
		ReplyAttrs: []radius.Attribute{
			{Name: "WISPr-Bandwidth-Max-Up", Op: ":=", Value: strconv.FormatInt(pkg.BandwidthUpKbps*1000, 10)},
			{Name: "WISPr-Bandwidth-Max-Down", Op: ":=", Value: strconv.FormatInt(pkg.BandwidthDownKbps*1000, 10)},
			{Name: "Mikrotik-Rate-Limit", Op: ":=", Value: fmt.Sprintf("%dk/%dk", pkg.BandwidthUpKbps, pkg.BandwidthDownKbps)},
		},
	}
	if pkg.IdleTimeoutSec > 0 {
		rec.ReplyAttrs = append(rec.ReplyAttrs, radius.Attribute{
			Name: "Idle-Timeout", Op: ":=", Value: strconv.Itoa(pkg.IdleTimeoutSec),
		})
	}
	if pkg.VlanID != "" {
		rec.ReplyAttrs = append(rec.ReplyAttrs,
			radius.Attribute{Name: "Tunnel-Type", Op: ":=", Value: "VLAN"},
			radius.Attribute{Name: "Tunnel-Medium-Type", Op: ":=", Value: "IEEE-802"},
			radius.Attribute{Name: "Tunnel-Private-Group-Id", Op: ":=", Value: pkg.VlanID},
		)
	}
	if pkg.DataCapBytes != nil {
		rec.ReplyAttrs = append(rec.ReplyAttrs, radius.Attribute{
			Name: "ChilliSpot-Max-Total-Octets", Op: ":=", Value: strconv.FormatInt(*pkg.DataCapBytes, 10),
		})
	}
	return rec
}

func (a *AaaAdapter) syncErr(sub *domain.Subscription, username, op string, err error) *domain.ExternalSyncError {
	subID := ""
	if sub != nil {
		subID = sub.ID
	}
	return &domain.ExternalSyncError{
		SubscriptionID: subID,
		Username:       username,
		Op:             op,
		Err:            err,
	}
}

// Upsert pushes the subscription's current projection: group first (so the
// binding never dangles), then the user record. Deterministic from inputs,
// so re-applying with unchanged state is observably a no-op.
func (a *AaaAdapter) Upsert(ctx context.Context, sub *domain.Subscription, pkg *domain.Package, customer *domain.Customer) error {
	if err := a.store.PutGroup(ctx, groupRecord(pkg)); err != nil {
		return a.syncErr(sub, customer.Username, "upsert_group", err)
	}
	if err := a.store.PutUser(ctx, userRecord(customer, pkg)); err != nil {
		return a.syncErr(sub, customer.Username, "upsert_user", err)
	}
	return nil
}

// Disable marks the username so the NAS denies new sessions while keeping
// accounting history.
func (a *AaaAdapter) Disable(ctx context.Context, sub *domain.Subscription, username string) error {
	if err := a.store.DisableUser(ctx, username); err != nil {
		return a.syncErr(sub, username, "disable_user", err)
	}
	return nil
}

// Delete fully removes the username's check/reply/group rows.
func (a *AaaAdapter) Delete(ctx context.Context, username string) error {
	if err := a.store.DeleteUser(ctx, username); err != nil {
		return a.syncErr(nil, username, "delete_user", err)
	}
	return nil
}

// SyncGroup re-pushes a package's group attributes. Called on package
// create and update; the fan-out to subscribers happens in the AAA store.
func (a *AaaAdapter) SyncGroup(ctx context.Context, pkg *domain.Package) error {
	if err := a.store.PutGroup(ctx, groupRecord(pkg)); err != nil {
		return a.syncErr(nil, "", "sync_group", err)
	}
	return nil
}

// DeleteGroup removes a package's group. Refused while any subscription
// still references the package.
func (a *AaaAdapter) DeleteGroup(ctx context.Context, pkg *domain.Package) error {
	count, err := a.subRepo.CountByPackageID(ctx, pkg.ID)
	if err != nil {
		return fmt.Errorf("failed to check package references: %w", err)
	}
	if count > 0 {
		return domain.ErrPackageInUse
	}
	if err := a.store.DeleteGroup(ctx, pkg.GroupName()); err != nil {
		return a.syncErr(nil, "", "delete_group", err)
	}
	return nil
}
