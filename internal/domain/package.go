package domain

import (
	"context"
	"time"
)

// DurationUnit is the unit a package's validity is expressed in.
type DurationUnit string

const (
	DurationMinute DurationUnit = "minute"
	DurationHour   DurationUnit = "hour"
	DurationDay    DurationUnit = "day"
	DurationWeek   DurationUnit = "week"
	DurationMonth  DurationUnit = "month"
	DurationTrial  DurationUnit = "trial"
)

// IsValid reports whether u is one of the known duration units.
func (u DurationUnit) IsValid() bool {
	switch u {
	case DurationMinute, DurationHour, DurationDay, DurationWeek, DurationMonth, DurationTrial:
		return true
	}
	return false
}

// Package represents a purchasable prepaid rate plan. The AAA-relevant
// attributes (bandwidth, data cap, simultaneous use, idle timeout, VLAN)
// are mirrored into the plan's AAA group, so editing them fans out to every
// subscriber bound to the group without per-subscription writes.
type Package struct {
	ID                string       `bson:"_id,omitempty" json:"id"`
	Name              string       `bson:"name,omitempty" json:"name"`
	Description       string       `bson:"description,omitempty" json:"description"`
	Price             int64        `bson:"price,omitempty" json:"price"` // smallest currency unit (IDR)
	Currency          string       `bson:"currency,omitempty" json:"currency"`
	DurationUnit      DurationUnit `bson:"duration_unit,omitempty" json:"duration_unit"`
	DurationCount     int          `bson:"duration_count,omitempty" json:"duration_count"`
	BandwidthUpKbps   int64        `bson:"bandwidth_up_kbps,omitempty" json:"bandwidth_up_kbps"`
	BandwidthDownKbps int64        `bson:"bandwidth_down_kbps,omitempty" json:"bandwidth_down_kbps"`
	DataCapBytes      *int64       `bson:"data_cap_bytes,omitempty" json:"data_cap_bytes"` // nil = unlimited
	SimultaneousUse   int          `bson:"simultaneous_use,omitempty" json:"simultaneous_use"`
	IdleTimeoutSec    int          `bson:"idle_timeout_sec,omitempty" json:"idle_timeout_sec"`
	VlanID            string       `bson:"vlan_id,omitempty" json:"vlan_id"`
	IsTrial           bool         `bson:"is_trial,omitempty" json:"is_trial"`
	IsActive          bool         `bson:"is_active,omitempty" json:"is_active"`
	CreatedAt         time.Time    `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt         time.Time    `bson:"updated_at,omitempty" json:"updated_at"`
}

// GroupName is the AAA group this package's subscribers are bound to.
func (p *Package) GroupName() string {
	return "pkg-" + p.ID
}

// ExpiryFrom computes the expiry timestamp for a subscription activated at
// the given instant. Trial packages use DurationCount as hours.
func (p *Package) ExpiryFrom(start time.Time) time.Time {
	n := p.DurationCount
	if n <= 0 {
		n = 1
	}
	switch p.DurationUnit {
	case DurationMinute:
		return start.Add(time.Duration(n) * time.Minute)
	case DurationHour, DurationTrial:
		return start.Add(time.Duration(n) * time.Hour)
	case DurationDay:
		return start.AddDate(0, 0, n)
	case DurationWeek:
		return start.AddDate(0, 0, 7*n)
	case DurationMonth:
		return start.AddDate(0, n, 0)
	default:
		return start.AddDate(0, n, 0)
	}
}

// PackageRepository defines operations for managing rate plans
type PackageRepository interface {
	Create(ctx context.Context, pkg *Package) error
	GetByID(ctx context.Context, id string) (*Package, error)
	GetActivePackages(ctx context.Context) ([]*Package, error)
	GetTrialPackage(ctx context.Context) (*Package, error)
	Update(ctx context.Context, pkg *Package) error
	Delete(ctx context.Context, id string) error
}
