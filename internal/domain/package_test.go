package domain

import (
	"testing"
	"time"
)

func TestExpiryFrom(t *testing.T) {
	start := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		pkg  Package
		want time.Time
	}{
		{"one hour", Package{DurationUnit: DurationHour, DurationCount: 1}, start.Add(time.Hour)},
		{"thirty minutes", Package{DurationUnit: DurationMinute, DurationCount: 30}, start.Add(30 * time.Minute)},
		{"one day", Package{DurationUnit: DurationDay, DurationCount: 1}, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
		{"two weeks", Package{DurationUnit: DurationWeek, DurationCount: 2}, time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)},
		{"one month from jan 31", Package{DurationUnit: DurationMonth, DurationCount: 1}, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)},
		{"trial counts hours", Package{DurationUnit: DurationTrial, DurationCount: 6}, start.Add(6 * time.Hour)},
		{"zero count defaults to one", Package{DurationUnit: DurationDay}, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pkg.ExpiryFrom(start); !got.Equal(tt.want) {
				t.Errorf("ExpiryFrom = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDurationUnitIsValid(t *testing.T) {
	for _, u := range []DurationUnit{DurationMinute, DurationHour, DurationDay, DurationWeek, DurationMonth, DurationTrial} {
		if !u.IsValid() {
			t.Errorf("%s should be valid", u)
		}
	}
	if DurationUnit("fortnight").IsValid() {
		t.Error("unknown unit should be invalid")
	}
}

func TestGroupName(t *testing.T) {
	p := Package{ID: "abc123"}
	if got := p.GroupName(); got != "pkg-abc123" {
		t.Errorf("GroupName = %q, want %q", got, "pkg-abc123")
	}
}
